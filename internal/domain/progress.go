package domain

// ProgressDimension is one axis of merge-request completion.
type ProgressDimension string

const (
	DimSetup          ProgressDimension = "setup"
	DimImplementation ProgressDimension = "implementation"
	DimTest           ProgressDimension = "test"
	DimDocumentation  ProgressDimension = "documentation"
	DimReview         ProgressDimension = "review"
	DimAcceptance     ProgressDimension = "acceptance"
)

// AllDimensions returns the progress dimensions in display order.
func AllDimensions() []ProgressDimension {
	return []ProgressDimension{
		DimSetup,
		DimImplementation,
		DimTest,
		DimDocumentation,
		DimReview,
		DimAcceptance,
	}
}

// DimensionRecord holds the evaluated state of one dimension.
type DimensionRecord struct {
	Fraction float64         `yaml:"fraction"`
	Status   string          `yaml:"status"`
	Checks   map[string]bool `yaml:"checks,omitempty"`
}

// ProgressState maps each dimension to its record. The overall score is
// never stored; it is always recomputed from the fractions so the two
// can never drift apart.
type ProgressState map[ProgressDimension]DimensionRecord

// NewProgressState returns a state with every dimension at zero.
func NewProgressState() ProgressState {
	state := make(ProgressState, len(AllDimensions()))
	for _, dim := range AllDimensions() {
		state[dim] = DimensionRecord{Fraction: 0, Status: "not started"}
	}
	return state
}

// Clone returns a deep copy so callers can evolve state without aliasing.
func (s ProgressState) Clone() ProgressState {
	out := make(ProgressState, len(s))
	for dim, rec := range s {
		copied := rec
		if rec.Checks != nil {
			copied.Checks = make(map[string]bool, len(rec.Checks))
			for name, ok := range rec.Checks {
				copied.Checks[name] = ok
			}
		}
		out[dim] = copied
	}
	return out
}

// Evidence carries the raw collaborator signals a progress evaluation
// consumes. It is a pure value; evaluation never reads anything else.
type Evidence struct {
	TreePaths             []string
	ChangedFiles          []string
	PipelineStatus        string
	ApprovalsReceived     int
	ApprovalsRequired     int
	UnresolvedDiscussions int
	TotalDiscussions      int
	Accepted              bool
}
