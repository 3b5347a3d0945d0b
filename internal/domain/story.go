package domain

// Story is an immutable snapshot of an issue-tracker work item.
// It is fetched once per run and never mutated by the core.
type Story struct {
	Key                string
	Summary            string
	Description        string
	AcceptanceCriteria string
	StoryPoints        *float64
	Priority           string
	Components         []string
	Labels             []string
}

// PromptPhase identifies one section of the generated workflow.
type PromptPhase string

const (
	PhaseStructure      PromptPhase = "structure"
	PhaseImplementation PromptPhase = "implementation"
	PhaseTests          PromptPhase = "tests"
	PhaseReview         PromptPhase = "review"
	PhaseDocumentation  PromptPhase = "documentation"
)

// AllPhases returns the prompt phases in the order a user follows them.
// The ordering is load-bearing: selection, rendering and the numbered
// sections in the merge-request body all derive from it.
func AllPhases() []PromptPhase {
	return []PromptPhase{
		PhaseStructure,
		PhaseImplementation,
		PhaseTests,
		PhaseReview,
		PhaseDocumentation,
	}
}

// PromptSource records whether a prompt came from the catalog or the refiner.
type PromptSource string

const (
	SourceBase    PromptSource = "base"
	SourceRefined PromptSource = "refined"
)

// Prompt is one copy-pasteable instruction block for a phase.
// Text is non-empty and always begins with the phase's directive token.
type Prompt struct {
	Phase  PromptPhase
	Source PromptSource
	Text   string
}

// SectionTitle returns the heading used for a phase in the MR body.
func (p PromptPhase) SectionTitle() string {
	switch p {
	case PhaseStructure:
		return "Generate Initial Structure"
	case PhaseImplementation:
		return "Implement Core Functionality"
	case PhaseTests:
		return "Add Tests"
	case PhaseReview:
		return "Code Review"
	case PhaseDocumentation:
		return "Add Documentation"
	default:
		return string(p)
	}
}
