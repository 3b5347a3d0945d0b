// Package progress scores merge-request completion across six
// dimensions. Evaluation is a pure function of the supplied evidence:
// identical evidence always yields an identical record, so refreshing a
// merge request twice in a row never rewrites its description.
package progress

import (
	"fmt"
	"path"
	"strings"

	"github.com/mritunjaysingh07/jira-duo-agent/internal/config"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/domain"
)

// Model evaluates evidence into dimension records and folds records into
// the overall score. Weights and thresholds come from configuration.
type Model struct {
	cfg     config.ProgressConfig
	weights map[domain.ProgressDimension]float64
}

// NewModel builds a Model from the progress slice of the configuration.
func NewModel(cfg config.ProgressConfig) *Model {
	weights := make(map[domain.ProgressDimension]float64, len(cfg.Weights))
	for name, w := range cfg.Weights {
		weights[domain.ProgressDimension(name)] = w
	}
	return &Model{cfg: cfg, weights: weights}
}

// EvaluateAll evaluates every dimension against the evidence. The
// acceptance fraction is never inferred: it carries over from prior
// state unless the evidence carries an explicit acceptance signal.
func (m *Model) EvaluateAll(prior domain.ProgressState, ev domain.Evidence) domain.ProgressState {
	state := domain.NewProgressState()
	for _, dim := range domain.AllDimensions() {
		if dim == domain.DimAcceptance && !ev.Accepted {
			if rec, ok := prior[dim]; ok {
				state[dim] = rec
				continue
			}
		}
		state[dim] = m.Evaluate(dim, ev)
	}
	return state
}

// Evaluate computes one dimension's record from evidence alone.
func (m *Model) Evaluate(dim domain.ProgressDimension, ev domain.Evidence) domain.DimensionRecord {
	switch dim {
	case domain.DimSetup:
		return m.evaluateSetup(ev)
	case domain.DimImplementation:
		return m.evaluateImplementation(ev)
	case domain.DimTest:
		return m.evaluateTest(ev)
	case domain.DimDocumentation:
		return m.evaluateDocumentation(ev)
	case domain.DimReview:
		return m.evaluateReview(ev)
	case domain.DimAcceptance:
		return m.evaluateAcceptance(ev)
	default:
		return domain.DimensionRecord{Status: "unknown dimension"}
	}
}

// Score returns the weighted mean of the dimension fractions, in [0,1].
// It is recomputed on every call; the score is never stored.
func (m *Model) Score(state domain.ProgressState) float64 {
	var score float64
	for dim, w := range m.weights {
		score += w * clamp(state[dim].Fraction)
	}
	return clamp(score)
}

func (m *Model) evaluateSetup(ev domain.Evidence) domain.DimensionRecord {
	checks := make(map[string]bool, len(m.cfg.RequiredPaths))
	present := 0
	for _, required := range m.cfg.RequiredPaths {
		ok := pathPresent(ev.TreePaths, required)
		checks[required] = ok
		if ok {
			present++
		}
	}

	total := len(m.cfg.RequiredPaths)
	if total == 0 {
		return domain.DimensionRecord{Fraction: 1, Status: "no structural requirements configured"}
	}

	return domain.DimensionRecord{
		Fraction: clamp(float64(present) / float64(total)),
		Status:   fmt.Sprintf("%d/%d required paths present", present, total),
		Checks:   checks,
	}
}

func (m *Model) evaluateImplementation(ev domain.Evidence) domain.DimensionRecord {
	changed := 0
	for _, file := range ev.ChangedFiles {
		if m.isSourceFile(file) && !m.isTestFile(file) {
			changed++
		}
	}

	expected := m.cfg.MinImplementationFiles
	fraction := clamp(float64(changed) / float64(expected))

	return domain.DimensionRecord{
		Fraction: fraction,
		Status:   fmt.Sprintf("%d source file(s) changed (expected at least %d)", changed, expected),
		Checks:   map[string]bool{"source_files_changed": changed > 0},
	}
}

func (m *Model) evaluateTest(ev domain.Evidence) domain.DimensionRecord {
	hasTests := false
	for _, file := range append(append([]string{}, ev.TreePaths...), ev.ChangedFiles...) {
		if m.isTestFile(file) {
			hasTests = true
			break
		}
	}
	green := ev.PipelineStatus == "success"

	// No test files means zero regardless of pipeline state: a green
	// pipeline with nothing to run proves nothing.
	fraction := 0.0
	status := "no test files"
	if hasTests {
		fraction = 0.5
		status = "test files present, pipeline not green"
		if green {
			fraction = 1.0
			status = "test files present, pipeline green"
		}
	}

	return domain.DimensionRecord{
		Fraction: fraction,
		Status:   status,
		Checks:   map[string]bool{"test_files_exist": hasTests, "pipeline_green": green},
	}
}

func (m *Model) evaluateDocumentation(ev domain.Evidence) domain.DimensionRecord {
	hasDocs := false
	for _, p := range ev.TreePaths {
		if m.isDocFile(p) {
			hasDocs = true
			break
		}
	}

	// Docstring heuristic: documentation changes accompany source
	// changes. A change set that touches source and at least one doc
	// file passes; a docs-only or source-only change set does not.
	docChanged, srcChanged := false, false
	for _, file := range ev.ChangedFiles {
		if m.isDocFile(file) {
			docChanged = true
		}
		if m.isSourceFile(file) && !m.isTestFile(file) {
			srcChanged = true
		}
	}
	heuristic := docChanged && srcChanged

	fraction := 0.0
	if hasDocs {
		fraction += 0.5
	}
	if heuristic {
		fraction += 0.5
	}

	return domain.DimensionRecord{
		Fraction: clamp(fraction),
		Status:   docStatus(hasDocs, heuristic),
		Checks:   map[string]bool{"doc_files_present": hasDocs, "docs_updated_with_source": heuristic},
	}
}

func (m *Model) evaluateReview(ev domain.Evidence) domain.DimensionRecord {
	required := m.cfg.ApprovalsRequired
	if ev.ApprovalsRequired > 0 {
		required = ev.ApprovalsRequired
	}
	approvalPart := clamp(float64(ev.ApprovalsReceived)/float64(required)) * 0.5

	discussionPart := 0.5
	if ev.UnresolvedDiscussions > 0 {
		resolved := ev.TotalDiscussions - ev.UnresolvedDiscussions
		if resolved < 0 {
			resolved = 0
		}
		if ev.TotalDiscussions > 0 {
			discussionPart = float64(resolved) / float64(ev.TotalDiscussions) * 0.5
		} else {
			discussionPart = 0
		}
	}

	return domain.DimensionRecord{
		Fraction: clamp(approvalPart + discussionPart),
		Status: fmt.Sprintf("%d/%d approvals, %d unresolved discussion(s)",
			ev.ApprovalsReceived, required, ev.UnresolvedDiscussions),
		Checks: map[string]bool{
			"approved":             ev.ApprovalsReceived >= required,
			"discussions_resolved": ev.UnresolvedDiscussions == 0,
		},
	}
}

func (m *Model) evaluateAcceptance(ev domain.Evidence) domain.DimensionRecord {
	if ev.Accepted {
		return domain.DimensionRecord{
			Fraction: 1,
			Status:   "marked accepted",
			Checks:   map[string]bool{"accepted": true},
		}
	}
	return domain.DimensionRecord{
		Fraction: 0,
		Status:   "awaiting acceptance",
		Checks:   map[string]bool{"accepted": false},
	}
}

func (m *Model) isTestFile(file string) bool {
	name := path.Base(file)
	for _, prefix := range m.cfg.TestFilePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	for _, suffix := range m.cfg.TestFileSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func (m *Model) isDocFile(file string) bool {
	for _, ext := range m.cfg.DocExtensions {
		if strings.HasSuffix(file, ext) {
			return true
		}
	}
	return false
}

func (m *Model) isSourceFile(file string) bool {
	for _, ext := range m.cfg.SourceExtensions {
		if strings.HasSuffix(file, ext) {
			return true
		}
	}
	return false
}

// pathPresent matches a required path against the repository tree.
// Directory requirements (trailing slash) match any path under them;
// file requirements match an exact base name or full path.
func pathPresent(tree []string, required string) bool {
	if dir, ok := strings.CutSuffix(required, "/"); ok {
		for _, p := range tree {
			if p == dir || strings.HasPrefix(p, dir+"/") {
				return true
			}
		}
		return false
	}
	for _, p := range tree {
		if p == required || path.Base(p) == required {
			return true
		}
	}
	return false
}

func docStatus(hasDocs, heuristic bool) string {
	switch {
	case hasDocs && heuristic:
		return "docs present and updated with source"
	case hasDocs:
		return "docs present, not updated with source changes"
	case heuristic:
		return "docs updated but no doc files in tree"
	default:
		return "no documentation"
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
