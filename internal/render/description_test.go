package render

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mritunjaysingh07/jira-duo-agent/internal/config"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/domain"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/progress"
)

func testRenderer() *Renderer {
	model := progress.NewModel(config.Default().Progress)
	r := NewRenderer("https://jira.example.com", model.Score)
	r.now = func() time.Time {
		return time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	}
	return r
}

func testRun() *domain.WorkflowRun {
	points := 3.0
	story := domain.Story{
		Key:                "PROJ-9",
		Summary:            "Add login endpoint",
		Description:        "As a user I want to log in.",
		AcceptanceCriteria: "- POST /login returns a token",
		StoryPoints:        &points,
		Priority:           "High",
		Components:         []string{"backend"},
		Labels:             []string{"auth"},
	}

	run := domain.NewWorkflowRun(story, 42, "main")
	for i, phase := range domain.AllPhases() {
		run.Prompts = append(run.Prompts, domain.Prompt{
			Phase:  phase,
			Source: domain.SourceBase,
			Text:   fmt.Sprintf("/duo cmd%d Instructions for %s.", i, phase),
		})
	}
	return run
}

func TestRenderDescription(t *testing.T) {
	r := testRenderer()
	run := testRun()

	desc, err := r.Render(run)
	require.NoError(t, err)

	t.Run("story details", func(t *testing.T) {
		assert.Contains(t, desc, "# Implementation: Add login endpoint")
		assert.Contains(t, desc, "[PROJ-9](https://jira.example.com/browse/PROJ-9)")
		assert.Contains(t, desc, "**Priority**: High")
		assert.Contains(t, desc, "**Story Points**: 3")
	})

	t.Run("one numbered section per phase in order", func(t *testing.T) {
		last := -1
		for i, phase := range domain.AllPhases() {
			heading := fmt.Sprintf("### %d. %s", i+1, phase.SectionTitle())
			idx := strings.Index(desc, heading)
			require.NotEqual(t, -1, idx, "missing section %q", heading)
			assert.Greater(t, idx, last, "sections must appear in phase order")
			last = idx
		}
	})

	t.Run("fresh run shows every dimension at zero", func(t *testing.T) {
		for _, dim := range domain.AllDimensions() {
			assert.Contains(t, desc, fmt.Sprintf("- [ ] %s: 0%%", dim))
		}
		assert.Contains(t, desc, "**Overall score: 0%**")
	})
}

func TestRenderDefaultsForSparseStories(t *testing.T) {
	r := testRenderer()
	run := testRun()
	run.Story.Priority = ""
	run.Story.StoryPoints = nil
	run.Story.Components = nil
	run.Story.Description = ""

	desc, err := r.Render(run)
	require.NoError(t, err)

	assert.Contains(t, desc, "**Priority**: Medium")
	assert.Contains(t, desc, "**Story Points**: Not specified")
	assert.Contains(t, desc, "**Components**: None")
	assert.Contains(t, desc, "_No description provided._")
}

func TestProgressRoundTrip(t *testing.T) {
	r := testRenderer()
	run := testRun()

	state := domain.NewProgressState()
	state[domain.DimSetup] = domain.DimensionRecord{
		Fraction: 1.0 / 3.0,
		Status:   "1/3 required paths present",
		Checks:   map[string]bool{"src/": true, "tests/": false, "README.md": false},
	}
	state[domain.DimReview] = domain.DimensionRecord{Fraction: 0.75, Status: "1/1 approvals, 2 unresolved discussion(s)"}
	run.Progress = state

	desc, err := r.Render(run)
	require.NoError(t, err)

	parsed, err := r.ParseProgress(desc)
	require.NoError(t, err)
	assert.Equal(t, state, parsed, "render then parse must return the identical state")
}

func TestUpdateProgressSplicesOnlyTheRegion(t *testing.T) {
	r := testRenderer()
	run := testRun()

	desc, err := r.Render(run)
	require.NoError(t, err)

	state := domain.NewProgressState()
	state[domain.DimImplementation] = domain.DimensionRecord{Fraction: 1, Status: "1 source file(s) changed (expected at least 1)"}

	updated, err := r.UpdateProgress(desc, state)
	require.NoError(t, err)

	t.Run("prompt sections untouched", func(t *testing.T) {
		before := desc[:strings.Index(desc, progressBegin)]
		after := updated[:strings.Index(updated, progressBegin)]
		assert.Equal(t, before, after, "everything before the region must be byte-identical")
	})

	t.Run("new state parses back", func(t *testing.T) {
		parsed, err := r.ParseProgress(updated)
		require.NoError(t, err)
		assert.Equal(t, state, parsed)
	})

	t.Run("checklist reflects completion", func(t *testing.T) {
		assert.Contains(t, updated, "- [x] implementation: 100%")
	})
}

func TestUpdateProgressAppendsWhenRegionMissing(t *testing.T) {
	r := testRenderer()

	manual := "Someone replaced the whole description.\n"
	updated, err := r.UpdateProgress(manual, domain.NewProgressState())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(updated, "Someone replaced the whole description."))
	parsed, err := r.ParseProgress(updated)
	require.NoError(t, err)
	assert.Len(t, parsed, len(domain.AllDimensions()))
}

func TestParseProgressErrors(t *testing.T) {
	r := testRenderer()

	t.Run("no region", func(t *testing.T) {
		_, err := r.ParseProgress("just some text")
		assert.ErrorIs(t, err, domain.ErrProgressNotFound)
	})

	t.Run("begin without end", func(t *testing.T) {
		_, err := r.ParseProgress(progressBegin + "\ntruncated")
		assert.ErrorIs(t, err, domain.ErrParse)
	})

	t.Run("markers without state block", func(t *testing.T) {
		_, err := r.ParseProgress(progressBegin + "\nchecklist only\n" + progressEnd)
		assert.ErrorIs(t, err, domain.ErrParse)
	})

	t.Run("garbage yaml", func(t *testing.T) {
		desc := progressBegin + "\n" + stateBegin + "\n\t{{{not yaml\n" + stateEnd + "\n" + progressEnd
		_, err := r.ParseProgress(desc)
		assert.ErrorIs(t, err, domain.ErrParse)
	})

	t.Run("update with begin but no end", func(t *testing.T) {
		_, err := r.UpdateProgress(progressBegin+"\ntruncated", domain.NewProgressState())
		assert.ErrorIs(t, err, domain.ErrParse)
	})
}
