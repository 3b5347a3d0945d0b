package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mritunjaysingh07/jira-duo-agent/internal/domain"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/logging"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/progress"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/prompt"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/render"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/testutil"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/workflow"
)

type captureNotifier struct {
	mu      sync.Mutex
	updates []Update
}

func (c *captureNotifier) Notify(update Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, update)
}

func (c *captureNotifier) all() []Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Update{}, c.updates...)
}

func newTestSetup(t *testing.T) (*Monitor, *testutil.FakeTracker, *testutil.FakeHosting, *workflow.Orchestrator) {
	t.Helper()

	cfg := testutil.NewTestConfig(t)
	tracker := testutil.NewFakeTracker(testutil.TestStory("PROJ-1"))
	hosting := testutil.NewFakeHosting()

	catalog, err := prompt.NewCatalog(cfg.Prompts.Base, cfg.Prompts.Directives)
	require.NoError(t, err)
	selector := prompt.NewSelector(catalog, nil, prompt.Policy{}, logging.Discard())
	model := progress.NewModel(cfg.Progress)
	renderer := render.NewRenderer("https://jira.example.com", model.Score)
	orch := workflow.NewOrchestrator(tracker, hosting, selector, model, renderer, nil, logging.Discard())

	mon := New(orch, hosting, tracker, time.Hour, logging.Discard())
	return mon, tracker, hosting, orch
}

func TestTrackIgnoresUnsubmittedRuns(t *testing.T) {
	mon, _, _, _ := newTestSetup(t)

	mon.Track(nil)
	mon.Track(&domain.WorkflowRun{Story: domain.Story{Key: "PROJ-1"}})
	assert.Empty(t, mon.Tracked())
}

func TestTrackAndUntrack(t *testing.T) {
	mon, _, _, orch := newTestSetup(t)

	run, err := orch.Process(context.Background(), "PROJ-1", 42, "main")
	require.NoError(t, err)

	mon.Track(run)
	require.Len(t, mon.Tracked(), 1)

	mon.Untrack("PROJ-1")
	assert.Empty(t, mon.Tracked())
}

func TestTrackedReturnsDetachedCopies(t *testing.T) {
	mon, _, _, orch := newTestSetup(t)

	run, err := orch.Process(context.Background(), "PROJ-1", 42, "main")
	require.NoError(t, err)
	mon.Track(run)

	got := mon.Tracked()[0]
	require.NotSame(t, run, got)

	got.Progress[domain.DimSetup] = domain.DimensionRecord{Fraction: 0.9}
	got.State = domain.StateFetched

	fresh := mon.Tracked()[0]
	assert.NotEqual(t, 0.9, fresh.Progress[domain.DimSetup].Fraction)
	assert.Equal(t, domain.StateTracking, fresh.State)
}

func TestConcurrentSweepAndTrackedReads(t *testing.T) {
	_, tracker, hosting, orch := newTestSetup(t)
	mon := New(orch, hosting, tracker, time.Millisecond, logging.Discard())

	run, err := orch.Process(context.Background(), "PROJ-1", 42, "main")
	require.NoError(t, err)
	mon.Track(run)

	hosting.Evidence = domain.Evidence{ChangedFiles: []string{"src/login.go"}}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ctx.Err() == nil {
			for _, tracked := range mon.Tracked() {
				for _, rec := range tracked.Progress {
					_ = rec.Fraction
				}
				_ = tracked.State
			}
		}
	}()

	mon.Start(ctx)
	<-done
	assert.Len(t, mon.Tracked(), 1)
}

func TestSweepPublishesProgress(t *testing.T) {
	mon, _, hosting, orch := newTestSetup(t)

	run, err := orch.Process(context.Background(), "PROJ-1", 42, "main")
	require.NoError(t, err)
	mon.Track(run)

	capture := &captureNotifier{}
	mon.Subscribe(capture)

	hosting.Evidence = domain.Evidence{ChangedFiles: []string{"src/login.go"}}

	// The initial sweep runs immediately; the hour-long ticker never
	// fires before the deadline cancels Start.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	mon.Start(ctx)

	updates := capture.all()
	require.Len(t, updates, 1)
	assert.Equal(t, "PROJ-1", updates[0].StoryKey)
	assert.Greater(t, updates[0].Score, 0.0)
	assert.Len(t, mon.Tracked(), 1, "an open merge request stays tracked")
}

func TestSweepSyncsIssueStatusOnce(t *testing.T) {
	mon, tracker, hosting, orch := newTestSetup(t)

	run, err := orch.Process(context.Background(), "PROJ-1", 42, "main")
	require.NoError(t, err)
	mon.Track(run)

	hosting.Evidence = domain.Evidence{ChangedFiles: []string{"src/login.go"}}
	tracker.StatusUpdates = nil

	mon.sweep(context.Background())
	assert.Equal(t, []string{"PROJ-1:in_progress"}, tracker.StatusUpdates)

	// Unchanged progress must not repeat the transition.
	mon.sweep(context.Background())
	assert.Equal(t, []string{"PROJ-1:in_progress"}, tracker.StatusUpdates)
}

func TestStatusFor(t *testing.T) {
	state := domain.NewProgressState()
	assert.Equal(t, "to_do", statusFor(state))

	state[domain.DimTest] = domain.DimensionRecord{Fraction: 0.5}
	assert.Equal(t, "in_progress", statusFor(state))

	state[domain.DimReview] = domain.DimensionRecord{Fraction: 0.75}
	assert.Equal(t, "in_review", statusFor(state))

	state[domain.DimAcceptance] = domain.DimensionRecord{Fraction: 1}
	assert.Equal(t, "done", statusFor(state))
}

func TestSweepRetiresMergedRuns(t *testing.T) {
	mon, tracker, hosting, orch := newTestSetup(t)

	run, err := orch.Process(context.Background(), "PROJ-1", 42, "main")
	require.NoError(t, err)
	mon.Track(run)

	hosting.SetMRState(run.MergeReqIID, "merged")
	tracker.StatusUpdates = nil

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	mon.Start(ctx)

	assert.Empty(t, mon.Tracked(), "a merged merge request leaves the watch list")
	assert.Equal(t, []string{"PROJ-1:done"}, tracker.StatusUpdates)
}

func TestSweepDropsClosedWithoutStatusUpdate(t *testing.T) {
	mon, tracker, hosting, orch := newTestSetup(t)

	run, err := orch.Process(context.Background(), "PROJ-1", 42, "main")
	require.NoError(t, err)
	mon.Track(run)

	hosting.SetMRState(run.MergeReqIID, "closed")
	tracker.StatusUpdates = nil

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	mon.Start(ctx)

	assert.Empty(t, mon.Tracked())
	assert.Empty(t, tracker.StatusUpdates, "an abandoned story is not marked done")
}
