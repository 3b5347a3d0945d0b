// Package monitor keeps tracked merge requests fresh: it polls each
// registered run on an interval, re-evaluates progress from live
// evidence and retires runs whose merge request has merged or closed.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/mritunjaysingh07/jira-duo-agent/internal/domain"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/logging"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/workflow"
)

// Update is one progress observation pushed to subscribers.
type Update struct {
	StoryKey    string               `json:"story_key"`
	MergeReqURL string               `json:"merge_request_url"`
	State       string               `json:"state"`
	Score       float64              `json:"score"`
	Progress    domain.ProgressState `json:"progress"`
	ObservedAt  time.Time            `json:"observed_at"`
}

// Notifier receives progress updates as they are observed.
type Notifier interface {
	Notify(update Update)
}

// Monitor polls tracked runs. Registration and polling are safe to use
// from different goroutines.
type Monitor struct {
	orch     *workflow.Orchestrator
	hosting  workflow.Hosting
	tracker  workflow.IssueTracker
	interval time.Duration
	log      *logging.Logger

	mu         sync.Mutex
	runs       map[string]*domain.WorkflowRun
	lastStatus map[string]string
	notifiers  []Notifier
}

// New creates a monitor polling every interval.
func New(orch *workflow.Orchestrator, hosting workflow.Hosting, tracker workflow.IssueTracker, interval time.Duration, log *logging.Logger) *Monitor {
	return &Monitor{
		orch:       orch,
		hosting:    hosting,
		tracker:    tracker,
		interval:   interval,
		log:        log,
		runs:       make(map[string]*domain.WorkflowRun),
		lastStatus: make(map[string]string),
	}
}

// Subscribe adds a notifier for future updates.
func (m *Monitor) Subscribe(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers = append(m.notifiers, n)
}

// Track registers a run for polling. Runs that never reached submission
// have no merge request to watch and are ignored. The monitor keeps its
// own copy so the caller's run never races with the sweep.
func (m *Monitor) Track(run *domain.WorkflowRun) {
	if run == nil || run.MergeReqIID == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.Story.Key] = run.Snapshot()
	m.log.Infof("tracking %s (%s)", run.Story.Key, run.MergeReqURL)
}

// Untrack removes a story from polling.
func (m *Monitor) Untrack(storyKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.runs, storyKey)
	delete(m.lastStatus, storyKey)
}

// Tracked returns copies of the currently tracked runs. Returned runs
// are detached: the next sweep never mutates them.
func (m *Monitor) Tracked() []*domain.WorkflowRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := make([]*domain.WorkflowRun, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, run.Snapshot())
	}
	return runs
}

// Start polls until ctx is cancelled. It runs one sweep immediately so
// a fresh batch shows progress without waiting a full interval.
func (m *Monitor) Start(ctx context.Context) {
	m.log.Infof("monitor started, polling every %s", m.interval)
	m.sweep(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Infof("monitor stopped")
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *Monitor) sweep(ctx context.Context) {
	for _, run := range m.Tracked() {
		if ctx.Err() != nil {
			return
		}
		m.refreshOne(ctx, run)
	}
}

func (m *Monitor) refreshOne(ctx context.Context, run *domain.WorkflowRun) {
	key := run.Story.Key

	mr, err := m.hosting.GetMergeRequest(ctx, run.ProjectID, run.MergeReqIID)
	if err != nil {
		m.log.Warnf("%s: merge request lookup failed: %v", key, err)
		return
	}

	if !mr.Open() {
		// Merged work is done; closed work was abandoned. Either way the
		// run leaves the watch list.
		m.log.Infof("%s: merge request %s, no longer tracking", key, mr.State)
		if mr.State == "merged" {
			if err := m.tracker.UpdateStatus(ctx, key, "done"); err != nil {
				m.log.Warnf("%s: status update failed: %v", key, err)
			}
		}
		m.Untrack(key)
		return
	}

	// run is a detached copy from Tracked; refresh it, then swap the
	// result in under the lock so readers never see a run mid-update.
	if err := m.orch.Refresh(ctx, run); err != nil {
		m.log.Warnf("%s: refresh failed: %v", key, err)
		return
	}

	m.mu.Lock()
	if _, ok := m.runs[key]; ok {
		m.runs[key] = run.Snapshot()
	}
	m.mu.Unlock()

	m.syncIssueStatus(ctx, key, run.Progress)

	m.publish(Update{
		StoryKey:    key,
		MergeReqURL: run.MergeReqURL,
		State:       string(run.State),
		Score:       m.orch.Score(run.Progress),
		Progress:    run.Progress,
		ObservedAt:  time.Now(),
	})
}

// syncIssueStatus mirrors observed progress onto the issue tracker. The
// transition is applied only when the mapped status changes, and a
// failure never interrupts the sweep.
func (m *Monitor) syncIssueStatus(ctx context.Context, key string, state domain.ProgressState) {
	status := statusFor(state)

	m.mu.Lock()
	unchanged := m.lastStatus[key] == status
	if !unchanged {
		m.lastStatus[key] = status
	}
	m.mu.Unlock()
	if unchanged {
		return
	}

	if err := m.tracker.UpdateStatus(ctx, key, status); err != nil {
		m.log.Warnf("%s: status update failed: %v", key, err)
	}
}

// statusFor maps progress to an issue status: accepted work is done,
// work under review is in review, any code movement is in progress.
func statusFor(state domain.ProgressState) string {
	if state[domain.DimAcceptance].Fraction >= 1 {
		return "done"
	}
	if state[domain.DimReview].Fraction > 0 {
		return "in_review"
	}
	active := []domain.ProgressDimension{domain.DimImplementation, domain.DimTest, domain.DimDocumentation}
	for _, dim := range active {
		if state[dim].Fraction > 0 {
			return "in_progress"
		}
	}
	return "to_do"
}

func (m *Monitor) publish(update Update) {
	m.mu.Lock()
	notifiers := make([]Notifier, len(m.notifiers))
	copy(notifiers, m.notifiers)
	m.mu.Unlock()

	for _, n := range notifiers {
		n.Notify(update)
	}
}
