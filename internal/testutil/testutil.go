// Package testutil provides test helpers and in-memory fakes for the
// jira-duo-agent tests.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/mritunjaysingh07/jira-duo-agent/internal/config"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/domain"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/logging"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/storage"
)

// NewTestConfig returns a config that passes validation: defaults plus
// a base prompt per phase.
func NewTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Prompts.Base = make(map[string]string)
	for _, phase := range domain.AllPhases() {
		cfg.Prompts.Base[string(phase)] = fmt.Sprintf("%s Work on the %s phase.",
			cfg.Prompts.Directives[string(phase)], phase)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config is invalid: %v", err)
	}
	return cfg
}

// NewTestLogger returns a logger that discards everything.
func NewTestLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.Discard()
}

// NewTestStorage creates an in-memory SQLite storage, closed when the
// test completes.
func NewTestStorage(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	s, err := storage.NewInMemoryStorage()
	if err != nil {
		t.Fatalf("failed to create in-memory storage: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

// TestStory returns a populated story for the given key.
func TestStory(key string) domain.Story {
	points := 5.0
	return domain.Story{
		Key:                key,
		Summary:            "Add login endpoint",
		Description:        "As a user I want to log in so that I can see my data.",
		AcceptanceCriteria: "- POST /login returns a session token\n- invalid credentials return 401",
		StoryPoints:        &points,
		Priority:           "High",
		Components:         []string{"backend"},
		Labels:             []string{"auth"},
	}
}

// FakeTracker is an in-memory issue tracker.
type FakeTracker struct {
	mu            sync.Mutex
	Stories       map[string]domain.Story
	FetchErr      map[string]error
	StatusErr     error
	StatusUpdates []string
}

// NewFakeTracker creates a tracker with the given stories preloaded.
func NewFakeTracker(stories ...domain.Story) *FakeTracker {
	f := &FakeTracker{
		Stories:  make(map[string]domain.Story),
		FetchErr: make(map[string]error),
	}
	for _, story := range stories {
		f.Stories[story.Key] = story
	}
	return f
}

func (f *FakeTracker) FetchStory(ctx context.Context, key string) (domain.Story, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.FetchErr[key]; err != nil {
		return domain.Story{}, err
	}
	story, ok := f.Stories[key]
	if !ok {
		return domain.Story{}, fmt.Errorf("%w: %s", domain.ErrStoryNotFound, key)
	}
	return story, nil
}

func (f *FakeTracker) UpdateStatus(ctx context.Context, key, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StatusErr != nil {
		return f.StatusErr
	}
	f.StatusUpdates = append(f.StatusUpdates, key+":"+status)
	return nil
}

// FakeHosting is an in-memory hosting platform. It mirrors the reuse
// semantics of the real client: existing branches and open merge
// requests for a source branch are returned instead of recreated.
type FakeHosting struct {
	mu          sync.Mutex
	Branches    map[string]string
	MRs         map[int]*domain.MergeRequestRef
	SourceByIID map[int]string
	Evidence    domain.Evidence
	nextIID     int

	CreateBranchErr error
	CreateMRErr     error
	GetMRErr        error
	UpdateErr       error
	EvidenceErr     error

	UpdateCalls int
}

// NewFakeHosting creates an empty fake platform.
func NewFakeHosting() *FakeHosting {
	return &FakeHosting{
		Branches:    make(map[string]string),
		MRs:         make(map[int]*domain.MergeRequestRef),
		SourceByIID: make(map[int]string),
		nextIID:     100,
	}
}

func (f *FakeHosting) CreateBranch(ctx context.Context, projectID int, ref, branchName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateBranchErr != nil {
		return f.CreateBranchErr
	}
	if _, ok := f.Branches[branchName]; !ok {
		f.Branches[branchName] = ref
	}
	return nil
}

func (f *FakeHosting) CreateMergeRequest(ctx context.Context, projectID int, sourceBranch, targetBranch, title, description string, labels []string) (*domain.MergeRequestRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateMRErr != nil {
		return nil, f.CreateMRErr
	}

	for iid, source := range f.SourceByIID {
		if source == sourceBranch && f.MRs[iid].Open() {
			return copyRef(f.MRs[iid]), nil
		}
	}

	f.nextIID++
	mr := &domain.MergeRequestRef{
		IID:         f.nextIID,
		URL:         fmt.Sprintf("https://gitlab.example.com/project/-/merge_requests/%d", f.nextIID),
		Description: description,
		State:       "opened",
	}
	f.MRs[mr.IID] = mr
	f.SourceByIID[mr.IID] = sourceBranch
	return copyRef(mr), nil
}

func (f *FakeHosting) GetMergeRequest(ctx context.Context, projectID, mrIID int) (*domain.MergeRequestRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GetMRErr != nil {
		return nil, f.GetMRErr
	}
	mr, ok := f.MRs[mrIID]
	if !ok {
		return nil, fmt.Errorf("merge request %d not found", mrIID)
	}
	return copyRef(mr), nil
}

func (f *FakeHosting) UpdateMergeRequestDescription(ctx context.Context, projectID, mrIID int, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UpdateErr != nil {
		return f.UpdateErr
	}
	mr, ok := f.MRs[mrIID]
	if !ok {
		return fmt.Errorf("merge request %d not found", mrIID)
	}
	mr.Description = description
	f.UpdateCalls++
	return nil
}

func (f *FakeHosting) FetchEvidenceSignals(ctx context.Context, projectID, mrIID int, branch string) (domain.Evidence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EvidenceErr != nil {
		return domain.Evidence{}, f.EvidenceErr
	}
	return f.Evidence, nil
}

// SetMRState marks a fake merge request merged or closed.
func (f *FakeHosting) SetMRState(mrIID int, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if mr, ok := f.MRs[mrIID]; ok {
		mr.State = state
	}
}

func copyRef(mr *domain.MergeRequestRef) *domain.MergeRequestRef {
	clone := *mr
	return &clone
}

// FakeRefiner refines by wrapping the base prompt, or fails with Err.
type FakeRefiner struct {
	mu     sync.Mutex
	Err    error
	Reply  func(phase domain.PromptPhase, story domain.Story, basePrompt string) string
	Phases []domain.PromptPhase
}

func (f *FakeRefiner) Refine(ctx context.Context, phase domain.PromptPhase, story domain.Story, basePrompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Phases = append(f.Phases, phase)
	if f.Err != nil {
		return "", f.Err
	}
	if f.Reply != nil {
		return f.Reply(phase, story, basePrompt), nil
	}
	return fmt.Sprintf("Refined for %s: %s", story.Key, basePrompt), nil
}
