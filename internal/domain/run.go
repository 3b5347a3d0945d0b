package domain

import (
	"strings"
	"time"
)

// RunState tracks how far a story has progressed through the workflow.
type RunState string

const (
	StateFetched   RunState = "fetched"
	StateSelected  RunState = "selected"
	StateRendered  RunState = "rendered"
	StateSubmitted RunState = "submitted"
	StateTracking  RunState = "tracking"
)

// WorkflowRun is the in-memory record of processing one story. It is not
// persisted by the core: the rendered merge-request description is the
// sole durable record of prompt content and last-known progress.
type WorkflowRun struct {
	Story       Story
	ProjectID   int
	BaseBranch  string
	Branch      string
	MergeReqIID int
	MergeReqURL string
	Prompts     []Prompt
	Progress    ProgressState
	State       RunState
	StartedAt   time.Time
}

// NewWorkflowRun creates a run in the Fetched state with zeroed progress.
func NewWorkflowRun(story Story, projectID int, baseBranch string) *WorkflowRun {
	return &WorkflowRun{
		Story:      story,
		ProjectID:  projectID,
		BaseBranch: baseBranch,
		Progress:   NewProgressState(),
		State:      StateFetched,
		StartedAt:  time.Now(),
	}
}

// Snapshot returns a copy safe to read while the original run keeps
// evolving on another goroutine.
func (r *WorkflowRun) Snapshot() *WorkflowRun {
	clone := *r
	clone.Progress = r.Progress.Clone()
	clone.Prompts = append([]Prompt(nil), r.Prompts...)
	return &clone
}

// BranchName derives the feature branch name for a story key.
func BranchName(storyKey string) string {
	return "feature/" + strings.ToLower(storyKey)
}

// Outcome is one entry of a batch result: either a completed run or the
// error that stopped it, plus the overall score at the time the batch
// recorded it. Run may be non-nil alongside Err when the story failed
// partway through.
type Outcome struct {
	StoryKey string
	Run      *WorkflowRun
	Score    float64
	Err      error
}

// OK reports whether the story completed without error.
func (o Outcome) OK() bool {
	return o.Err == nil
}
