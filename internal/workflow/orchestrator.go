// Package workflow drives one story end to end: fetch, prompt selection,
// description rendering, branch and merge-request submission, then
// progress tracking refreshes for as long as the merge request lives.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/mritunjaysingh07/jira-duo-agent/internal/domain"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/logging"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/prompt"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/progress"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/render"
)

// IssueTracker is the core-facing contract with the issue tracker.
type IssueTracker interface {
	FetchStory(ctx context.Context, key string) (domain.Story, error)
	UpdateStatus(ctx context.Context, key, status string) error
}

// Hosting is the core-facing contract with the hosting platform.
type Hosting interface {
	CreateBranch(ctx context.Context, projectID int, ref, branchName string) error
	CreateMergeRequest(ctx context.Context, projectID int, sourceBranch, targetBranch, title, description string, labels []string) (*domain.MergeRequestRef, error)
	GetMergeRequest(ctx context.Context, projectID, mrIID int) (*domain.MergeRequestRef, error)
	UpdateMergeRequestDescription(ctx context.Context, projectID, mrIID int, description string) error
	FetchEvidenceSignals(ctx context.Context, projectID, mrIID int, branch string) (domain.Evidence, error)
}

// Orchestrator owns the per-story state machine:
// Fetched -> Selected -> Rendered -> Submitted -> Tracking.
// A transition failure surfaces its typed error and leaves the run in
// its last successfully completed state; hosting-side resources already
// created are never rolled back.
type Orchestrator struct {
	tracker  IssueTracker
	hosting  Hosting
	selector *prompt.Selector
	model    *progress.Model
	renderer *render.Renderer
	labels   []string
	log      *logging.Logger
}

// NewOrchestrator wires the collaborators together. labels are attached
// to every created merge request, alongside the story key.
func NewOrchestrator(tracker IssueTracker, hosting Hosting, selector *prompt.Selector, model *progress.Model, renderer *render.Renderer, labels []string, log *logging.Logger) *Orchestrator {
	return &Orchestrator{
		tracker:  tracker,
		hosting:  hosting,
		selector: selector,
		model:    model,
		renderer: renderer,
		labels:   labels,
		log:      log,
	}
}

// Process runs one story from fetch through submission and an initial
// tracking refresh. Re-running a story whose branch and merge request
// already exist reuses both and just refreshes progress.
func (o *Orchestrator) Process(ctx context.Context, storyKey string, projectID int, baseBranch string) (*domain.WorkflowRun, error) {
	o.log.Infof("processing story %s", storyKey)

	// Fetched
	story, err := o.tracker.FetchStory(ctx, storyKey)
	if err != nil {
		return nil, err
	}
	run := domain.NewWorkflowRun(story, projectID, baseBranch)

	// Status updates are best effort: a tracker hiccup must not lose a
	// merge request.
	if err := o.tracker.UpdateStatus(ctx, storyKey, "in_progress"); err != nil {
		o.log.Warnf("story %s: status update failed: %v", storyKey, err)
	}

	// Selected
	prompts, err := o.selector.Select(ctx, story)
	if err != nil {
		return run, err
	}
	run.Prompts = prompts
	run.State = domain.StateSelected

	// Rendered
	description, err := o.renderer.Render(run)
	if err != nil {
		return run, err
	}
	run.State = domain.StateRendered

	// Submitted
	run.Branch = domain.BranchName(storyKey)
	if err := o.hosting.CreateBranch(ctx, projectID, baseBranch, run.Branch); err != nil {
		return run, err
	}

	title := fmt.Sprintf("Implement %s: %s", story.Key, story.Summary)
	labels := append(append([]string{}, o.labels...), story.Key)
	mr, err := o.hosting.CreateMergeRequest(ctx, projectID, run.Branch, baseBranch, title, description, labels)
	if err != nil {
		return run, err
	}
	run.MergeReqIID = mr.IID
	run.MergeReqURL = mr.URL
	run.State = domain.StateSubmitted

	if err := o.tracker.UpdateStatus(ctx, storyKey, "in_review"); err != nil {
		o.log.Warnf("story %s: status update failed: %v", storyKey, err)
	}

	// Tracking: initial progress straight away so the description never
	// sits at the rendered zeros while evidence already exists.
	if err := o.Refresh(ctx, run); err != nil {
		return run, err
	}

	o.log.Infof("story %s submitted: %s", storyKey, run.MergeReqURL)
	return run, nil
}

// Refresh re-fetches evidence, recomputes progress and splices the new
// progress region into the merge-request body, leaving the prompt
// sections untouched. It is re-entrant: with unchanged evidence the
// description is not rewritten at all.
func (o *Orchestrator) Refresh(ctx context.Context, run *domain.WorkflowRun) error {
	mr, err := o.hosting.GetMergeRequest(ctx, run.ProjectID, run.MergeReqIID)
	if err != nil {
		return err
	}

	prior, err := o.renderer.ParseProgress(mr.Description)
	if err != nil {
		// A missing or mangled region is recovered, not fatal: progress
		// restarts from the default state and the next update writes a
		// fresh region.
		if errors.Is(err, domain.ErrParse) {
			o.log.Warnf("story %s: %v, treating progress as unknown", run.Story.Key, err)
		}
		prior = domain.NewProgressState()
	}

	evidence, err := o.hosting.FetchEvidenceSignals(ctx, run.ProjectID, run.MergeReqIID, run.Branch)
	if err != nil {
		return err
	}

	state := o.model.EvaluateAll(prior, evidence)
	run.Progress = state

	if !reflect.DeepEqual(state, prior) {
		updated, err := o.renderer.UpdateProgress(mr.Description, state)
		if err != nil {
			return err
		}
		if err := o.hosting.UpdateMergeRequestDescription(ctx, run.ProjectID, run.MergeReqIID, updated); err != nil {
			return err
		}
	}

	run.State = domain.StateTracking
	o.log.Infof("story %s: overall progress %.0f%%", run.Story.Key, o.model.Score(state)*100)
	return nil
}

// Score exposes the model's overall score for a state, for callers that
// report on a run without holding the model.
func (o *Orchestrator) Score(state domain.ProgressState) float64 {
	return o.model.Score(state)
}
