package workflow

import (
	"context"

	"github.com/mritunjaysingh07/jira-duo-agent/internal/domain"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/logging"
)

// Recorder persists run outcomes. It is optional; a nil recorder means
// outcomes live only in memory.
type Recorder interface {
	RecordOutcome(ctx context.Context, outcome domain.Outcome) error
}

// BatchRunner processes a list of story keys strictly in order, one at a
// time. A failing story never stops the batch; its error is captured in
// the outcome and the runner moves on.
type BatchRunner struct {
	orch     *Orchestrator
	recorder Recorder
	log      *logging.Logger
}

// NewBatchRunner creates a runner. recorder may be nil.
func NewBatchRunner(orch *Orchestrator, recorder Recorder, log *logging.Logger) *BatchRunner {
	return &BatchRunner{orch: orch, recorder: recorder, log: log}
}

// Run processes every key sequentially and returns one outcome per key,
// in input order. Context cancellation is honored between stories: keys
// not yet started report ctx.Err() as their outcome and no fetch or
// submission happens for them.
func (b *BatchRunner) Run(ctx context.Context, keys []string, projectID int, baseBranch string) []domain.Outcome {
	outcomes := make([]domain.Outcome, 0, len(keys))
	cancelled := false

	for _, key := range keys {
		if !cancelled {
			select {
			case <-ctx.Done():
				cancelled = true
			default:
			}
		}
		if cancelled {
			outcomes = append(outcomes, domain.Outcome{StoryKey: key, Err: ctx.Err()})
			continue
		}

		run, err := b.orch.Process(ctx, key, projectID, baseBranch)
		outcome := domain.Outcome{StoryKey: key, Run: run, Err: err}
		if run != nil {
			outcome.Score = b.orch.Score(run.Progress)
		}
		if err != nil {
			b.log.Errorf("story %s failed: %v", key, err)
		}
		outcomes = append(outcomes, outcome)

		if b.recorder != nil {
			if err := b.recorder.RecordOutcome(ctx, outcome); err != nil {
				b.log.Warnf("recording outcome for %s failed: %v", key, err)
			}
		}
	}
	return outcomes
}
