package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/mritunjaysingh07/jira-duo-agent/internal/domain"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/logging"
)

// Refiner is the optional capability of enhancing a base prompt with
// story context. Implementations must not mutate their inputs.
type Refiner interface {
	Refine(ctx context.Context, phase domain.PromptPhase, story domain.Story, basePrompt string) (string, error)
}

// Policy is the selection policy slice of the configuration.
type Policy struct {
	// AllowedPhases is the refinement allow-list. Phases outside it
	// always get the base prompt.
	AllowedPhases map[domain.PromptPhase]bool

	// FallbackToBase substitutes the base prompt when refinement fails.
	// When false, a single refinement failure aborts the whole selection:
	// the operator opted out of silently-degraded prompts, and a merge
	// request must never carry an inconsistent mix.
	FallbackToBase bool
}

// Selector produces the ordered prompt list for a story.
type Selector struct {
	catalog *Catalog
	refiner Refiner // nil when the capability is absent or disabled
	policy  Policy
	log     *logging.Logger
}

// NewSelector creates a Selector. Pass a nil refiner to run with the
// refinement capability absent; the boolean switch never threads through
// individual calls.
func NewSelector(catalog *Catalog, refiner Refiner, policy Policy, log *logging.Logger) *Selector {
	return &Selector{catalog: catalog, refiner: refiner, policy: policy, log: log}
}

// Select returns one Prompt per phase, always in the fixed phase order
// regardless of how the allow-list happens to be written. The returned
// list is all-or-nothing: on an unrecoverable refinement failure no
// partial list is returned.
func (s *Selector) Select(ctx context.Context, story domain.Story) ([]domain.Prompt, error) {
	phases := domain.AllPhases()
	prompts := make([]domain.Prompt, 0, len(phases))

	for _, phase := range phases {
		base, err := s.catalog.Get(phase)
		if err != nil {
			return nil, err
		}

		if s.refiner == nil || !s.policy.AllowedPhases[phase] {
			prompts = append(prompts, domain.Prompt{Phase: phase, Source: domain.SourceBase, Text: base})
			continue
		}

		refined, err := s.refiner.Refine(ctx, phase, story, base)
		if err == nil && strings.TrimSpace(refined) == "" {
			err = fmt.Errorf("%w: empty refined prompt", domain.ErrRefinement)
		}
		if err != nil {
			if !s.policy.FallbackToBase {
				return nil, fmt.Errorf("refine %s prompt for %s: %w", phase, story.Key, err)
			}
			s.log.Warnf("story %s: refinement failed for %s prompt, falling back to base: %v", story.Key, phase, err)
			prompts = append(prompts, domain.Prompt{Phase: phase, Source: domain.SourceBase, Text: base})
			continue
		}

		prompts = append(prompts, domain.Prompt{
			Phase:  phase,
			Source: domain.SourceRefined,
			Text:   ensureDirective(strings.TrimSpace(refined), s.catalog.Directive(phase)),
		})
	}

	return prompts, nil
}
