package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mritunjaysingh07/jira-duo-agent/internal/domain"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/logging"
)

type stubRefiner struct {
	reply  func(phase domain.PromptPhase, base string) (string, error)
	phases []domain.PromptPhase
}

func (s *stubRefiner) Refine(ctx context.Context, phase domain.PromptPhase, story domain.Story, basePrompt string) (string, error) {
	s.phases = append(s.phases, phase)
	return s.reply(phase, basePrompt)
}

func allPhasesAllowed() map[domain.PromptPhase]bool {
	allowed := make(map[domain.PromptPhase]bool)
	for _, phase := range domain.AllPhases() {
		allowed[phase] = true
	}
	return allowed
}

func testStory() domain.Story {
	return domain.Story{Key: "PROJ-7", Summary: "Add login endpoint"}
}

func TestSelectorBaseOnly(t *testing.T) {
	catalog, err := NewCatalog(testBase(), testDirectives())
	require.NoError(t, err)

	s := NewSelector(catalog, nil, Policy{AllowedPhases: allPhasesAllowed()}, logging.Discard())

	prompts, err := s.Select(context.Background(), testStory())
	require.NoError(t, err)
	require.Len(t, prompts, len(domain.AllPhases()))

	for i, phase := range domain.AllPhases() {
		assert.Equal(t, phase, prompts[i].Phase, "prompts must follow the fixed phase order")
		assert.Equal(t, domain.SourceBase, prompts[i].Source)
		assert.True(t, strings.HasPrefix(prompts[i].Text, catalog.Directive(phase)))
	}
}

func TestSelectorRefinesAllowedPhases(t *testing.T) {
	catalog, err := NewCatalog(testBase(), testDirectives())
	require.NoError(t, err)

	refiner := &stubRefiner{
		reply: func(phase domain.PromptPhase, base string) (string, error) {
			return fmt.Sprintf("Tailored %s instructions.", phase), nil
		},
	}
	policy := Policy{
		AllowedPhases: map[domain.PromptPhase]bool{domain.PhaseTests: true},
	}
	s := NewSelector(catalog, refiner, policy, logging.Discard())

	prompts, err := s.Select(context.Background(), testStory())
	require.NoError(t, err)

	for _, p := range prompts {
		if p.Phase == domain.PhaseTests {
			assert.Equal(t, domain.SourceRefined, p.Source)
			assert.Equal(t, "/duo test Tailored tests instructions.", p.Text,
				"refined text must gain the directive token")
		} else {
			assert.Equal(t, domain.SourceBase, p.Source, "phase %s is outside the allow-list", p.Phase)
		}
	}
	assert.Equal(t, []domain.PromptPhase{domain.PhaseTests}, refiner.phases)
}

func TestSelectorFallbackSubstitutesBase(t *testing.T) {
	catalog, err := NewCatalog(testBase(), testDirectives())
	require.NoError(t, err)

	refiner := &stubRefiner{
		reply: func(phase domain.PromptPhase, base string) (string, error) {
			if phase == domain.PhaseReview {
				return "", errors.New("model unavailable")
			}
			return "Tailored.", nil
		},
	}
	policy := Policy{AllowedPhases: allPhasesAllowed(), FallbackToBase: true}
	s := NewSelector(catalog, refiner, policy, logging.Discard())

	prompts, err := s.Select(context.Background(), testStory())
	require.NoError(t, err)
	require.Len(t, prompts, len(domain.AllPhases()))

	for _, p := range prompts {
		if p.Phase == domain.PhaseReview {
			assert.Equal(t, domain.SourceBase, p.Source, "failed refinement must fall back to base")
			base, _ := catalog.Get(domain.PhaseReview)
			assert.Equal(t, base, p.Text)
		} else {
			assert.Equal(t, domain.SourceRefined, p.Source)
		}
	}
}

func TestSelectorAllOrNothingWithoutFallback(t *testing.T) {
	catalog, err := NewCatalog(testBase(), testDirectives())
	require.NoError(t, err)

	refiner := &stubRefiner{
		reply: func(phase domain.PromptPhase, base string) (string, error) {
			if phase == domain.PhaseImplementation {
				return "", errors.New("model unavailable")
			}
			return "Tailored.", nil
		},
	}
	policy := Policy{AllowedPhases: allPhasesAllowed(), FallbackToBase: false}
	s := NewSelector(catalog, refiner, policy, logging.Discard())

	prompts, err := s.Select(context.Background(), testStory())
	require.Error(t, err)
	assert.Nil(t, prompts, "no partial prompt list on an unrecoverable failure")
}

func TestSelectorTreatsEmptyRefinementAsFailure(t *testing.T) {
	catalog, err := NewCatalog(testBase(), testDirectives())
	require.NoError(t, err)

	refiner := &stubRefiner{
		reply: func(phase domain.PromptPhase, base string) (string, error) {
			return "   \n", nil
		},
	}

	t.Run("without fallback", func(t *testing.T) {
		s := NewSelector(catalog, refiner, Policy{AllowedPhases: allPhasesAllowed()}, logging.Discard())
		_, err := s.Select(context.Background(), testStory())
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrRefinement)
	})

	t.Run("with fallback", func(t *testing.T) {
		s := NewSelector(catalog, refiner, Policy{AllowedPhases: allPhasesAllowed(), FallbackToBase: true}, logging.Discard())
		prompts, err := s.Select(context.Background(), testStory())
		require.NoError(t, err)
		for _, p := range prompts {
			assert.Equal(t, domain.SourceBase, p.Source)
		}
	})
}
