// Package prompt holds the base prompt catalog and the selector that
// decides, per phase, whether a story gets the base or the refined prompt.
package prompt

import (
	"strings"

	"github.com/mritunjaysingh07/jira-duo-agent/internal/domain"
)

// Catalog maps each phase to its base prompt text. It is read-only after
// construction: a config refresh builds a new Catalog, it never edits one
// in place, so concurrent readers can never observe a half-updated set.
type Catalog struct {
	prompts    map[domain.PromptPhase]string
	directives map[domain.PromptPhase]string
}

// NewCatalog builds a catalog from per-phase base texts and directive
// tokens. Every phase must have both; base texts that do not already
// start with their directive get it prepended so the prompt invariant
// holds for everything the catalog hands out.
func NewCatalog(base, directives map[string]string) (*Catalog, error) {
	c := &Catalog{
		prompts:    make(map[domain.PromptPhase]string, len(domain.AllPhases())),
		directives: make(map[domain.PromptPhase]string, len(domain.AllPhases())),
	}

	for _, phase := range domain.AllPhases() {
		directive := strings.TrimSpace(directives[string(phase)])
		if directive == "" {
			return nil, domain.ConfigErrorf("no directive token configured for phase %q", phase)
		}
		text := strings.TrimSpace(base[string(phase)])
		if text == "" {
			return nil, domain.ConfigErrorf("no base prompt configured for phase %q", phase)
		}
		c.directives[phase] = directive
		c.prompts[phase] = ensureDirective(text, directive)
	}

	return c, nil
}

// Get returns the base prompt text for a phase.
func (c *Catalog) Get(phase domain.PromptPhase) (string, error) {
	text, ok := c.prompts[phase]
	if !ok {
		return "", domain.ConfigErrorf("no base prompt configured for phase %q", phase)
	}
	return text, nil
}

// Directive returns the directive token for a phase.
func (c *Catalog) Directive(phase domain.PromptPhase) string {
	return c.directives[phase]
}

// ensureDirective prepends the directive token when text does not
// already begin with it.
func ensureDirective(text, directive string) string {
	if strings.HasPrefix(text, directive) {
		return text
	}
	return directive + " " + text
}
