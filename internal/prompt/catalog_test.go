package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mritunjaysingh07/jira-duo-agent/internal/domain"
)

func testBase() map[string]string {
	return map[string]string{
		"structure":      "/duo suggest Propose the project structure.",
		"implementation": "Implement the story.",
		"tests":          "Write tests.",
		"review":         "Review the changes.",
		"documentation":  "Document the behavior.",
	}
}

func testDirectives() map[string]string {
	return map[string]string{
		"structure":      "/duo suggest",
		"implementation": "/duo suggest",
		"tests":          "/duo test",
		"review":         "/duo review",
		"documentation":  "/duo document",
	}
}

func TestNewCatalog(t *testing.T) {
	t.Run("builds from complete maps", func(t *testing.T) {
		c, err := NewCatalog(testBase(), testDirectives())
		require.NoError(t, err)

		for _, phase := range domain.AllPhases() {
			text, err := c.Get(phase)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(text, c.Directive(phase)),
				"%s prompt must start with its directive", phase)
		}
	})

	t.Run("prepends missing directive", func(t *testing.T) {
		c, err := NewCatalog(testBase(), testDirectives())
		require.NoError(t, err)

		text, err := c.Get(domain.PhaseTests)
		require.NoError(t, err)
		assert.Equal(t, "/duo test Write tests.", text)
	})

	t.Run("keeps directive already present", func(t *testing.T) {
		c, err := NewCatalog(testBase(), testDirectives())
		require.NoError(t, err)

		text, err := c.Get(domain.PhaseStructure)
		require.NoError(t, err)
		assert.Equal(t, "/duo suggest Propose the project structure.", text)
	})

	t.Run("rejects missing base prompt", func(t *testing.T) {
		base := testBase()
		delete(base, "review")

		_, err := NewCatalog(base, testDirectives())
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrConfig)
	})

	t.Run("rejects missing directive", func(t *testing.T) {
		directives := testDirectives()
		directives["documentation"] = "   "

		_, err := NewCatalog(testBase(), directives)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrConfig)
	})
}
