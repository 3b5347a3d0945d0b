// Package report renders the batch summary printed when a run finishes.
package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mritunjaysingh07/jira-duo-agent/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			MarginBottom(1)

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	keyStyle  = lipgloss.NewStyle().Bold(true)
	urlStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Underline(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	summaryStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1).
			MarginTop(1)
)

// Render formats the batch outcomes as a terminal report: one line per
// story in input order, then an aggregate footer.
func Render(outcomes []domain.Outcome) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Batch results"))
	b.WriteString("\n")

	ok := 0
	for _, outcome := range outcomes {
		if outcome.OK() {
			ok++
			b.WriteString(okStyle.Render("  ✓ "))
			b.WriteString(keyStyle.Render(outcome.StoryKey))
			if outcome.Run != nil {
				b.WriteString(fmt.Sprintf(" %3.0f%% ", outcome.Score*100))
				b.WriteString(urlStyle.Render(outcome.Run.MergeReqURL))
			}
		} else {
			b.WriteString(failStyle.Render("  ✗ "))
			b.WriteString(keyStyle.Render(outcome.StoryKey))
			b.WriteString(" ")
			b.WriteString(failStyle.Render(outcome.Err.Error()))
			if outcome.Run != nil && outcome.Run.State != domain.StateFetched {
				b.WriteString(dimStyle.Render(fmt.Sprintf(" (reached %s)", outcome.Run.State)))
			}
		}
		b.WriteString("\n")
	}

	failed := len(outcomes) - ok
	summary := fmt.Sprintf("%d stories, %s, %s",
		len(outcomes),
		okStyle.Render(fmt.Sprintf("%d ok", ok)),
		failStyle.Render(fmt.Sprintf("%d failed", failed)))
	if failed == 0 {
		summary = fmt.Sprintf("%d stories, %s", len(outcomes), okStyle.Render("all ok"))
	}
	b.WriteString(summaryStyle.Render(summary))
	b.WriteString("\n")

	return b.String()
}
