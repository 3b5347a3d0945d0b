// Package render produces the merge-request description and re-parses
// previously rendered descriptions to recover persisted progress state.
//
// The description doubles as the workflow's only durable store, so the
// progress section is a small file format with a versioned marker scheme:
//
//	<!-- duo-progress:v1:begin -->   start of the replaceable region
//	## Progress Tracking             human-readable checklist
//	<!-- duo-progress-state          machine state as a YAML document
//	...yaml...
//	-->
//	<!-- duo-progress:v1:end -->     end of the replaceable region
//
// The marker literals are part of the format contract: a future renderer
// may change everything between them, but the begin/end lines must stay
// parseable byte-for-byte so older descriptions remain refreshable.
package render

import (
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mritunjaysingh07/jira-duo-agent/internal/domain"
)

const (
	progressBegin = "<!-- duo-progress:v1:begin -->"
	progressEnd   = "<!-- duo-progress:v1:end -->"
	stateBegin    = "<!-- duo-progress-state"
	stateEnd      = "-->"
)

// Renderer renders and re-parses merge-request descriptions.
type Renderer struct {
	jiraBaseURL string
	score       func(domain.ProgressState) float64
	now         func() time.Time
}

// NewRenderer creates a Renderer. score computes the overall score from a
// state; the renderer never stores or derives scores itself.
func NewRenderer(jiraBaseURL string, score func(domain.ProgressState) float64) *Renderer {
	return &Renderer{
		jiraBaseURL: strings.TrimRight(jiraBaseURL, "/"),
		score:       score,
		now:         time.Now,
	}
}

var descriptionTmpl = template.Must(template.New("description").Parse(`# Implementation: {{.Story.Summary}}

## Story Details
- **Jira Issue**: [{{.Story.Key}}]({{.StoryURL}})
- **Summary**: {{.Story.Summary}}
- **Priority**: {{.Priority}}
- **Story Points**: {{.StoryPoints}}
- **Components**: {{.Components}}
- **Labels**: {{.Labels}}

## Requirements
{{.Description}}

## Acceptance Criteria
{{.AcceptanceCriteria}}

## GitLab Duo Instructions

Copy each block below into GitLab Duo verbatim, in order, including its
leading directive token.
{{range .Sections}}
### {{.Number}}. {{.Title}}
` + "```" + `
{{.Text}}
` + "```" + `
{{end}}
{{.ProgressRegion}}

## Notes for Reviewers
1. Verify all acceptance criteria are met
2. Check test coverage
3. Review error handling and edge cases
4. Validate against requirements

## Related Links
- Jira Story: [{{.Story.Key}}]({{.StoryURL}})
- Generated: {{.Generated}}
`))

type section struct {
	Number int
	Title  string
	Text   string
}

// Render produces the full description for a run: story summary block,
// prompt sections in phase order, then the delimited progress region.
func (r *Renderer) Render(run *domain.WorkflowRun) (string, error) {
	sections := make([]section, 0, len(run.Prompts))
	for i, p := range run.Prompts {
		sections = append(sections, section{
			Number: i + 1,
			Title:  p.Phase.SectionTitle(),
			Text:   p.Text,
		})
	}

	region, err := r.progressRegion(run.Progress)
	if err != nil {
		return "", err
	}

	data := struct {
		Story              domain.Story
		StoryURL           string
		Priority           string
		StoryPoints        string
		Components         string
		Labels             string
		Description        string
		AcceptanceCriteria string
		Sections           []section
		ProgressRegion     string
		Generated          string
	}{
		Story:              run.Story,
		StoryURL:           r.storyURL(run.Story.Key),
		Priority:           orDefault(run.Story.Priority, "Medium"),
		StoryPoints:        formatPoints(run.Story.StoryPoints),
		Components:         orDefault(strings.Join(run.Story.Components, ", "), "None"),
		Labels:             orDefault(strings.Join(run.Story.Labels, ", "), "None"),
		Description:        orDefault(strings.TrimSpace(run.Story.Description), "_No description provided._"),
		AcceptanceCriteria: orDefault(strings.TrimSpace(run.Story.AcceptanceCriteria), "_No acceptance criteria provided._"),
		Sections:           sections,
		ProgressRegion:     region,
		Generated:          r.now().Format("2006-01-02 15:04:05"),
	}

	var buf strings.Builder
	if err := descriptionTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render description: %w", err)
	}
	return buf.String(), nil
}

// UpdateProgress replaces the progress region of an existing description
// with a re-render of state, leaving everything outside the markers
// (the prompt sections in particular) byte-for-byte untouched. If the
// description carries no region, one is appended.
func (r *Renderer) UpdateProgress(description string, state domain.ProgressState) (string, error) {
	region, err := r.progressRegion(state)
	if err != nil {
		return "", err
	}

	start := strings.Index(description, progressBegin)
	if start == -1 {
		return strings.TrimRight(description, "\n") + "\n\n" + region + "\n", nil
	}
	end := strings.Index(description[start:], progressEnd)
	if end == -1 {
		return "", fmt.Errorf("%w: begin marker without end marker", domain.ErrParse)
	}
	end = start + end + len(progressEnd)

	return description[:start] + region + description[end:], nil
}

// ParseProgress recovers the last-rendered ProgressState from a
// description. It returns domain.ErrProgressNotFound when no region is
// present and domain.ErrParse when the region is malformed; it never
// panics on arbitrary input.
func (r *Renderer) ParseProgress(description string) (domain.ProgressState, error) {
	start := strings.Index(description, progressBegin)
	if start == -1 {
		return nil, domain.ErrProgressNotFound
	}
	end := strings.Index(description[start:], progressEnd)
	if end == -1 {
		return nil, fmt.Errorf("%w: begin marker without end marker", domain.ErrParse)
	}
	region := description[start : start+end]

	stateStart := strings.Index(region, stateBegin)
	if stateStart == -1 {
		return nil, fmt.Errorf("%w: no state block inside markers", domain.ErrParse)
	}
	body := region[stateStart+len(stateBegin):]
	stateEndIdx := strings.Index(body, stateEnd)
	if stateEndIdx == -1 {
		return nil, fmt.Errorf("%w: unterminated state block", domain.ErrParse)
	}
	body = body[:stateEndIdx]

	var state domain.ProgressState
	if err := yaml.Unmarshal([]byte(body), &state); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrParse, err)
	}
	if len(state) == 0 {
		return nil, fmt.Errorf("%w: empty state block", domain.ErrParse)
	}
	return state, nil
}

// progressRegion renders the replaceable region: checklist lines for
// humans, YAML state for the parser.
func (r *Renderer) progressRegion(state domain.ProgressState) (string, error) {
	var buf strings.Builder
	buf.WriteString(progressBegin)
	buf.WriteString("\n## Progress Tracking\n")

	for _, dim := range domain.AllDimensions() {
		rec := state[dim]
		mark := " "
		if rec.Fraction >= 1 {
			mark = "x"
		}
		fmt.Fprintf(&buf, "- [%s] %s: %d%% - %s\n", mark, dim, percent(rec.Fraction), rec.Status)
	}
	fmt.Fprintf(&buf, "\n**Overall score: %d%%**\n\n", percent(r.score(state)))

	encoded, err := yaml.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encode progress state: %w", err)
	}
	buf.WriteString(stateBegin)
	buf.WriteString("\n")
	buf.Write(encoded)
	buf.WriteString(stateEnd)
	buf.WriteString("\n")
	buf.WriteString(progressEnd)

	return buf.String(), nil
}

func (r *Renderer) storyURL(key string) string {
	if r.jiraBaseURL == "" {
		return key
	}
	return r.jiraBaseURL + "/browse/" + key
}

func percent(f float64) int {
	return int(math.Round(f * 100))
}

func formatPoints(points *float64) string {
	if points == nil {
		return "Not specified"
	}
	return fmt.Sprintf("%g", *points)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
