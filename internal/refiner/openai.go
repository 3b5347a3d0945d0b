// Package refiner implements the optional prompt-refinement capability
// on top of the official OpenAI client. It is wired in only when
// refinement is enabled and an API key is present; the rest of the
// system sees it as a present-or-absent interface instance.
package refiner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/mritunjaysingh07/jira-duo-agent/internal/config"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/domain"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/logging"
)

// Client refines base prompts with story context via a chat completion.
type Client struct {
	client       openai.Client
	model        string
	temperature  float64
	maxTokens    int
	timeout      time.Duration
	systemPrompt string
	userTmpl     *template.Template
	log          *logging.Logger
}

// NewClient builds a refiner from the llm_refinement slice of the
// configuration. The refinement prompt is a text/template over the story
// fields and the base prompt.
func NewClient(apiKey string, refCfg config.LLMRefinementConfig, llmCfg config.LLMConfig, timeout time.Duration, log *logging.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, domain.ConfigErrorf("llm refinement enabled but OPENAI_API_KEY is not set")
	}
	if strings.TrimSpace(llmCfg.RefinementPrompt) == "" {
		return nil, domain.ConfigErrorf("llm.refinement_prompt is missing")
	}

	userTmpl, err := template.New("refinement").Parse(llmCfg.RefinementPrompt)
	if err != nil {
		return nil, domain.ConfigErrorf("llm.refinement_prompt is not a valid template: %v", err)
	}

	return &Client{
		client:       openai.NewClient(option.WithAPIKey(apiKey)),
		model:        refCfg.Model,
		temperature:  refCfg.Temperature,
		maxTokens:    refCfg.MaxTokens,
		timeout:      timeout,
		systemPrompt: llmCfg.SystemPrompt,
		userTmpl:     userTmpl,
		log:          log,
	}, nil
}

// Refine asks the model for a story-specific variant of the base prompt.
// Failures map to the typed refinement errors; inputs are never mutated.
func (c *Client) Refine(ctx context.Context, phase domain.PromptPhase, story domain.Story, basePrompt string) (string, error) {
	userPrompt, err := c.renderUserPrompt(phase, story, basePrompt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrRefinement, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(c.systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(c.temperature),
		MaxTokens:   openai.Int(int64(c.maxTokens)),
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s prompt for %s", domain.ErrRefinementTimeout, phase, story.Key)
		}
		return "", fmt.Errorf("%w: %v", domain.ErrRefinement, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: model returned no choices", domain.ErrRefinement)
	}

	refined := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.log.Debugf("refined %s prompt for %s (%d chars)", phase, story.Key, len(refined))
	return refined, nil
}

func (c *Client) renderUserPrompt(phase domain.PromptPhase, story domain.Story, basePrompt string) (string, error) {
	data := struct {
		Phase              string
		Key                string
		Summary            string
		Description        string
		AcceptanceCriteria string
		BasePrompt         string
	}{
		Phase:              string(phase),
		Key:                story.Key,
		Summary:            story.Summary,
		Description:        story.Description,
		AcceptanceCriteria: story.AcceptanceCriteria,
		BasePrompt:         basePrompt,
	}

	var buf strings.Builder
	if err := c.userTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
