// Package jira is a thin REST wrapper around the issue tracker. It
// exposes only the fields the core consumes and maps HTTP failures to
// the typed errors the orchestrator understands.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mritunjaysingh07/jira-duo-agent/internal/config"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/domain"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/logging"
)

const (
	fetchRetries   = 3
	initialBackoff = time.Second
)

// Client talks to the Jira REST API v2 with basic auth.
type Client struct {
	baseURL  string
	username string
	token    string
	cfg      config.JiraConfig
	http     *http.Client
	log      *logging.Logger
}

// NewClient creates a Jira client with a bounded per-request timeout.
func NewClient(baseURL, username, token string, cfg config.JiraConfig, timeout time.Duration, log *logging.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		token:    token,
		cfg:      cfg,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

// issueResponse is the subset of the issue payload the agent reads.
type issueResponse struct {
	Key    string                 `json:"key"`
	Fields map[string]interface{} `json:"fields"`
}

// FetchStory fetches one story snapshot. An unknown key surfaces as
// domain.ErrStoryNotFound; transient failures are retried with
// exponential backoff before giving up.
func (c *Client) FetchStory(ctx context.Context, key string) (domain.Story, error) {
	url := fmt.Sprintf("%s/rest/api/2/issue/%s", c.baseURL, key)

	var lastErr error
	backoff := initialBackoff
	for attempt := 1; attempt <= fetchRetries; attempt++ {
		c.log.Infof("fetching story %s (attempt %d/%d)", key, attempt, fetchRetries)

		story, retryable, err := c.fetchOnce(ctx, url, key)
		if err == nil {
			return story, nil
		}
		if !retryable {
			return domain.Story{}, err
		}
		lastErr = err

		if attempt < fetchRetries {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return domain.Story{}, ctx.Err()
			}
			backoff *= 2
		}
	}
	return domain.Story{}, fmt.Errorf("fetch story %s after %d attempts: %w", key, fetchRetries, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, url, key string) (domain.Story, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Story{}, false, err
	}
	req.SetBasicAuth(c.username, c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Story{}, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.Story{}, false, fmt.Errorf("%w: %s", domain.ErrStoryNotFound, key)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.Story{}, false, fmt.Errorf("%w: jira rejected credentials for %s", domain.ErrPermission, key)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return domain.Story{}, true, fmt.Errorf("jira returned %d: %s", resp.StatusCode, string(body))
	}

	var issue issueResponse
	if err := json.NewDecoder(resp.Body).Decode(&issue); err != nil {
		return domain.Story{}, true, fmt.Errorf("decode issue %s: %w", key, err)
	}

	return c.storyFromIssue(issue), false, nil
}

func (c *Client) storyFromIssue(issue issueResponse) domain.Story {
	f := issue.Fields
	story := domain.Story{
		Key:                issue.Key,
		Summary:            stringField(f, "summary"),
		Description:        stringField(f, "description"),
		AcceptanceCriteria: stringField(f, c.cfg.AcceptanceCriteriaField),
		Priority:           nestedName(f, "priority"),
		Labels:             stringSlice(f, "labels"),
	}

	if pts, ok := f[c.cfg.StoryPointsField].(float64); ok {
		story.StoryPoints = &pts
	}
	if components, ok := f["components"].([]interface{}); ok {
		for _, comp := range components {
			if m, ok := comp.(map[string]interface{}); ok {
				if name, ok := m["name"].(string); ok {
					story.Components = append(story.Components, name)
				}
			}
		}
	}
	return story
}

// UpdateStatus transitions the issue to the mapped status. It is a no-op
// when status updates are disabled in config, and a logged no-op when no
// mapping or transition matches; status updates are best effort and never
// block the workflow.
func (c *Client) UpdateStatus(ctx context.Context, key, status string) error {
	if !c.cfg.UpdateStatus {
		return nil
	}

	target, ok := c.cfg.StatusMapping[strings.ToLower(status)]
	if !ok {
		c.log.Warnf("no status mapping for %q, leaving %s untouched", status, key)
		return nil
	}

	transitionID, err := c.findTransition(ctx, key, target)
	if err != nil {
		return err
	}
	if transitionID == "" {
		c.log.Warnf("no valid transition to %q for %s", target, key)
		return nil
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"transition": map[string]string{"id": transitionID},
	})

	url := fmt.Sprintf("%s/rest/api/2/issue/%s/transitions", c.baseURL, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.username, c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("transition %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("transition %s returned %d: %s", key, resp.StatusCode, string(body))
	}

	c.log.Infof("updated %s status to %q", key, target)
	return nil
}

func (c *Client) findTransition(ctx context.Context, key, target string) (string, error) {
	url := fmt.Sprintf("%s/rest/api/2/issue/%s/transitions", c.baseURL, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.username, c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("list transitions for %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("list transitions for %s returned %d: %s", key, resp.StatusCode, string(body))
	}

	var payload struct {
		Transitions []struct {
			ID string `json:"id"`
			To struct {
				Name string `json:"name"`
			} `json:"to"`
		} `json:"transitions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode transitions for %s: %w", key, err)
	}

	for _, t := range payload.Transitions {
		if strings.EqualFold(t.To.Name, target) {
			return t.ID, nil
		}
	}
	return "", nil
}

func stringField(fields map[string]interface{}, name string) string {
	if s, ok := fields[name].(string); ok {
		return s
	}
	return ""
}

func nestedName(fields map[string]interface{}, name string) string {
	if m, ok := fields[name].(map[string]interface{}); ok {
		if s, ok := m["name"].(string); ok {
			return s
		}
	}
	return ""
}

func stringSlice(fields map[string]interface{}, name string) []string {
	raw, ok := fields[name].([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
