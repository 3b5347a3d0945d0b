// Package gitlab is a thin REST wrapper around the hosting platform:
// branch and merge-request lifecycle plus the evidence signals the
// progress model consumes.
package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mritunjaysingh07/jira-duo-agent/internal/domain"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/logging"
)

// AcceptedLabel is the explicit external "mark accepted" signal: a human
// applies this label to the merge request, nothing infers it.
const AcceptedLabel = "accepted"

// mergeRequest is the wire shape of the MR fields the agent decodes.
type mergeRequest struct {
	IID          int      `json:"iid"`
	WebURL       string   `json:"web_url"`
	Description  string   `json:"description"`
	State        string   `json:"state"`
	Labels       []string `json:"labels"`
	HeadPipeline struct {
		Status string `json:"status"`
	} `json:"head_pipeline"`
}

func (m *mergeRequest) ref() *domain.MergeRequestRef {
	return &domain.MergeRequestRef{
		IID:         m.IID,
		URL:         m.WebURL,
		Description: m.Description,
		State:       m.State,
	}
}

// Client talks to the GitLab REST API v4 with a private token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *logging.Logger
}

// NewClient creates a GitLab client with a bounded per-request timeout.
func NewClient(baseURL, token string, timeout time.Duration, log *logging.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/") + "/api/v4",
		token:   token,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// CreateBranch creates branchName from ref, reusing it when it already
// exists. Branch creation is idempotent by design so a re-run of the same
// story never fails on its own leftovers.
func (c *Client) CreateBranch(ctx context.Context, projectID int, ref, branchName string) error {
	var existing struct {
		Name string `json:"name"`
	}
	err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/projects/%d/repository/branches/%s", projectID, url.PathEscape(branchName)),
		nil, &existing)
	if err == nil {
		c.log.Infof("branch %s already exists, reusing it", branchName)
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("%w: check branch %s: %v", domain.ErrSubmission, branchName, err)
	}

	payload := map[string]string{"branch": branchName, "ref": ref}
	if err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/projects/%d/repository/branches", projectID), payload, nil); err != nil {
		if isPermission(err) {
			return fmt.Errorf("%w: create branch %s: %v", domain.ErrPermission, branchName, err)
		}
		return fmt.Errorf("%w: create branch %s: %v", domain.ErrSubmission, branchName, err)
	}

	c.log.Infof("created branch %s from %s", branchName, ref)
	return nil
}

// CreateMergeRequest opens an MR from sourceBranch, or reuses the open MR
// that already exists for it.
func (c *Client) CreateMergeRequest(ctx context.Context, projectID int, sourceBranch, targetBranch, title, description string, labels []string) (*domain.MergeRequestRef, error) {
	var open []mergeRequest
	listPath := fmt.Sprintf("/projects/%d/merge_requests?state=opened&source_branch=%s",
		projectID, url.QueryEscape(sourceBranch))
	if err := c.do(ctx, http.MethodGet, listPath, nil, &open); err != nil {
		return nil, fmt.Errorf("%w: list merge requests: %v", domain.ErrSubmission, err)
	}
	if len(open) > 0 {
		c.log.Infof("reusing existing merge request %s", open[0].WebURL)
		return open[0].ref(), nil
	}

	payload := map[string]interface{}{
		"source_branch":        sourceBranch,
		"target_branch":        targetBranch,
		"title":                title,
		"description":          description,
		"labels":               strings.Join(labels, ","),
		"remove_source_branch": true,
		"squash":               true,
	}

	var mr mergeRequest
	if err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("/projects/%d/merge_requests", projectID), payload, &mr); err != nil {
		if isPermission(err) {
			return nil, fmt.Errorf("%w: create merge request: %v", domain.ErrPermission, err)
		}
		return nil, fmt.Errorf("%w: create merge request: %v", domain.ErrSubmission, err)
	}

	c.log.Infof("created merge request %s", mr.WebURL)
	return mr.ref(), nil
}

// GetMergeRequest fetches the current MR state, description included.
func (c *Client) GetMergeRequest(ctx context.Context, projectID, mrIID int) (*domain.MergeRequestRef, error) {
	mr, err := c.getMergeRequest(ctx, projectID, mrIID)
	if err != nil {
		return nil, err
	}
	return mr.ref(), nil
}

func (c *Client) getMergeRequest(ctx context.Context, projectID, mrIID int) (*mergeRequest, error) {
	var mr mergeRequest
	if err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/projects/%d/merge_requests/%d", projectID, mrIID), nil, &mr); err != nil {
		return nil, fmt.Errorf("get merge request %d: %w", mrIID, err)
	}
	return &mr, nil
}

// UpdateMergeRequestDescription replaces the MR body.
func (c *Client) UpdateMergeRequestDescription(ctx context.Context, projectID, mrIID int, description string) error {
	payload := map[string]string{"description": description}
	if err := c.do(ctx, http.MethodPut,
		fmt.Sprintf("/projects/%d/merge_requests/%d", projectID, mrIID), payload, nil); err != nil {
		if isPermission(err) {
			return fmt.Errorf("%w: update merge request %d: %v", domain.ErrPermission, mrIID, err)
		}
		return fmt.Errorf("update merge request %d: %w", mrIID, err)
	}
	return nil
}

// FetchEvidenceSignals aggregates the raw signals the progress model
// evaluates: repository tree, changed files, pipeline status, approvals
// and discussion resolution. The acceptance signal is the presence of
// the AcceptedLabel on the merge request.
func (c *Client) FetchEvidenceSignals(ctx context.Context, projectID, mrIID int, branch string) (domain.Evidence, error) {
	var ev domain.Evidence

	mr, err := c.getMergeRequest(ctx, projectID, mrIID)
	if err != nil {
		return ev, err
	}
	ev.PipelineStatus = mr.HeadPipeline.Status
	for _, label := range mr.Labels {
		if strings.EqualFold(label, AcceptedLabel) {
			ev.Accepted = true
		}
	}

	tree, err := c.repositoryTree(ctx, projectID, branch)
	if err != nil {
		return ev, err
	}
	ev.TreePaths = tree

	changes, err := c.changedFiles(ctx, projectID, mrIID)
	if err != nil {
		return ev, err
	}
	ev.ChangedFiles = changes

	if err := c.approvals(ctx, projectID, mrIID, &ev); err != nil {
		return ev, err
	}
	if err := c.discussions(ctx, projectID, mrIID, &ev); err != nil {
		return ev, err
	}

	return ev, nil
}

func (c *Client) repositoryTree(ctx context.Context, projectID int, branch string) ([]string, error) {
	var items []struct {
		Path string `json:"path"`
	}
	path := fmt.Sprintf("/projects/%d/repository/tree?ref=%s&recursive=true&per_page=100",
		projectID, url.QueryEscape(branch))
	if err := c.do(ctx, http.MethodGet, path, nil, &items); err != nil {
		return nil, fmt.Errorf("repository tree for %s: %w", branch, err)
	}
	paths := make([]string, len(items))
	for i, item := range items {
		paths[i] = item.Path
	}
	return paths, nil
}

func (c *Client) changedFiles(ctx context.Context, projectID, mrIID int) ([]string, error) {
	var payload struct {
		Changes []struct {
			NewPath string `json:"new_path"`
		} `json:"changes"`
	}
	if err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/projects/%d/merge_requests/%d/changes", projectID, mrIID), nil, &payload); err != nil {
		return nil, fmt.Errorf("merge request %d changes: %w", mrIID, err)
	}
	files := make([]string, len(payload.Changes))
	for i, change := range payload.Changes {
		files[i] = change.NewPath
	}
	return files, nil
}

func (c *Client) approvals(ctx context.Context, projectID, mrIID int, ev *domain.Evidence) error {
	var payload struct {
		ApprovedBy []struct {
			User struct {
				Username string `json:"username"`
			} `json:"user"`
		} `json:"approved_by"`
		ApprovalsRequired int `json:"approvals_required"`
	}
	if err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/projects/%d/merge_requests/%d/approvals", projectID, mrIID), nil, &payload); err != nil {
		return fmt.Errorf("merge request %d approvals: %w", mrIID, err)
	}
	ev.ApprovalsReceived = len(payload.ApprovedBy)
	ev.ApprovalsRequired = payload.ApprovalsRequired
	return nil
}

func (c *Client) discussions(ctx context.Context, projectID, mrIID int, ev *domain.Evidence) error {
	var payload []struct {
		Notes []struct {
			Resolvable bool `json:"resolvable"`
			Resolved   bool `json:"resolved"`
		} `json:"notes"`
	}
	if err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/projects/%d/merge_requests/%d/discussions?per_page=100", projectID, mrIID), nil, &payload); err != nil {
		return fmt.Errorf("merge request %d discussions: %w", mrIID, err)
	}

	for _, discussion := range payload {
		resolvable := false
		resolved := true
		for _, note := range discussion.Notes {
			if note.Resolvable {
				resolvable = true
				if !note.Resolved {
					resolved = false
				}
			}
		}
		if !resolvable {
			continue
		}
		ev.TotalDiscussions++
		if !resolved {
			ev.UnresolvedDiscussions++
		}
	}
	return nil
}

// statusError carries the HTTP status for error classification.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("gitlab returned %d: %s", e.status, e.body)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == http.StatusNotFound
}

func isPermission(err error) bool {
	var se *statusError
	return errors.As(err, &se) && (se.status == http.StatusUnauthorized || se.status == http.StatusForbidden)
}

// do issues one API call, encoding payload as JSON and decoding the
// response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{status: resp.StatusCode, body: string(raw)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
