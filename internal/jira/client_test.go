package jira

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mritunjaysingh07/jira-duo-agent/internal/config"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/domain"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/logging"
)

func testJiraConfig() config.JiraConfig {
	return config.JiraConfig{
		UpdateStatus:            true,
		StoryPointsField:        "customfield_10016",
		AcceptanceCriteriaField: "customfield_10100",
		StatusMapping: map[string]string{
			"in_progress": "In Progress",
			"in_review":   "In Review",
		},
	}
}

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "bot", "token", testJiraConfig(), 5*time.Second, logging.Discard())
}

func TestFetchStory(t *testing.T) {
	t.Run("maps issue fields", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/rest/api/2/issue/PROJ-1", r.URL.Path)
			user, pass, ok := r.BasicAuth()
			require.True(t, ok)
			assert.Equal(t, "bot", user)
			assert.Equal(t, "token", pass)

			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"key": "PROJ-1",
				"fields": map[string]interface{}{
					"summary":           "Add login endpoint",
					"description":       "As a user I want to log in.",
					"customfield_10016": 5.0,
					"customfield_10100": "- returns a token",
					"priority":          map[string]interface{}{"name": "High"},
					"labels":            []string{"auth", "backend"},
					"components": []interface{}{
						map[string]interface{}{"name": "api"},
					},
				},
			})
		}))

		story, err := c.FetchStory(context.Background(), "PROJ-1")
		require.NoError(t, err)
		assert.Equal(t, "PROJ-1", story.Key)
		assert.Equal(t, "Add login endpoint", story.Summary)
		assert.Equal(t, "- returns a token", story.AcceptanceCriteria)
		assert.Equal(t, "High", story.Priority)
		assert.Equal(t, []string{"auth", "backend"}, story.Labels)
		assert.Equal(t, []string{"api"}, story.Components)
		require.NotNil(t, story.StoryPoints)
		assert.Equal(t, 5.0, *story.StoryPoints)
	})

	t.Run("missing optional fields", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"key":    "PROJ-2",
				"fields": map[string]interface{}{"summary": "Sparse story"},
			})
		}))

		story, err := c.FetchStory(context.Background(), "PROJ-2")
		require.NoError(t, err)
		assert.Nil(t, story.StoryPoints)
		assert.Empty(t, story.Priority)
		assert.Empty(t, story.Components)
	})

	t.Run("unknown key is not retried", func(t *testing.T) {
		calls := 0
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusNotFound)
		}))

		_, err := c.FetchStory(context.Background(), "PROJ-404")
		assert.ErrorIs(t, err, domain.ErrStoryNotFound)
		assert.Equal(t, 1, calls)
	})

	t.Run("rejected credentials are not retried", func(t *testing.T) {
		calls := 0
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusForbidden)
		}))

		_, err := c.FetchStory(context.Background(), "PROJ-1")
		assert.ErrorIs(t, err, domain.ErrPermission)
		assert.Equal(t, 1, calls)
	})

	t.Run("transient failure is retried", func(t *testing.T) {
		calls := 0
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"key":    "PROJ-1",
				"fields": map[string]interface{}{"summary": "Add login endpoint"},
			})
		}))

		story, err := c.FetchStory(context.Background(), "PROJ-1")
		require.NoError(t, err)
		assert.Equal(t, "PROJ-1", story.Key)
		assert.Equal(t, 2, calls)
	})
}

func TestUpdateStatus(t *testing.T) {
	t.Run("disabled is a no-op", func(t *testing.T) {
		called := false
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))
		defer srv.Close()

		cfg := testJiraConfig()
		cfg.UpdateStatus = false
		c := NewClient(srv.URL, "bot", "token", cfg, 5*time.Second, logging.Discard())

		require.NoError(t, c.UpdateStatus(context.Background(), "PROJ-1", "in_progress"))
		assert.False(t, called)
	})

	t.Run("posts the matching transition", func(t *testing.T) {
		var posted struct {
			Transition struct {
				ID string `json:"id"`
			} `json:"transition"`
		}
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"transitions": []map[string]interface{}{
						{"id": "11", "to": map[string]string{"name": "To Do"}},
						{"id": "21", "to": map[string]string{"name": "In Progress"}},
					},
				})
			case http.MethodPost:
				require.NoError(t, json.NewDecoder(r.Body).Decode(&posted))
				w.WriteHeader(http.StatusNoContent)
			}
		}))

		require.NoError(t, c.UpdateStatus(context.Background(), "PROJ-1", "in_progress"))
		assert.Equal(t, "21", posted.Transition.ID)
	})

	t.Run("unmapped status is a logged no-op", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("no request expected for an unmapped status")
		}))

		assert.NoError(t, c.UpdateStatus(context.Background(), "PROJ-1", "blocked"))
	})

	t.Run("missing transition is a logged no-op", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodGet, r.Method, "nothing may be posted without a matching transition")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"transitions": []map[string]interface{}{},
			})
		}))

		assert.NoError(t, c.UpdateStatus(context.Background(), "PROJ-1", "in_review"))
	})
}
