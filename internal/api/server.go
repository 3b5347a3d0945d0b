// Package api exposes a read-mostly HTTP surface over the agent: run
// history from storage, the live tracked-run set from the monitor and a
// WebSocket feed of progress updates.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mritunjaysingh07/jira-duo-agent/internal/logging"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/monitor"
	"github.com/mritunjaysingh07/jira-duo-agent/internal/storage"
)

// Server is the REST and WebSocket server.
type Server struct {
	storage storage.Storage
	monitor *monitor.Monitor
	wsHub   *WebSocketHub
	log     *logging.Logger

	mu      sync.Mutex
	server  *http.Server
	running bool
}

// NewServer wires the server to its data sources. monitor may be nil
// when the agent runs in one-shot mode.
func NewServer(store storage.Storage, mon *monitor.Monitor, log *logging.Logger) *Server {
	s := &Server{
		storage: store,
		monitor: mon,
		wsHub:   NewWebSocketHub(log),
		log:     log,
	}
	if mon != nil {
		mon.Subscribe(s)
	}
	return s
}

// Notify implements the monitor's notifier contract: every progress
// observation is pushed to connected WebSocket clients.
func (s *Server) Notify(update monitor.Update) {
	s.wsHub.Broadcast(WebSocketMessage{
		Type:      "progress",
		Data:      update,
		Timestamp: time.Now(),
	})
}

// Start serves on the given port until Stop is called.
func (s *Server) Start(port int) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.setupRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.mu.Unlock()

	go s.wsHub.Run()

	s.log.Infof("api listening on :%d", port)
	return s.server.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	s.wsHub.Stop()

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.healthHandler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", s.listRunsHandler)
		r.Get("/runs/{id}", s.getRunHandler)
		r.Get("/stories/{key}/runs", s.getStoryRunsHandler)
		r.Get("/tracked", s.trackedHandler)
		r.Get("/stats", s.getStatsHandler)
		r.Get("/ws", s.websocketHandler)
	})

	return r
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Handlers

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) listRunsHandler(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		respondError(w, http.StatusServiceUnavailable, "storage not available")
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	filter := &storage.RunFilter{Limit: limit}
	if q := r.URL.Query().Get("story"); q != "" {
		filter.StoryKey = q
	}
	if p := r.URL.Query().Get("project"); p != "" {
		if projectID, err := strconv.Atoi(p); err == nil {
			filter.ProjectID = projectID
		}
	}

	var records []*storage.RunRecord
	var err error
	if filter.StoryKey == "" && filter.ProjectID == 0 {
		records, err = s.storage.GetRecentRuns(r.Context(), limit)
	} else {
		records, err = s.storage.ListRuns(r.Context(), filter)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	runs := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		runs = append(runs, runJSON(rec))
	}

	count, _ := s.storage.CountRuns(r.Context(), filter)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
		"total": count,
	})
}

func (s *Server) getRunHandler(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		respondError(w, http.StatusServiceUnavailable, "storage not available")
		return
	}

	id := chi.URLParam(r, "id")
	rec, err := s.storage.GetRun(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "run not found")
		return
	}

	respondJSON(w, http.StatusOK, runJSON(rec))
}

func (s *Server) getStoryRunsHandler(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		respondError(w, http.StatusServiceUnavailable, "storage not available")
		return
	}

	key := chi.URLParam(r, "key")
	records, err := s.storage.GetRunsByStory(r.Context(), key)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	runs := make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		runs = append(runs, runJSON(rec))
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"story_key": key,
		"runs":      runs,
		"count":     len(runs),
	})
}

func (s *Server) trackedHandler(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"tracked": []interface{}{},
			"count":   0,
		})
		return
	}

	tracked := make([]map[string]interface{}, 0)
	for _, run := range s.monitor.Tracked() {
		tracked = append(tracked, map[string]interface{}{
			"story_key":         run.Story.Key,
			"summary":           run.Story.Summary,
			"branch":            run.Branch,
			"merge_request_url": run.MergeReqURL,
			"state":             run.State,
			"progress":          run.Progress,
		})
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tracked": tracked,
		"count":   len(tracked),
	})
}

func (s *Server) getStatsHandler(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		respondError(w, http.StatusServiceUnavailable, "storage not available")
		return
	}

	stats, err := s.storage.GetStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"total_runs":      stats.TotalRuns,
		"ok":              stats.OKCount,
		"failed":          stats.FailedCount,
		"success_rate":    stats.SuccessRate,
		"avg_score":       stats.AvgScore,
		"runs_by_day":     stats.RunsByDay,
		"runs_by_project": stats.RunsByProject,
	})
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	s.wsHub.ServeWs(w, r)
}

func runJSON(rec *storage.RunRecord) map[string]interface{} {
	return map[string]interface{}{
		"id":                rec.ID,
		"story_key":         rec.StoryKey,
		"summary":           rec.Summary,
		"project_id":        rec.ProjectID,
		"branch":            rec.Branch,
		"merge_request_url": rec.MergeReqURL,
		"state":             rec.State,
		"score":             rec.Score,
		"dimensions":        rec.Dimensions,
		"error":             rec.Error,
		"started_at":        rec.StartedAt,
		"recorded_at":       rec.RecordedAt,
	}
}
