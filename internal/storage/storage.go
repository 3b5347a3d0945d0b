// Package storage persists run outcomes so batch history and progress
// over time survive process restarts. The merge-request description
// stays the source of truth for live progress; storage is a local
// journal for reporting and the HTTP API.
package storage

import (
	"context"
	"time"
)

// RunRecord is one stored workflow run outcome.
type RunRecord struct {
	ID          string
	StoryKey    string
	Summary     string
	ProjectID   int
	Branch      string
	MergeReqIID int
	MergeReqURL string
	State       string
	Score       float64
	Dimensions  map[string]float64
	Error       string
	StartedAt   time.Time
	RecordedAt  time.Time
}

// OK reports whether the run completed without error.
func (r *RunRecord) OK() bool {
	return r.Error == ""
}

// RunFilter provides filtering options for listing runs.
type RunFilter struct {
	StoryKey  string // partial match
	ProjectID int    // 0 means any project
	OnlyOK    bool
	Limit     int // default 100
	Offset    int
}

// Stats is the aggregate view over stored runs.
type Stats struct {
	TotalRuns     int
	OKCount       int
	FailedCount   int
	SuccessRate   float64
	AvgScore      float64
	RunsByDay     map[string]int
	RunsByProject map[int]int
}

// Storage defines the persistence operations the agent uses.
type Storage interface {
	Close() error

	SaveRun(ctx context.Context, rec *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, filter *RunFilter) ([]*RunRecord, error)
	CountRuns(ctx context.Context, filter *RunFilter) (int, error)
	DeleteRun(ctx context.Context, id string) error

	GetRunsByStory(ctx context.Context, storyKey string) ([]*RunRecord, error)
	GetRecentRuns(ctx context.Context, limit int) ([]*RunRecord, error)
	GetStats(ctx context.Context) (*Stats, error)
}
