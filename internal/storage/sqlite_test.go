package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mritunjaysingh07/jira-duo-agent/internal/domain"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewInMemoryStorage()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(key string) *RunRecord {
	return &RunRecord{
		StoryKey:    key,
		Summary:     "Add login endpoint",
		ProjectID:   42,
		Branch:      "feature/" + key,
		MergeReqIID: 7,
		MergeReqURL: "https://gitlab.example.com/project/-/merge_requests/7",
		State:       string(domain.StateTracking),
		Score:       0.4,
		Dimensions: map[string]float64{
			"setup":          1,
			"implementation": 1,
			"acceptance":     0,
		},
		StartedAt: time.Now().Add(-time.Minute),
	}
}

func TestNewSQLiteStorage(t *testing.T) {
	t.Run("creates in-memory storage", func(t *testing.T) {
		s, err := NewSQLiteStorage(":memory:")
		require.NoError(t, err)
		require.NotNil(t, s)
		defer s.Close()
	})

	t.Run("creates file-based storage", func(t *testing.T) {
		dbPath := t.TempDir() + "/test.db"
		s, err := NewSQLiteStorage(dbPath)
		require.NoError(t, err)
		defer s.Close()
		assert.FileExists(t, dbPath)
	})
}

func TestSaveAndGetRun(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	rec := testRecord("PROJ-1")
	require.NoError(t, s.SaveRun(ctx, rec))
	require.NotEmpty(t, rec.ID, "save assigns an ID")

	got, err := s.GetRun(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "PROJ-1", got.StoryKey)
	assert.Equal(t, 42, got.ProjectID)
	assert.Equal(t, 0.4, got.Score)
	assert.Equal(t, rec.Dimensions, got.Dimensions)
	assert.True(t, got.OK())
	assert.False(t, got.RecordedAt.IsZero(), "recorded_at survives the round trip")
	assert.WithinDuration(t, time.Now(), got.RecordedAt, time.Minute)
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.GetRun(context.Background(), "no-such-id")
	assert.Error(t, err)
}

func TestRecordOutcome(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	t.Run("successful run", func(t *testing.T) {
		run := domain.NewWorkflowRun(domain.Story{Key: "PROJ-2", Summary: "Add logout"}, 42, "main")
		run.Branch = "feature/proj-2"
		run.MergeReqIID = 9
		run.State = domain.StateTracking
		run.Progress[domain.DimSetup] = domain.DimensionRecord{Fraction: 1}

		require.NoError(t, s.RecordOutcome(ctx, domain.Outcome{StoryKey: "PROJ-2", Run: run, Score: 0.1}))

		records, err := s.GetRunsByStory(ctx, "PROJ-2")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, string(domain.StateTracking), records[0].State)
		assert.Equal(t, 0.1, records[0].Score)
		assert.Equal(t, 1.0, records[0].Dimensions["setup"])
		assert.True(t, records[0].OK())
	})

	t.Run("failed story without a run", func(t *testing.T) {
		outcome := domain.Outcome{StoryKey: "PROJ-404", Err: errors.New("story not found: PROJ-404")}
		require.NoError(t, s.RecordOutcome(ctx, outcome))

		records, err := s.GetRunsByStory(ctx, "PROJ-404")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.False(t, records[0].OK())
		assert.Contains(t, records[0].Error, "story not found")
	})
}

func TestListRuns(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, testRecord("PROJ-1")))
	require.NoError(t, s.SaveRun(ctx, testRecord("PROJ-2")))
	failed := testRecord("PROJ-3")
	failed.Error = "merge request creation failed"
	failed.ProjectID = 99
	require.NoError(t, s.SaveRun(ctx, failed))

	t.Run("no filter returns everything", func(t *testing.T) {
		records, err := s.ListRuns(ctx, nil)
		require.NoError(t, err)
		assert.Len(t, records, 3)
	})

	t.Run("filter by story key", func(t *testing.T) {
		records, err := s.ListRuns(ctx, &RunFilter{StoryKey: "PROJ-2"})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "PROJ-2", records[0].StoryKey)
	})

	t.Run("filter by project", func(t *testing.T) {
		records, err := s.ListRuns(ctx, &RunFilter{ProjectID: 99})
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})

	t.Run("only ok", func(t *testing.T) {
		records, err := s.ListRuns(ctx, &RunFilter{OnlyOK: true})
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("count matches filter", func(t *testing.T) {
		count, err := s.CountRuns(ctx, &RunFilter{OnlyOK: true})
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("limit", func(t *testing.T) {
		records, err := s.ListRuns(ctx, &RunFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})
}

func TestDeleteRun(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	rec := testRecord("PROJ-1")
	require.NoError(t, s.SaveRun(ctx, rec))
	require.NoError(t, s.DeleteRun(ctx, rec.ID))

	_, err := s.GetRun(ctx, rec.ID)
	assert.Error(t, err)
}

func TestGetStats(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	ok := testRecord("PROJ-1")
	ok.Score = 0.8
	require.NoError(t, s.SaveRun(ctx, ok))

	failed := testRecord("PROJ-2")
	failed.Error = "boom"
	failed.Score = 0
	require.NoError(t, s.SaveRun(ctx, failed))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRuns)
	assert.Equal(t, 1, stats.OKCount)
	assert.Equal(t, 1, stats.FailedCount)
	assert.Equal(t, 50.0, stats.SuccessRate)
	assert.InDelta(t, 0.4, stats.AvgScore, 1e-9)
	assert.Equal(t, 2, stats.RunsByProject[42])
}
