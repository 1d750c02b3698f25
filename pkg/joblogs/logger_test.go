package joblogs

import (
	"context"
	"strings"
	"testing"

	"github.com/robinjoseph08/golib/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tankobon/tankobon/pkg/comics"
	"github.com/tankobon/tankobon/pkg/config"
	"github.com/tankobon/tankobon/pkg/database"
	"github.com/tankobon/tankobon/pkg/jobs"
	"github.com/tankobon/tankobon/pkg/migrations"
	"github.com/tankobon/tankobon/pkg/models"
)

func setup(t *testing.T) (context.Context, *Service, *models.Job, []int) {
	t.Helper()

	db, err := database.New(config.NewForTest())
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})

	ctx := logger.New().WithContext(context.Background())
	_, err = migrations.BringUpToDate(ctx, db)
	require.NoError(t, err)

	job := &models.Job{Type: models.JobTypeExtractPages}
	require.NoError(t, jobs.NewService(db).CreateJob(ctx, job))

	ids := []int{}
	for _, path := range []string{"/comics/a.cbz", "/comics/b.cbz"} {
		comic := &models.Comic{Filepath: path}
		require.NoError(t, comics.NewService(db).CreateComic(ctx, comic))
		ids = append(ids, comic.ID)
	}

	return ctx, NewService(db), job, ids
}

func TestJobLogger_Persists(t *testing.T) {
	ctx, svc, job, ids := setup(t)
	jl := svc.NewJobLogger(ctx, job.ID)

	jl.Info("extracting pages", logger.Data{"count": 3})
	jl.Warn("comic has no cover image", logger.Data{"comic_id": ids[0]})
	jl.Error("failed to extract comic", assert.AnError, logger.Data{"comic_id": ids[1]})

	logs, err := svc.ListJobLogs(ctx, ListJobLogsOptions{JobID: job.ID})
	require.NoError(t, err)
	require.Len(t, logs, 3)

	assert.Equal(t, models.JobLogLevelInfo, logs[0].Level)
	assert.Nil(t, logs[0].ComicID)
	require.NotNil(t, logs[0].Data)
	assert.JSONEq(t, `{"count":3}`, *logs[0].Data)

	assert.Equal(t, models.JobLogLevelWarn, logs[1].Level)
	require.NotNil(t, logs[1].ComicID)
	assert.Equal(t, ids[0], *logs[1].ComicID)
	assert.Nil(t, logs[1].Data)

	assert.Equal(t, models.JobLogLevelError, logs[2].Level)
	require.NotNil(t, logs[2].Data)
	assert.JSONEq(t, `{"error":"`+assert.AnError.Error()+`"}`, *logs[2].Data)
}

func TestListJobLogs_Filters(t *testing.T) {
	ctx, svc, job, ids := setup(t)
	jl := svc.NewJobLogger(ctx, job.ID)

	jl.Info("one", nil)
	jl.Warn("two", logger.Data{"comic_id": ids[0]})
	jl.Warn("three", logger.Data{"comic_id": ids[1]})

	warns, err := svc.ListJobLogs(ctx, ListJobLogsOptions{JobID: job.ID, Levels: []string{models.JobLogLevelWarn}})
	require.NoError(t, err)
	require.Len(t, warns, 2)

	forComic, err := svc.ListJobLogs(ctx, ListJobLogsOptions{JobID: job.ID, ComicID: &ids[1]})
	require.NoError(t, err)
	require.Len(t, forComic, 1)
	assert.Equal(t, "three", forComic[0].Message)

	after, err := svc.ListJobLogs(ctx, ListJobLogsOptions{JobID: job.ID, AfterID: &warns[0].ID})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, "three", after[0].Message)
}

func TestTruncateMiddle(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", truncateMiddle("short", 10))

	long := strings.Repeat("a", 20) + strings.Repeat("b", 20)
	got := truncateMiddle(long, 25)
	assert.Equal(t, strings.Repeat("a", 10)+" ... "+strings.Repeat("b", 10), got)
}

func TestCountJobLogsByLevel(t *testing.T) {
	ctx, svc, job, ids := setup(t)
	jl := svc.NewJobLogger(ctx, job.ID)

	jl.Info("one", nil)
	jl.Warn("two", nil)
	jl.Error("three", assert.AnError, logger.Data{"comic_id": ids[0]})
	jl.Error("four", assert.AnError, logger.Data{"comic_id": ids[1]})

	counts, err := svc.CountJobLogsByLevel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		models.JobLogLevelInfo:  1,
		models.JobLogLevelWarn:  1,
		models.JobLogLevelError: 2,
	}, counts)
}
