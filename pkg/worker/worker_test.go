package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tankobon/tankobon/internal/testgen"
	"github.com/tankobon/tankobon/pkg/joblogs"
	"github.com/tankobon/tankobon/pkg/models"
	"github.com/tankobon/tankobon/pkg/pagecache"
)

func TestRunJob_ExtractPages(t *testing.T) {
	tc := newTestContext(t)

	a := tc.createComic("a.cbz", 3)
	b := tc.createComic("b.cbz", 2)
	job := tc.createJob(models.JobTypeExtractPages, &models.JobExtractPagesData{ComicIDs: []int{a.ID, b.ID}})

	tc.worker.runJob(job)

	got := tc.retrieveJob(job.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Total)
	assert.Equal(t, 2, got.Progress)
	assert.Nil(t, got.Error)
	require.NotNil(t, got.ProcessID)
	assert.Equal(t, processID, *got.ProcessID)

	assert.Equal(t, 3, tc.countPages(a.ID))
	assert.Equal(t, 2, tc.countPages(b.ID))
}

func TestRunJob_ExtractPagesAllComics(t *testing.T) {
	tc := newTestContext(t)

	a := tc.createComic("a.cbz", 1)
	b := tc.createComic("b.cbz", 4)
	job := tc.createJob(models.JobTypeExtractPages, &models.JobExtractPagesData{})

	tc.worker.runJob(job)

	got := tc.retrieveJob(job.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Total)
	assert.Equal(t, 1, tc.countPages(a.ID))
	assert.Equal(t, 4, tc.countPages(b.ID))
}

func TestRunJob_ExtractPagesRecordsFailures(t *testing.T) {
	tc := newTestContext(t)

	good := tc.createComic("good.cbz", 2)
	broken, err := tc.comicService.RegisterComic(tc.ctx, testgen.GenerateCorruptCBZ(t, tc.dir, "broken.cbz"))
	require.NoError(t, err)
	job := tc.createJob(models.JobTypeExtractPages, &models.JobExtractPagesData{ComicIDs: []int{good.ID, broken.ID}})

	tc.worker.runJob(job)

	got := tc.retrieveJob(job.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Progress)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "1 of 2 comics failed")
	assert.Equal(t, 2, tc.countPages(good.ID))

	logs, err := tc.jobLogService.ListJobLogs(tc.ctx, joblogs.ListJobLogsOptions{
		JobID:  job.ID,
		Levels: []string{models.JobLogLevelError},
	})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.NotNil(t, logs[0].ComicID)
	assert.Equal(t, broken.ID, *logs[0].ComicID)
	assert.Equal(t, "failed to extract comic", logs[0].Message)
}

func TestRunJob_ResolveCovers(t *testing.T) {
	tc := newTestContext(t)

	comic := tc.createComic("a.cbz", 2)
	job := tc.createJob(models.JobTypeResolveCovers, &models.JobResolveCoversData{ComicIDs: []int{comic.ID, 9999}})

	tc.worker.runJob(job)

	got := tc.retrieveJob(job.ID)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.Equal(t, 2, got.Progress)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "comic 9999")

	path, err := tc.cache.EntityPath(pagecache.EntityComics, comic.ID)
	require.NoError(t, err)
	assert.True(t, testgen.FileExists(path))
}

func TestRunJob_UnknownType(t *testing.T) {
	tc := newTestContext(t)

	job := &models.Job{Type: "scan", Status: models.JobStatusPending, Data: "{}"}
	require.NoError(t, tc.jobService.CreateJob(tc.ctx, job))

	tc.worker.runJob(job)

	// RetrieveJob can't unmarshal the data of an unknown type.
	var status string
	require.NoError(t, tc.db.NewSelect().Model((*models.Job)(nil)).Column("status").Where("id = ?", job.ID).Scan(tc.ctx, &status))
	assert.Equal(t, models.JobStatusFailed, status)
}

func TestRunJob_InterruptedStaysInProgress(t *testing.T) {
	tc := newTestContext(t)

	comic := tc.createComic("a.cbz", 2)
	job := tc.createJob(models.JobTypeExtractPages, &models.JobExtractPagesData{ComicIDs: []int{comic.ID}})

	tc.worker.cancel()
	tc.worker.runJob(job)

	// Neither completed nor failed, so the next process picks it up again.
	got := tc.retrieveJob(job.ID)
	assert.NotEqual(t, models.JobStatusCompleted, got.Status)
	assert.NotEqual(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 0, tc.countPages(comic.ID))
}

func TestWorker_StartAndShutdown(t *testing.T) {
	tc := newTestContext(t)

	comic := tc.createComic("a.cbz", 3)
	job := tc.createJob(models.JobTypeExtractPages, &models.JobExtractPagesData{ComicIDs: []int{comic.ID}})

	tc.worker.Start()

	require.Eventually(t, func() bool {
		return tc.retrieveJob(job.ID).Status == models.JobStatusCompleted
	}, 10*time.Second, 20*time.Millisecond)

	done := make(chan struct{})
	go func() {
		tc.worker.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("worker didn't shut down")
	}

	assert.Equal(t, 3, tc.countPages(comic.ID))
}

func TestWorker_SkipsJobHeldByLiveProcess(t *testing.T) {
	tc := newTestContext(t)
	tc.cfg.JobLeaseTimeout = time.Minute

	comic := tc.createComic("a.cbz", 2)
	job := tc.createJob(models.JobTypeExtractPages, &models.JobExtractPagesData{ComicIDs: []int{comic.ID}})
	claimed, err := tc.jobService.ClaimJob(tc.ctx, job, "other-process", time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	tc.worker.Start()
	t.Cleanup(tc.worker.Shutdown)

	// Several polls go by while the other process holds a fresh lease.
	time.Sleep(10 * tc.cfg.JobPollInterval)
	got := tc.retrieveJob(job.ID)
	assert.Equal(t, models.JobStatusInProgress, got.Status)
	require.NotNil(t, got.ProcessID)
	assert.Equal(t, "other-process", *got.ProcessID)
	assert.Equal(t, 0, tc.countPages(comic.ID))

	// The other process went away without finishing.
	_, err = tc.db.NewUpdate().
		Model((*models.Job)(nil)).
		Set("updated_at = ?", time.Now().Add(-time.Hour)).
		Where("id = ?", job.ID).
		Exec(tc.ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return tc.retrieveJob(job.ID).Status == models.JobStatusCompleted
	}, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, processID, *tc.retrieveJob(job.ID).ProcessID)
	assert.Equal(t, 2, tc.countPages(comic.ID))
}

func TestWorker_RenewLease(t *testing.T) {
	tc := newTestContext(t)
	tc.cfg.JobLeaseTimeout = 60 * time.Millisecond

	job := tc.createJob(models.JobTypeResolveCovers, &models.JobResolveCoversData{})
	claimed, err := tc.jobService.ClaimJob(tc.ctx, job, processID, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	stale := time.Now().Add(-time.Hour)
	_, err = tc.db.NewUpdate().
		Model((*models.Job)(nil)).
		Set("updated_at = ?", stale).
		Where("id = ?", job.ID).
		Exec(tc.ctx)
	require.NoError(t, err)

	stop := tc.worker.renewLease(tc.ctx, job)
	require.Eventually(t, func() bool {
		return tc.retrieveJob(job.ID).UpdatedAt.After(stale.Add(time.Minute))
	}, 5*time.Second, 10*time.Millisecond)
	stop()
}

func TestFailureSummary(t *testing.T) {
	t.Parallel()

	assert.Nil(t, failureSummary(0, 3, nil))

	msg := failureSummary(2, 5, map[int]error{
		7: assert.AnError,
		3: assert.AnError,
	})
	require.NotNil(t, msg)
	assert.Equal(t, "2 of 5 comics failed; comic 3: "+assert.AnError.Error(), *msg)
}
