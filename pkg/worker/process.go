package worker

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tankobon/tankobon/pkg/comics"
	"github.com/tankobon/tankobon/pkg/extraction"
	"github.com/tankobon/tankobon/pkg/joblogs"
	"github.com/tankobon/tankobon/pkg/jobs"
	"github.com/tankobon/tankobon/pkg/models"
)

// ProcessExtractPagesJob extracts the page sets of the job's comics. Comics
// that fail are counted in the job's error summary; they don't fail the job.
func (w *Worker) ProcessExtractPagesJob(ctx context.Context, job *models.Job, jl *joblogs.JobLogger) error {
	data, ok := job.DataParsed.(*models.JobExtractPagesData)
	if !ok {
		return errors.Errorf("unexpected data for %s job", job.Type)
	}
	ids, err := w.comicIDs(ctx, data.ComicIDs)
	if err != nil {
		return err
	}
	if err := w.startProgress(ctx, job, len(ids)); err != nil {
		return err
	}

	jl.Info("extracting pages", logger.Data{"count": len(ids)})

	svc := w.extractionService.WithObserver(func(e extraction.Event) {
		switch e.Type {
		case extraction.EventBatch:
			w.reportProgress(ctx, job, e.Done)
		case extraction.EventStale:
			jl.Info("archive changed, extracting again", logger.Data{"comic_id": e.ComicID})
		case extraction.EventFailed:
			if ctx.Err() == nil {
				jl.Error("failed to extract comic", e.Err, logger.Data{"comic_id": e.ComicID})
			}
		}
	})
	res := svc.EnsurePagesForMany(ctx, ids)
	if res.Cancelled {
		jl.Warn("interrupted by shutdown", logger.Data{"remaining": res.Remaining})
		return errJobInterrupted
	}

	job.Error = failureSummary(res.Errors, len(ids), res.Failures)
	jl.Info("finished extracting pages", logger.Data{
		"processed":       res.Processed,
		"pages_extracted": res.PagesExtracted,
		"errors":          res.Errors,
	})
	return nil
}

// ProcessResolveCoversJob regenerates the cover thumbnails of the job's
// comics.
func (w *Worker) ProcessResolveCoversJob(ctx context.Context, job *models.Job, jl *joblogs.JobLogger) error {
	data, ok := job.DataParsed.(*models.JobResolveCoversData)
	if !ok {
		return errors.Errorf("unexpected data for %s job", job.Type)
	}
	ids, err := w.comicIDs(ctx, data.ComicIDs)
	if err != nil {
		return err
	}
	if err := w.startProgress(ctx, job, len(ids)); err != nil {
		return err
	}

	jl.Info("resolving covers", logger.Data{"count": len(ids)})

	failures := map[int]error{}
	for i, id := range ids {
		if ctx.Err() != nil {
			return errJobInterrupted
		}

		comic, err := w.comicService.RetrieveComic(ctx, comics.RetrieveComicOptions{ID: &id})
		if err == nil {
			var path string
			path, err = w.coverResolver.GenerateComicThumbnail(ctx, comic)
			if err == nil && path == "" {
				jl.Warn("comic has no cover image", logger.Data{"comic_id": id})
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return errJobInterrupted
			}
			failures[id] = err
			jl.Error("failed to resolve cover", err, logger.Data{"comic_id": id})
		}

		w.reportProgress(ctx, job, i+1)
	}

	job.Error = failureSummary(len(failures), len(ids), failures)
	jl.Info("finished resolving covers", logger.Data{"count": len(ids), "errors": len(failures)})
	return nil
}

// comicIDs returns ids, or every comic id when ids is empty.
func (w *Worker) comicIDs(ctx context.Context, ids []int) ([]int, error) {
	if len(ids) > 0 {
		return ids, nil
	}
	return w.comicService.ListComicIDs(ctx)
}

func (w *Worker) startProgress(ctx context.Context, job *models.Job, total int) error {
	job.Progress = 0
	job.Total = total
	return w.jobService.UpdateJob(ctx, job, jobs.UpdateJobOptions{
		Columns: []string{"progress", "total"},
	})
}

func (w *Worker) reportProgress(ctx context.Context, job *models.Job, done int) {
	job.Progress = done
	err := w.jobService.UpdateJob(ctx, job, jobs.UpdateJobOptions{
		Columns: []string{"progress"},
	})
	if err != nil && ctx.Err() == nil {
		logger.FromContext(ctx).Err(err).Warn("update job progress error")
	}
}

func failureSummary(failed, total int, failures map[int]error) *string {
	if failed == 0 {
		return nil
	}
	msg := fmt.Sprintf("%d of %d comics failed", failed, total)
	first := -1
	for id := range failures {
		if first == -1 || id < first {
			first = id
		}
	}
	if first != -1 {
		msg += fmt.Sprintf("; comic %d: %s", first, failures[first].Error())
	}
	return &msg
}
