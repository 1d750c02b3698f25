package extraction

import (
	"context"

	"github.com/robinjoseph08/golib/logger"
	"github.com/tankobon/tankobon/pkg/comics"
)

// BatchResult summarizes EnsurePagesForMany. PagesExtracted only counts
// pages of comics extracted during this batch. Failures maps comic id to the
// error that stopped it. Remaining is the number of comics not attempted
// because the batch was cancelled.
type BatchResult struct {
	Processed      int
	PagesExtracted int
	Errors         int
	Failures       map[int]error
	Cancelled      bool
	Remaining      int
}

// EnsurePagesForMany runs EnsurePages for each comic in order. A failing
// comic is recorded and the batch moves on. Cancellation is checked between
// comics; work already committed is kept.
func (svc *Service) EnsurePagesForMany(ctx context.Context, comicIDs []int) BatchResult {
	log := logger.FromContext(ctx)
	res := BatchResult{Failures: map[int]error{}}
	total := len(comicIDs)

	for i, id := range comicIDs {
		if ctx.Err() != nil {
			res.Cancelled = true
			res.Remaining = total - i
			break
		}

		comic, err := svc.comics.RetrieveComic(ctx, comics.RetrieveComicOptions{ID: &id})
		if err != nil {
			res.Errors++
			res.Failures[id] = err
			log.Err(err).Warn("failed to load comic", logger.Data{"comic_id": id})
			svc.emit(Event{Type: EventBatch, ComicID: id, Done: i + 1, Total: total, Err: err})
			continue
		}

		result, extracted, err := svc.ensurePages(ctx, comic)
		if err != nil {
			if ctx.Err() != nil {
				// The comic was interrupted, not broken.
				res.Cancelled = true
				res.Remaining = total - i
				break
			}
			res.Errors++
			res.Failures[id] = err
			log.Err(err).Warn("failed to extract comic", logger.Data{"comic_id": id, "path": comic.Filepath})
			svc.emit(Event{Type: EventBatch, ComicID: id, Done: i + 1, Total: total, Err: err})
			continue
		}

		res.Processed++
		if extracted {
			res.PagesExtracted += len(result)
		}
		svc.emit(Event{Type: EventBatch, ComicID: id, Done: i + 1, Total: total})
	}

	log.Info("batch finished", logger.Data{
		"processed":       res.Processed,
		"pages_extracted": res.PagesExtracted,
		"errors":          res.Errors,
		"cancelled":       res.Cancelled,
		"remaining":       res.Remaining,
	})
	return res
}
