package pages

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/tankobon/tankobon/pkg/database"
	"github.com/tankobon/tankobon/pkg/errcodes"
	"github.com/tankobon/tankobon/pkg/models"
	"github.com/uptrace/bun"
)

// ErrPagesExist is returned by InsertPages when the comic already has a page
// set, either committed before the call or by a concurrent insert.
var ErrPagesExist = errors.New("comic already has pages")

// CoverNamePatterns are the file names recognized as covers. Matching is
// case-insensitive.
var CoverNamePatterns = []string{"cover.*", "portada.*", "caratula.*"}

type Service struct {
	db         *bun.DB
	maxRetries int
}

// NewService returns a page store whose transactions are retried up to
// maxRetries times while the database is busy.
func NewService(db *bun.DB, maxRetries int) *Service {
	return &Service{db: db, maxRetries: maxRetries}
}

func storeError(err error) error {
	return errors.WithStack(errcodes.StoreError(err))
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (svc *Service) CountPages(ctx context.Context, comicID int) (int, error) {
	count, err := svc.db.NewSelect().
		Model((*models.Page)(nil)).
		Where("p.comic_id = ?", comicID).
		Count(ctx)
	if err != nil {
		return 0, storeError(err)
	}
	return count, nil
}

// ListPages returns a comic's pages in reading order.
func (svc *Service) ListPages(ctx context.Context, comicID int) ([]*models.Page, error) {
	pages := []*models.Page{}
	err := svc.db.NewSelect().
		Model(&pages).
		Where("p.comic_id = ?", comicID).
		Order("p.sort_order ASC").
		Scan(ctx)
	if err != nil {
		return nil, storeError(err)
	}
	return pages, nil
}

func (svc *Service) RetrievePage(ctx context.Context, pageID int) (*models.Page, error) {
	page := &models.Page{}
	err := svc.db.NewSelect().
		Model(page).
		Where("p.id = ?", pageID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Page")
		}
		return nil, storeError(err)
	}
	return page, nil
}

// InsertPages stores a comic's full page set in one transaction. The row
// count is re-checked inside the transaction; if any rows exist nothing is
// written and ErrPagesExist is returned.
func (svc *Service) InsertPages(ctx context.Context, comicID int, pages []*models.Page) error {
	if len(pages) == 0 {
		return nil
	}

	now := time.Now()
	for _, p := range pages {
		p.ComicID = comicID
		p.CreatedAt = now
		p.UpdatedAt = now
	}

	err := database.RunInTx(ctx, svc.db, svc.maxRetries, func(ctx context.Context, tx bun.Tx) error {
		count, err := tx.NewSelect().
			Model((*models.Page)(nil)).
			Where("p.comic_id = ?", comicID).
			Count(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if count > 0 {
			return ErrPagesExist
		}

		_, err = tx.NewInsert().
			Model(&pages).
			Returning("*").
			Exec(ctx)
		return errors.WithStack(err)
	})
	if errors.Is(err, ErrPagesExist) || isUniqueViolation(err) {
		for _, p := range pages {
			p.ID = 0
		}
		return ErrPagesExist
	}
	if err != nil {
		return storeError(err)
	}
	return nil
}

// FindCoverPage returns the comic's COVER page, or nil if none is marked.
// When several are marked the earliest wins.
func (svc *Service) FindCoverPage(ctx context.Context, comicID int) (*models.Page, error) {
	return svc.findOne(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("p.comic_id = ?", comicID).
			Where("p.kind = ?", models.PageKindCover)
	})
}

// FindPageByNamePattern returns the earliest page whose stored name matches
// any of the glob patterns (only * and ? are special), or nil.
func (svc *Service) FindPageByNamePattern(ctx context.Context, comicID int, patterns []string) (*models.Page, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	return svc.findOne(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("p.comic_id = ?", comicID).
			Where("p.name IS NOT NULL").
			WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
				for _, pattern := range patterns {
					sq = sq.WhereOr(`lower(p.name) LIKE ? ESCAPE '\'`, globToLike(pattern))
				}
				return sq
			})
	})
}

// FindMinOrderPage returns the first page in reading order, or nil when the
// comic has no pages.
func (svc *Service) FindMinOrderPage(ctx context.Context, comicID int) (*models.Page, error) {
	return svc.findOne(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("p.comic_id = ?", comicID)
	})
}

func (svc *Service) findOne(ctx context.Context, where func(*bun.SelectQuery) *bun.SelectQuery) (*models.Page, error) {
	page := &models.Page{}
	q := svc.db.NewSelect().Model(page)
	err := where(q).
		Order("p.sort_order ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeError(err)
	}
	return page, nil
}

func (svc *Service) UpdatePageKind(ctx context.Context, pageID int, kind string) error {
	if kind != models.PageKindCover && kind != models.PageKindInternal {
		return errcodes.ValidationError("Invalid page kind: " + kind)
	}

	res, err := svc.db.NewUpdate().
		Model((*models.Page)(nil)).
		Set("kind = ?", kind).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", pageID).
		Exec(ctx)
	if err != nil {
		return storeError(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errcodes.NotFound("Page")
	}
	return nil
}

func (svc *Service) ClearCoverFlags(ctx context.Context, comicID int) error {
	return storeErrorOrNil(clearCoverFlags(ctx, svc.db, comicID))
}

// SetCover makes pageID the comic's only COVER page. Both steps run in one
// transaction, so on failure the previous cover is kept.
func (svc *Service) SetCover(ctx context.Context, comicID, pageID int) error {
	err := database.RunInTx(ctx, svc.db, svc.maxRetries, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().
			Model((*models.Page)(nil)).
			Where("p.id = ?", pageID).
			Where("p.comic_id = ?", comicID).
			Exists(ctx)
		if err != nil {
			return errors.WithStack(err)
		}
		if !exists {
			return errcodes.NotFound("Page")
		}

		if err := clearCoverFlags(ctx, tx, comicID); err != nil {
			return err
		}

		_, err = tx.NewUpdate().
			Model((*models.Page)(nil)).
			Set("kind = ?", models.PageKindCover).
			Set("updated_at = ?", time.Now()).
			Where("id = ?", pageID).
			Exec(ctx)
		return errors.WithStack(err)
	})
	if errcodes.Is(err, errcodes.CodeNotFound) {
		return err
	}
	return storeErrorOrNil(err)
}

// SetInternal demotes a single page.
func (svc *Service) SetInternal(ctx context.Context, pageID int) error {
	return svc.UpdatePageKind(ctx, pageID, models.PageKindInternal)
}

// DeletePagesForComic removes the comic's whole page set.
func (svc *Service) DeletePagesForComic(ctx context.Context, comicID int) (int, error) {
	res, err := svc.db.NewDelete().
		Model((*models.Page)(nil)).
		Where("comic_id = ?", comicID).
		Exec(ctx)
	if err != nil {
		return 0, storeError(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func clearCoverFlags(ctx context.Context, db bun.IDB, comicID int) error {
	_, err := db.NewUpdate().
		Model((*models.Page)(nil)).
		Set("kind = ?", models.PageKindInternal).
		Set("updated_at = ?", time.Now()).
		Where("comic_id = ?", comicID).
		Where("kind = ?", models.PageKindCover).
		Exec(ctx)
	return errors.WithStack(err)
}

func storeErrorOrNil(err error) error {
	if err == nil {
		return nil
	}
	return storeError(err)
}

// globToLike turns a file glob into a lower-cased LIKE pattern escaped with
// a backslash.
func globToLike(glob string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(glob) {
		switch r {
		case '*':
			b.WriteRune('%')
		case '?':
			b.WriteRune('_')
		case '%', '_', '\\':
			b.WriteRune('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
