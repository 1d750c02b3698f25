package comics

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/tankobon/tankobon/pkg/errcodes"
	"github.com/tankobon/tankobon/pkg/models"
	"github.com/uptrace/bun"
)

type RetrieveComicOptions struct {
	ID       *int
	Filepath *string
}

type ListComicsOptions struct {
	Limit  *int
	Offset *int
	IDs    []int
}

type UpdateComicOptions struct {
	Columns []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

// Fingerprint is the size and modification time of an archive on disk.
type Fingerprint struct {
	Size       int64
	ModifiedAt time.Time
}

func Stat(path string) (Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Fingerprint{}, errors.WithStack(err)
	}
	if info.IsDir() {
		return Fingerprint{}, errcodes.ValidationError("Comic path is a directory: " + path)
	}
	return Fingerprint{Size: info.Size(), ModifiedAt: info.ModTime().UTC().Truncate(time.Second)}, nil
}

// Matches reports whether the comic's stored fingerprint equals fp.
func Matches(comic *models.Comic, fp Fingerprint) bool {
	if comic.FileModifiedAt == nil {
		return false
	}
	return comic.FilesizeBytes == fp.Size && comic.FileModifiedAt.UTC().Equal(fp.ModifiedAt)
}

func (svc *Service) CreateComic(ctx context.Context, comic *models.Comic) error {
	now := time.Now()
	if comic.CreatedAt.IsZero() {
		comic.CreatedAt = now
	}
	comic.UpdatedAt = comic.CreatedAt

	_, err := svc.db.
		NewInsert().
		Model(comic).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// RegisterComic returns the comic stored for path, creating it from the file
// on disk when it isn't known yet. Relative paths are made absolute.
func (svc *Service) RegisterComic(ctx context.Context, path string) (*models.Comic, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	existing, err := svc.RetrieveComic(ctx, RetrieveComicOptions{Filepath: &abs})
	if err == nil {
		return existing, nil
	}
	if !errcodes.Is(err, errcodes.CodeNotFound) {
		return nil, err
	}

	fp, err := Stat(abs)
	if err != nil {
		return nil, err
	}
	comic := &models.Comic{
		Filepath:       abs,
		FilesizeBytes:  fp.Size,
		FileModifiedAt: &fp.ModifiedAt,
	}
	if err := svc.CreateComic(ctx, comic); err != nil {
		return nil, err
	}
	return comic, nil
}

func (svc *Service) RetrieveComic(ctx context.Context, opts RetrieveComicOptions) (*models.Comic, error) {
	comic := &models.Comic{}

	q := svc.db.
		NewSelect().
		Model(comic)

	if opts.ID != nil {
		q = q.Where("c.id = ?", *opts.ID)
	}
	if opts.Filepath != nil {
		q = q.Where("c.filepath = ?", *opts.Filepath)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Comic")
		}
		return nil, errors.WithStack(err)
	}

	return comic, nil
}

func (svc *Service) ListComics(ctx context.Context, opts ListComicsOptions) ([]*models.Comic, error) {
	comics := []*models.Comic{}

	q := svc.db.
		NewSelect().
		Model(&comics).
		Order("c.id ASC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if len(opts.IDs) > 0 {
		q = q.Where("c.id IN (?)", bun.In(opts.IDs))
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return comics, nil
}

// ListComicIDs returns every comic id in ascending order.
func (svc *Service) ListComicIDs(ctx context.Context) ([]int, error) {
	var ids []int
	err := svc.db.
		NewSelect().
		Model((*models.Comic)(nil)).
		Column("c.id").
		Order("c.id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return ids, nil
}

func (svc *Service) UpdateComic(ctx context.Context, comic *models.Comic, opts UpdateComicOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	// Update updated_at.
	now := time.Now()
	comic.UpdatedAt = now
	columns := append(opts.Columns, "updated_at")

	res, err := svc.db.
		NewUpdate().
		Model(comic).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errcodes.NotFound("Comic")
	}

	return nil
}

// RefreshFingerprint stores the archive's current size and modification
// time.
func (svc *Service) RefreshFingerprint(ctx context.Context, comic *models.Comic, fp Fingerprint) error {
	comic.FilesizeBytes = fp.Size
	comic.FileModifiedAt = &fp.ModifiedAt
	return svc.UpdateComic(ctx, comic, UpdateComicOptions{Columns: []string{"filesize_bytes", "file_modified_at"}})
}

// DeleteComic removes the comic; its pages go with it.
func (svc *Service) DeleteComic(ctx context.Context, id int) error {
	res, err := svc.db.
		NewDelete().
		Model((*models.Comic)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errcodes.NotFound("Comic")
	}
	return nil
}
