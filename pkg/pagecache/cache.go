// Package pagecache lays out generated thumbnails on disk. Every file it
// manages can be deleted at any time and regenerated from the archive.
package pagecache

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"github.com/tankobon/tankobon/pkg/thumbnail"
)

type EntityKind string

const (
	EntityComics        EntityKind = "comics"
	EntityVolumes       EntityKind = "volumes"
	EntityPublishers    EntityKind = "publishers"
	EntityComicbookInfo EntityKind = "comicbook_info"
)

const (
	placeholderWidth  = thumbnail.DefaultMaxWidth
	placeholderHeight = thumbnail.DefaultMaxWidth * 3 / 2
)

// Cache manages thumbnail files under a root directory.
type Cache struct {
	dir string
}

// New creates a new Cache with the given directory.
func New(dir string) *Cache {
	return &Cache{dir: dir}
}

func (c *Cache) Root() string {
	return c.dir
}

// PageDir returns the directory holding a comic's page thumbnails.
func (c *Cache) PageDir(comicID int) string {
	return filepath.Join(c.dir, "comic_pages", strconv.Itoa(comicID))
}

// PagePath returns the thumbnail path for a 1-based page order.
func (c *Cache) PagePath(comicID, order int) string {
	return filepath.Join(c.PageDir(comicID), fmt.Sprintf("page_%03d.jpg", order))
}

// EntityPath returns the thumbnail path for a non-page entity.
func (c *Cache) EntityPath(kind EntityKind, id int) (string, error) {
	switch kind {
	case EntityComics, EntityVolumes, EntityPublishers, EntityComicbookInfo:
	default:
		return "", errors.Errorf("unknown thumbnail entity kind %q", kind)
	}
	return filepath.Join(c.dir, string(kind), strconv.Itoa(id)+".jpg"), nil
}

// LockPath is the file used to serialize extraction of a comic across
// processes. It lives outside PageDir so invalidating the pages doesn't
// remove a held lock.
func (c *Cache) LockPath(comicID int) string {
	return filepath.Join(c.dir, "locks", "comic_"+strconv.Itoa(comicID)+".lock")
}

// Exists reports whether a generated file is present.
func (c *Cache) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// MissingPages returns the orders in 1..pageCount without a thumbnail.
func (c *Cache) MissingPages(comicID, pageCount int) []int {
	var missing []int
	for order := 1; order <= pageCount; order++ {
		if !c.Exists(c.PagePath(comicID, order)) {
			missing = append(missing, order)
		}
	}
	return missing
}

// ReadPage returns the page thumbnail, or the neutral placeholder when it
// hasn't been generated. The bool reports whether the real thumbnail was
// found.
func (c *Cache) ReadPage(comicID, order int) ([]byte, bool, error) {
	data, err := os.ReadFile(c.PagePath(comicID, order))
	if err == nil {
		return data, true, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, errors.WithStack(err)
	}
	data, err = thumbnail.Placeholder(placeholderWidth, placeholderHeight)
	if err != nil {
		return nil, false, err
	}
	return data, false, nil
}

// Invalidate removes all cached page thumbnails for a comic.
func (c *Cache) Invalidate(comicID int) error {
	return errors.WithStack(os.RemoveAll(c.PageDir(comicID)))
}

// InvalidateEntity removes a single entity thumbnail.
func (c *Cache) InvalidateEntity(kind EntityKind, id int) error {
	path, err := c.EntityPath(kind, id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}
	return nil
}
