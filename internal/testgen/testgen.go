// Package testgen generates comic archives, page images and fake extractor
// tools for tests.
package testgen

import (
	"os"
	"path/filepath"
	"testing"
)

// Page is one image written into a generated archive. Data, when set, is
// written verbatim instead of a rendered image.
type Page struct {
	Name   string
	Width  int // defaults to 100
	Height int // defaults to 150
	Format string
	Data   []byte
}

// ComicOptions configures a generated archive.
type ComicOptions struct {
	Pages     []Page
	PageCount int               // used when Pages is empty, defaults to 3
	Extra     map[string][]byte // non-page members, e.g. ComicInfo.xml
	Dirs      []string          // explicit directory members
}

func (opts ComicOptions) pages() []Page {
	if len(opts.Pages) > 0 {
		return opts.Pages
	}
	count := opts.PageCount
	if count <= 0 {
		count = 3
	}
	pages := make([]Page, count)
	for i := range pages {
		pages[i] = Page{Name: pageName(i + 1)}
	}
	return pages
}

// TempDir creates a temporary directory for testing and registers cleanup.
func TempDir(t *testing.T, pattern string) string {
	t.Helper()
	dir, err := os.MkdirTemp("", pattern)
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() {
		os.RemoveAll(dir)
	})
	return dir
}

// WriteFile creates a file with the given content in the specified directory.
// Returns the full path to the created file.
func WriteFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create parent of %s: %v", path, err)
	}
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
	return path
}

// FileExists checks if a file exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ReadFile reads and returns the contents of a file.
func ReadFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file %s: %v", path, err)
	}
	return data
}
