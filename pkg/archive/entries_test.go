package archive

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsImage(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"001.jpg", "a/B.JPEG", "p.png", "p.webp", "p.bmp", "p.gif", "p.tiff", "p.TIF"} {
		assert.True(t, IsImage(name), name)
	}
	for _, name := range []string{"ComicInfo.xml", "__MACOSX/._001.jpg", ".DS_Store", "dir/.hidden.png", "notes.txt", "cover"} {
		assert.False(t, IsImage(name), name)
	}
}

func TestImageGlobs(t *testing.T) {
	t.Parallel()

	globs := ImageGlobs()
	assert.Contains(t, globs, "*.jpg")
	assert.Contains(t, globs, "*.JPG")
	assert.Contains(t, globs, "*.webp")
	assert.Len(t, globs, 16)
}

func TestSafeJoin(t *testing.T) {
	t.Parallel()

	dest := t.TempDir()

	target, err := safeJoin(dest, "chapter1/001.jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "chapter1", "001.jpg"), target)

	for _, name := range []string{"../evil.jpg", "a/../../evil.jpg", ".."} {
		_, err := safeJoin(dest, name)
		assert.True(t, errors.Is(err, errZipSlip), name)
	}
}
