package thumbnail

import (
	"bytes"
	"image"
	"image/jpeg"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tankobon/tankobon/internal/testgen"
	"github.com/tankobon/tankobon/pkg/errcodes"
)

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestEncode_ScalesWideImages(t *testing.T) {
	t.Parallel()

	enc := New(280, 85)
	out, err := enc.Encode(testgen.Image(t, 1000, 1500, "png"))
	require.NoError(t, err)

	b := decode(t, out).Bounds()
	assert.Equal(t, 280, b.Dx())
	assert.InDelta(t, 420, b.Dy(), 1)
}

func TestEncode_OddAspectRatio(t *testing.T) {
	t.Parallel()

	enc := New(280, 85)
	out, err := enc.Encode(testgen.Image(t, 997, 1403, "jpeg"))
	require.NoError(t, err)

	b := decode(t, out).Bounds()
	assert.Equal(t, 280, b.Dx())
	assert.InDelta(t, 280.0*1403/997, b.Dy(), 1)
}

func TestEncode_NoUpscale(t *testing.T) {
	t.Parallel()

	enc := New(280, 85)
	for _, size := range [][2]int{{200, 300}, {280, 100}} {
		out, err := enc.Encode(testgen.Image(t, size[0], size[1], "png"))
		require.NoError(t, err)

		b := decode(t, out).Bounds()
		assert.Equal(t, size[0], b.Dx())
		assert.Equal(t, size[1], b.Dy())
	}
}

func TestEncode_Corrupt(t *testing.T) {
	t.Parallel()

	_, err := New(280, 85).Encode([]byte("definitely not an image"))
	require.Error(t, err)
	assert.True(t, errcodes.Is(err, errcodes.CodeThumbnailEncodeFailed))

	_, err = New(280, 85).EncodeFile("/nonexistent/page.png")
	assert.True(t, errcodes.Is(err, errcodes.CodeThumbnailEncodeFailed))
}

func TestWriteFile_CreatesParents(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "comic_pages", "7", "page_001.jpg")
	err := New(280, 85).WriteFile(testgen.Image(t, 600, 900, "png"), dest)
	require.NoError(t, err)

	data := testgen.ReadFile(t, dest)
	assert.Equal(t, 280, decode(t, data).Bounds().Dx())

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(dest), ".thumb-*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestWriteFromPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := testgen.WriteFile(t, dir, "page.jpg", testgen.Image(t, 300, 300, "jpeg"))
	dest := filepath.Join(dir, "out", "thumb.jpg")

	require.NoError(t, New(280, 85).WriteFromPath(src, dest))
	assert.FileExists(t, dest)

	err := New(280, 85).WriteFromPath(testgen.WriteFile(t, dir, "bad.png", []byte("x")), filepath.Join(dir, "bad.jpg"))
	assert.True(t, errcodes.Is(err, errcodes.CodeThumbnailEncodeFailed))
	assert.NoFileExists(t, filepath.Join(dir, "bad.jpg"))
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	enc := New(0, 0)
	assert.Equal(t, DefaultMaxWidth, enc.MaxWidth)
	assert.Equal(t, DefaultQuality, enc.Quality)
}

func TestPlaceholder(t *testing.T) {
	t.Parallel()

	data, err := Placeholder(280, 420)
	require.NoError(t, err)
	b := decode(t, data).Bounds()
	assert.Equal(t, 280, b.Dx())
	assert.Equal(t, 420, b.Dy())

	_, err = Placeholder(0, 10)
	assert.Error(t, err)
}
