// Package thumbnail renders JPEG thumbnails of page images.
package thumbnail

import (
	"bytes"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/tankobon/tankobon/pkg/errcodes"

	// Page formats beyond the stdlib decoders.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxWidth = 280
	DefaultQuality  = 85
)

var background = color.White

// Encoder scales images down to MaxWidth and encodes them as JPEG.
type Encoder struct {
	MaxWidth int
	Quality  int
}

func New(maxWidth, quality int) *Encoder {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Encoder{MaxWidth: maxWidth, Quality: quality}
}

// Encode decodes src and returns the JPEG thumbnail. Images no wider than
// MaxWidth keep their size; wider ones are scaled to exactly MaxWidth.
func (e *Encoder) Encode(src []byte) ([]byte, error) {
	return e.encode(bytes.NewReader(src))
}

func (e *Encoder) EncodeFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errcodes.ThumbnailEncodeFailed(err)
	}
	defer f.Close()
	return e.encode(f)
}

// WriteFile encodes src and writes the thumbnail to dest, creating parent
// directories. dest is replaced atomically.
func (e *Encoder) WriteFile(src []byte, dest string) error {
	data, err := e.Encode(src)
	if err != nil {
		return err
	}
	return writeAtomic(dest, data)
}

func (e *Encoder) WriteFromPath(srcPath, dest string) error {
	data, err := e.EncodeFile(srcPath)
	if err != nil {
		return err
	}
	return writeAtomic(dest, data)
}

func (e *Encoder) encode(r io.Reader) ([]byte, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errcodes.ThumbnailEncodeFailed(err)
	}

	if img.Bounds().Dx() > e.MaxWidth {
		img = imaging.Resize(img, e.MaxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	err = imaging.Encode(&buf, flatten(img), imaging.JPEG, imaging.JPEGQuality(e.Quality))
	if err != nil {
		return nil, errcodes.ThumbnailEncodeFailed(err)
	}
	return buf.Bytes(), nil
}

// flatten composites transparent pages onto white; JPEG has no alpha and
// would otherwise render transparent areas black.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), background)
	return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
}

// Placeholder renders the neutral image shown for a page whose thumbnail is
// missing or couldn't be generated.
func Placeholder(width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid placeholder size %dx%d", width, height)
	}

	img := imaging.New(width, height, color.NRGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff})
	inner := imaging.New(width*2/3, height*2/3, color.NRGBA{R: 0xc4, G: 0xc4, B: 0xc4, A: 0xff})
	img = imaging.PasteCenter(img, inner)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(DefaultQuality)); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}

func writeAtomic(dest string, data []byte) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.WithStack(err)
	}

	tmp, err := os.CreateTemp(dir, ".thumb-*.jpg")
	if err != nil {
		return errors.WithStack(err)
	}
	tmpPath := tmp.Name()

	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpPath, dest)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return errors.WithStack(err)
	}
	return nil
}
