package testgen

import (
	"archive/tar"
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
)

func pageName(n int) string {
	return fmt.Sprintf("%03d.png", n)
}

// Image renders a solid width x height image. Format is "png" (default) or
// "jpeg".
func Image(t *testing.T, width, height int, format string) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	fill := color.RGBA{uint8(width % 256), 100, uint8(height % 256), 255}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, fill)
		}
	}

	var buf bytes.Buffer
	switch format {
	case "jpeg", "jpg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			t.Fatalf("failed to encode JPEG: %v", err)
		}
	default:
		if err := png.Encode(&buf, img); err != nil {
			t.Fatalf("failed to encode PNG: %v", err)
		}
	}
	return buf.Bytes()
}

func pageData(t *testing.T, p Page) []byte {
	t.Helper()
	if p.Data != nil {
		return p.Data
	}
	width, height := p.Width, p.Height
	if width <= 0 {
		width = 100
	}
	if height <= 0 {
		height = 150
	}
	format := p.Format
	if format == "" {
		ext := strings.ToLower(filepath.Ext(p.Name))
		if ext == ".jpg" || ext == ".jpeg" {
			format = "jpeg"
		}
	}
	return Image(t, width, height, format)
}

// GenerateCBZ writes a zip comic into dir and returns its path.
func GenerateCBZ(t *testing.T, dir, filename string, opts ComicOptions) string {
	t.Helper()

	path := filepath.Join(dir, filename)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create CBZ file: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, d := range opts.Dirs {
		if _, err := zw.Create(strings.TrimSuffix(d, "/") + "/"); err != nil {
			t.Fatalf("failed to write dir %s: %v", d, err)
		}
	}
	for _, p := range opts.pages() {
		writeZipFile(t, zw, p.Name, pageData(t, p))
	}
	for name, data := range opts.Extra {
		writeZipFile(t, zw, name, data)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to finish CBZ: %v", err)
	}

	return path
}

func writeZipFile(t *testing.T, zw *zip.Writer, name string, data []byte) {
	t.Helper()
	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("failed to create zip entry %s: %v", name, err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("failed to write zip entry %s: %v", name, err)
	}
}

// GenerateCBT writes a tar comic into dir and returns its path.
func GenerateCBT(t *testing.T, dir, filename string, opts ComicOptions) string {
	t.Helper()

	path := filepath.Join(dir, filename)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create CBT file: %v", err)
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	write := func(name string, data []byte) {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(data)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("failed to write tar header %s: %v", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			t.Fatalf("failed to write tar entry %s: %v", name, err)
		}
	}
	for _, d := range opts.Dirs {
		hdr := &tar.Header{Name: strings.TrimSuffix(d, "/") + "/", Mode: 0755, Typeflag: tar.TypeDir}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("failed to write tar dir %s: %v", d, err)
		}
	}
	for _, p := range opts.pages() {
		write(p.Name, pageData(t, p))
	}
	for name, data := range opts.Extra {
		write(name, data)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("failed to finish CBT: %v", err)
	}

	return path
}

// GenerateCorruptCBZ writes a file with a zip signature and no central
// directory.
func GenerateCorruptCBZ(t *testing.T, dir, filename string) string {
	t.Helper()
	return WriteFile(t, dir, filename, append([]byte("PK\x03\x04"), bytes.Repeat([]byte{0x42}, 512)...))
}

// GenerateFakeRAR writes a file with a RAR signature that no decoder can
// read. Paired with FakeTool it exercises the external extraction path.
func GenerateFakeRAR(t *testing.T, dir, filename string) string {
	t.Helper()
	return WriteFile(t, dir, filename, append([]byte("Rar!\x1a\x07\x00"), bytes.Repeat([]byte{0x17}, 512)...))
}

// StagePages renders pages as loose files under dir, the way an external
// extractor would leave them.
func StagePages(t *testing.T, dir string, pages []Page) {
	t.Helper()
	for _, p := range pages {
		WriteFile(t, dir, p.Name, pageData(t, p))
	}
}
