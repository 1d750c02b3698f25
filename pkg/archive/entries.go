package archive

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
	".bmp":  {},
	".gif":  {},
	".tiff": {},
	".tif":  {},
}

var errZipSlip = errors.New("entry resolves outside destination")

// IsImage reports whether an archive entry is a page image. Hidden files and
// macOS resource forks are never pages.
func IsImage(name string) bool {
	name = strings.ReplaceAll(name, "\\", "/")
	for _, part := range strings.Split(name, "/") {
		if part == "__MACOSX" {
			return false
		}
	}
	base := path.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	_, ok := imageExtensions[strings.ToLower(path.Ext(base))]
	return ok
}

// ImageGlobs returns shell globs matching every image extension in both
// cases, for external tools that accept member filters.
func ImageGlobs() []string {
	globs := make([]string, 0, len(imageExtensions)*2)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".webp", ".bmp", ".gif", ".tiff", ".tif"} {
		globs = append(globs, "*"+ext, "*"+strings.ToUpper(ext))
	}
	return globs
}

func normalizeName(name string) string {
	return strings.TrimPrefix(strings.ReplaceAll(name, "\\", "/"), "./")
}

// safeJoin resolves an entry name under destDir, rejecting names that would
// escape it.
func safeJoin(destDir, name string) (string, error) {
	absDest, err := filepath.Abs(destDir)
	if err != nil {
		return "", errors.WithStack(err)
	}
	target, err := filepath.Abs(filepath.Join(absDest, filepath.FromSlash(name)))
	if err != nil {
		return "", errors.WithStack(err)
	}
	if !strings.HasPrefix(target, absDest+string(os.PathSeparator)) {
		return "", errors.Wrapf(errZipSlip, "entry %q", name)
	}
	return target, nil
}

// writeEntry copies r to name under destDir. Entries larger than limit are
// rejected rather than truncated.
func writeEntry(r io.Reader, destDir, name string, limit int64) (string, error) {
	target, err := safeJoin(destDir, name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", errors.WithStack(err)
	}

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", errors.WithStack(err)
	}
	n, err := io.Copy(out, io.LimitReader(r, limit+1))
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && n > limit {
		err = errors.Errorf("entry %q is larger than %d bytes", name, limit)
	}
	if err != nil {
		_ = os.Remove(target)
		return "", errors.WithStack(err)
	}
	return target, nil
}

// readAll reads r fully, refusing anything larger than limit.
func readAll(r io.Reader, name string, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if int64(len(data)) > limit {
		return nil, errors.Errorf("entry %q is larger than %d bytes", name, limit)
	}
	return data, nil
}
