package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tankobon/tankobon/internal/testgen"
)

func TestDetect(t *testing.T) {
	t.Parallel()

	caps := DefaultCapabilities()
	tests := []struct {
		path     string
		expected Kind
	}{
		{"/comics/a.cbz", KindZip},
		{"/comics/a.ZIP", KindZip},
		{"/comics/a.cbr", KindRar},
		{"/comics/a.rar", KindRar},
		{"/comics/a.cb7", KindSevenZip},
		{"/comics/a.7z", KindSevenZip},
		{"/comics/a.cbt", KindTar},
		{"/comics/a.pdf", KindUnsupported},
		{"/comics/noext", KindUnsupported},
		{"", KindUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, Detect(tt.path, caps))
		})
	}
}

func TestDetect_CapabilityMissing(t *testing.T) {
	t.Parallel()

	caps := DefaultCapabilities()
	caps.SevenZip = false
	caps.RarNative = false

	assert.Equal(t, KindUnsupported, Detect("a.cb7", caps))
	assert.Equal(t, KindUnsupported, Detect("a.cbr", caps))

	caps.RarTools = []ExternalTool{{Name: "unrar", Command: "unrar"}}
	assert.Equal(t, KindRar, Detect("a.cbr", caps))
}

func TestSniff_MagicOverridesExtension(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := testgen.GenerateCBZ(t, dir, "really-a-zip.cbr", testgen.ComicOptions{PageCount: 1})

	kind, err := Sniff(path, DefaultCapabilities())
	require.NoError(t, err)
	assert.Equal(t, KindZip, kind)
}

func TestSniff_RarSignature(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := testgen.GenerateFakeRAR(t, dir, "mislabelled.cbz")

	kind, err := Sniff(path, DefaultCapabilities())
	require.NoError(t, err)
	assert.Equal(t, KindRar, kind)
}

func TestSniff_FallsBackToExtension(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := testgen.WriteFile(t, dir, "odd.cbt", []byte("not a recognizable container"))

	kind, err := Sniff(path, DefaultCapabilities())
	require.NoError(t, err)
	assert.Equal(t, KindTar, kind)
}

func TestSniff_UnknownExtensionIgnoresMagic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := testgen.GenerateCBZ(t, dir, "book.epub", testgen.ComicOptions{PageCount: 1})

	kind, err := Sniff(path, DefaultCapabilities())
	require.NoError(t, err)
	assert.Equal(t, KindUnsupported, kind)
}

func TestSniff_MissingFile(t *testing.T) {
	t.Parallel()

	kind, err := Sniff("/nonexistent/a.cbz", DefaultCapabilities())
	assert.Error(t, err)
	assert.Equal(t, KindZip, kind)
}
