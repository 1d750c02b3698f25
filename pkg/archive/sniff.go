package archive

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
)

type Kind string

const (
	KindZip         Kind = "zip"
	KindRar         Kind = "rar"
	KindSevenZip    Kind = "sevenzip"
	KindTar         Kind = "tar"
	KindUnsupported Kind = "unsupported"
)

var extensionKinds = map[string]Kind{
	".cbz": KindZip,
	".zip": KindZip,
	".cbr": KindRar,
	".rar": KindRar,
	".cb7": KindSevenZip,
	".7z":  KindSevenZip,
	".cbt": KindTar,
	".tar": KindTar,
}

var mimeKinds = []struct {
	mime string
	kind Kind
}{
	{"application/zip", KindZip},
	{"application/x-rar-compressed", KindRar},
	{"application/x-7z-compressed", KindSevenZip},
	{"application/x-tar", KindTar},
}

// Capabilities lists which backends this runtime can use.
type Capabilities struct {
	Zip       bool
	RarNative bool
	SevenZip  bool
	Tar       bool
	RarTools  []ExternalTool
}

// DefaultCapabilities enables every in-process backend and no external tools.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		Zip:       true,
		RarNative: true,
		SevenZip:  true,
		Tar:       true,
	}
}

// Supports reports whether kind can be read. RAR is readable when either the
// native decoder is enabled or at least one external tool is configured.
func (c Capabilities) Supports(kind Kind) bool {
	switch kind {
	case KindZip:
		return c.Zip
	case KindRar:
		return c.RarNative || len(c.RarTools) > 0
	case KindSevenZip:
		return c.SevenZip
	case KindTar:
		return c.Tar
	default:
		return false
	}
}

// Detect maps the file extension to a container kind, or KindUnsupported
// when the extension is unknown or its backend isn't available.
func Detect(path string, caps Capabilities) Kind {
	kind, ok := extensionKinds[strings.ToLower(filepath.Ext(path))]
	if !ok || !caps.Supports(kind) {
		return KindUnsupported
	}
	return kind
}

// Sniff is Detect corrected by the file's magic bytes. Mislabelled archives
// (a .cbr that is really a zip) are common, so a recognized container
// signature takes precedence over the extension. The extension still has to
// be a comic archive extension.
func Sniff(path string, caps Capabilities) (Kind, error) {
	if _, ok := extensionKinds[strings.ToLower(filepath.Ext(path))]; !ok {
		return KindUnsupported, nil
	}

	byExt := Detect(path, caps)

	mime, err := mimetype.DetectFile(path)
	if err != nil {
		return byExt, errors.WithStack(err)
	}

	byMagic := kindOfMIME(mime)
	if byMagic == KindUnsupported || !caps.Supports(byMagic) {
		return byExt, nil
	}
	return byMagic, nil
}

func kindOfMIME(mime *mimetype.MIME) Kind {
	// epub and the OOXML formats are children of zip, so walk up.
	for m := mime; m != nil; m = m.Parent() {
		for _, mk := range mimeKinds {
			if m.Is(mk.mime) {
				return mk.kind
			}
		}
	}
	return KindUnsupported
}
