package errcodes

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	CodeFormatUnsupported     = "format_unsupported"
	CodeArchiveCorrupt        = "archive_corrupt"
	CodeArchiveUnsupported    = "archive_unsupported"
	CodeEntryNotFound         = "entry_not_found"
	CodeThumbnailEncodeFailed = "thumbnail_encode_failed"
	CodeStoreError            = "store_error"
	CodeNotFound              = "not_found"
	CodeValidationError       = "validation_error"
)

// Error is a typed failure carrying a stable code. Retryable reports whether
// re-running the same operation on the same input can succeed without the
// user changing anything (installing a tool, fixing the file).
type Error struct {
	Code      string
	Message   string
	Retryable bool
	cause     error
}

func (err *Error) Error() string {
	if err.cause != nil {
		return err.Message + ": " + err.cause.Error()
	}
	return err.Message
}

// Unwrap exposes the underlying cause so errors.Is reaches sentinel errors
// such as context.DeadlineExceeded.
func (err *Error) Unwrap() error {
	return err.cause
}

func (err *Error) As(target interface{}) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	te.Code = err.Code
	te.Message = err.Message
	te.Retryable = err.Retryable
	te.cause = err.cause
	return true
}

// Is matches on code only, so errors.Is(err, errcodes.ArchiveCorrupt("")) works
// regardless of which file the error was raised for.
func (err *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return te.Code == err.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// FormatUnsupported is returned when the extension is unknown or the backend
// for a known container is not available in this runtime.
func FormatUnsupported(path string) error {
	return &Error{
		Code:    CodeFormatUnsupported,
		Message: fmt.Sprintf("Unsupported comic format: %s", path),
	}
}

// ArchiveCorrupt is returned when the container is recognized but can't be parsed.
func ArchiveCorrupt(path string, cause error) error {
	return &Error{
		Code:    CodeArchiveCorrupt,
		Message: fmt.Sprintf("Archive is corrupt or truncated: %s", path),
		cause:   cause,
	}
}

// ArchiveUnsupported is returned when neither the native RAR reader nor any
// external tool could read the archive.
func ArchiveUnsupported(path string, cause error) error {
	return &Error{
		Code:    CodeArchiveUnsupported,
		Message: fmt.Sprintf("No available RAR reader could open %s", path),
		cause:   cause,
	}
}

func EntryNotFound(name string) error {
	return &Error{
		Code:    CodeEntryNotFound,
		Message: fmt.Sprintf("Entry %q not found in archive", name),
	}
}

func ThumbnailEncodeFailed(cause error) error {
	return &Error{
		Code:    CodeThumbnailEncodeFailed,
		Message: "Thumbnail could not be generated",
		cause:   cause,
	}
}

// StoreError wraps a persistence failure. The enclosing transaction has
// already been rolled back when this is returned.
func StoreError(cause error) error {
	return &Error{
		Code:      CodeStoreError,
		Message:   "Page catalog operation failed",
		Retryable: true,
		cause:     cause,
	}
}

// NotFound returns an error with a message indicating the given resource.
func NotFound(resource string) error {
	return &Error{
		Code:    CodeNotFound,
		Message: resource + " not found.",
	}
}

func ValidationError(msg string) error {
	return &Error{
		Code:    CodeValidationError,
		Message: msg,
	}
}
