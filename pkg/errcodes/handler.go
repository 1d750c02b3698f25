package errcodes

import (
	"context"

	"github.com/pkg/errors"
)

const CodeInternal = "internal_error"

// exitCodes gives every code its own process exit status so scripts can tell
// a bad file from a missing tool. 1 is left for untyped errors.
var exitCodes = map[string]int{
	CodeValidationError:       2,
	CodeFormatUnsupported:     3,
	CodeArchiveCorrupt:        4,
	CodeArchiveUnsupported:    5,
	CodeEntryNotFound:         6,
	CodeThumbnailEncodeFailed: 7,
	CodeStoreError:            8,
	CodeNotFound:              9,
}

const exitInterrupted = 130

// Describe returns the code and message to show for err. Errors outside the
// taxonomy are reported as internal errors with their own text.
func Describe(err error) (code string, msg string) {
	if err == nil {
		return "", ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code, e.Error()
	}
	return CodeInternal, err.Error()
}

// ExitCode maps err to a process exit status; 0 for nil.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	if code, ok := exitCodes[CodeOf(err)]; ok {
		return code
	}
	return 1
}
