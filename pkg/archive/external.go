package archive

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ExternalTool is a command-line extractor used when the native RAR decoder
// can't read an archive. Args may contain {archive} and {dest} anywhere in an
// argument; an argument that is exactly {globs} expands to one argument per
// image glob.
type ExternalTool struct {
	Name      string
	Command   string
	Args      []string
	ProbeArgs []string
}

// Available reports whether the tool is on PATH and starts within timeout.
// The probe's exit status is ignored: most extractors exit non-zero when
// asked for usage.
func (t ExternalTool) Available(ctx context.Context, timeout time.Duration) bool {
	if _, err := exec.LookPath(t.Command); err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.Command, t.ProbeArgs...)
	cmd.WaitDelay = time.Second
	err := cmd.Run()
	if ctx.Err() != nil {
		return false
	}

	var exitErr *exec.ExitError
	return err == nil || errors.As(err, &exitErr)
}

// Extract runs the tool against archivePath and waits for it to exit 0.
func (t ExternalTool) Extract(ctx context.Context, archivePath, destDir string, globs []string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.Command, t.expandArgs(archivePath, destDir, globs)...)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Wrapf(context.DeadlineExceeded, "%s timed out after %s", t.Name, timeout)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return errors.Wrapf(err, "%s failed", t.Name)
		}
		return errors.Wrapf(err, "%s failed: %s", t.Name, msg)
	}
	return nil
}

func (t ExternalTool) expandArgs(archivePath, destDir string, globs []string) []string {
	args := make([]string, 0, len(t.Args)+len(globs))
	for _, arg := range t.Args {
		if arg == "{globs}" {
			args = append(args, globs...)
			continue
		}
		arg = strings.ReplaceAll(arg, "{archive}", archivePath)
		arg = strings.ReplaceAll(arg, "{dest}", destDir)
		args = append(args, arg)
	}
	return args
}
