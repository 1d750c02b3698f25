package testgen

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil { //nolint:gosec
		t.Fatalf("failed to write script %s: %v", path, err)
	}
	return path
}

// FakeTool writes an extractor script that copies everything under stageDir
// into its second argument. Called with no arguments (an availability check) it exits 0.
// Configure it with Args {"{archive}", "{dest}"}.
func FakeTool(t *testing.T, dir, name, stageDir string) string {
	t.Helper()
	return writeScript(t, dir, name, fmt.Sprintf(`[ "$#" -lt 2 ] && exit 0
cp -R %q/. "$2"/
`, stageDir))
}

// FailingTool writes an extractor script that leaves a partial file behind
// and exits non-zero.
func FailingTool(t *testing.T, dir, name string) string {
	t.Helper()
	return writeScript(t, dir, name, `[ "$#" -lt 2 ] && exit 0
echo partial > "$2/partial.png"
echo "crc error" >&2
exit 3
`)
}

// SlowTool writes an extractor script that sleeps for the given number of
// seconds before doing anything.
func SlowTool(t *testing.T, dir, name string, seconds int) string {
	t.Helper()
	return writeScript(t, dir, name, fmt.Sprintf(`[ "$#" -lt 2 ] && exit 0
sleep %d
`, seconds))
}

// CountingTool is FakeTool that also appends a line to logFile on every
// extraction, so tests can tell how often the tool ran.
func CountingTool(t *testing.T, dir, name, stageDir, logFile string) string {
	t.Helper()
	return writeScript(t, dir, name, fmt.Sprintf(`[ "$#" -lt 2 ] && exit 0
echo run >> %q
cp -R %q/. "$2"/
`, logFile, stageDir))
}
