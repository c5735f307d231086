package converter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// maxStderr bounds how much of a failing program's stderr ends up in the error.
const maxStderr = 2048

// Runner executes external programs such as ffmpeg and tesseract.
type Runner interface {
	Run(ctx context.Context, stdout io.Writer, name string, args ...string) error
}

// ExecRunner runs programs through os/exec.
type ExecRunner struct{}

// Run executes name with args, streaming stdout into the given writer (if any).
// A non-zero exit status is reported together with the tail of stderr.
func (ExecRunner) Run(ctx context.Context, stdout io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", name, ctx.Err())
		}

		return fmt.Errorf("%s: %w: %s", name, err, tail(stderr.String(), maxStderr))
	}

	return nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}

	return "..." + s[len(s)-n:]
}
