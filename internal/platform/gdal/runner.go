// Package gdal drives the GDAL command line tools and the segmentation engine.
// Tools read and write files on the local filesystem; this package only
// builds their arguments and interprets their output.
package gdal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Runner executes an external program and returns its standard output.
type Runner interface {
	Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error)
}

// ErrTool is wrapped by every ToolError.
var ErrTool = errors.New("external tool failed")

// ToolError describes a failed tool invocation. Stderr is kept for logs and
// must not be shown to API clients.
type ToolError struct {
	Tool   string
	Args   []string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s failed: %v: %s", e.Tool, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() []error { return []error{ErrTool, e.Err} }

// maxStderr bounds the stderr tail kept in a ToolError.
const maxStderr = 2048

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > maxStderr {
			msg = msg[len(msg)-maxStderr:]
		}
		return stdout.Bytes(), &ToolError{Tool: name, Args: args, Stderr: msg, Err: err}
	}
	return stdout.Bytes(), nil
}
