package document

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// CommandRequest captures one external process invocation.
type CommandRequest struct {
	Workdir string
	Args    []string
	Env     []string
	Input   string
	Timeout time.Duration
}

// CommandRunner executes external tools. The OCR path depends only on this
// interface so tests can script tool output.
type CommandRunner interface {
	Run(ctx context.Context, req CommandRequest) (stdout string, stderr string, err error)
}

// LocalCommandRunner runs commands directly on the host.
type LocalCommandRunner struct{}

// Run executes the command, bounded by req.Timeout when set.
func (LocalCommandRunner) Run(ctx context.Context, req CommandRequest) (string, string, error) {
	if len(req.Args) == 0 {
		return "", "", errors.New("command arguments required")
	}
	execCtx := ctx
	cancel := func() {}
	if req.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()
	cmd := exec.CommandContext(execCtx, req.Args[0], req.Args[1:]...)
	cmd.Dir = req.Workdir
	if len(req.Env) > 0 {
		cmd.Env = append(cmd.Environ(), req.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if req.Input != "" {
		cmd.Stdin = strings.NewReader(req.Input)
	}
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}
