// Package agent runs the review agent CLI as a subprocess.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/ericfisherdev/reviewbridge/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ReviewAgent = (*Claude)(nil)

const (
	maxOutputBytes      = 4 << 20
	maxDiagnosticsBytes = 1 << 20
	claudeDangerousFlag = "--dangerously-skip-permissions"
)

// Claude runs reviews with the Claude CLI in print mode.
type Claude struct {
	Command   string
	MaxTurns  int
	ExtraArgs []string
	// Grace is how long a canceled agent gets between SIGTERM and SIGKILL.
	Grace time.Duration
}

// NewClaude creates a Claude agent. An empty command means "claude".
func NewClaude(command string, maxTurns int, extraArgs []string, grace time.Duration) *Claude {
	if command == "" {
		command = "claude"
	}
	return &Claude{Command: command, MaxTurns: maxTurns, ExtraArgs: extraArgs, Grace: grace}
}

func (a *Claude) buildArgs(req driven.AgentRequest) []string {
	args := []string{
		"-p", req.Prompt,
		"--append-system-prompt", req.Instructions,
		claudeDangerousFlag,
	}
	if a.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(a.MaxTurns))
	}
	return append(args, a.ExtraArgs...)
}

// Run executes the agent once in req.Dir. The agent gets its own process
// group; when ctx is done the group receives SIGTERM and, after Grace,
// SIGKILL. The result is filled in on every path so callers can keep partial
// output.
func (a *Claude) Run(ctx context.Context, req driven.AgentRequest) (driven.AgentResult, error) {
	cmd := exec.CommandContext(ctx, a.Command, a.buildArgs(req)...)
	cmd.Dir = req.Dir
	cmd.Env = os.Environ()
	// A zero WaitDelay would wait forever for an agent that ignores SIGTERM.
	cmd.WaitDelay = max(a.Grace, time.Millisecond)
	configureProcessGroup(cmd)

	stdout := newCappedBuffer(maxOutputBytes)
	diag := newCappedBuffer(maxDiagnosticsBytes)
	cmd.Stdout = io.MultiWriter(stdout, diag)
	cmd.Stderr = diag

	start := time.Now()
	err := cmd.Run()
	killProcessGroup(cmd)

	res := driven.AgentResult{
		Output:      stdout.String(),
		Diagnostics: diag.String(),
		ExitCode:    -1,
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	slog.Debug("review agent finished",
		"dir", req.Dir,
		"exit_code", res.ExitCode,
		"output_bytes", len(res.Output),
		"duration", time.Since(start).Round(time.Millisecond),
	)

	if ctx.Err() != nil {
		return res, fmt.Errorf("review agent interrupted: %w", context.Cause(ctx))
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, fmt.Errorf("%w: exit code %d", driven.ErrAgentExit, res.ExitCode)
		}
		return res, fmt.Errorf("run %s: %w", a.Command, err)
	}
	return res, nil
}

// cappedBuffer keeps the first limit bytes written and discards the rest.
// Stdout and stderr are copied from separate goroutines, hence the lock.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if room := b.limit - b.buf.Len(); room < len(p) {
		b.truncated = true
		if room > 0 {
			b.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
