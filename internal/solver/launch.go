package solver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hexlite/hexlited/internal/model"
)

const jsonOutputPlugin = "jsonoutputplugin"

// Command describes one solver invocation.
type Command struct {
	Path    string
	Args    []string
	Dir     string
	Timeout time.Duration
}

// Args builds the solver arguments:
//
//	--number=<N> [<key>[=<value>] ...] --pluginpath=<dir> --plugin=jsonoutputplugin -- <program>
func Args(pluginDir, programPath string, params model.Parameters) []string {
	args := make([]string, 0, len(params.AdditionalParameters)+5)
	args = append(args, "--number="+strconv.Itoa(params.NumberOfAnswers))
	for _, p := range params.AdditionalParameters {
		if p.Value != "" {
			args = append(args, p.Key+"="+p.Value)
		} else {
			args = append(args, p.Key)
		}
	}
	return append(args,
		"--pluginpath="+pluginDir,
		"--plugin="+jsonOutputPlugin,
		"--",
		programPath,
	)
}

// Process is a started solver. Stdout and Stderr must be read concurrently
// before Wait is called.
type Process struct {
	cmd     *exec.Cmd
	parent  context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	killed  atomic.Bool
	started time.Time

	Stdout io.ReadCloser
	Stderr io.ReadCloser
}

// Launch starts the solver with the workspace as its working directory.
// A canceled ctx or an expired timeout kills the process.
func Launch(parent context.Context, c Command) (*Process, error) {
	var ctx context.Context
	var cancel context.CancelFunc
	if c.Timeout == 0 {
		slog.WarnContext(parent, "solver has no timeout", "path", c.Path)
		ctx, cancel = context.WithCancel(parent)
	} else {
		ctx, cancel = context.WithTimeout(parent, c.Timeout)
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Dir = c.Dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", model.ErrLaunch, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", model.ErrLaunch, err)
	}

	slog.DebugContext(parent, "starting solver", "path", c.Path, "args", c.Args, "dir", c.Dir)
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", model.ErrLaunch, err)
	}

	return &Process{
		cmd:     cmd,
		parent:  parent,
		ctx:     ctx,
		cancel:  cancel,
		timeout: c.Timeout,
		started: time.Now(),
		Stdout:  stdout,
		Stderr:  stderr,
	}, nil
}

// Kill stops the process. Wait reports no error for a killed process, the
// caller is expected to know why it killed it.
func (p *Process) Kill() {
	p.killed.Store(true)
	p.cancel()
}

// Wait waits for the process to exit and releases its resources.
func (p *Process) Wait() error {
	err := p.cmd.Wait()
	defer p.cancel()

	slog.DebugContext(p.parent, "solver finished",
		"elapsed", time.Since(p.started).String(),
		"exit_code", p.cmd.ProcessState.ExitCode(),
	)

	switch {
	case p.killed.Load():
		return nil
	case p.parent.Err() != nil:
		return fmt.Errorf("%w: %w", model.ErrInterrupted, context.Cause(p.parent))
	case errors.Is(p.ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: limit %s", model.ErrTimeout, p.timeout)
	case err != nil:
		return fmt.Errorf("%w: %w", model.ErrSolverExit, err)
	}
	return nil
}
