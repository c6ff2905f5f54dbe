// Package runner starts the external processing programs and streams their
// output into the service log.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/pps-runner/internal/observability"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// ErrTimeout means the program was killed after exceeding its time limit.
var ErrTimeout = errors.New("program timed out")

const (
	streamStdout = "stdout"
	streamStderr = "stderr"

	// waitDelay bounds how long Wait blocks on output pipes held open by
	// grandchildren after the program itself has exited.
	waitDelay = 10 * time.Second

	maxLineLength = 1024 * 1024
)

// LineFunc receives each output line of a running program.
type LineFunc func(stream, line string)

// Command describes one program invocation.
type Command struct {
	// Name labels the program in logs and metrics.
	Name    string
	Path    string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// Result is the outcome of a finished program.
type Result struct {
	ExitCode int
	TimedOut bool
	Duration time.Duration
	Err      error
}

// Executor runs commands with a kill timer and line-by-line output capture.
type Executor struct {
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewExecutor creates an Executor. The clock drives the kill timers.
func NewExecutor(clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Executor {
	return &Executor{clock: clock, logger: logger, metrics: metrics}
}

// Exec runs cmd to completion. Output lines go to onLine, or to the logger
// when onLine is nil. The program is killed when cmd.Timeout elapses or ctx
// is cancelled.
func (e *Executor) Exec(ctx context.Context, cmd Command, onLine LineFunc) Result {
	if onLine == nil {
		onLine = e.logLine(cmd.Name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := exec.CommandContext(runCtx, cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = cmd.Env
	}
	c.WaitDelay = waitDelay

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	c.Stdout = stdoutW
	c.Stderr = stderrW

	var g errgroup.Group
	g.Go(func() error { return scanLines(stdoutR, streamStdout, onLine) })
	g.Go(func() error { return scanLines(stderrR, streamStderr, onLine) })

	e.logger.Debug("starting program", "program", cmd.Name, "path", cmd.Path, "args", cmd.Args)
	start := e.clock.Now()
	err := c.Start()
	if err != nil {
		stdoutW.Close()
		stderrW.Close()
		_ = g.Wait()
		e.metrics.ProcessRuns.WithLabelValues(cmd.Name, "failed").Inc()
		return Result{ExitCode: -1, Err: fmt.Errorf("start %s: %w", cmd.Name, err)}
	}

	var timedOut atomic.Bool
	var timer clockwork.Timer
	if cmd.Timeout > 0 {
		timer = e.clock.AfterFunc(cmd.Timeout, func() {
			timedOut.Store(true)
			cancel()
		})
	}

	waitErr := c.Wait()
	if timer != nil {
		timer.Stop()
	}
	stdoutW.Close()
	stderrW.Close()
	if scanErr := g.Wait(); scanErr != nil {
		e.logger.Warn("reading program output", "program", cmd.Name, "error", scanErr)
	}

	res := Result{
		ExitCode: c.ProcessState.ExitCode(),
		// A timer firing after a clean exit killed nothing.
		TimedOut: waitErr != nil && timedOut.Load(),
		Duration: e.clock.Since(start),
	}
	switch {
	case res.TimedOut:
		res.Err = fmt.Errorf("%s: %w after %s", cmd.Name, ErrTimeout, cmd.Timeout)
		e.metrics.ProcessRuns.WithLabelValues(cmd.Name, "timeout").Inc()
		e.logger.Error("program timed out and was terminated", "program", cmd.Name, "timeout", cmd.Timeout)
	case waitErr != nil:
		res.Err = fmt.Errorf("%s: %w", cmd.Name, waitErr)
		e.metrics.ProcessRuns.WithLabelValues(cmd.Name, "failed").Inc()
		e.logger.Error("program failed", "program", cmd.Name, "exit_code", res.ExitCode, "error", waitErr)
	default:
		e.metrics.ProcessRuns.WithLabelValues(cmd.Name, "ok").Inc()
		e.logger.Debug("program finished", "program", cmd.Name, "duration", res.Duration)
	}
	return res
}

func (e *Executor) logLine(name string) LineFunc {
	return func(stream, line string) {
		if stream == streamStderr {
			e.logger.Warn(line, "program", name, "stream", stream)
			return
		}
		e.logger.Info(line, "program", name, "stream", stream)
	}
}

// scanLines feeds r to onLine one line at a time. On a scan error the rest
// of r is drained so the writer never blocks.
func scanLines(r *io.PipeReader, stream string, onLine LineFunc) error {
	defer r.Close()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	for scanner.Scan() {
		onLine(stream, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return fmt.Errorf("%s: %w", stream, err)
	}
	return nil
}
