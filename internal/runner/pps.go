package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/couchcryptid/pps-runner/internal/config"
	"github.com/couchcryptid/pps-runner/internal/domain"
)

var (
	// ErrProgramNotFound means a configured program does not exist.
	ErrProgramNotFound = errors.New("program not found")
	// ErrProgramNotExecutable means a configured program exists but cannot be run.
	ErrProgramNotExecutable = errors.New("program not executable")
)

const (
	programMain    = "ppsRunAll"
	programCMAProb = "ppsCmaskProb"
)

// PPS runs the level-2 processing programs for a scene.
type PPS struct {
	exec   *Executor
	logger *slog.Logger

	python  string
	main    config.Script
	cmaProb *config.Script
	cfg     config.RunnerConfig
}

// NewPPS checks that the configured programs can be started and returns a
// runner for them.
func NewPPS(cfg config.RunnerConfig, executor *Executor, logger *slog.Logger) (*PPS, error) {
	p := &PPS{exec: executor, logger: logger, cfg: cfg, main: cfg.RunAllScript}

	if cfg.Python != "" {
		python, err := checkProgram(cfg.Python, true)
		if err != nil {
			return nil, err
		}
		p.python = python
		if _, err := checkProgram(cfg.RunAllScript.Name, false); err != nil {
			return nil, err
		}
	} else {
		path, err := checkProgram(cfg.RunAllScript.Name, true)
		if err != nil {
			return nil, err
		}
		p.main.Name = path
	}

	if cfg.RunCMAProb {
		script := cfg.CMAProbScript
		_, err := checkProgram(script.Name, p.python == "")
		if err != nil {
			return nil, err
		}
		p.cmaProb = &script
	}
	return p, nil
}

// Run processes s with the main program and, when enabled, the
// probabilistic cloud mask. Each program gets its own time limit. Run
// returns the first failure; the cloud mask still runs when the main
// program failed.
func (p *PPS) Run(ctx context.Context, s domain.Scene) error {
	logger := p.logger.With("scene_id", s.Key.ID(), "platform", s.PlatformName, "orbit", s.OrbitNumber)
	logger.Info("starting level-2 processing", "input", s.InputFile)

	res := p.exec.Exec(ctx, p.command(programMain, p.main, s), nil)
	err := res.Err
	if err != nil {
		logger.Error("level-2 processing failed", "exit_code", res.ExitCode, "timed_out", res.TimedOut, "error", err)
	} else {
		logger.Info("level-2 processing finished", "duration", res.Duration)
	}

	if p.cmaProb == nil || ctx.Err() != nil {
		return err
	}
	cres := p.exec.Exec(ctx, p.command(programCMAProb, *p.cmaProb, s), nil)
	if cres.Err != nil {
		logger.Error("cloud mask probability failed", "exit_code", cres.ExitCode, "timed_out", cres.TimedOut, "error", cres.Err)
		return errors.Join(err, cres.Err)
	}
	return err
}

// command builds [python] script <flag> <input> [flags].
func (p *PPS) command(name string, script config.Script, s domain.Scene) Command {
	args := make([]string, 0, len(script.Flags)+3)
	path := script.Name
	if p.python != "" {
		path = p.python
		args = append(args, script.Name)
	}
	args = append(args, s.InputFlag, s.InputFile)
	args = append(args, script.Flags...)
	return Command{
		Name:    name,
		Path:    path,
		Args:    args,
		Timeout: p.cfg.MaxProcessingTime(),
	}
}

// checkProgram resolves name and verifies it exists. Bare names are looked
// up in PATH. Scripts passed to an interpreter need only be readable files.
func checkProgram(name string, executable bool) (string, error) {
	if !strings.ContainsRune(name, os.PathSeparator) {
		path, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrProgramNotFound, name)
		}
		return path, nil
	}
	info, err := os.Stat(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrProgramNotFound, name)
	}
	if info.IsDir() || (executable && info.Mode().Perm()&0o111 == 0) {
		return "", fmt.Errorf("%w: %s", ErrProgramNotExecutable, name)
	}
	return name, nil
}
