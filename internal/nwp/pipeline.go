// Package nwp prepares the numerical weather prediction files the
// processing program reads: merge, validate against the requirement list
// and publish under a name that never changes content once it exists.
package nwp

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/pps-runner/internal/config"
	"github.com/couchcryptid/pps-runner/internal/observability"
	"github.com/jonboulle/clockwork"
)

var (
	// ErrTooManyFailures means more than half of the attempted files failed
	// to merge.
	ErrTooManyFailures = errors.New("more than half of the nwp files failed")
	// ErrLockTimeout means another run held an output lock for too long.
	ErrLockTimeout = errors.New("timed out waiting for nwp output lock")
)

// outputMode is the permission of published files. Temp files are created
// owner-only and the link keeps the inode's mode.
const outputMode fs.FileMode = 0o644

// Task is the work for one input file.
type Task struct {
	Source       string
	Companion    string
	Output       string
	LockPath     string
	AnalysisTime time.Time
	Step         int
	// Requirements is nil when no requirement file is available, which
	// disables validation.
	Requirements *Requirements
}

// Summary counts the outcome of one pipeline run.
type Summary struct {
	Published int
	Skipped   int
	Discarded int
	Failed    int
}

type outcome string

const (
	outcomePublished outcome = "published"
	outcomeSkipped   outcome = "skipped"
	outcomeDiscarded outcome = "discarded"
	outcomeFailed    outcome = "failed"
)

func (s *Summary) add(o outcome) {
	switch o {
	case outcomePublished:
		s.Published++
	case outcomeSkipped:
		s.Skipped++
	case outcomeDiscarded:
		s.Discarded++
	case outcomeFailed:
		s.Failed++
	}
}

// Pipeline turns raw forecast files into NWP files for the processing program.
type Pipeline struct {
	cfg     config.NWPConfig
	grib    GribTool
	naming  naming
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Pipeline.
func New(cfg config.NWPConfig, grib GribTool, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) (*Pipeline, error) {
	n, err := newNaming(cfg)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:     cfg,
		grib:    grib,
		naming:  n,
		clock:   clock,
		logger:  logger.With("component", "nwp"),
		metrics: metrics,
	}, nil
}

// Run processes every input file once. Per-file failures are logged and
// counted; Run returns an error only when the input cannot be listed, the
// context ends, or more than half of the attempted files failed.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	inputs, err := p.inputs()
	if err != nil {
		return sum, err
	}
	if len(inputs) == 0 {
		p.logger.Info("no nwp input files", "dir", p.cfg.InputDir, "prefix", p.cfg.InputPrefix)
		return sum, nil
	}
	if err := os.MkdirAll(p.cfg.OutputDir, 0o755); err != nil {
		return sum, fmt.Errorf("create nwp output dir: %w", err)
	}

	now := p.clock.Now().UTC()
	attempted, failed := 0, 0
	for _, path := range inputs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		task, reason, err := p.plan(path, now)
		switch {
		case err != nil:
			p.logger.Warn("cannot read times from nwp file name", "path", path, "error", err)
			p.record(&sum, outcomeFailed)
			continue
		case reason != "":
			p.logger.Debug("skipping nwp file", "path", path, "reason", reason)
			p.record(&sum, outcomeSkipped)
			continue
		}

		attempted++
		o, err := p.process(ctx, task)
		if err != nil {
			p.logger.Error("nwp file preparation failed", "path", path, "output", task.Output, "error", err)
		}
		if o == outcomeFailed {
			failed++
		}
		p.record(&sum, o)
	}

	p.logger.Info("nwp preparation finished",
		"published", sum.Published,
		"skipped", sum.Skipped,
		"discarded", sum.Discarded,
		"failed", sum.Failed,
	)
	if attempted > 0 && failed*2 > attempted {
		return sum, fmt.Errorf("%w: %d of %d", ErrTooManyFailures, failed, attempted)
	}
	return sum, nil
}

func (p *Pipeline) record(sum *Summary, o outcome) {
	sum.add(o)
	p.metrics.NWPFiles.WithLabelValues(string(o)).Inc()
}

// inputs lists the input files, sorted, without checksum files.
func (p *Pipeline) inputs() ([]string, error) {
	entries, err := os.ReadDir(p.cfg.InputDir)
	if err != nil {
		return nil, fmt.Errorf("list nwp input dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, p.cfg.InputPrefix) || strings.HasSuffix(name, ".md5") {
			continue
		}
		out = append(out, filepath.Join(p.cfg.InputDir, name))
	}
	return out, nil
}

// plan derives the task for path, or the reason it is skipped.
func (p *Pipeline) plan(path string, now time.Time) (Task, string, error) {
	base := filepath.Base(path)
	ft, err := p.naming.parse(base, now)
	if err != nil {
		return Task{}, "", err
	}
	if ft.Analysis.Before(now.Add(-p.cfg.Cutoff())) {
		return Task{}, "analysis too old", nil
	}
	if !slices.Contains(p.cfg.ForecastLengths, ft.Step) {
		return Task{}, "forecast step not wanted", nil
	}

	name := outputName(p.cfg.OutputPrefix, ft)
	task := Task{
		Source:       path,
		Companion:    p.naming.companion(base),
		Output:       filepath.Join(p.cfg.OutputDir, name),
		LockPath:     filepath.Join(p.cfg.OutputDir, "."+name+".lock"),
		AnalysisTime: ft.Analysis,
		Step:         ft.Step,
	}
	if exists(task.Output) {
		return Task{}, "output exists", nil
	}
	if !exists(task.Companion) {
		p.logger.Warn("companion nwp file missing", "path", path, "companion", task.Companion)
		return Task{}, "companion missing", nil
	}
	return task, "", nil
}

// process merges, validates and publishes one task under its output lock.
func (p *Pipeline) process(ctx context.Context, task Task) (outcome, error) {
	release, err := acquireLock(ctx, p.clock, task.LockPath, p.cfg.LockTimeout())
	if err != nil {
		return outcomeFailed, err
	}
	defer release()

	if exists(task.Output) {
		p.logger.Info("nwp output written by another run", "output", task.Output)
		return outcomeSkipped, nil
	}
	if !exists(p.cfg.StaticSurface) {
		return outcomeFailed, fmt.Errorf("static surface file missing: %s", p.cfg.StaticSurface)
	}

	req, err := p.requirements()
	if err != nil {
		return outcomeFailed, err
	}
	task.Requirements = req

	tmp := &tempFiles{dir: p.cfg.OutputDir, base: filepath.Base(task.Output)}
	defer tmp.cleanup()

	projected, err := tmp.create("proj")
	if err != nil {
		return outcomeFailed, err
	}
	if err := p.grib.Project(ctx, task.Companion, projected); err != nil {
		return outcomeFailed, fmt.Errorf("project companion: %w", err)
	}
	merged, err := tmp.create("merged")
	if err != nil {
		return outcomeFailed, err
	}
	if err := p.grib.Concat(ctx, merged, projected, task.Source, p.cfg.StaticSurface); err != nil {
		return outcomeFailed, fmt.Errorf("merge: %w", err)
	}

	final := merged
	if task.Requirements != nil {
		reduced, o, err := p.reduce(ctx, task, merged, tmp)
		if err != nil || o != "" {
			return o, err
		}
		final = reduced
	}

	if err := os.Chmod(final, outputMode); err != nil {
		return outcomeFailed, fmt.Errorf("set output mode: %w", err)
	}
	if err := os.Link(final, task.Output); err != nil {
		if errors.Is(err, fs.ErrExist) {
			p.logger.Info("nwp output appeared while preparing, keeping existing file", "output", task.Output)
			return outcomeSkipped, nil
		}
		return outcomeFailed, fmt.Errorf("publish: %w", err)
	}
	p.logger.Info("nwp file published", "output", task.Output, "analysis", task.AnalysisTime, "step", task.Step)
	return outcomePublished, nil
}

// reduce keeps only the wanted fields of merged and checks that every
// mandatory field survived. A non-empty outcome ends the task.
func (p *Pipeline) reduce(ctx context.Context, task Task, merged string, tmp *tempFiles) (string, outcome, error) {
	inventory, err := p.grib.Inventory(ctx, merged)
	if err != nil {
		return "", outcomeFailed, fmt.Errorf("inventory merged file: %w", err)
	}
	fields := task.Requirements.present(inventory)
	if len(fields) == 0 {
		p.logger.Warn("no wanted fields in merged nwp file, discarding", "output", task.Output)
		return "", outcomeDiscarded, nil
	}

	reduced, err := tmp.create("reduced")
	if err != nil {
		return "", outcomeFailed, err
	}
	if err := p.grib.Select(ctx, merged, reduced, fields); err != nil {
		return "", outcomeFailed, fmt.Errorf("select wanted fields: %w", err)
	}
	inventory, err = p.grib.Inventory(ctx, reduced)
	if err != nil {
		return "", outcomeFailed, fmt.Errorf("inventory reduced file: %w", err)
	}
	if missing := task.Requirements.missingMandatory(inventory); len(missing) > 0 {
		p.logger.Warn("mandatory fields missing, nwp file not written",
			"output", task.Output, "missing", fieldList(missing))
		return "", outcomeDiscarded, nil
	}
	return reduced, "", nil
}

// requirements loads the requirement file, or returns nil when there is
// none to validate against.
func (p *Pipeline) requirements() (*Requirements, error) {
	if p.cfg.RequirementsFile == "" {
		p.logger.Warn("no nwp requirements file configured, output is not validated")
		return nil, nil
	}
	req, err := LoadRequirements(p.cfg.RequirementsFile)
	if errors.Is(err, fs.ErrNotExist) {
		p.logger.Warn("nwp requirements file missing, output is not validated", "path", p.cfg.RequirementsFile)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load requirements: %w", err)
	}
	return &req, nil
}

// tempFiles creates scratch files next to the output and removes them all
// on cleanup.
type tempFiles struct {
	dir   string
	base  string
	paths []string
}

func (t *tempFiles) create(stage string) (string, error) {
	f, err := os.CreateTemp(t.dir, "."+t.base+"."+stage+".*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	t.paths = append(t.paths, f.Name())
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return f.Name(), nil
}

func (t *tempFiles) cleanup() {
	for _, p := range t.paths {
		_ = os.Remove(p)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func fieldList(ids []FieldID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
