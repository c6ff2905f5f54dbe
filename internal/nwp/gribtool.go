package nwp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/couchcryptid/pps-runner/internal/runner"
)

// GribTool performs the grib file operations of the pipeline.
type GribTool interface {
	// Project copies the regular lat/lon fields of src to dst.
	Project(ctx context.Context, src, dst string) error
	// Concat writes the messages of srcs, in order, to dst.
	Concat(ctx context.Context, dst string, srcs ...string) error
	// Inventory lists the fields in path.
	Inventory(ctx context.Context, path string) ([]FieldID, error)
	// Select copies the given fields of src to dst.
	Select(ctx context.Context, src, dst string, fields []Field) error
}

// Eccodes implements GribTool with the ecCodes command line tools.
type Eccodes struct {
	exec   *runner.Executor
	logger *slog.Logger

	copyCmd   string
	getCmd    string
	filterCmd string
}

// NewEccodes creates an Eccodes tool running the named commands.
func NewEccodes(exec *runner.Executor, logger *slog.Logger, copyCmd, getCmd, filterCmd string) *Eccodes {
	return &Eccodes{exec: exec, logger: logger, copyCmd: copyCmd, getCmd: getCmd, filterCmd: filterCmd}
}

func (e *Eccodes) run(ctx context.Context, path string, args []string, onLine runner.LineFunc) error {
	res := e.exec.Exec(ctx, runner.Command{Name: filepath.Base(path), Path: path, Args: args}, onLine)
	if res.Err != nil {
		return fmt.Errorf("%s exited with %d: %w", path, res.ExitCode, res.Err)
	}
	return nil
}

func (e *Eccodes) Project(ctx context.Context, src, dst string) error {
	return e.run(ctx, e.copyCmd, []string{"-w", "gridType=regular_ll", src, dst}, nil)
}

func (e *Eccodes) Concat(ctx context.Context, dst string, srcs ...string) error {
	args := append(append([]string{}, srcs...), dst)
	return e.run(ctx, e.copyCmd, args, nil)
}

func (e *Eccodes) Inventory(ctx context.Context, path string) ([]FieldID, error) {
	var (
		ids []FieldID
		bad int
	)
	// Only the stdout reader touches ids and bad.
	onLine := func(stream, line string) {
		if stream != "stdout" {
			e.logger.Warn(line, "program", filepath.Base(e.getCmd), "stream", stream)
			return
		}
		id, err := parseInventoryLine(line)
		if err != nil {
			bad++
			return
		}
		ids = append(ids, id)
	}
	if err := e.run(ctx, e.getCmd, []string{"-p", "paramId,level,typeOfLevel", path}, onLine); err != nil {
		return nil, err
	}
	if bad > 0 {
		e.logger.Warn("unreadable inventory lines", "path", path, "count", bad)
	}
	return ids, nil
}

func (e *Eccodes) Select(ctx context.Context, src, dst string, fields []Field) error {
	rules, err := os.CreateTemp(filepath.Dir(dst), ".grib_filter.*.rules")
	if err != nil {
		return fmt.Errorf("create filter rules: %w", err)
	}
	defer os.Remove(rules.Name())

	_, werr := rules.WriteString(filterRules(dst, fields))
	if cerr := rules.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("write filter rules: %w", werr)
	}
	return e.run(ctx, e.filterCmd, []string{rules.Name(), src}, nil)
}

// parseInventoryLine reads "paramId level typeOfLevel".
func parseInventoryLine(line string) (FieldID, error) {
	tokens := strings.Fields(line)
	if len(tokens) != 3 {
		return FieldID{}, fmt.Errorf("want 3 columns: %q", line)
	}
	param, err := strconv.Atoi(tokens[0])
	if err != nil {
		return FieldID{}, err
	}
	level, err := strconv.Atoi(tokens[1])
	if err != nil {
		return FieldID{}, err
	}
	return FieldID{ParamID: param, Level: level, LevelType: tokens[2]}, nil
}

// filterRules builds a grib_filter program writing the given fields to dst.
func filterRules(dst string, fields []Field) string {
	conds := make([]string, 0, len(fields))
	for _, f := range fields {
		conds = append(conds, fmt.Sprintf("(paramId == %d && level == %d && typeOfLevel is %q)", f.ParamID, f.Level, f.LevelType))
	}
	return fmt.Sprintf("if (%s) {\n  write %q;\n}\n", strings.Join(conds, " || "), dst)
}
