package nwp

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// FieldID identifies a grib field.
type FieldID struct {
	ParamID   int
	Level     int
	LevelType string
}

func (f FieldID) String() string {
	return fmt.Sprintf("%d %d %s", f.ParamID, f.Level, f.LevelType)
}

// Field is one line of the requirement file.
type Field struct {
	ParamID   int
	Name      string
	Level     int
	LevelType string
}

// ID returns the identity triple of f.
func (f Field) ID() FieldID {
	return FieldID{ParamID: f.ParamID, Level: f.Level, LevelType: f.LevelType}
}

// Requirements lists the fields the processing program needs. Wanted
// includes the mandatory fields.
type Requirements struct {
	Mandatory []Field
	Wanted    []Field
}

const mandatoryTag = "M"

// ParseRequirements reads lines of the form
//
//	<tag> <paramId> <name> <level> <levelType>
//
// where tag M marks a mandatory field and the name may contain spaces.
func ParseRequirements(r io.Reader) (Requirements, error) {
	var req Requirements
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens := strings.Fields(line)
		if len(tokens) < 5 {
			return Requirements{}, fmt.Errorf("requirements line %d: want tag, paramId, name, level and level type: %q", lineNo, line)
		}
		paramID, err := strconv.Atoi(tokens[1])
		if err != nil {
			return Requirements{}, fmt.Errorf("requirements line %d: paramId: %w", lineNo, err)
		}
		level, err := strconv.Atoi(tokens[len(tokens)-2])
		if err != nil {
			return Requirements{}, fmt.Errorf("requirements line %d: level: %w", lineNo, err)
		}
		f := Field{
			ParamID:   paramID,
			Name:      strings.Join(tokens[2:len(tokens)-2], " "),
			Level:     level,
			LevelType: tokens[len(tokens)-1],
		}
		if tokens[0] == mandatoryTag {
			req.Mandatory = append(req.Mandatory, f)
		}
		req.Wanted = append(req.Wanted, f)
	}
	if err := scanner.Err(); err != nil {
		return Requirements{}, fmt.Errorf("read requirements: %w", err)
	}
	return req, nil
}

// LoadRequirements parses the requirement file at path. A missing file
// yields an error matching fs.ErrNotExist.
func LoadRequirements(path string) (Requirements, error) {
	f, err := os.Open(path)
	if err != nil {
		return Requirements{}, err
	}
	defer f.Close()
	req, err := ParseRequirements(f)
	if err != nil {
		return Requirements{}, fmt.Errorf("%s: %w", path, err)
	}
	return req, nil
}

// present returns the wanted fields found in inventory.
func (r Requirements) present(inventory []FieldID) []Field {
	have := make(map[FieldID]struct{}, len(inventory))
	for _, id := range inventory {
		have[id] = struct{}{}
	}
	var out []Field
	for _, f := range r.Wanted {
		if _, ok := have[f.ID()]; ok {
			out = append(out, f)
		}
	}
	return out
}

// missingMandatory returns the mandatory fields absent from inventory.
func (r Requirements) missingMandatory(inventory []FieldID) []FieldID {
	have := make(map[FieldID]struct{}, len(inventory))
	for _, id := range inventory {
		have[id] = struct{}{}
	}
	var out []FieldID
	for _, f := range r.Mandatory {
		if _, ok := have[f.ID()]; !ok {
			out = append(out, f.ID())
		}
	}
	return out
}
