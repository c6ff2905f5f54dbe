package collector

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/couchcryptid/pps-runner/internal/domain"
)

var (
	ErrAmbiguousTimeControl = errors.New("more than one time control ascii file candidate found - unresolved ambiguity")
	ErrNoTimeControl        = errors.New("no time control ascii file candidate found")
)

// timeControlWindow is how far, in whole minutes, a time-control file start
// may be from the scene start.
const timeControlWindow = 1

// FindTimeControlFile returns the single time-control file written for s.
func FindTimeControlFile(s domain.Scene, dir string) (string, error) {
	candidates, err := TimeControlCandidates(s, dir)
	if err != nil {
		return "", err
	}
	switch len(candidates) {
	case 0:
		return "", ErrNoTimeControl
	case 1:
		return candidates[0], nil
	}
	return "", fmt.Errorf("%w: %v", ErrAmbiguousTimeControl, candidates)
}

// TimeControlCandidates lists time-control files in dir that may belong to
// s. Orbits one off, and orbit 00000 used for MODIS, are accepted.
func TimeControlCandidates(s domain.Scene, dir string) ([]string, error) {
	pattern := filepath.Join(dir, fmt.Sprintf("S_NWC_timectrl_%s_*.txt", s.LetterCode))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}

	var out []string
	for _, m := range matches {
		rf, err := parseResultName(m)
		if err != nil {
			continue
		}
		if !orbitAccepted(rf.Orbit, s.OrbitNumber) {
			continue
		}
		if minutesApart(rf.Start, s.StartTime) > timeControlWindow {
			continue
		}
		out = append(out, m)
	}
	slices.Sort(out)
	return out, nil
}

func orbitAccepted(found, want int) bool {
	if found == 0 {
		return true
	}
	d := found - want
	return d >= -1 && d <= 1
}

// FindStatisticsFiles lists the product statistics files for s whose start
// lies within window of the scene start, compared at minute resolution.
func FindStatisticsFiles(s domain.Scene, dir string, window time.Duration) ([]string, error) {
	pattern := filepath.Join(dir, fmt.Sprintf("S_NWC_*_%s_*_statistics.xml", s.LetterCode))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}

	limit := int(window / time.Minute)
	var out []string
	for _, m := range matches {
		rf, err := parseResultName(m)
		if err != nil {
			continue
		}
		if minutesApart(rf.Start, s.StartTime) <= limit {
			out = append(out, m)
		}
	}
	slices.Sort(out)
	return out, nil
}
