package collector

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"time"
)

// resultName matches S_NWC_<product>_<platform>_<orbit>_<start>Z_<end>Z...
var resultName = regexp.MustCompile(`^S_NWC_(.+?)_([a-z0-9]+)_(\d{5})_(\d{8}T\d{6,7})Z_(\d{8}T\d{6,7})Z`)

// resultFile holds the fields encoded in a result file name.
type resultFile struct {
	Product  string
	Platform string
	Orbit    int
	Start    time.Time
	End      time.Time
}

func parseResultName(path string) (resultFile, error) {
	base := filepath.Base(path)
	m := resultName.FindStringSubmatch(base)
	if m == nil {
		return resultFile{}, fmt.Errorf("not a result file name: %s", base)
	}
	orbit, err := strconv.Atoi(m[3])
	if err != nil {
		return resultFile{}, fmt.Errorf("orbit in %s: %w", base, err)
	}
	start, err := parseStamp(m[4])
	if err != nil {
		return resultFile{}, fmt.Errorf("start time in %s: %w", base, err)
	}
	end, err := parseStamp(m[5])
	if err != nil {
		return resultFile{}, fmt.Errorf("end time in %s: %w", base, err)
	}
	return resultFile{Product: m[1], Platform: m[2], Orbit: orbit, Start: start, End: end}, nil
}

// parseStamp reads YYYYmmddTHHMMSS with an optional tenths digit.
func parseStamp(s string) (time.Time, error) {
	t, err := time.Parse("20060102T150405", s[:15])
	if err != nil {
		return time.Time{}, err
	}
	if len(s) == 16 {
		t = t.Add(time.Duration(s[15]-'0') * 100 * time.Millisecond)
	}
	return t.UTC(), nil
}

// minutesApart compares two times at minute resolution.
func minutesApart(a, b time.Time) int {
	d := a.Truncate(time.Minute).Sub(b.Truncate(time.Minute))
	if d < 0 {
		d = -d
	}
	return int(d / time.Minute)
}
