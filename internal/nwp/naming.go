package nwp

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/pps-runner/internal/config"
)

// fileTime is the analysis time and forecast step encoded in a file name.
type fileTime struct {
	Analysis time.Time
	Step     int // hours
}

// naming reads times from input file names and locates companion files.
type naming interface {
	parse(base string, now time.Time) (fileTime, error)
	companion(base string) string
}

func newNaming(cfg config.NWPConfig) (naming, error) {
	switch cfg.Naming {
	case config.NamingStep, "":
		return stepNaming{cfg: cfg}, nil
	case config.NamingForecastTime:
		return forecastTimeNaming{cfg: cfg}, nil
	}
	return nil, fmt.Errorf("unknown nwp naming %q", cfg.Naming)
}

// stepNaming handles <prefix>..._<YYYYmmddHHMM>+<SSS>H<MM>M.
type stepNaming struct {
	cfg config.NWPConfig
}

func (n stepNaming) timeInfo(base string) string {
	return base[strings.LastIndex(base, "_")+1:]
}

func (n stepNaming) parse(base string, _ time.Time) (fileTime, error) {
	stamp, step, ok := strings.Cut(n.timeInfo(base), "+")
	if !ok || len(step) < 3 {
		return fileTime{}, fmt.Errorf("no analysis+step in %s", base)
	}
	analysis, err := time.Parse("200601021504", stamp)
	if err != nil {
		return fileTime{}, fmt.Errorf("analysis time in %s: %w", base, err)
	}
	hours, err := strconv.Atoi(step[:3])
	if err != nil {
		return fileTime{}, fmt.Errorf("forecast step in %s: %w", base, err)
	}
	return fileTime{Analysis: analysis, Step: hours}, nil
}

func (n stepNaming) companion(base string) string {
	return filepath.Join(n.cfg.CompanionDir, n.cfg.CompanionPrefix+n.timeInfo(base))
}

// forecastTimeNaming handles <prefix><mmddHHMM><mmddHHMM><suffix>, where
// the first stamp is the analysis time and the second the forecast time.
// The year is not part of the name.
type forecastTimeNaming struct {
	cfg config.NWPConfig
}

func (n forecastTimeNaming) parse(base string, now time.Time) (fileTime, error) {
	rest := strings.TrimPrefix(base, n.cfg.InputPrefix)
	if len(rest) < 16 {
		return fileTime{}, fmt.Errorf("no analysis and forecast time in %s", base)
	}
	analysis, err := time.Parse("01021504", rest[:8])
	if err != nil {
		return fileTime{}, fmt.Errorf("analysis time in %s: %w", base, err)
	}
	forecast, err := time.Parse("01021504", rest[8:16])
	if err != nil {
		return fileTime{}, fmt.Errorf("forecast time in %s: %w", base, err)
	}

	// December analyses seen in January belong to last year, and a
	// January forecast from a December analysis to the next one.
	year := now.UTC().Year()
	if now.UTC().Month() == time.January && analysis.Month() == time.December {
		year--
	}
	analysis = analysis.AddDate(year-analysis.Year(), 0, 0)
	fyear := year
	if analysis.Month() == time.December && forecast.Month() == time.January {
		fyear++
	}
	forecast = forecast.AddDate(fyear-forecast.Year(), 0, 0)

	if forecast.Before(analysis) {
		return fileTime{}, fmt.Errorf("forecast before analysis in %s", base)
	}
	return fileTime{Analysis: analysis, Step: int(forecast.Sub(analysis) / time.Hour)}, nil
}

func (n forecastTimeNaming) companion(base string) string {
	return filepath.Join(n.cfg.CompanionDir, n.cfg.CompanionPrefix+strings.TrimPrefix(base, n.cfg.InputPrefix))
}

// outputName is <prefix><YYYYmmddHHMM>+<step>H00M.
func outputName(prefix string, ft fileTime) string {
	return fmt.Sprintf("%s%s+%03dH00M", prefix, ft.Analysis.Format("200601021504"), ft.Step)
}
