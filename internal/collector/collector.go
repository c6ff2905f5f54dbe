// Package collector finds the result files of a processed scene and turns
// them into outbound notifications.
package collector

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/pps-runner/internal/domain"
	"github.com/jonboulle/clockwork"
)

// DefaultMaxAge is how old a result file may be and still belong to the
// scene that was just processed.
const DefaultMaxAge = 90 * time.Minute

// maxOrbitDrift bounds the orbit numbers tried when the exact one yields
// nothing.
const maxOrbitDrift = 5

var resultExtensions = []string{"h5", "nc", "xml"}

// Options tunes result discovery.
type Options struct {
	MaxAge time.Duration
	// MatchStartTime adds the scene start minute to the search pattern.
	MatchStartTime bool
}

// Collector discovers result files on disk.
type Collector struct {
	clock  clockwork.Clock
	logger *slog.Logger
	opts   Options
}

// New creates a Collector. A zero MaxAge means DefaultMaxAge.
func New(clock clockwork.Clock, logger *slog.Logger, opts Options) *Collector {
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	return &Collector{clock: clock, logger: logger, opts: opts}
}

// Collect returns the fresh result files for s in dir. When the exact orbit
// has none, neighbouring orbits are tried nearest first.
func (c *Collector) Collect(s domain.Scene, dir string) ([]string, error) {
	for _, orbit := range orbitCandidates(s.OrbitNumber) {
		files, err := c.collectOrbit(s, dir, orbit)
		if err != nil {
			return nil, err
		}
		if len(files) > 0 {
			if orbit != s.OrbitNumber {
				c.logger.Warn("result files found under a different orbit number",
					"scene_id", s.Key.ID(), "orbit", s.OrbitNumber, "found_orbit", orbit)
			}
			return files, nil
		}
	}
	c.logger.Warn("no result files found", "scene_id", s.Key.ID(), "dir", dir)
	return nil, nil
}

func (c *Collector) collectOrbit(s domain.Scene, dir string, orbit int) ([]string, error) {
	var start string
	if c.opts.MatchStartTime {
		start = s.StartTime.UTC().Format("20060102T1504")
	}

	var fresh []string
	for _, ext := range resultExtensions {
		pattern := filepath.Join(dir, fmt.Sprintf("S_NWC_*_%s_%05d_%s*.%s", s.LetterCode, orbit, start, ext))
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		for _, m := range matches {
			if c.isFresh(m) {
				fresh = append(fresh, m)
			}
		}
	}
	slices.Sort(fresh)
	return fresh, nil
}

func (c *Collector) isFresh(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if c.clock.Since(info.ModTime()) >= c.opts.MaxAge {
		c.logger.Info("found old result file, ignoring", "path", path, "mtime", info.ModTime())
		return false
	}
	return true
}

// orbitCandidates returns orbit, orbit+1, orbit-1, ... up to the drift limit.
func orbitCandidates(orbit int) []int {
	out := []int{orbit}
	for d := 1; d <= maxOrbitDrift; d++ {
		out = append(out, orbit+d)
		if orbit-d >= 0 {
			out = append(out, orbit-d)
		}
	}
	return out
}

// PublishOptions describes where results are announced from.
type PublishOptions struct {
	ServerName  string
	Station     string
	Environment string
	// Archived maps local paths to the URI of their archived copy.
	Archived map[string]string
}

type fileFormat struct {
	format string
	typ    string
}

var formats = map[string]fileFormat{
	".xml": {format: "PPS-XML", typ: "XML"},
	".nc":  {format: "CF", typ: "netCDF4"},
	".h5":  {format: "PPS", typ: "HDF5"},
}

// Notifications builds one outbound notification per result file. Files
// with an unknown extension are skipped.
func (c *Collector) Notifications(s domain.Scene, files []string, opts PublishOptions) []domain.OutboundNotification {
	now := c.clock.Now().UTC()
	out := make([]domain.OutboundNotification, 0, len(files))
	for _, path := range files {
		ff, ok := formats[strings.ToLower(filepath.Ext(path))]
		if !ok {
			c.logger.Debug("skipping result file with unknown format", "path", path)
			continue
		}

		start, end := s.StartTime, s.EndTime
		if rf, err := parseResultName(path); err == nil {
			start, end = rf.Start, rf.End
		} else {
			c.logger.Warn("could not read times from result file name", "path", path, "error", err)
		}

		uri, archived := opts.Archived[path]
		if !archived {
			uri = (&url.URL{Scheme: "ssh", Host: opts.ServerName, Path: path}).String()
		}

		out = append(out, domain.OutboundNotification{
			Subject:             subject(ff.format, opts.Station, opts.Environment),
			URI:                 uri,
			UID:                 filepath.Base(path),
			PlatformName:        s.PlatformName,
			OrbitNumber:         s.OrbitNumber,
			StartTime:           start,
			EndTime:             end,
			Sensor:              slices.Clone(s.Sensors),
			Format:              ff.format,
			Type:                ff.typ,
			DataProcessingLevel: "2",
			Station:             opts.Station,
			Variant:             s.Notification.Variant,
			ProducedAt:          now,
		})
	}
	return out
}

func subject(format, station, environment string) string {
	return "/" + format + "/2/" + station + "/" + environment + "/polar/direct_readout/"
}
