// Package scene accumulates file notifications into complete satellite
// passes.
package scene

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/couchcryptid/pps-runner/internal/domain"
	"github.com/couchcryptid/pps-runner/internal/observability"
	"github.com/jonboulle/clockwork"
)

var (
	// ErrSceneIncomplete means the notification was accepted but the scene
	// still waits for more files.
	ErrSceneIncomplete = errors.New("scene incomplete")
	// ErrFileNotLocal means a file lives on another host and is not
	// reachable from this one.
	ErrFileNotLocal = errors.New("file not locally accessible")
)

// LocalityChecker reports whether a host is the machine the runner is on.
type LocalityChecker interface {
	IsLocal(ctx context.Context, host string) (bool, error)
}

type pendingScene struct {
	key   domain.SceneKey
	since time.Time
	files []domain.FileDescriptor
}

func (p *pendingScene) add(f domain.FileDescriptor) {
	for _, existing := range p.files {
		if existing.Path == f.Path {
			return
		}
	}
	p.files = append(p.files, f)
}

// Assembler groups notifications by scene key until the platform's rules
// declare the scene complete.
type Assembler struct {
	registry *domain.Registry
	locality LocalityChecker
	logger   *slog.Logger
	metrics  *observability.Metrics
	stat     func(string) (os.FileInfo, error)
	clock    clockwork.Clock
	ttl      time.Duration

	mu      sync.Mutex
	pending []*pendingScene
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithPendingTTL drops scenes that are still incomplete ttl after their first
// file arrived. Zero keeps them until they complete.
func WithPendingTTL(clock clockwork.Clock, ttl time.Duration) Option {
	return func(a *Assembler) {
		a.clock = clock
		a.ttl = ttl
	}
}

// New creates an Assembler. A nil locality checker treats every host as local.
func New(registry *domain.Registry, locality LocalityChecker, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Assembler {
	a := &Assembler{
		registry: registry,
		locality: locality,
		logger:   logger,
		metrics:  metrics,
		stat:     os.Stat,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Update adds the files of n to their scene. It returns the completed scene
// once the platform's readiness rule holds, ErrSceneIncomplete while more
// files are expected, ErrFileNotLocal for unreachable files, or a domain
// rejection for notifications that are not processed at all.
func (a *Assembler) Update(ctx context.Context, n domain.Notification) (*domain.Scene, error) {
	switch n.Type {
	case domain.MessageFile, domain.MessageDataset, domain.MessageCollection:
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownMessageType, n.Type)
	}

	platform, ok := a.registry.Lookup(n.PlatformName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedPlatform, n.PlatformName)
	}

	sensor := n.Sensor()
	if !platform.Processes(sensor) {
		return nil, fmt.Errorf("%w: %s for %s", domain.ErrSensorNotNeeded, sensor, platform.Name)
	}
	if err := a.checkLevel(n, sensor); err != nil {
		return nil, err
	}

	refs := n.Files()
	if len(refs) == 0 {
		return nil, domain.ErrEmptyDataset
	}

	a.checkSender(ctx, n)

	files := make([]domain.FileDescriptor, 0, len(refs))
	for _, ref := range refs {
		f, err := a.resolve(ctx, ref, n.Destination)
		if err != nil {
			return nil, err
		}
		f.Tags = platform.Rules.Tag(f)
		files = append(files, f)
	}

	key := n.Key()
	if platform.Family == domain.FamilyPolarCollection {
		return a.build(key, platform, n, files)
	}

	now := a.clock.Now()
	a.mu.Lock()
	expired := a.expire(now)
	bucket, idx := a.find(key)
	if bucket == nil {
		bucket = &pendingScene{key: key, since: now}
		a.pending = append(a.pending, bucket)
		idx = len(a.pending) - 1
	}
	for _, f := range files {
		bucket.add(f)
	}
	ready := platform.Rules.Ready(bucket.files, n)
	if ready {
		a.pending = append(a.pending[:idx], a.pending[idx+1:]...)
	}
	count := len(bucket.files)
	a.metrics.ScenesPending.Set(float64(len(a.pending)))
	a.mu.Unlock()
	a.logExpired(expired, now)

	if !ready {
		a.logger.Debug("not enough files yet", "scene_id", key.ID(), "files", count, "family", platform.Family.String())
		return nil, ErrSceneIncomplete
	}
	return a.build(bucket.key, platform, n, bucket.files)
}

// Pending returns the ids of scenes still waiting for files.
func (a *Assembler) Pending() []string {
	now := a.clock.Now()
	a.mu.Lock()
	expired := a.expire(now)
	ids := make([]string, 0, len(a.pending))
	for _, p := range a.pending {
		ids = append(ids, p.key.ID())
	}
	a.mu.Unlock()
	a.logExpired(expired, now)
	return ids
}

// expire removes pending scenes older than the TTL and returns them. The
// caller must hold a.mu.
func (a *Assembler) expire(now time.Time) []*pendingScene {
	if a.ttl <= 0 {
		return nil
	}
	var expired []*pendingScene
	kept := a.pending[:0]
	for _, p := range a.pending {
		if now.Sub(p.since) < a.ttl {
			kept = append(kept, p)
			continue
		}
		expired = append(expired, p)
	}
	clear(a.pending[len(kept):])
	a.pending = kept
	if len(expired) > 0 {
		a.metrics.ScenesExpired.Add(float64(len(expired)))
		a.metrics.ScenesPending.Set(float64(len(a.pending)))
	}
	return expired
}

func (a *Assembler) logExpired(expired []*pendingScene, now time.Time) {
	for _, p := range expired {
		a.logger.Warn("dropping incomplete scene",
			"scene_id", p.key.ID(),
			"files", len(p.files),
			"waited", now.Sub(p.since),
		)
	}
}

// find returns the first pending scene whose key matches within tolerance.
// The caller must hold a.mu.
func (a *Assembler) find(key domain.SceneKey) (*pendingScene, int) {
	for i, p := range a.pending {
		if p.key.Equal(key) {
			return p, i
		}
	}
	return nil, -1
}

func (a *Assembler) build(key domain.SceneKey, platform domain.Platform, n domain.Notification, files []domain.FileDescriptor) (*domain.Scene, error) {
	input, ok := platform.Rules.SelectInput(files)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoInputFile, key.ID())
	}
	s := domain.NewScene(key, platform, n, files, input)
	a.metrics.ScenesReady.WithLabelValues(platform.Family.String()).Inc()
	a.logger.Info("scene ready",
		"scene_id", key.ID(),
		"platform", s.PlatformName,
		"orbit", s.OrbitNumber,
		"files", len(files),
		"input", input,
	)
	return &s, nil
}

// checkLevel enforces level 1C for microwave sounder data.
func (a *Assembler) checkLevel(n domain.Notification, sensor string) error {
	if !domain.IsMicrowave(sensor) {
		return nil
	}
	switch n.DataProcessingLevel {
	case "1C":
		return nil
	case "1c":
		a.logger.Warn("data processing level should be upper case", "level", n.DataProcessingLevel, "sensor", sensor)
		return nil
	}
	return fmt.Errorf("%w: %q for %s", domain.ErrWrongProcessingLevel, n.DataProcessingLevel, sensor)
}

// checkSender logs when a notification comes from another host. The file
// check in resolve decides whether the data is usable.
func (a *Assembler) checkSender(ctx context.Context, n domain.Notification) {
	if n.Host == "" || a.locality == nil {
		return
	}
	local, err := a.locality.IsLocal(ctx, n.Host)
	if err != nil {
		a.logger.Warn("could not check sender host, continuing", "host", n.Host, "error", err)
		return
	}
	if !local {
		a.logger.Info("notification sent from another host", "host", n.Host, "platform", n.PlatformName)
	}
}

// resolve maps a file reference to a local path and verifies that it can be
// read from here. Locality lookups that fail are advisory only.
func (a *Assembler) resolve(ctx context.Context, ref domain.FileRef, destination string) (domain.FileDescriptor, error) {
	f := domain.FileDescriptor{URI: ref.URI, UID: ref.UID}

	var host string
	u, err := url.Parse(ref.URI)
	switch {
	case err != nil || u.Scheme == "":
		f.Path = ref.URI
	default:
		host = u.Hostname()
		f.Path = u.Path
	}
	if destination != "" && ref.UID != "" {
		f.Path = filepath.Join(destination, ref.UID)
		host = ""
	}
	if f.UID == "" {
		f.UID = filepath.Base(f.Path)
	}

	if host == "" || a.locality == nil {
		return f, nil
	}
	local, err := a.locality.IsLocal(ctx, host)
	if err != nil {
		a.logger.Warn("could not check file location, running anyway", "host", host, "path", f.Path, "error", err)
		return f, nil
	}
	if local {
		return f, nil
	}
	if _, err := a.stat(f.Path); err != nil {
		return f, fmt.Errorf("%w: %s on %s", ErrFileNotLocal, f.Path, host)
	}
	return f, nil
}
