package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/pps-runner/internal/collector"
	"github.com/couchcryptid/pps-runner/internal/domain"
	"github.com/couchcryptid/pps-runner/internal/nwp"
	"github.com/couchcryptid/pps-runner/internal/observability"
	"github.com/google/uuid"
)

// Processor runs the external processing programs for a scene.
type Processor interface {
	Run(ctx context.Context, s domain.Scene) error
}

// NWPPreparer brings the NWP output directory up to date.
type NWPPreparer interface {
	Run(ctx context.Context) (nwp.Summary, error)
}

// ResultCollector finds the result files of a scene and describes them.
type ResultCollector interface {
	Collect(s domain.Scene, dir string) ([]string, error)
	Notifications(s domain.Scene, files []string, opts collector.PublishOptions) []domain.OutboundNotification
}

// Archiver copies result files to shared storage and returns their URIs.
type Archiver interface {
	PutAll(ctx context.Context, paths []string) (map[string]string, error)
}

// JobConfig holds the directories and publishing metadata of a scene job.
type JobConfig struct {
	OutputDir        string
	StatisticsDir    string
	StatisticsWindow time.Duration
	ServerName       string
	Station          string
	Environment      string
}

// SceneJob processes one scene end to end: optional NWP preparation, the
// processing run, result discovery, archiving, and publishing.
// It implements SceneProcessor.
type SceneJob struct {
	processor Processor
	collector ResultCollector
	loader    Loader
	nwp       NWPPreparer
	archive   Archiver
	cfg       JobConfig
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// JobOption configures optional SceneJob collaborators.
type JobOption func(*SceneJob)

// WithNWP runs the NWP preparation before every processing run.
func WithNWP(p NWPPreparer) JobOption {
	return func(j *SceneJob) { j.nwp = p }
}

// WithArchive mirrors result files and publishes the archive URIs.
func WithArchive(a Archiver) JobOption {
	return func(j *SceneJob) { j.archive = a }
}

// NewSceneJob creates a SceneJob.
func NewSceneJob(p Processor, c ResultCollector, l Loader, cfg JobConfig, logger *slog.Logger, metrics *observability.Metrics, opts ...JobOption) *SceneJob {
	j := &SceneJob{
		processor: p,
		collector: c,
		loader:    l,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Process runs the scene. A failed processing run is returned but the result
// files it did write are still collected and published.
func (j *SceneJob) Process(ctx context.Context, s domain.Scene) error {
	logger := j.logger.With("job_id", uuid.NewString(), "scene_id", s.Key.ID())
	logger.Info("scene job started",
		"platform", s.PlatformName,
		"orbit", s.OrbitNumber,
		"input", s.InputFile,
	)

	if j.nwp != nil {
		sum, err := j.nwp.Run(ctx)
		if err != nil {
			logger.Warn("nwp preparation failed, processing anyway", "error", err)
		} else {
			logger.Info("nwp preparation done",
				"published", sum.Published,
				"skipped", sum.Skipped,
				"discarded", sum.Discarded,
				"failed", sum.Failed,
			)
		}
	}

	runErr := j.processor.Run(ctx, s)
	if runErr != nil {
		logger.Error("processing failed", "error", runErr)
	}
	if ctx.Err() != nil {
		return errors.Join(runErr, ctx.Err())
	}

	files, err := j.results(s, logger)
	if err != nil {
		return errors.Join(runErr, err)
	}
	if len(files) == 0 {
		logger.Warn("no result files found", "dir", j.cfg.OutputDir)
		return runErr
	}

	opts := collector.PublishOptions{
		ServerName:  j.cfg.ServerName,
		Station:     j.cfg.Station,
		Environment: j.cfg.Environment,
	}
	if j.archive != nil {
		archived, err := j.archive.PutAll(ctx, files)
		if err != nil {
			logger.Error("archiving results failed, publishing local paths", "error", err)
		}
		opts.Archived = archived
	}

	notifications := j.collector.Notifications(s, files, opts)
	if err := j.loader.Load(ctx, notifications); err != nil {
		return errors.Join(runErr, fmt.Errorf("publish results: %w", err))
	}
	j.metrics.ResultsPublished.Add(float64(len(notifications)))
	logger.Info("results published", "count", len(notifications))
	return runErr
}

// results gathers the level-2 files and statistics of the scene.
func (j *SceneJob) results(s domain.Scene, logger *slog.Logger) ([]string, error) {
	files, err := j.collector.Collect(s, j.cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("collect results: %w", err)
	}

	if j.cfg.StatisticsDir == "" {
		return files, nil
	}
	stats, err := collector.FindStatisticsFiles(s, j.cfg.StatisticsDir, j.cfg.StatisticsWindow)
	if err != nil {
		logger.Warn("statistics lookup failed", "error", err, "dir", j.cfg.StatisticsDir)
	}
	files = append(files, stats...)

	tc, err := collector.FindTimeControlFile(s, j.cfg.StatisticsDir)
	switch {
	case err == nil:
		logger.Debug("time control file found", "path", tc)
	case errors.Is(err, collector.ErrAmbiguousTimeControl):
		logger.Warn("time control file ambiguous", "error", err)
	default:
		logger.Debug("no time control file", "error", err)
	}
	return files, nil
}
