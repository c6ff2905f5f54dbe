package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/pps-runner/internal/dispatch"
	"github.com/couchcryptid/pps-runner/internal/domain"
	"github.com/couchcryptid/pps-runner/internal/observability"
	"github.com/couchcryptid/pps-runner/internal/scene"
	"github.com/couchcryptid/storm-data-shared/retry"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Extractor reads the next raw notification from the source.
type Extractor interface {
	Extract(ctx context.Context) (domain.RawEvent, error)
}

// Loader writes outbound notifications to the destination.
type Loader interface {
	Load(ctx context.Context, notifications []domain.OutboundNotification) error
}

// Assembler collects notifications into complete scenes.
type Assembler interface {
	Update(ctx context.Context, n domain.Notification) (*domain.Scene, error)
}

// Dispatcher runs at most one job per scene id at a time.
type Dispatcher interface {
	Submit(id string, job dispatch.Job) bool
}

// SceneProcessor handles one complete scene.
type SceneProcessor interface {
	Process(ctx context.Context, s domain.Scene) error
}

// Pipeline is the notification consumer loop. It feeds notifications to the
// assembler and hands every completed scene to the dispatcher.
type Pipeline struct {
	extractor  Extractor
	assembler  Assembler
	dispatcher Dispatcher
	processor  SceneProcessor
	logger     *slog.Logger
	metrics    *observability.Metrics
	ready      atomic.Bool
}

// New creates a Pipeline with the given stages and observability.
func New(e Extractor, a Assembler, d Dispatcher, p SceneProcessor, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		extractor:  e,
		assembler:  a,
		dispatcher: d,
		processor:  p,
		logger:     logger,
		metrics:    metrics,
	}
}

// CheckReadiness returns nil while the consumer loop is running.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("notification consumer is not running")
	}
	return nil
}

// Run consumes notifications until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started")
	p.metrics.PipelineRunning.Set(1)
	p.ready.Store(true)
	defer func() {
		p.ready.Store(false)
		p.metrics.PipelineRunning.Set(0)
	}()

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		}

		raw, err := p.extractor.Extract(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("pipeline stopping", "reason", ctx.Err())
				return nil
			}
			p.logger.Error("extract failed", "error", err)
			if !p.backoffOrStop(ctx, &backoff) {
				return nil
			}
			continue
		}
		backoff = initialBackoff

		p.metrics.NotificationsConsumed.Inc()
		p.handle(ctx, raw)
		p.commitOffset(ctx, raw)
	}
}

// handle runs one notification through the assembler. Every outcome is final
// for this message; the offset is committed afterwards either way.
func (p *Pipeline) handle(ctx context.Context, raw domain.RawEvent) {
	n, err := domain.ParseNotification(raw)
	if err != nil {
		p.reject(raw, err)
		return
	}

	s, err := p.assembler.Update(ctx, n)
	switch {
	case errors.Is(err, scene.ErrSceneIncomplete):
		return
	case errors.Is(err, scene.ErrFileNotLocal):
		p.logger.Warn("data not accessible from this host, skipping", "error", err, "platform", n.PlatformName)
		p.metrics.NotificationsRejected.WithLabelValues("not_local").Inc()
		return
	case domain.IsRejection(err):
		p.reject(raw, err)
		return
	case err != nil:
		p.logger.Error("scene assembly failed", "error", err, "platform", n.PlatformName, "offset", raw.Offset)
		return
	}

	job := *s
	p.dispatcher.Submit(job.Key.ID(), func(ctx context.Context) error {
		return p.processor.Process(ctx, job)
	})
}

func (p *Pipeline) reject(raw domain.RawEvent, err error) {
	reason := domain.RejectionReason(err)
	if reason == "" {
		reason = "invalid"
	}
	p.logger.Warn("notification rejected",
		"error", err,
		"reason", reason,
		"topic", raw.Topic,
		"partition", raw.Partition,
		"offset", raw.Offset,
	)
	p.metrics.NotificationsRejected.WithLabelValues(reason).Inc()
}

// backoffOrStop sleeps with the current backoff and advances it. Returns
// false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !retry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = retry.NextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}
