package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/pps-runner/internal/config"
	"github.com/couchcryptid/pps-runner/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

// Writer announces level-2 results on a Kafka topic.
// It implements pipeline.Loader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// Load publishes the notifications of one scene in a single WriteMessages call.
func (w *Writer) Load(ctx context.Context, notifications []domain.OutboundNotification) error {
	if len(notifications) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(notifications))
	for i := range notifications {
		msg, err := serializeToMessage(notifications[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write notifications: %w", err)
	}
	w.logger.Debug("notifications published", "count", len(msgs))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a notification into a Kafka message keyed by
// the result file name. The routing subject travels as a header.
func serializeToMessage(n domain.OutboundNotification) (kafkago.Message, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize notification: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(n.UID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "subject", Value: []byte(n.Subject)},
			{Key: "format", Value: []byte(n.Format)},
			{Key: "produced_at", Value: []byte(n.ProducedAt.Format(time.RFC3339))},
		},
	}, nil
}
