//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/pps-runner/internal/adapter/kafka"
	"github.com/couchcryptid/pps-runner/internal/collector"
	"github.com/couchcryptid/pps-runner/internal/config"
	"github.com/couchcryptid/pps-runner/internal/dispatch"
	"github.com/couchcryptid/pps-runner/internal/domain"
	"github.com/couchcryptid/pps-runner/internal/observability"
	"github.com/couchcryptid/pps-runner/internal/pipeline"
	"github.com/couchcryptid/pps-runner/internal/runner"
	"github.com/couchcryptid/pps-runner/internal/scene"
	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSourceTopic = "test-level1"
	testSinkTopic   = "test-level2"

	segPRO = "H-000-MSG4__-MSG4________-_________-PRO______-202404261200-__"
	segEPI = "H-000-MSG4__-MSG4________-_________-EPI______-202404261200-__"

	resultName = "S_NWC_CMA_meteosat11_99999_20240426T1200000Z_20240426T1215000Z.nc"
)

// publishedMessage holds a deserialized message read from the sink topic.
type publishedMessage struct {
	Notification domain.OutboundNotification
	Key          string
	Headers      map[string]string
}

func readPublished(ctx context.Context, t *testing.T, consumer *kafkago.Reader) publishedMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from sink topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var n domain.OutboundNotification
	require.NoError(t, json.Unmarshal(msg.Value, &n), "unmarshal sink message")
	return publishedMessage{Notification: n, Key: string(msg.Key), Headers: headers}
}

func seviriDataset(t *testing.T) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"type":          "dataset",
		"platform_name": "Meteosat-11",
		"sensor":        "seviri",
		"start_time":    "2024-04-26T12:00:00",
		"end_time":      "2024-04-26T12:15:00",
		"dataset": []map[string]string{
			{"uri": "/data/" + segPRO, "uid": segPRO},
			{"uri": "/data/" + segEPI, "uid": segEPI},
		},
	})
	require.NoError(t, err)
	return payload
}

func testConfig(broker, group string) *config.Config {
	return &config.Config{
		KafkaBrokers:     []string{broker},
		KafkaSourceTopic: testSourceTopic,
		KafkaSinkTopic:   testSinkTopic,
		KafkaGroupID:     fmt.Sprintf("%s-%d", group, time.Now().UnixNano()),
	}
}

func sinkConsumer(t *testing.T, broker string) *kafkago.Reader {
	t.Helper()
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSinkTopic,
		GroupID:     fmt.Sprintf("test-sink-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })
	return consumer
}

// TestKafkaReaderWriter verifies that kafka.Reader (Extractor) and
// kafka.Writer (Loader) round-trip notifications through Kafka.
func TestKafkaReaderWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)
	cfg := testConfig(broker, "test-reader")

	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testSourceTopic}
	t.Cleanup(func() { _ = producer.Close() })

	payload := seviriDataset(t)
	require.NoError(t, producer.WriteMessages(ctx, kafkago.Message{
		Key:     []byte(segPRO),
		Value:   payload,
		Headers: []kafkago.Header{{Key: domain.HostHeader, Value: []byte("recv1")}},
	}))

	reader := kafka.NewReader(cfg, discardLogger())
	t.Cleanup(func() { _ = reader.Close() })

	raw, err := reader.Extract(ctx)
	require.NoError(t, err)
	assert.Equal(t, payload, raw.Value)
	assert.Equal(t, testSourceTopic, raw.Topic)
	assert.Equal(t, "recv1", raw.Headers[domain.HostHeader])
	require.NotNil(t, raw.Commit, "commit callback should be set")
	require.NoError(t, raw.Commit(ctx))

	n, err := domain.ParseNotification(raw)
	require.NoError(t, err)
	assert.Equal(t, "recv1", n.Host)

	writer := kafka.NewWriter(cfg, discardLogger())
	t.Cleanup(func() { _ = writer.Close() })

	out := domain.OutboundNotification{
		Subject:             "/CF/2/norrkoping/test/polar/direct_readout/",
		URI:                 "ssh://pps-node-1/pps/export/" + resultName,
		UID:                 resultName,
		PlatformName:        "Meteosat-11",
		OrbitNumber:         domain.DefaultOrbitNumber,
		Format:              "CF",
		Type:                "netCDF4",
		DataProcessingLevel: "2",
		ProducedAt:          time.Now().UTC(),
	}
	require.NoError(t, writer.Load(ctx, []domain.OutboundNotification{out}))

	pm := readPublished(ctx, t, sinkConsumer(t, broker))
	assert.Equal(t, resultName, pm.Key)
	assert.Equal(t, out.Subject, pm.Headers["subject"])
	assert.Equal(t, "CF", pm.Headers["format"])
	_, err = time.Parse(time.RFC3339, pm.Headers["produced_at"])
	assert.NoError(t, err, "produced_at should be valid RFC3339")
	assert.Equal(t, out.URI, pm.Notification.URI)
	assert.Equal(t, "Meteosat-11", pm.Notification.PlatformName)
}

// TestPipelineEndToEnd runs a complete scene through the runner: a poison
// pill and a SEVIRI dataset go in, the stand-in processing program writes a
// result file, and exactly one result notification comes out.
func TestPipelineEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSourceTopic)
	createTopic(t, broker, testSinkTopic)
	cfg := testConfig(broker, "test-pipeline")

	outDir := t.TempDir()
	script := filepath.Join(t.TempDir(), "ppsRunAll.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ntouch "+filepath.Join(outDir, resultName)+"\n"), 0o755))

	producer := &kafkago.Writer{Addr: kafkago.TCP(broker), Topic: testSourceTopic}
	t.Cleanup(func() { _ = producer.Close() })
	require.NoError(t, producer.WriteMessages(ctx,
		kafkago.Message{Key: []byte("bad"), Value: []byte("not-json{{{")},
		kafkago.Message{Key: []byte(segPRO), Value: seviriDataset(t)},
	))

	logger := discardLogger()
	metrics := observability.NewMetricsForTesting()
	clock := clockwork.NewRealClock()

	pps, err := runner.NewPPS(config.RunnerConfig{
		RunAllScript:         config.Script{Name: script},
		MaxProcessingMinutes: 1,
		OutputDir:            outDir,
	}, runner.NewExecutor(clock, logger, metrics), logger)
	require.NoError(t, err)

	reader := kafka.NewReader(cfg, logger)
	t.Cleanup(func() { _ = reader.Close() })
	writer := kafka.NewWriter(cfg, logger)
	t.Cleanup(func() { _ = writer.Close() })

	job := pipeline.NewSceneJob(pps, collector.New(clock, logger, collector.Options{}), writer, pipeline.JobConfig{
		OutputDir:   outDir,
		ServerName:  "pps-node-1",
		Station:     "norrkoping",
		Environment: "test",
	}, logger, metrics)
	assembler := scene.New(domain.NewRegistry(domain.RegistryOptions{}), nil, logger, metrics)
	dispatcher := dispatch.New(2, logger, metrics)
	p := pipeline.New(reader, assembler, dispatcher, job, logger, metrics)

	pipelineCtx, pipelineCancel := context.WithCancel(ctx)
	dispatcher.Start(pipelineCtx)
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(pipelineCtx) }()

	consumer := sinkConsumer(t, broker)
	pm := readPublished(ctx, t, consumer)
	assert.Equal(t, resultName, pm.Key)
	assert.Equal(t, "/CF/2/norrkoping/test/polar/direct_readout/", pm.Headers["subject"])
	assert.Equal(t, "ssh://pps-node-1"+filepath.Join(outDir, resultName), pm.Notification.URI)
	assert.Equal(t, "Meteosat-11", pm.Notification.PlatformName)
	assert.Equal(t, time.Date(2024, time.April, 26, 12, 0, 0, 0, time.UTC), pm.Notification.StartTime)

	// The poison pill must not have produced anything.
	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	_, err = consumer.ReadMessage(readCtx)
	readCancel()
	assert.Error(t, err, "expected no second message on sink topic")

	pipelineCancel()
	require.NoError(t, <-errCh)
	dispatcher.Close()
}
