package domain

import (
	"context"
	"time"
)

// RawEvent represents an unprocessed message from the source topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// OutboundNotification announces one result file produced for a scene.
type OutboundNotification struct {
	// Subject is the routing path derived from format, level, station and
	// environment, e.g. "/CF/2/norrkoping/offline/polar/direct_readout/".
	Subject string `json:"-"`

	URI                 string    `json:"uri"`
	UID                 string    `json:"uid"`
	PlatformName        string    `json:"platform_name"`
	OrbitNumber         int       `json:"orbit_number"`
	StartTime           time.Time `json:"start_time"`
	EndTime             time.Time `json:"end_time"`
	Sensor              []string  `json:"sensor,omitempty"`
	Format              string    `json:"format"`
	Type                string    `json:"type"`
	DataProcessingLevel string    `json:"data_processing_level"`
	Station             string    `json:"station,omitempty"`
	Variant             string    `json:"variant,omitempty"`
	ProducedAt          time.Time `json:"produced_at"`
}
