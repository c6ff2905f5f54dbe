package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MessageType is the shape of an inbound notification.
type MessageType string

const (
	MessageFile       MessageType = "file"
	MessageDataset    MessageType = "dataset"
	MessageCollection MessageType = "collection"
)

// DefaultOrbitNumber is used when a notification carries no orbit number,
// e.g. for geostationary segments.
const DefaultOrbitNumber = 99999

// HostHeader is the message header naming the host that sent a notification.
const HostHeader = "host"

// FileRef points at one file of a notification.
type FileRef struct {
	URI string `json:"uri"`
	UID string `json:"uid"`
}

// Notification is an inbound "file has landed" message.
type Notification struct {
	Type                MessageType
	PlatformName        string
	Sensors             []string
	StartTime           time.Time
	EndTime             time.Time
	OrbitNumber         int
	URI                 string
	UID                 string
	Dataset             []FileRef
	Collection          [][]FileRef
	Destination         string
	DataProcessingLevel string
	Variant             string
	Host                string
}

// Sensor returns the first declared sensor. Multi-sensor messages are
// processed under their leading sensor.
func (n Notification) Sensor() string {
	if len(n.Sensors) == 0 {
		return ""
	}
	return n.Sensors[0]
}

// Files flattens the notification into the file references it announces.
func (n Notification) Files() []FileRef {
	switch n.Type {
	case MessageFile:
		if n.URI == "" && n.UID == "" {
			return nil
		}
		return []FileRef{{URI: n.URI, UID: n.UID}}
	case MessageDataset:
		return n.Dataset
	case MessageCollection:
		var out []FileRef
		for _, ds := range n.Collection {
			out = append(out, ds...)
		}
		return out
	}
	return nil
}

// Key returns the scene key the notification belongs to.
func (n Notification) Key() SceneKey {
	return NewSceneKey(n.PlatformName, n.OrbitNumber, n.StartTime)
}

type wireNotification struct {
	Type                string           `json:"type"`
	PlatformName        string           `json:"platform_name"`
	Sensor              json.RawMessage  `json:"sensor"`
	StartTime           string           `json:"start_time"`
	EndTime             string           `json:"end_time"`
	OrbitNumber         *int             `json:"orbit_number"`
	URI                 string           `json:"uri"`
	UID                 string           `json:"uid"`
	Dataset             []FileRef        `json:"dataset"`
	Collection          []wireCollection `json:"collection"`
	Destination         string           `json:"destination"`
	DataProcessingLevel string           `json:"data_processing_level"`
	Variant             string           `json:"variant"`
}

type wireCollection struct {
	Dataset []FileRef `json:"dataset"`
}

// ParseNotification decodes a raw bus message into a Notification and checks
// that the fields every scene needs are present.
func ParseNotification(raw RawEvent) (Notification, error) {
	var w wireNotification
	if err := json.Unmarshal(raw.Value, &w); err != nil {
		return Notification{}, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}

	n := Notification{
		Type:                MessageType(w.Type),
		PlatformName:        w.PlatformName,
		OrbitNumber:         DefaultOrbitNumber,
		URI:                 w.URI,
		UID:                 w.UID,
		Dataset:             w.Dataset,
		Destination:         w.Destination,
		DataProcessingLevel: w.DataProcessingLevel,
		Variant:             w.Variant,
		Host:                raw.Headers[HostHeader],
	}
	if w.OrbitNumber != nil {
		n.OrbitNumber = *w.OrbitNumber
	}
	for _, c := range w.Collection {
		n.Collection = append(n.Collection, c.Dataset)
	}

	sensors, err := parseSensors(w.Sensor)
	if err != nil {
		return Notification{}, fmt.Errorf("%w: sensor: %w", ErrMalformedMessage, err)
	}
	n.Sensors = sensors

	if n.PlatformName == "" {
		return Notification{}, fmt.Errorf("%w: platform_name", ErrMissingField)
	}
	if len(n.Sensors) == 0 {
		return Notification{}, fmt.Errorf("%w: sensor", ErrMissingField)
	}
	if w.StartTime == "" {
		return Notification{}, fmt.Errorf("%w: start_time", ErrMissingField)
	}
	if n.StartTime, err = ParseTimestamp(w.StartTime); err != nil {
		return Notification{}, fmt.Errorf("%w: start_time: %w", ErrMalformedMessage, err)
	}
	if w.EndTime != "" {
		if n.EndTime, err = ParseTimestamp(w.EndTime); err != nil {
			return Notification{}, fmt.Errorf("%w: end_time: %w", ErrMalformedMessage, err)
		}
	}
	return n, nil
}

// parseSensors accepts either a single sensor name or a list of names.
func parseSensors(data json.RawMessage) ([]string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	if data[0] == '[' {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return nil, err
	}
	if one == "" {
		return nil, nil
	}
	return []string{one}, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an RFC 3339 timestamp or a zone-less ISO timestamp,
// which is taken to be UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
