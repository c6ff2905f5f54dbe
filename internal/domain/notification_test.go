package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotification(t *testing.T) {
	t.Run("file message with sensor list", func(t *testing.T) {
		raw := RawEvent{
			Value: []byte(`{"type":"file","platform_name":"NOAA-19","sensor":["avhrr/3","amsu-a"],
				"start_time":"2024-04-26T12:00:05","end_time":"2024-04-26T12:12:00",
				"orbit_number":46878,"uri":"ssh://recv1/data/hrpt_noaa19_20240426_1200_46878.l1b","uid":"hrpt_noaa19_20240426_1200_46878.l1b"}`),
			Headers: map[string]string{"host": "recv1"},
		}

		n, err := ParseNotification(raw)
		require.NoError(t, err)
		assert.Equal(t, MessageFile, n.Type)
		assert.Equal(t, "avhrr/3", n.Sensor())
		assert.Equal(t, 46878, n.OrbitNumber)
		assert.Equal(t, time.Date(2024, 4, 26, 12, 0, 5, 0, time.UTC), n.StartTime)
		assert.Equal(t, "recv1", n.Host)
		require.Len(t, n.Files(), 1)
		assert.Equal(t, "hrpt_noaa19_20240426_1200_46878.l1b", n.Files()[0].UID)
	})

	t.Run("missing orbit defaults to sentinel", func(t *testing.T) {
		raw := RawEvent{Value: []byte(`{"type":"dataset","platform_name":"Meteosat-11","sensor":"seviri",
			"start_time":"2024-04-26T12:00:00Z","dataset":[{"uri":"/data/a","uid":"a"}]}`)}

		n, err := ParseNotification(raw)
		require.NoError(t, err)
		assert.Equal(t, DefaultOrbitNumber, n.OrbitNumber)
		assert.Len(t, n.Files(), 1)
	})

	t.Run("collection is flattened", func(t *testing.T) {
		raw := RawEvent{Value: []byte(`{"type":"collection","platform_name":"NOAA-20","sensor":"viirs",
			"start_time":"2024-04-26T12:00:00","orbit_number":3300,
			"collection":[{"dataset":[{"uri":"/d/1","uid":"1"},{"uri":"/d/2","uid":"2"}]},{"dataset":[{"uri":"/d/3","uid":"3"}]}]}`)}

		n, err := ParseNotification(raw)
		require.NoError(t, err)
		assert.Len(t, n.Files(), 3)
	})

	t.Run("missing platform", func(t *testing.T) {
		_, err := ParseNotification(RawEvent{Value: []byte(`{"type":"file","sensor":"viirs","start_time":"2024-04-26T12:00:00"}`)})
		require.ErrorIs(t, err, ErrMissingField)
		assert.True(t, IsRejection(err))
	})

	t.Run("missing start time", func(t *testing.T) {
		_, err := ParseNotification(RawEvent{Value: []byte(`{"type":"file","platform_name":"NOAA-19","sensor":"avhrr/3"}`)})
		require.ErrorIs(t, err, ErrMissingField)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := ParseNotification(RawEvent{Value: []byte(`{not json`)})
		require.ErrorIs(t, err, ErrMalformedMessage)
		assert.Equal(t, "malformed", RejectionReason(err))
	})
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 4, 26, 12, 0, 5, 500000000, time.UTC)
	for _, s := range []string{
		"2024-04-26T12:00:05.5",
		"2024-04-26T12:00:05.5Z",
		"2024-04-26T14:00:05.5+02:00",
		"2024-04-26 12:00:05.5",
	} {
		got, err := ParseTimestamp(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), s)
	}

	_, err := ParseTimestamp("yesterday")
	assert.Error(t, err)
}
