package domain

import "errors"

// Rejections. A notification that fails with one of these is logged and
// dropped; it is never retried.
var (
	ErrUnsupportedPlatform  = errors.New("unsupported platform")
	ErrSensorNotNeeded      = errors.New("sensor not needed for processing")
	ErrMissingField         = errors.New("missing mandatory field")
	ErrEmptyDataset         = errors.New("dataset is empty")
	ErrUnknownMessageType   = errors.New("unknown message type")
	ErrMalformedMessage     = errors.New("malformed message")
	ErrWrongProcessingLevel = errors.New("unexpected data processing level")
	ErrNoInputFile          = errors.New("no input file selected for scene")
)

var rejections = []error{
	ErrUnsupportedPlatform,
	ErrSensorNotNeeded,
	ErrMissingField,
	ErrEmptyDataset,
	ErrUnknownMessageType,
	ErrMalformedMessage,
	ErrWrongProcessingLevel,
	ErrNoInputFile,
}

// IsRejection reports whether err marks input the service deliberately
// ignores, as opposed to a processing failure.
func IsRejection(err error) bool {
	for _, r := range rejections {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}

// RejectionReason returns a short label for metrics, or "" when err is not a
// rejection.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedPlatform):
		return "unsupported_platform"
	case errors.Is(err, ErrSensorNotNeeded):
		return "sensor_not_needed"
	case errors.Is(err, ErrMissingField):
		return "missing_field"
	case errors.Is(err, ErrEmptyDataset):
		return "empty_dataset"
	case errors.Is(err, ErrUnknownMessageType):
		return "unknown_type"
	case errors.Is(err, ErrMalformedMessage):
		return "malformed"
	case errors.Is(err, ErrWrongProcessingLevel):
		return "wrong_level"
	case errors.Is(err, ErrNoInputFile):
		return "no_input_file"
	}
	return ""
}
