package domain

import (
	"path/filepath"
	"slices"
	"time"
)

// Tag marks the role a file plays within its scene.
type Tag string

const (
	TagPRO  Tag = "pro"
	TagEPI  Tag = "epi"
	TagGeo  Tag = "geo"
	TagData Tag = "data"
)

// FileDescriptor is one input file of a scene.
type FileDescriptor struct {
	URI  string
	UID  string
	Path string // local path resolved from URI or destination
	Tags []Tag
}

// Base returns the file's basename, preferring the UID.
func (f FileDescriptor) Base() string {
	if f.UID != "" {
		return f.UID
	}
	return filepath.Base(f.Path)
}

// HasTag reports whether the file carries t.
func (f FileDescriptor) HasTag(t Tag) bool {
	return slices.Contains(f.Tags, t)
}

// Scene is the immutable job payload handed to the processing program.
type Scene struct {
	Key          SceneKey
	Family       Family
	PlatformName string
	PlatformCode string
	// LetterCode names the platform in result file names.
	LetterCode string
	// InputFlag is the processing program flag that precedes InputFile.
	InputFlag   string
	OrbitNumber int
	SatDay      string // YYYYmmdd
	SatHour     string // HHMM
	StartTime   time.Time
	EndTime     time.Time
	Sensors     []string
	InputFile   string
	Files       []FileDescriptor

	// Notification is the message that completed the scene. Its metadata is
	// carried over to outbound notifications.
	Notification Notification
}

// NewScene builds a scene from the completing notification and the selected
// input file.
func NewScene(key SceneKey, platform Platform, n Notification, files []FileDescriptor, input string) Scene {
	start := n.StartTime.UTC()
	return Scene{
		Key:          key,
		Family:       platform.Family,
		PlatformName: n.PlatformName,
		PlatformCode: platform.Code,
		LetterCode:   platform.LetterCode,
		InputFlag:    platform.InputFlag,
		OrbitNumber:  n.OrbitNumber,
		SatDay:       start.Format("20060102"),
		SatHour:      start.Format("1504"),
		StartTime:    start,
		EndTime:      n.EndTime.UTC(),
		Sensors:      slices.Clone(platform.Sensors),
		InputFile:    input,
		Files:        slices.Clone(files),
		Notification: n,
	}
}
