package domain

import (
	"fmt"
	"time"
)

// DefaultKeyTolerance is the pass start window within which two
// notifications are considered to belong to the same scene.
const DefaultKeyTolerance = 5 * time.Minute

// SceneKey identifies one satellite pass.
type SceneKey struct {
	PlatformName string
	OrbitNumber  int
	PassStart    time.Time
	Tolerance    time.Duration
}

// NewSceneKey returns a key with the default tolerance.
func NewSceneKey(platform string, orbit int, start time.Time) SceneKey {
	return SceneKey{
		PlatformName: platform,
		OrbitNumber:  orbit,
		PassStart:    start,
		Tolerance:    DefaultKeyTolerance,
	}
}

func (k SceneKey) tolerance() time.Duration {
	if k.Tolerance <= 0 {
		return DefaultKeyTolerance
	}
	return k.Tolerance
}

// Equal reports whether both keys name the same pass: same platform and
// orbit, and pass starts closer than the tolerance.
func (k SceneKey) Equal(other SceneKey) bool {
	if k.PlatformName != other.PlatformName || k.OrbitNumber != other.OrbitNumber {
		return false
	}
	d := k.PassStart.Sub(other.PassStart)
	if d < 0 {
		d = -d
	}
	return d < k.tolerance()
}

// ID returns a stable string for the key. Starts are truncated to the
// tolerance bucket so every key in one bucket shares an ID.
func (k SceneKey) ID() string {
	bucket := k.PassStart.UTC().Truncate(k.tolerance())
	return fmt.Sprintf("%s_%05d_%s", k.PlatformName, k.OrbitNumber, bucket.Format("20060102T1504"))
}

func (k SceneKey) String() string {
	return fmt.Sprintf("%s orbit %d at %s", k.PlatformName, k.OrbitNumber, k.PassStart.UTC().Format(time.RFC3339))
}
