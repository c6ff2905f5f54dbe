//go:build unix

package nwp

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLock_Exclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".PPS_ECMWF_202404261200+006H00M.lock")
	clock := clockwork.NewRealClock()

	release, err := acquireLock(context.Background(), clock, path, time.Second)
	require.NoError(t, err)

	_, err = acquireLock(context.Background(), clock, path, 300*time.Millisecond)
	require.ErrorIs(t, err, ErrLockTimeout)

	release()
	assert.NoFileExists(t, path)

	release, err = acquireLock(context.Background(), clock, path, time.Second)
	require.NoError(t, err)
	release()
}

func TestAcquireLock_WaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".out.lock")
	clock := clockwork.NewRealClock()

	release, err := acquireLock(context.Background(), clock, path, time.Second)
	require.NoError(t, err)
	time.AfterFunc(150*time.Millisecond, release)

	second, err := acquireLock(context.Background(), clock, path, 5*time.Second)
	require.NoError(t, err)
	second()
}

func TestAcquireLock_ContextCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".out.lock")
	clock := clockwork.NewRealClock()

	release, err := acquireLock(context.Background(), clock, path, time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = acquireLock(ctx, clock, path, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAcquireLock_BackoffDoublesUpToCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".out.lock")
	clock := clockwork.NewFakeClock()

	release, err := acquireLock(context.Background(), clock, path, time.Second)
	require.NoError(t, err)
	defer release()

	done := make(chan error, 1)
	go func() {
		_, err := acquireLock(context.Background(), clock, path, 7*time.Second)
		done <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	waits := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
		2 * time.Second,
		2 * time.Second,
	}
	for _, d := range waits {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(d)
	}

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrLockTimeout)
	case <-ctx.Done():
		t.Fatal("lock wait did not time out after capped backoff")
	}
}
