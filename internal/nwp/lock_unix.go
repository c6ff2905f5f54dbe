//go:build unix

package nwp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sys/unix"
)

const (
	lockInitialBackoff = 100 * time.Millisecond
	lockMaxBackoff     = 2 * time.Second
)

// acquireLock takes an exclusive flock on path, polling with exponential
// backoff until timeout. The returned func releases the lock and removes the
// lock file.
func acquireLock(ctx context.Context, clock clockwork.Clock, path string, timeout time.Duration) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	deadline := clock.Now().Add(timeout)
	backoff := lockInitialBackoff
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			f.Close()
			return nil, fmt.Errorf("lock %s: %w", path, err)
		}
		if !clock.Now().Before(deadline) {
			f.Close()
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, path)
		}
		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-clock.After(backoff):
		}
		backoff = retry.NextBackoff(backoff, lockMaxBackoff)
	}

	return func() {
		// Removing before unlocking can strand a waiter on the unlinked
		// inode; the final link publish keeps that case safe.
		_ = os.Remove(path)
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}
