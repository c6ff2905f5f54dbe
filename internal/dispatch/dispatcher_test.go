package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/pps-runner/internal/dispatch"
	"github.com/couchcryptid/pps-runner/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newDispatcher(t *testing.T, workers int) *dispatch.Dispatcher {
	t.Helper()
	d := dispatch.New(workers, slog.Default(), observability.NewMetricsForTesting())
	d.Start(context.Background())
	return d
}

func waitIdle(t *testing.T, d *dispatch.Dispatcher) {
	t.Helper()
	require.Eventually(t, func() bool { return len(d.InFlight()) == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestSubmit_DuplicateDroppedWhileInFlight(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := newDispatcher(t, 3)
	defer d.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32

	job := func(context.Context) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	}

	require.True(t, d.Submit("NOAA-19_46878_20240426T1200", job))
	<-started
	assert.False(t, d.Submit("NOAA-19_46878_20240426T1200", job), "second submission must be dropped")
	assert.Equal(t, []string{"NOAA-19_46878_20240426T1200"}, d.InFlight())

	close(release)
	waitIdle(t, d)
	assert.Equal(t, int32(1), runs.Load())

	// Once finished, the same id may run again.
	done := make(chan struct{})
	require.True(t, d.Submit("NOAA-19_46878_20240426T1200", func(context.Context) error {
		close(done)
		return nil
	}))
	<-done
	waitIdle(t, d)
}

func TestSubmit_BoundsConcurrency(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := newDispatcher(t, 2)

	var (
		mu      sync.Mutex
		running int
		peak    int
		total   atomic.Int32
	)
	for i := range 6 {
		ok := d.Submit(fmt.Sprintf("scene-%d", i), func(context.Context) error {
			mu.Lock()
			running++
			peak = max(peak, running)
			mu.Unlock()

			time.Sleep(20 * time.Millisecond)

			mu.Lock()
			running--
			mu.Unlock()
			total.Add(1)
			return nil
		})
		require.True(t, ok)
	}

	d.Close()
	assert.Equal(t, int32(6), total.Load(), "close drains queued jobs")
	assert.LessOrEqual(t, peak, 2)
}

func TestSubmit_DoesNotBlockWhenWorkersBusy(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := newDispatcher(t, 2)

	release := make(chan struct{})
	for i := range 10 {
		submitted := make(chan bool)
		go func() {
			submitted <- d.Submit(fmt.Sprintf("scene-%d", i), func(context.Context) error {
				<-release
				return nil
			})
		}()
		select {
		case ok := <-submitted:
			assert.True(t, ok)
		case <-time.After(time.Second):
			t.Fatal("submit blocked on busy workers")
		}
	}
	assert.Len(t, d.InFlight(), 10)

	close(release)
	d.Close()
	assert.Empty(t, d.InFlight())
}

func TestSubmit_CleanupAfterErrorAndPanic(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := newDispatcher(t, 2)
	defer d.Close()

	require.True(t, d.Submit("failing", func(context.Context) error {
		return errors.New("ppsRunAll exited with status 1")
	}))
	require.True(t, d.Submit("panicking", func(context.Context) error {
		panic("boom")
	}))
	waitIdle(t, d)

	var ran atomic.Bool
	require.True(t, d.Submit("panicking", func(context.Context) error {
		ran.Store(true)
		return nil
	}), "a panicked job must not leave its id stuck")
	waitIdle(t, d)
	assert.True(t, ran.Load())
}

func TestSubmit_SynchronousSingleWorker(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := newDispatcher(t, 1)
	defer d.Close()

	var inner bool
	ran := false
	ok := d.Submit("scene-1", func(context.Context) error {
		ran = true
		inner = d.Submit("scene-1", func(context.Context) error { return nil })
		return nil
	})

	assert.True(t, ok)
	assert.True(t, ran, "job runs before Submit returns")
	assert.False(t, inner, "duplicate dropped while the job is running")
	assert.Empty(t, d.InFlight())

	ok = d.Submit("scene-2", func(context.Context) error { panic("boom") })
	assert.True(t, ok)
	assert.Empty(t, d.InFlight())
}

func TestSubmit_AfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := newDispatcher(t, 2)
	d.Close()

	assert.False(t, d.Submit("late", func(context.Context) error { return nil }))
}

func TestJobsReceiveStartContext(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	d := dispatch.New(2, slog.Default(), observability.NewMetricsForTesting())
	d.Start(ctx)

	got := make(chan error, 1)
	require.True(t, d.Submit("scene", func(ctx context.Context) error {
		<-ctx.Done()
		got <- ctx.Err()
		return ctx.Err()
	}))
	cancel()
	d.Close()
	assert.ErrorIs(t, <-got, context.Canceled)
}
