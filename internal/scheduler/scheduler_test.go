package scheduler

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) *Scheduler {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s := New(context.Background(), logrus.NewEntry(logger))
	t.Cleanup(s.Stop)
	return s
}

func TestScheduleRuns(t *testing.T) {
	s := newTestScheduler(t)
	done := make(chan struct{})
	s.Schedule("lobby:1:eval", time.Millisecond, func(context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	assert.Eventually(t, func() bool { return !s.Pending("lobby:1:eval") }, time.Second, 5*time.Millisecond)
}

func TestScheduleReplacesPending(t *testing.T) {
	s := newTestScheduler(t)
	var first, second atomic.Int32
	s.Schedule("k", 50*time.Millisecond, func(context.Context) { first.Add(1) })
	s.Schedule("k", time.Millisecond, func(context.Context) { second.Add(1) })

	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
}

func TestScheduleOnceKeepsPending(t *testing.T) {
	s := newTestScheduler(t)
	var runs atomic.Int32
	require.True(t, s.ScheduleOnce("k", 20*time.Millisecond, func(context.Context) { runs.Add(1) }))
	assert.False(t, s.ScheduleOnce("k", time.Millisecond, func(context.Context) { runs.Add(10) }))

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestCancel(t *testing.T) {
	s := newTestScheduler(t)
	var runs atomic.Int32
	s.Schedule("lobby:1:pick", 20*time.Millisecond, func(context.Context) { runs.Add(1) })
	s.Schedule("lobby:1:eval", 20*time.Millisecond, func(context.Context) { runs.Add(1) })
	s.Schedule("lobby:2:eval", 20*time.Millisecond, func(context.Context) { runs.Add(100) })

	assert.True(t, s.Cancel("lobby:1:pick"))
	assert.False(t, s.Cancel("lobby:1:pick"))
	assert.Equal(t, 1, s.CancelPrefix("lobby:1:"))

	assert.Eventually(t, func() bool { return runs.Load() == 100 }, time.Second, 5*time.Millisecond)
}

func TestStopCancelsContext(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s := New(context.Background(), logrus.NewEntry(logger))

	started := make(chan struct{})
	var cancelled atomic.Bool
	s.Schedule("k", time.Millisecond, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	})
	<-started
	s.Stop()
	assert.True(t, cancelled.Load())

	// Scheduling after stop is a no-op.
	s.Schedule("late", time.Millisecond, func(context.Context) { t.Error("ran after stop") })
	assert.False(t, s.Pending("late"))
}

func TestLocksSerialiseSameKey(t *testing.T) {
	l := NewLocks()
	var (
		wg      sync.WaitGroup
		active  atomic.Int32
		overlap atomic.Bool
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("lobby:1")
			defer unlock()
			if active.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load())
	assert.Equal(t, 0, l.Len())
}

func TestLocksIndependentKeys(t *testing.T) {
	l := NewLocks()
	unlockA := l.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := l.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
}

func TestBusyCoversRunningTask(t *testing.T) {
	s := newTestScheduler(t)
	started := make(chan struct{})
	release := make(chan struct{})
	s.Schedule("match:1:results", 0, func(context.Context) {
		close(started)
		<-release
	})

	<-started
	assert.False(t, s.Pending("match:1:results"))
	assert.True(t, s.Busy("match:1:results"))

	close(release)
	assert.Eventually(t, func() bool { return !s.Busy("match:1:results") }, time.Second, 5*time.Millisecond)
}
