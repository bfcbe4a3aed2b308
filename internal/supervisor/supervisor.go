// Package supervisor runs the recurring lobby and match sweeps.
package supervisor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cytokine/backend/internal/redis"
)

// Sweeper schedules the evaluation of every entity of one kind.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Worker sweeps one entity kind on a fixed interval. When several instances
// share a Redis lease only the holder sweeps in a given interval.
type Worker struct {
	Name     string
	Sweeper  Sweeper
	Interval time.Duration
	Lease    *redis.Lease
	Log      *logrus.Entry
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	w.Log.WithField("interval", w.Interval).Infof("starting %s sweep", w.Name)

	for {
		select {
		case <-ctx.Done():
			w.Log.Infof("%s sweep stopped", w.Name)
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	// The lease expires slightly before the next tick so the holder can renew it.
	ok, err := w.Lease.Acquire(ctx, w.Name, w.Interval*9/10)
	if err != nil {
		w.Log.WithError(err).Warnf("failed to acquire %s sweep lease", w.Name)
		return
	}
	if !ok {
		w.Log.Debugf("%s sweep held by another instance", w.Name)
		return
	}

	n, err := w.Sweeper.Sweep(ctx)
	if err != nil {
		w.Log.WithError(err).Errorf("%s sweep failed", w.Name)
		return
	}
	if n > 0 {
		w.Log.WithField("scheduled", n).Debugf("%s sweep scheduled evaluations", w.Name)
	}
}

// Start runs one worker per sweeper in the background.
func Start(ctx context.Context, workers ...*Worker) {
	for _, w := range workers {
		go w.Run(ctx)
	}
}
