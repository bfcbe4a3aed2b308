// Package scheduler runs deferred tasks keyed by entity so that pending work
// can be replaced or cancelled when the entity changes state.
package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Task is a deferred unit of work. ctx is cancelled when the scheduler stops.
type Task func(ctx context.Context)

type entry struct {
	timer *time.Timer
}

// Scheduler owns one pending timer per key.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    *logrus.Entry

	mu      sync.Mutex
	pending map[string]*entry
	active  map[string]int
	running sync.WaitGroup
}

func New(parent context.Context, logger *logrus.Entry) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	return &Scheduler{
		ctx:     ctx,
		cancel:  cancel,
		log:     logger,
		pending: make(map[string]*entry),
		active:  make(map[string]int),
	}
}

// Schedule runs task after delay, replacing any pending task under key.
func (s *Scheduler) Schedule(key string, delay time.Duration, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.pending[key]; ok {
		old.timer.Stop()
	}
	s.arm(key, delay, task)
}

// ScheduleOnce is like Schedule but keeps an already pending task. It
// reports whether a new task was armed.
func (s *Scheduler) ScheduleOnce(key string, delay time.Duration, task Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[key]; ok {
		return false
	}
	s.arm(key, delay, task)
	return true
}

// arm must be called with s.mu held.
func (s *Scheduler) arm(key string, delay time.Duration, task Task) {
	if s.ctx.Err() != nil {
		return
	}
	e := &entry{}
	e.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		// A replaced or cancelled timer may still fire once.
		if s.pending[key] != e {
			s.mu.Unlock()
			return
		}
		delete(s.pending, key)
		s.active[key]++
		s.running.Add(1)
		s.mu.Unlock()

		defer s.running.Done()
		defer func() {
			s.mu.Lock()
			if s.active[key]--; s.active[key] <= 0 {
				delete(s.active, key)
			}
			s.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				s.log.WithField("key", key).Errorf("scheduled task panicked: %v", r)
			}
		}()
		if s.ctx.Err() != nil {
			return
		}
		task(s.ctx)
	})
	s.pending[key] = e
}

// Cancel drops the pending task under key. It reports whether one existed.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.pending, key)
	return true
}

// CancelPrefix drops every pending task whose key starts with prefix.
func (s *Scheduler) CancelPrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, e := range s.pending {
		if strings.HasPrefix(key, prefix) {
			e.timer.Stop()
			delete(s.pending, key)
			n++
		}
	}
	return n
}

func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// Busy reports whether a task under key is pending or running.
func (s *Scheduler) Busy(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, pending := s.pending[key]
	return pending || s.active[key] > 0
}

// Stop cancels all pending tasks and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.cancel()
	s.mu.Lock()
	for key, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, key)
	}
	s.mu.Unlock()
	s.running.Wait()
}
