package match

import (
	"context"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cytokine/backend/internal/errs"
	"github.com/cytokine/backend/internal/models"
	"github.com/cytokine/backend/internal/probe"
	"github.com/cytokine/backend/internal/store"
)

var errResultsPending = errors.New("match results not available yet")

// teardownGrace is how long a match waiting to close may wait for the fleet
// manager's CLOSED callback before its results are fetched and its server
// released again.
const teardownGrace = 5 * time.Minute

// Sweep schedules a poll of every match whose server is being watched and
// resumes result collection of matches waiting to close that have no task
// in flight, e.g. after a restart.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	matches, err := s.store.ListMatches(ctx, store.MatchFilter{Statuses: models.PolledMatchStatuses})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, m := range matches {
		id := m.ID
		if s.sched.ScheduleOnce(pollKey(id), s.jitter(), func(ctx context.Context) {
			if err := s.Poll(ctx, id); err != nil {
				s.log.WithError(err).WithField("match", id).Warn("match poll failed")
			}
		}) {
			n++
		}
	}

	closing, err := s.store.ListMatches(ctx, store.MatchFilter{Statuses: []models.MatchStatus{models.MatchWaitingToClose}})
	if err != nil {
		return n, err
	}
	for _, m := range closing {
		if s.sched.Busy(resultsKey(m.ID)) || s.awaitingClose(m.ID) {
			continue
		}
		if s.sched.ScheduleOnce(resultsKey(m.ID), s.jitter(), s.resultsTask(m.ID)) {
			s.log.WithField("match", m.ID).Info("resuming result collection")
			n++
		}
	}
	return n, nil
}

func (s *Service) resultsTask(id string) func(context.Context) {
	return func(ctx context.Context) {
		if err := s.fetchResults(ctx, id); err != nil {
			s.log.WithError(err).WithField("match", id).Error("failed to finish match")
		}
	}
}

// awaitingClose reports whether this process released the match server
// recently enough to keep waiting for the CLOSED callback.
func (s *Service) awaitingClose(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.teardowns[id]
	return ok && s.now().Sub(at) < teardownGrace
}

func (s *Service) recordTeardown(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardowns[id] = s.now()
}

func (s *Service) forgetTeardown(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.teardowns, id)
}

func (s *Service) jitter() time.Duration {
	if s.opts.SweepJitter <= 0 {
		return 0
	}
	return rand.N(s.opts.SweepJitter)
}

// Poll probes the match server and advances the match when the server
// reports progress.
func (s *Service) Poll(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	m, err := s.load(ctx, nil, id)
	if err != nil {
		return err
	}
	if !slices.Contains(models.PolledMatchStatuses, m.Status) || m.Server == "" || s.fleet == nil || s.probe == nil {
		return nil
	}

	srv, err := s.fleet.Get(ctx, m.Server)
	if err != nil {
		return errs.Provisioning(err, "get server %s", m.Server)
	}
	log := s.log.WithFields(logrus.Fields{"match": id, "server": m.Server, "status": m.Status})

	switch m.Status {
	case models.MatchWaitingForPlayers:
		players, err := s.probe.QueryPlayers(ctx, srv.IP, srv.Port, m.Game)
		if err != nil {
			return errs.Probe(err, "query players of server %s", m.Server)
		}
		log.WithField("players", players).Debug("server player count")
		if players >= m.ExpectedPlayers() {
			return s.setStatus(ctx, m, models.MatchWaitingToStart)
		}

	case models.MatchWaitingToStart, models.MatchLive:
		status, err := s.probe.SidecarStatus(ctx, srv.IP, srv.Data.HatchAddress, srv.Data.HatchPassword)
		if err != nil {
			return errs.Probe(err, "sidecar status of server %s", m.Server)
		}
		latest, ok := status.Latest()
		if !ok {
			return nil
		}
		switch {
		case m.Status == models.MatchWaitingToStart && latest.Status == probe.SidecarInProgress:
			return s.setStatus(ctx, m, models.MatchLive)
		case m.Status == models.MatchLive && latest.Status == probe.SidecarEnded:
			if err := s.setStatus(ctx, m, models.MatchWaitingToClose); err != nil {
				return err
			}
			s.sched.ScheduleOnce(resultsKey(id), 0, s.resultsTask(id))
		}
	}
	return nil
}

// fetchResults collects the match artifacts from the sidecar, retrying at a
// fixed interval, then releases the server. The match finishes when the fleet
// manager reports the server closed, or right away when teardown fails.
func (s *Service) fetchResults(ctx context.Context, id string) error {
	m, err := s.load(ctx, nil, id)
	if err != nil {
		return err
	}
	if m.Status != models.MatchWaitingToClose {
		return nil
	}
	log := s.log.WithFields(logrus.Fields{"match": id, "server": m.Server})

	var results models.MatchData
	if s.fleet == nil || s.probe == nil || m.Server == "" {
		finished, err := s.finish(ctx, id, results)
		if finished {
			s.cascade(ctx, id)
		}
		return err
	}
	fetch := func() error {
		srv, err := s.fleet.Get(ctx, m.Server)
		if err != nil {
			return err
		}
		status, err := s.probe.SidecarStatus(ctx, srv.IP, srv.Data.HatchAddress, srv.Data.HatchPassword)
		if err != nil {
			return err
		}
		latest, ok := status.Latest()
		if !ok || latest.Status != probe.SidecarEnded || latest.Results().Empty() {
			return errResultsPending
		}
		results = latest.Results()
		return nil
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.opts.ResultFetchInterval), uint64(s.opts.ResultFetchAttempts-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		log.WithError(err).Debugf("results not ready, retrying in %s", wait)
	}
	if err := backoff.RetryNotify(fetch, policy, notify); err != nil {
		log.WithError(err).Warn("gave up fetching match results")
	}

	finished, err := s.finish(ctx, id, results)
	if finished {
		s.cascade(ctx, id)
	}
	return err
}

// finish stores the results and tears the server down.
func (s *Service) finish(ctx context.Context, id string, results models.MatchData) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	m, err := s.load(ctx, nil, id)
	if err != nil {
		return false, err
	}
	if m.Status != models.MatchWaitingToClose {
		return false, nil
	}
	if !results.Empty() {
		if err := s.store.SetMatchData(ctx, id, results); err != nil {
			return false, err
		}
		m.Data = results
	}

	if s.fleet == nil || m.Server == "" {
		return true, s.terminate(ctx, m, models.MatchFinished)
	}
	if err := s.teardown(ctx, m); err != nil {
		return true, s.terminate(ctx, m, models.MatchFinished)
	}
	s.recordTeardown(id)
	s.log.WithField("match", id).Info("server teardown requested")
	return false, nil
}
