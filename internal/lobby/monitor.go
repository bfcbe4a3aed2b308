package lobby

import (
	"context"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cytokine/backend/internal/models"
	"github.com/cytokine/backend/internal/store"
)

// Sweep schedules an evaluation of every pending lobby, each after its own
// short jittered delay. It returns the number of lobbies scheduled.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	lobbies, err := s.store.ListLobbies(ctx, store.LobbyFilter{Statuses: models.PendingLobbyStatuses})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, l := range lobbies {
		if s.sched.ScheduleOnce(evalKey(l.ID), s.jitter(), s.evaluateTask(l.ID)) {
			n++
		}
	}
	return n, nil
}

func (s *Service) jitter() time.Duration {
	if s.opts.SweepJitter <= 0 {
		return 0
	}
	return rand.N(s.opts.SweepJitter)
}

func (s *Service) evaluateTask(id string) func(context.Context) {
	return func(ctx context.Context) {
		if err := s.Evaluate(ctx, id); err != nil {
			s.log.WithError(err).WithField("lobby", id).Error("lobby evaluation failed")
		}
	}
}

// Evaluate advances one lobby: expiry, AFK gating, the captain draft and
// distribution. Calls into the match orchestrator run after the lobby lock
// is released.
func (s *Service) Evaluate(ctx context.Context, id string) error {
	followup, err := s.evaluate(ctx, id)
	if followup != nil {
		followup(ctx)
	}
	return err
}

func (s *Service) evaluate(ctx context.Context, id string) (func(context.Context), error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	l, err := s.load(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(models.PendingLobbyStatuses, l.Status) {
		return nil, nil
	}
	log := s.log.WithFields(logrus.Fields{"lobby": id, "status": l.Status})

	if l.Status != models.LobbyWaitingForPicks && s.now().After(l.ExpiresAt()) {
		log.Info("lobby expired")
		if err := s.setStatus(ctx, l, models.LobbyExpired); err != nil {
			return nil, err
		}
		s.sched.CancelPrefix(keyPrefix(id))
		return s.closeMatch(l.Match), nil
	}

	met := RequirementsMet(l)
	switch l.Status {
	case models.LobbyWaitingForRequiredPlayers:
		if !met {
			return nil, nil
		}
		if l.Data.AFKCheck {
			for i := range l.QueuedPlayers {
				l.QueuedPlayers[i].AFK = true
			}
			if err := s.store.SetQueuedPlayers(ctx, id, l.QueuedPlayers); err != nil {
				return nil, err
			}
			return nil, s.setStatus(ctx, l, models.LobbyWaitingForAFKCheck)
		}
		return s.proceed(ctx, l)

	case models.LobbyWaitingForAFKCheck:
		if !met {
			return nil, s.setStatus(ctx, l, models.LobbyWaitingForRequiredPlayers)
		}
		if slices.ContainsFunc(l.QueuedPlayers, func(p models.Player) bool { return p.AFK }) {
			return nil, nil
		}
		return s.proceed(ctx, l)

	case models.LobbyWaitingForPicks:
		if donePicking(l) {
			return s.distribute(ctx, l)
		}
	}
	return nil, nil
}

// proceed moves a ready lobby on: captain lobbies start the draft timer,
// the others are distributed right away.
func (s *Service) proceed(ctx context.Context, l *models.Lobby) (func(context.Context), error) {
	if l.Distribution == models.DistributionCaptainBased {
		return nil, s.armPickTimer(ctx, l)
	}
	return s.distribute(ctx, l)
}

// distribute assigns teams and returns the hand-off of the roster to the match.
func (s *Service) distribute(ctx context.Context, l *models.Lobby) (func(context.Context), error) {
	strategy, err := s.strategy(l)
	if err != nil {
		return nil, err
	}
	if err := s.setStatus(ctx, l, models.LobbyDistributing); err != nil {
		return nil, err
	}
	strategy.Distribute(l)
	if err := s.store.SetQueuedPlayers(ctx, l.ID, l.QueuedPlayers); err != nil {
		return nil, err
	}
	if err := s.setStatus(ctx, l, models.LobbyDistributed); err != nil {
		return nil, err
	}
	s.sched.CancelPrefix(keyPrefix(l.ID))

	matchID, roster := l.Match, models.ClonePlayers(l.QueuedPlayers)
	return func(ctx context.Context) {
		if err := s.matches.Process(ctx, matchID, roster); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"lobby": l.ID, "match": matchID}).Error("failed to process match")
		}
	}, nil
}

func (s *Service) closeMatch(matchID string) func(context.Context) {
	return func(ctx context.Context) {
		if _, err := s.matches.Close(ctx, matchID); err != nil {
			s.log.WithError(err).WithField("match", matchID).Warn("failed to close match of expired lobby")
		}
	}
}
