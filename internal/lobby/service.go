// Package lobby runs the lobby state machine: admission, role-constrained
// queueing, the captain draft and hand-off of the filled roster to the match.
package lobby

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cytokine/backend/internal/distribution"
	"github.com/cytokine/backend/internal/errs"
	"github.com/cytokine/backend/internal/models"
	"github.com/cytokine/backend/internal/scheduler"
	"github.com/cytokine/backend/internal/store"
)

// listLimit caps list endpoints.
const listLimit = 50

// Matches is the match orchestrator as seen from a lobby.
type Matches interface {
	Create(ctx context.Context, client *models.Client, req models.MatchRequest) (*models.Match, error)
	Close(ctx context.Context, id string) (*models.Match, error)
	Process(ctx context.Context, id string, roster []models.Player) error
}

// Notifier announces lobby status changes.
type Notifier interface {
	Lobby(ctx context.Context, lobby *models.Lobby)
}

type Options struct {
	// DefaultExpiry is the base lifetime in seconds of lobbies that do not set one.
	DefaultExpiry int
	// SweepJitter spreads evaluations scheduled by one sweep.
	SweepJitter time.Duration
	// Rand drives captain selection and random distribution. Nil uses the global source.
	Rand *rand.Rand
}

// Service is the lobby orchestrator
type Service struct {
	store    store.LobbyStore
	matches  Matches
	notifier Notifier
	sched    *scheduler.Scheduler
	locks    *scheduler.Locks
	log      *logrus.Entry
	opts     Options
	now      func() time.Time
}

func NewService(s store.LobbyStore, n Notifier, sched *scheduler.Scheduler, logger *logrus.Entry, opts Options) *Service {
	if opts.DefaultExpiry <= 0 {
		opts.DefaultExpiry = 1800
	}
	return &Service{
		store:    s,
		notifier: n,
		sched:    sched,
		locks:    scheduler.NewLocks(),
		log:      logger,
		opts:     opts,
		now:      time.Now,
	}
}

// BindMatches completes the two-way wiring with the match orchestrator.
func (s *Service) BindMatches(m Matches) {
	s.matches = m
}

func evalKey(id string) string { return "lobby:" + id + ":eval" }
func pickKey(id string) string { return "lobby:" + id + ":pick" }
func keyPrefix(id string) string { return "lobby:" + id + ":" }

func (s *Service) strategy(l *models.Lobby) (distribution.Strategy, error) {
	if l.Distribution == models.DistributionRandom && s.opts.Rand != nil {
		return distribution.NewRandom(s.opts.Rand), nil
	}
	return distribution.For(l.Distribution)
}

func (s *Service) intN(n int) int {
	if s.opts.Rand != nil {
		return s.opts.Rand.IntN(n)
	}
	return rand.IntN(n)
}

// load fetches a lobby. A non-nil client must own it.
func (s *Service) load(ctx context.Context, client *models.Client, id string) (*models.Lobby, error) {
	l, err := s.store.GetLobby(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.NotFound("lobby %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if client != nil && l.Client != client.ID {
		return nil, errs.NotFound("lobby %s not found", id)
	}
	return l, nil
}

func (s *Service) Get(ctx context.Context, client *models.Client, id string) (*models.Lobby, error) {
	return s.load(ctx, client, id)
}

func (s *Service) GetByMatch(ctx context.Context, client *models.Client, matchID string) (*models.Lobby, error) {
	l, err := s.store.GetLobbyByMatch(ctx, matchID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && client != nil && l.Client != client.ID) {
		return nil, errs.NotFound("no lobby for match %s", matchID)
	}
	return l, err
}

// List returns the client's active lobbies, or its most recent ones when all is set.
func (s *Service) List(ctx context.Context, client *models.Client, all bool) ([]*models.Lobby, error) {
	f := store.LobbyFilter{Client: client.ID, Limit: listLimit}
	if !all {
		f.Statuses = models.ActiveLobbyStatuses
	}
	return s.store.ListLobbies(ctx, f)
}

// ensureAvailable rejects identities that created or are queued in another active lobby.
func (s *Service) ensureAvailable(ctx context.Context, identity, exclude string) error {
	created, err := s.store.ListLobbies(ctx, store.LobbyFilter{
		Statuses:  models.ActiveLobbyStatuses,
		CreatedBy: identity,
		ExcludeID: exclude,
		Limit:     1,
	})
	if err != nil {
		return err
	}
	if len(created) > 0 {
		return errs.Admission("you've already created one lobby")
	}

	queued, err := s.store.ListLobbies(ctx, store.LobbyFilter{
		Statuses:       models.ActiveLobbyStatuses,
		QueuedIdentity: identity,
		ExcludeID:      exclude,
		Limit:          1,
	})
	if err != nil {
		return err
	}
	if len(queued) > 0 {
		return errs.Admission("you're already queued in a lobby")
	}
	return nil
}

// Create validates admission, creates the backing match and then the lobby.
// The roster size is the match's required players, which a lobby must set.
// Seeded players are admitted by the lobby's strategy like any later join.
func (s *Service) Create(ctx context.Context, client *models.Client, req models.LobbyRequest) (*models.Lobby, error) {
	if _, err := distribution.For(req.Distribution); err != nil {
		return nil, errs.Admission("%v", err)
	}
	if req.MatchOptions.RequiredPlayers <= 0 {
		return nil, errs.Admission("matchOptions.requiredPlayers is required for lobbies")
	}
	if err := s.ensureAvailable(ctx, req.UserID, ""); err != nil {
		return nil, err
	}

	// Seeds are verified against a draft lobby before anything is persisted.
	draft := &models.Lobby{
		Distribution: req.Distribution,
		Requirements: req.Requirements,
		MaxPlayers:   req.MatchOptions.RequiredPlayers,
	}
	strategy, err := s.strategy(draft)
	if err != nil {
		return nil, err
	}
	for _, p := range req.QueuedPlayers {
		p = p.Clone()
		p.Steam = models.NormalizeSteamID(p.Steam)
		p.Roles = models.UniqueRoles(p.Roles)
		verdict := strategy.Verify(draft, p)
		switch verdict {
		case distribution.Duplicate:
			continue
		case distribution.Rejected:
			return nil, errs.Admission("cannot queue %s as %s", p.Identity(), p.WantedRole())
		}
		if verdict == distribution.Append {
			if err := s.ensureAvailable(ctx, p.Identity(), ""); err != nil {
				return nil, err
			}
			draft.Joiners = append(draft.Joiners, p.Identity())
		}
		strategy.Apply(draft, p, verdict)
	}
	players, joiners := draft.QueuedPlayers, draft.Joiners
	if players == nil {
		players = []models.Player{}
	}

	opts := req.MatchOptions
	if opts.CallbackURL == "" {
		opts.CallbackURL = req.CallbackURL
	}
	match, err := s.matches.Create(ctx, client, opts)
	if err != nil {
		return nil, err
	}

	expiry := req.Data.ExpiryTime
	if expiry <= 0 {
		expiry = s.opts.DefaultExpiry
	}
	l := &models.Lobby{
		ID:            uuid.NewString(),
		CreatedAt:     s.now(),
		Client:        client.ID,
		CreatedBy:     req.UserID,
		Status:        models.LobbyWaitingForRequiredPlayers,
		Distribution:  req.Distribution,
		Requirements:  req.Requirements,
		QueuedPlayers: players,
		Joiners:       joiners,
		MaxPlayers:    draft.MaxPlayers,
		CallbackURL:   req.CallbackURL,
		Match:         match.ID,
		Data: models.LobbyData{
			ExpiryTime:         expiry,
			AFKCheck:           req.Data.AFKCheck,
			CaptainPickTimeout: req.Data.CaptainPickTimeout,
		},
	}
	if err := s.store.CreateLobby(ctx, l); err != nil {
		if _, cerr := s.matches.Close(ctx, match.ID); cerr != nil {
			s.log.WithError(cerr).WithField("match", match.ID).Error("failed to close match of unsaved lobby")
		}
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"lobby":        l.ID,
		"match":        match.ID,
		"client":       client.ID,
		"distribution": l.Distribution,
	}).Info("lobby created")
	s.notifier.Lobby(ctx, l)
	return l, nil
}

// Close closes the lobby's match and then the lobby. Closing a terminal lobby
// returns it unchanged.
func (s *Service) Close(ctx context.Context, client *models.Client, id string) (*models.Lobby, error) {
	l, err := s.load(ctx, client, id)
	if err != nil {
		return nil, err
	}
	if l.Status.Terminal() {
		return l, nil
	}

	if _, err := s.matches.Close(ctx, l.Match); err != nil && !errs.IsStateConflict(err) && !errs.IsNotFound(err) {
		s.log.WithError(err).WithField("lobby", id).Error("failed to close lobby")
		return nil, err
	}
	return s.finish(ctx, id, models.LobbyClosed)
}

// CloseForMatch closes the lobby backing matchID without touching the match.
func (s *Service) CloseForMatch(ctx context.Context, matchID string) error {
	l, err := s.store.GetLobbyByMatch(ctx, matchID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.finish(ctx, l.ID, models.LobbyClosed)
	return err
}

// finish moves a lobby into a terminal status once and drops its pending work.
func (s *Service) finish(ctx context.Context, id string, status models.LobbyStatus) (*models.Lobby, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	l, err := s.load(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if l.Status.Terminal() {
		return l, nil
	}
	if err := s.setStatus(ctx, l, status); err != nil {
		return nil, err
	}
	s.sched.CancelPrefix(keyPrefix(id))
	return l, nil
}

// setStatus persists and announces a status change. Callers hold the lobby lock.
func (s *Service) setStatus(ctx context.Context, l *models.Lobby, status models.LobbyStatus) error {
	if l.Status == status {
		return nil
	}
	if err := s.store.SetLobbyStatus(ctx, l.ID, status); err != nil {
		return errors.Wrapf(err, "set lobby %s status", l.ID)
	}
	s.log.WithFields(logrus.Fields{"lobby": l.ID, "from": l.Status, "to": status}).Info("lobby status changed")
	l.Status = status
	s.notifier.Lobby(ctx, l)
	return nil
}
