// Package match drives matches from a filled roster through server
// provisioning, live play and result collection.
package match

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cytokine/backend/internal/errs"
	"github.com/cytokine/backend/internal/fleet"
	"github.com/cytokine/backend/internal/models"
	"github.com/cytokine/backend/internal/probe"
	"github.com/cytokine/backend/internal/scheduler"
	"github.com/cytokine/backend/internal/store"
)

const listLimit = 50

// Fleet allocates and releases game servers.
type Fleet interface {
	Providers(ctx context.Context, region string) ([]string, error)
	Create(ctx context.Context, req fleet.CreateRequest) (*fleet.Server, error)
	Get(ctx context.Context, id string) (*fleet.Server, error)
	Delete(ctx context.Context, id string) error
}

// Probe inspects a running server.
type Probe interface {
	QueryPlayers(ctx context.Context, host string, port int, game string) (int, error)
	SidecarStatus(ctx context.Context, host, sidecarAddr, password string) (*probe.SidecarStatus, error)
	EnableWhitelist(ctx context.Context, host, sidecarAddr, password string) error
	AddWhitelistPlayer(ctx context.Context, host, sidecarAddr, password string, entry probe.WhitelistEntry) error
}

// Lobbies is the lobby orchestrator as seen from a match.
type Lobbies interface {
	CloseForMatch(ctx context.Context, matchID string) error
}

// Notifier announces match status changes.
type Notifier interface {
	Match(ctx context.Context, match *models.Match)
}

type Options struct {
	// Fleet is nil when server provisioning is disabled.
	Fleet               Fleet
	Probe               Probe
	ResultFetchAttempts int
	ResultFetchInterval time.Duration
	SweepJitter         time.Duration
}

// Service is the match orchestrator
type Service struct {
	store    store.MatchStore
	lobbies  Lobbies
	fleet    Fleet
	probe    Probe
	notifier Notifier
	sched    *scheduler.Scheduler
	locks    *scheduler.Locks
	log      *logrus.Entry
	opts     Options
	now      func() time.Time

	// teardowns records when this process asked the fleet manager to release
	// the server of a match waiting to close.
	mu        sync.Mutex
	teardowns map[string]time.Time
}

func NewService(s store.MatchStore, n Notifier, sched *scheduler.Scheduler, logger *logrus.Entry, opts Options) *Service {
	if opts.ResultFetchAttempts <= 0 {
		opts.ResultFetchAttempts = 10
	}
	return &Service{
		store:     s,
		fleet:     opts.Fleet,
		probe:     opts.Probe,
		notifier:  n,
		sched:     sched,
		locks:     scheduler.NewLocks(),
		log:       logger,
		opts:      opts,
		now:       time.Now,
		teardowns: make(map[string]time.Time),
	}
}

// BindLobbies completes the two-way wiring with the lobby orchestrator.
func (s *Service) BindLobbies(l Lobbies) {
	s.lobbies = l
}

func pollKey(id string) string    { return "match:" + id + ":poll" }
func resultsKey(id string) string { return "match:" + id + ":results" }
func keyPrefix(id string) string  { return "match:" + id + ":" }

func (s *Service) load(ctx context.Context, client *models.Client, id string) (*models.Match, error) {
	m, err := s.store.GetMatch(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.NotFound("match %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	if client != nil && m.Client != client.ID {
		return nil, errs.NotFound("match %s not found", id)
	}
	return m, nil
}

func (s *Service) Get(ctx context.Context, client *models.Client, id string) (*models.Match, error) {
	return s.load(ctx, client, id)
}

// List returns the client's active matches, or its most recent ones when all is set.
func (s *Service) List(ctx context.Context, client *models.Client, all bool) ([]*models.Match, error) {
	f := store.MatchFilter{Client: client.ID, Limit: listLimit}
	if !all {
		f.Statuses = models.ActiveMatchStatuses
	}
	return s.store.ListMatches(ctx, f)
}

// checkQuota enforces the client's global and per-region active match limits.
// A limit of zero is unlimited.
func (s *Service) checkQuota(ctx context.Context, client *models.Client, region string) error {
	if limit := client.Limit(); limit > 0 {
		n, err := s.store.CountMatches(ctx, store.MatchFilter{Statuses: models.ActiveMatchStatuses, Client: client.ID})
		if err != nil {
			return err
		}
		if n >= limit {
			return errs.QuotaExceeded("cannot create new match as client has reached the limit")
		}
	}
	if limit := client.RegionLimit(region); limit > 0 {
		n, err := s.store.CountMatches(ctx, store.MatchFilter{Statuses: models.ActiveMatchStatuses, Client: client.ID, Region: region})
		if err != nil {
			return err
		}
		if n >= limit {
			return errs.QuotaExceeded("cannot create new match as client has reached the limit in region %s", region)
		}
	}
	return nil
}

// Create checks entitlements and quota and stores a match waiting for its lobby.
func (s *Service) Create(ctx context.Context, client *models.Client, req models.MatchRequest) (*models.Match, error) {
	log := s.log.WithFields(logrus.Fields{"client": client.ID, "region": req.Region, "game": req.Game})
	log.Info("received new match request")

	if !client.HasGameAccess(req.Game) {
		return nil, errs.Forbidden("client does not have access to '%s' game", req.Game)
	}
	if !client.HasRegionAccess(req.Region) {
		return nil, errs.Forbidden("client does not have access to '%s' region", req.Region)
	}
	if err := s.checkQuota(ctx, client, req.Region); err != nil {
		return nil, err
	}

	players := models.ClonePlayers(req.Players)
	for i := range players {
		players[i].Steam = models.NormalizeSteamID(players[i].Steam)
	}
	m := &models.Match{
		ID:              uuid.NewString(),
		CreatedAt:       s.now(),
		Client:          client.ID,
		CallbackURL:     req.CallbackURL,
		Game:            req.Game,
		Map:             req.Map,
		Region:          req.Region,
		Status:          models.MatchWaitingForLobby,
		Players:         players,
		RequiredPlayers: req.RequiredPlayers,
		Preferences:     req.Preferences,
	}
	if err := s.store.CreateMatch(ctx, m); err != nil {
		return nil, err
	}
	log.WithField("match", m.ID).Info("match created")
	s.notifier.Match(ctx, m)
	return m, nil
}

// Ready reports whether a standalone match already holds its full roster.
func Ready(m *models.Match) bool {
	return m.Status == models.MatchWaitingForLobby && m.RequiredPlayers > 0 && len(m.Players) >= m.RequiredPlayers
}

// AddPlayer adds a player to a match still waiting for its roster.
func (s *Service) AddPlayer(ctx context.Context, client *models.Client, id string, p models.Player) (*models.Match, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	m, err := s.load(ctx, client, id)
	if err != nil {
		return nil, err
	}
	if m.Status != models.MatchWaitingForLobby {
		return nil, errs.StateConflict("cannot join match in status %s", m.Status)
	}
	p = p.Clone()
	p.Steam = models.NormalizeSteamID(p.Steam)
	if models.IndexOfIdentity(m.Players, p.Identity()) >= 0 {
		return nil, errs.Admission("player %s already joined", p.Identity())
	}
	if m.RequiredPlayers > 0 && len(m.Players) >= m.RequiredPlayers {
		return nil, errs.Admission("match is full")
	}

	m.Players = append(m.Players, p)
	if err := s.store.SetMatchPlayers(ctx, id, m.Players); err != nil {
		return nil, err
	}
	return m, nil
}

// Close tears down the match server and closes the match and its lobby.
// Terminal matches cannot be closed.
func (s *Service) Close(ctx context.Context, id string) (*models.Match, error) {
	m, err := s.closeLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cascade(ctx, id)
	return m, nil
}

// CloseForClient is Close for an API client that must own the match.
func (s *Service) CloseForClient(ctx context.Context, client *models.Client, id string) (*models.Match, error) {
	if _, err := s.load(ctx, client, id); err != nil {
		return nil, err
	}
	return s.Close(ctx, id)
}

func (s *Service) closeLocked(ctx context.Context, id string) (*models.Match, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	m, err := s.load(ctx, nil, id)
	if err != nil {
		return nil, err
	}
	if m.Status.Terminal() {
		return nil, errs.StateConflict("match %s is already %s", id, m.Status)
	}
	s.teardown(ctx, m)
	if err := s.setStatus(ctx, m, models.MatchClosed); err != nil {
		return nil, err
	}
	s.sched.CancelPrefix(keyPrefix(id))
	s.forgetTeardown(id)
	return m, nil
}

// teardown asks the fleet manager to release the match server.
func (s *Service) teardown(ctx context.Context, m *models.Match) error {
	if s.fleet == nil || m.Server == "" {
		return nil
	}
	err := s.fleet.Delete(ctx, m.Server)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"match": m.ID, "server": m.Server}).Warn("failed to tear down server")
	}
	return err
}

// cascade closes the lobby of a match that reached a terminal status.
func (s *Service) cascade(ctx context.Context, id string) {
	if s.lobbies == nil {
		return
	}
	if err := s.lobbies.CloseForMatch(ctx, id); err != nil {
		s.log.WithError(err).WithField("match", id).Error("failed to close lobby of match")
	}
}

// terminate moves the match into a terminal status. Callers hold the match lock
// and run the lobby cascade once it is released.
func (s *Service) terminate(ctx context.Context, m *models.Match, status models.MatchStatus) error {
	if err := s.setStatus(ctx, m, status); err != nil {
		return err
	}
	s.sched.CancelPrefix(keyPrefix(m.ID))
	s.forgetTeardown(m.ID)
	return nil
}

// setStatus persists and announces a status change. Callers hold the match lock.
func (s *Service) setStatus(ctx context.Context, m *models.Match, status models.MatchStatus) error {
	if m.Status == status {
		return nil
	}
	if err := s.store.SetMatchStatus(ctx, m.ID, status); err != nil {
		return errors.Wrapf(err, "set match %s status", m.ID)
	}
	s.log.WithFields(logrus.Fields{"match": m.ID, "from": m.Status, "to": status}).Info("match status changed")
	m.Status = status
	s.notifier.Match(ctx, m)
	return nil
}
