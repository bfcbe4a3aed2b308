package match

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cytokine/backend/internal/errs"
	"github.com/cytokine/backend/internal/fleet"
	"github.com/cytokine/backend/internal/models"
	"github.com/cytokine/backend/internal/probe"
	"github.com/cytokine/backend/internal/store"
)

// provisioning reports whether the match gets a fleet-managed server.
func (s *Service) provisioning(m *models.Match) bool {
	return s.fleet != nil && m.Preferences.CreateLighthouseServer
}

// Process stores the final roster and starts the match: a server is requested
// when provisioning is enabled, otherwise the match goes live at once.
func (s *Service) Process(ctx context.Context, id string, roster []models.Player) error {
	failed, err := s.process(ctx, id, roster)
	if failed {
		s.cascade(ctx, id)
	}
	return err
}

func (s *Service) process(ctx context.Context, id string, roster []models.Player) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	m, err := s.load(ctx, nil, id)
	if err != nil {
		return false, err
	}
	if m.Status != models.MatchWaitingForLobby {
		return false, errs.StateConflict("match %s is already %s", id, m.Status)
	}
	log := s.log.WithFields(logrus.Fields{"match": id, "region": m.Region})

	if roster != nil {
		m.Players = models.ClonePlayers(roster)
		if err := s.store.SetMatchPlayers(ctx, id, m.Players); err != nil {
			return false, err
		}
	}
	if err := s.setStatus(ctx, m, models.MatchLobbyReady); err != nil {
		return false, err
	}

	if !s.provisioning(m) {
		return false, s.setStatus(ctx, m, models.MatchLive)
	}

	if err := s.setStatus(ctx, m, models.MatchCreatingServer); err != nil {
		return false, err
	}

	provider, err := s.provider(ctx, m)
	if err != nil {
		log.WithError(err).Error("no server provider for match")
		if terr := s.terminate(ctx, m, models.MatchFailed); terr != nil {
			return false, terr
		}
		return true, err
	}

	srv, err := s.fleet.Create(ctx, fleet.CreateRequest{
		Game:     m.Game,
		Region:   m.Region,
		Provider: provider,
		Data:     serverData(m.Preferences),
	})
	if err != nil {
		log.WithError(err).Error("failed to create server")
		if terr := s.terminate(ctx, m, models.MatchFailed); terr != nil {
			return false, terr
		}
		return true, errs.Provisioning(err, "create server for match %s", id)
	}

	if err := s.store.SetMatchServer(ctx, id, srv.ID); err != nil {
		return false, err
	}
	m.Server = srv.ID
	log.WithFields(logrus.Fields{"server": srv.ID, "provider": provider}).Info("server requested")
	return false, nil
}

// provider returns the preferred provider or the first one serving the region.
func (s *Service) provider(ctx context.Context, m *models.Match) (string, error) {
	if m.Preferences.LighthouseProvider != "" {
		return m.Preferences.LighthouseProvider, nil
	}
	providers, err := s.fleet.Providers(ctx, m.Region)
	if err != nil {
		return "", errs.Provisioning(err, "list providers of region %s", m.Region)
	}
	if len(providers) == 0 {
		return "", errs.Provisioning(nil, "no available provider in region %s", m.Region)
	}
	return providers[0], nil
}

func serverData(p models.MatchPreferences) map[string]any {
	data := map[string]any{}
	if p.Config != "" {
		data["config"] = p.Config
	}
	if p.ValveSDR {
		data["valveSdr"] = true
	}
	if len(data) == 0 {
		return nil
	}
	return data
}

// HandleServerStatus applies a status reported by the fleet manager for a server.
func (s *Service) HandleServerStatus(ctx context.Context, serverID string, status fleet.ServerStatus) (*models.Match, error) {
	if !status.Valid() {
		return nil, errs.Admission("unknown server status %q", status)
	}
	m, err := s.store.GetMatchByServer(ctx, serverID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.NotFound("no match for server %s", serverID)
	}
	if err != nil {
		return nil, err
	}

	m, ready, terminal, err := s.handleServerStatus(ctx, m.ID, status)
	if err != nil {
		return nil, err
	}
	if ready {
		s.whitelist(ctx, m)
	}
	if terminal {
		s.cascade(ctx, m.ID)
	}
	return m, nil
}

func (s *Service) handleServerStatus(ctx context.Context, id string, status fleet.ServerStatus) (*models.Match, bool, bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	m, err := s.load(ctx, nil, id)
	if err != nil {
		return nil, false, false, err
	}
	s.log.WithFields(logrus.Fields{"match": id, "server": m.Server, "server_status": status}).Debug("server status received")

	switch m.Status {
	case models.MatchCreatingServer:
		switch {
		case status.Ready():
			return m, true, false, s.setStatus(ctx, m, models.MatchWaitingForPlayers)
		case status.Gone():
			return m, false, true, s.terminate(ctx, m, models.MatchFailed)
		}
	case models.MatchWaitingForPlayers, models.MatchWaitingToStart, models.MatchLive, models.MatchWaitingToClose:
		if status.Gone() {
			return m, false, true, s.terminate(ctx, m, models.MatchFinished)
		}
	}
	return m, false, false, nil
}

// whitelist restricts the server to the roster. Failures are logged only.
func (s *Service) whitelist(ctx context.Context, m *models.Match) {
	if s.probe == nil || s.fleet == nil || len(m.Players) == 0 {
		return
	}
	log := s.log.WithFields(logrus.Fields{"match": m.ID, "server": m.Server})

	srv, err := s.fleet.Get(ctx, m.Server)
	if err != nil {
		log.WithError(err).Warn("failed to fetch server for whitelist")
		return
	}
	if srv.Data.HatchAddress == "" {
		return
	}
	if err := s.probe.EnableWhitelist(ctx, srv.IP, srv.Data.HatchAddress, srv.Data.HatchPassword); err != nil {
		log.WithError(err).Warn("failed to enable whitelist")
		return
	}
	for _, p := range m.Players {
		if err := s.probe.AddWhitelistPlayer(ctx, srv.IP, srv.Data.HatchAddress, srv.Data.HatchPassword, probe.WhitelistEntryFor(p)); err != nil {
			log.WithError(err).WithField("player", p.Identity()).Warn("failed to whitelist player")
		}
	}
	log.WithField("players", len(m.Players)).Info("server whitelist applied")
}
