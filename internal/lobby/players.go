package lobby

import (
	"context"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/cytokine/backend/internal/distribution"
	"github.com/cytokine/backend/internal/errs"
	"github.com/cytokine/backend/internal/models"
)

// GetPlayer returns the queued player identified by id under kind.
func (s *Service) GetPlayer(ctx context.Context, client *models.Client, lobbyID, kind, id string) (*models.Player, error) {
	l, err := s.load(ctx, client, lobbyID)
	if err != nil {
		return nil, err
	}
	i := l.FindPlayer(kind, id)
	if i < 0 {
		return nil, errs.NotFound("player %s not found", id)
	}
	p := l.QueuedPlayers[i]
	return &p, nil
}

// AddPlayer queues a player or updates the roles of a queued one, as decided
// by the lobby's distribution strategy.
func (s *Service) AddPlayer(ctx context.Context, client *models.Client, id string, player models.Player) (*models.Lobby, error) {
	player = player.Clone()
	player.Steam = models.NormalizeSteamID(player.Steam)
	player.Roles = models.UniqueRoles(player.Roles)
	identity := player.Identity()

	if err := s.ensureAvailable(ctx, identity, id); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	l, err := s.load(ctx, client, id)
	if err != nil {
		return nil, err
	}
	if l.Status != models.LobbyWaitingForRequiredPlayers {
		return nil, errs.StateConflict("cannot join lobby in status %s", l.Status)
	}

	strategy, err := s.strategy(l)
	if err != nil {
		return nil, err
	}
	verdict := strategy.Verify(l, player)
	log := s.log.WithFields(logrus.Fields{"lobby": id, "player": identity, "verdict": verdict})

	switch verdict {
	case distribution.Duplicate:
		return l, nil
	case distribution.Rejected:
		log.Debug("join rejected")
		return nil, errs.Admission("cannot join lobby as %s", player.WantedRole())
	}

	strategy.Apply(l, player, verdict)
	if err := s.store.SetQueuedPlayers(ctx, id, l.QueuedPlayers); err != nil {
		return nil, err
	}

	if !l.HasJoined(identity) {
		l.Data.ExtraExpiryTime += l.Data.ExpiryTime / 10
		if err := s.store.AddJoiner(ctx, id, identity, l.Data.ExtraExpiryTime); err != nil {
			return nil, err
		}
		l.Joiners = append(l.Joiners, identity)
	}
	log.Info("player queued")
	return l, nil
}

// editPlayer applies fn to a queued player of an editable lobby and persists the roster.
func (s *Service) editPlayer(ctx context.Context, client *models.Client, id, kind, playerID string, fn func(l *models.Lobby, i int)) (*models.Lobby, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	l, err := s.load(ctx, client, id)
	if err != nil {
		return nil, err
	}
	if !l.Status.PlayerEditable() {
		return nil, errs.StateConflict("cannot edit players of lobby in status %s", l.Status)
	}
	i := l.FindPlayer(kind, playerID)
	if i < 0 {
		return nil, errs.NotFound("player %s not found", playerID)
	}

	fn(l, i)
	if err := s.store.SetQueuedPlayers(ctx, id, l.QueuedPlayers); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *Service) RemovePlayer(ctx context.Context, client *models.Client, id, kind, playerID string) (*models.Lobby, error) {
	return s.editPlayer(ctx, client, id, kind, playerID, func(l *models.Lobby, i int) {
		l.QueuedPlayers = slices.Delete(l.QueuedPlayers, i, i+1)
	})
}

func (s *Service) AddPlayerRole(ctx context.Context, client *models.Client, id, kind, playerID, role string) (*models.Lobby, error) {
	return s.editPlayer(ctx, client, id, kind, playerID, func(l *models.Lobby, i int) {
		if !l.QueuedPlayers[i].HasRole(role) {
			l.QueuedPlayers[i].Roles = append(l.QueuedPlayers[i].Roles, role)
		}
	})
}

func (s *Service) RemovePlayerRole(ctx context.Context, client *models.Client, id, kind, playerID, role string) (*models.Lobby, error) {
	return s.editPlayer(ctx, client, id, kind, playerID, func(l *models.Lobby, i int) {
		l.QueuedPlayers[i].Roles = slices.DeleteFunc(l.QueuedPlayers[i].Roles, func(r string) bool { return r == role })
	})
}

// SetPlayerAFK flags a queued player as away or back. An AFK check only
// passes once nobody is flagged.
func (s *Service) SetPlayerAFK(ctx context.Context, client *models.Client, id, kind, playerID string, afk bool) (*models.Lobby, error) {
	return s.editPlayer(ctx, client, id, kind, playerID, func(l *models.Lobby, i int) {
		l.QueuedPlayers[i].AFK = afk
	})
}
