// Package store persists lobbies, matches and API clients. Every mutation is
// a typed, single-purpose update; callers never save whole documents.
package store

import (
	"context"

	"github.com/pkg/errors"

	"github.com/cytokine/backend/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// LobbyFilter narrows ListLobbies. Zero fields are ignored.
type LobbyFilter struct {
	Statuses       []models.LobbyStatus
	Client         string
	CreatedBy      string
	QueuedIdentity string
	ExcludeID      string
	Limit          int
}

type LobbyStore interface {
	CreateLobby(ctx context.Context, lobby *models.Lobby) error
	GetLobby(ctx context.Context, id string) (*models.Lobby, error)
	GetLobbyByMatch(ctx context.Context, matchID string) (*models.Lobby, error)
	ListLobbies(ctx context.Context, filter LobbyFilter) ([]*models.Lobby, error)
	SetLobbyStatus(ctx context.Context, id string, status models.LobbyStatus) error
	SetQueuedPlayers(ctx context.Context, id string, players []models.Player) error
	// AddJoiner records identity as a historical joiner and stores the new extra expiry.
	AddJoiner(ctx context.Context, id, identity string, extraExpiry int) error
	SetLobbyData(ctx context.Context, id string, data models.LobbyData) error
}

// MatchFilter narrows ListMatches and CountMatches. Zero fields are ignored.
type MatchFilter struct {
	Statuses []models.MatchStatus
	Client   string
	Region   string
	Limit    int
}

type MatchStore interface {
	CreateMatch(ctx context.Context, match *models.Match) error
	GetMatch(ctx context.Context, id string) (*models.Match, error)
	GetMatchByServer(ctx context.Context, serverID string) (*models.Match, error)
	ListMatches(ctx context.Context, filter MatchFilter) ([]*models.Match, error)
	CountMatches(ctx context.Context, filter MatchFilter) (int, error)
	SetMatchStatus(ctx context.Context, id string, status models.MatchStatus) error
	SetMatchServer(ctx context.Context, id, serverID string) error
	SetMatchPlayers(ctx context.Context, id string, players []models.Player) error
	SetMatchData(ctx context.Context, id string, data models.MatchData) error
}

type ClientStore interface {
	GetClient(ctx context.Context, id string) (*models.Client, error)
	SaveClient(ctx context.Context, client *models.Client) error
}

// Store groups every repository used by the service.
type Store interface {
	LobbyStore
	MatchStore
	ClientStore
}

// queuedIdentities lists the identities a lobby is searchable by.
func queuedIdentities(players []models.Player) []string {
	out := make([]string, 0, len(players))
	for _, p := range players {
		out = append(out, p.Identity())
	}
	return out
}
