package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/cytokine/backend/internal/models"
)

// Memory is an in-process Store used for development and tests. Records are
// copied on the way in and out so callers never share state with it.
type Memory struct {
	mu      sync.RWMutex
	lobbies map[string]*models.Lobby
	matches map[string]*models.Match
	clients map[string]*models.Client
}

func NewMemory() *Memory {
	return &Memory{
		lobbies: make(map[string]*models.Lobby),
		matches: make(map[string]*models.Match),
		clients: make(map[string]*models.Client),
	}
}

func (m *Memory) CreateLobby(_ context.Context, lobby *models.Lobby) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lobbies[lobby.ID] = lobby.Clone()
	return nil
}

func (m *Memory) GetLobby(_ context.Context, id string) (*models.Lobby, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lobbies[id]
	if !ok {
		return nil, ErrNotFound
	}
	return l.Clone(), nil
}

func (m *Memory) GetLobbyByMatch(_ context.Context, matchID string) (*models.Lobby, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.lobbies {
		if l.Match == matchID {
			return l.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListLobbies(_ context.Context, f LobbyFilter) ([]*models.Lobby, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Lobby
	for _, l := range m.lobbies {
		switch {
		case len(f.Statuses) > 0 && !slices.Contains(f.Statuses, l.Status):
			continue
		case f.Client != "" && l.Client != f.Client:
			continue
		case f.CreatedBy != "" && l.CreatedBy != f.CreatedBy:
			continue
		case f.ExcludeID != "" && l.ID == f.ExcludeID:
			continue
		case f.QueuedIdentity != "" && !slices.Contains(queuedIdentities(l.QueuedPlayers), f.QueuedIdentity):
			continue
		}
		out = append(out, l.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) updateLobby(id string, fn func(*models.Lobby)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lobbies[id]
	if !ok {
		return ErrNotFound
	}
	fn(l)
	return nil
}

func (m *Memory) SetLobbyStatus(_ context.Context, id string, status models.LobbyStatus) error {
	return m.updateLobby(id, func(l *models.Lobby) { l.Status = status })
}

func (m *Memory) SetQueuedPlayers(_ context.Context, id string, players []models.Player) error {
	return m.updateLobby(id, func(l *models.Lobby) { l.QueuedPlayers = models.ClonePlayers(players) })
}

func (m *Memory) AddJoiner(_ context.Context, id, identity string, extraExpiry int) error {
	return m.updateLobby(id, func(l *models.Lobby) {
		if !slices.Contains(l.Joiners, identity) {
			l.Joiners = append(l.Joiners, identity)
		}
		l.Data.ExtraExpiryTime = extraExpiry
	})
}

func (m *Memory) SetLobbyData(_ context.Context, id string, data models.LobbyData) error {
	return m.updateLobby(id, func(l *models.Lobby) { l.Data = data })
}

func (m *Memory) CreateMatch(_ context.Context, match *models.Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.matches[match.ID] = match.Clone()
	return nil
}

func (m *Memory) GetMatch(_ context.Context, id string) (*models.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	match, ok := m.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return match.Clone(), nil
}

func (m *Memory) GetMatchByServer(_ context.Context, serverID string) (*models.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, match := range m.matches {
		if serverID != "" && match.Server == serverID {
			return match.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) matchMatches(match *models.Match, f MatchFilter) bool {
	switch {
	case len(f.Statuses) > 0 && !slices.Contains(f.Statuses, match.Status):
		return false
	case f.Client != "" && match.Client != f.Client:
		return false
	case f.Region != "" && match.Region != f.Region:
		return false
	}
	return true
}

func (m *Memory) ListMatches(_ context.Context, f MatchFilter) ([]*models.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Match
	for _, match := range m.matches {
		if m.matchMatches(match, f) {
			out = append(out, match.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) CountMatches(_ context.Context, f MatchFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, match := range m.matches {
		if m.matchMatches(match, f) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) updateMatch(id string, fn func(*models.Match)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	match, ok := m.matches[id]
	if !ok {
		return ErrNotFound
	}
	fn(match)
	return nil
}

func (m *Memory) SetMatchStatus(_ context.Context, id string, status models.MatchStatus) error {
	return m.updateMatch(id, func(match *models.Match) { match.Status = status })
}

func (m *Memory) SetMatchServer(_ context.Context, id, serverID string) error {
	return m.updateMatch(id, func(match *models.Match) { match.Server = serverID })
}

func (m *Memory) SetMatchPlayers(_ context.Context, id string, players []models.Player) error {
	return m.updateMatch(id, func(match *models.Match) { match.Players = models.ClonePlayers(players) })
}

func (m *Memory) SetMatchData(_ context.Context, id string, data models.MatchData) error {
	return m.updateMatch(id, func(match *models.Match) {
		match.Data = data
		match.Data.Score = maps.Clone(data.Score)
	})
}

func (m *Memory) GetClient(_ context.Context, id string) (*models.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) SaveClient(_ context.Context, client *models.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *client
	m.clients[client.ID] = &cp
	return nil
}
