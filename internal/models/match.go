package models

import (
	"maps"
	"time"
)

// MatchStatus is the lifecycle state of a match
type MatchStatus string

const (
	MatchUnknown           MatchStatus = "UNKNOWN"
	MatchWaitingForLobby   MatchStatus = "WAITING_FOR_LOBBY"
	MatchLobbyReady        MatchStatus = "LOBBY_READY"
	MatchCreatingServer    MatchStatus = "CREATING_SERVER"
	MatchWaitingForPlayers MatchStatus = "WAITING_FOR_PLAYERS"
	MatchWaitingToStart    MatchStatus = "WAITING_TO_START"
	MatchLive              MatchStatus = "LIVE"
	MatchWaitingToClose    MatchStatus = "WAITING_TO_CLOSE"
	MatchFinished          MatchStatus = "FINISHED"
	MatchClosed            MatchStatus = "CLOSED"
	MatchFailed            MatchStatus = "FAILED"
)

// ActiveMatchStatuses count toward a client's concurrency quota.
var ActiveMatchStatuses = []MatchStatus{
	MatchWaitingForLobby,
	MatchLobbyReady,
	MatchCreatingServer,
	MatchWaitingForPlayers,
	MatchWaitingToStart,
	MatchLive,
	MatchWaitingToClose,
}

// PolledMatchStatuses are probed by the supervisor.
var PolledMatchStatuses = []MatchStatus{
	MatchWaitingForPlayers,
	MatchWaitingToStart,
	MatchLive,
}

func (s MatchStatus) Terminal() bool {
	return s == MatchFinished || s == MatchClosed || s == MatchFailed
}

// Supported games.
const (
	GameTF2 = "tf2"
)

// MatchPreferences tune how the match server is provisioned.
type MatchPreferences struct {
	CreateLighthouseServer bool   `json:"createLighthouseServer"`
	LighthouseProvider     string `json:"lighthouseProvider,omitempty"`
	Config                 string `json:"config,omitempty"`
	ValveSDR               bool   `json:"valveSdr,omitempty"`
}

// MatchData holds the result artifacts collected when the match ends.
type MatchData struct {
	LogsURL string         `json:"logsUrl,omitempty"`
	DemoURL string         `json:"demoUrl,omitempty"`
	Score   map[string]int `json:"score,omitempty"`
}

func (d MatchData) Empty() bool {
	return d.LogsURL == "" && d.DemoURL == "" && len(d.Score) == 0
}

// Match tracks one game session and its server
type Match struct {
	ID              string           `json:"_id"`
	CreatedAt       time.Time        `json:"createdAt"`
	Client          string           `json:"client"`
	CallbackURL     string           `json:"callbackUrl,omitempty"`
	Game            string           `json:"game"`
	Map             string           `json:"map,omitempty"`
	Region          string           `json:"region"`
	Status          MatchStatus      `json:"status"`
	Server          string           `json:"server,omitempty"`
	Players         []Player         `json:"players"`
	RequiredPlayers int              `json:"requiredPlayers"`
	Preferences     MatchPreferences `json:"preferences"`
	Data            MatchData        `json:"data"`
}

// ExpectedPlayers is the player count the server must reach before the match can start.
func (m *Match) ExpectedPlayers() int {
	if len(m.Players) > 0 {
		return len(m.Players)
	}
	return m.RequiredPlayers
}

func (m *Match) Clone() *Match {
	c := *m
	c.Players = ClonePlayers(m.Players)
	c.Data.Score = maps.Clone(m.Data.Score)
	return &c
}

// MatchRequest is the creation payload of a match.
type MatchRequest struct {
	Game            string           `json:"game" binding:"required,oneof=tf2"`
	Region          string           `json:"region" binding:"required"`
	Map             string           `json:"map"`
	CallbackURL     string           `json:"callbackUrl"`
	Players         []Player         `json:"players" binding:"dive"`
	RequiredPlayers int              `json:"requiredPlayers" binding:"omitempty,min=2,max=24"`
	Preferences     MatchPreferences `json:"preferences"`
}
