package models

import (
	"slices"
	"time"
)

// LobbyStatus is the lifecycle state of a lobby
type LobbyStatus string

const (
	LobbyUnknown                   LobbyStatus = "UNKNOWN"
	LobbyWaitingForRequiredPlayers LobbyStatus = "WAITING_FOR_REQUIRED_PLAYERS"
	LobbyWaitingForAFKCheck        LobbyStatus = "WAITING_FOR_AFK_CHECK"
	LobbyWaitingForPicks           LobbyStatus = "WAITING_FOR_PICKS"
	LobbyDistributing              LobbyStatus = "DISTRIBUTING"
	LobbyDistributed               LobbyStatus = "DISTRIBUTED"
	LobbyExpired                   LobbyStatus = "EXPIRED"
	LobbyClosed                    LobbyStatus = "CLOSED"
)

// ActiveLobbyStatuses are every non-terminal status.
var ActiveLobbyStatuses = []LobbyStatus{
	LobbyWaitingForRequiredPlayers,
	LobbyWaitingForAFKCheck,
	LobbyWaitingForPicks,
	LobbyDistributing,
	LobbyDistributed,
}

// PendingLobbyStatuses are the statuses the supervisor sweeps.
var PendingLobbyStatuses = []LobbyStatus{
	LobbyWaitingForRequiredPlayers,
	LobbyWaitingForAFKCheck,
	LobbyWaitingForPicks,
}

func (s LobbyStatus) Terminal() bool {
	return s == LobbyExpired || s == LobbyClosed
}

// PlayerEditable reports whether players may join, leave or change roles.
func (s LobbyStatus) PlayerEditable() bool {
	return s == LobbyWaitingForRequiredPlayers || s == LobbyWaitingForAFKCheck
}

// DistributionType selects the team distribution strategy of a lobby
type DistributionType string

const (
	DistributionRandom        DistributionType = "RANDOM"
	DistributionTeamRoleBased DistributionType = "TEAM_ROLE_BASED"
	DistributionCaptainBased  DistributionType = "CAPTAIN_BASED"
)

// RoleRequirement declares how many players a role needs
type RoleRequirement struct {
	Name     string `json:"name" binding:"required"`
	Count    int    `json:"count" binding:"min=0"`
	Overfill bool   `json:"overfill,omitempty"`
}

// LobbyData holds the lobby's timing and check settings.
type LobbyData struct {
	ExpiryTime         int  `json:"expiryTime"`
	ExtraExpiryTime    int  `json:"extraExpiryTime"`
	AFKCheck           bool `json:"afkCheck"`
	CaptainPickTimeout int  `json:"captainPickTimeout"`
	PickTimerArmed     bool `json:"pickTimerArmed"`
}

// Lobby is a queue of players gathering for a match
type Lobby struct {
	ID            string            `json:"_id"`
	CreatedAt     time.Time         `json:"createdAt"`
	Client        string            `json:"client"`
	CreatedBy     string            `json:"createdBy"`
	Status        LobbyStatus       `json:"status"`
	Distribution  DistributionType  `json:"distribution"`
	Requirements  []RoleRequirement `json:"requirements"`
	QueuedPlayers []Player          `json:"queuedPlayers"`
	Joiners       []string          `json:"joiners"`
	MaxPlayers    int               `json:"maxPlayers"`
	CallbackURL   string            `json:"callbackUrl,omitempty"`
	Match         string            `json:"match"`
	Data          LobbyData         `json:"data"`
}

// ExpiresAt is the moment the lobby expires unless it is in a pick phase.
func (l *Lobby) ExpiresAt() time.Time {
	seconds := l.Data.ExpiryTime + l.Data.ExtraExpiryTime
	return l.CreatedAt.Add(time.Duration(seconds) * time.Second)
}

func (l *Lobby) Requirement(name string) (RoleRequirement, bool) {
	i := slices.IndexFunc(l.Requirements, func(r RoleRequirement) bool { return r.Name == name })
	if i < 0 {
		return RoleRequirement{}, false
	}
	return l.Requirements[i], true
}

func (l *Lobby) HasJoined(identity string) bool {
	return slices.Contains(l.Joiners, identity)
}

// FindPlayer returns the index of the queued player identified by id, or -1.
func (l *Lobby) FindPlayer(kind, id string) int {
	return slices.IndexFunc(l.QueuedPlayers, func(p Player) bool { return p.Matches(kind, id) })
}

// Clone returns a deep copy safe to mutate.
func (l *Lobby) Clone() *Lobby {
	c := *l
	c.Requirements = slices.Clone(l.Requirements)
	c.QueuedPlayers = ClonePlayers(l.QueuedPlayers)
	c.Joiners = slices.Clone(l.Joiners)
	return &c
}

// LobbyRequest is the creation payload for a lobby and its backing match.
type LobbyRequest struct {
	UserID        string            `json:"userId" binding:"required"`
	CallbackURL   string            `json:"callbackUrl"`
	Distribution  DistributionType  `json:"distribution" binding:"required,oneof=RANDOM TEAM_ROLE_BASED CAPTAIN_BASED"`
	Requirements  []RoleRequirement `json:"requirements" binding:"dive"`
	QueuedPlayers []Player          `json:"queuedPlayers" binding:"dive"`
	Data          LobbyRequestData  `json:"data"`
	MatchOptions  MatchRequest      `json:"matchOptions" binding:"required"`
}

type LobbyRequestData struct {
	ExpiryTime         int  `json:"expiryTime" binding:"min=0"`
	AFKCheck           bool `json:"afkCheck"`
	CaptainPickTimeout int  `json:"captainPickTimeout" binding:"min=0"`
}

// PickRequest is a captain's draft choice.
type PickRequest struct {
	Captain string `json:"captain" binding:"required"`
	Pick    struct {
		Player string `json:"player" binding:"required"`
		Role   string `json:"role" binding:"required"`
	} `json:"pick" binding:"required"`
}
