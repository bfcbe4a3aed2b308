package models

import (
	"slices"

	"github.com/leighmacdonald/steamid/v4/steamid"
)

// Role tags carried by queued players. A player holds several at once.
const (
	RolePlayer     = "player"
	RoleCreator    = "creator"
	RoleTeamA      = "team_a"
	RoleTeamB      = "team_b"
	RoleCaptainA   = "captain-a"
	RoleCaptainB   = "captain-b"
	RoleCanCaptain = "can-captain"
	RolePicked     = "picked"
)

// technicalRoles are the tags that describe a player's place in the lobby
// rather than the class they queued for.
var technicalRoles = []string{
	RolePlayer, RoleCreator, RoleTeamA, RoleTeamB, RoleCaptainA, RoleCaptainB, RolePicked,
}

// IsTechnicalRole reports whether role is a lobby bookkeeping tag.
func IsTechnicalRole(role string) bool {
	return slices.Contains(technicalRoles, role)
}

// TeamPrefix returns the in-game side used to qualify class roles of a team.
func TeamPrefix(team string) string {
	switch team {
	case RoleTeamA:
		return "red"
	case RoleTeamB:
		return "blu"
	}
	return ""
}

// TeamQualifiedRole returns the class role bound to a side, e.g. red-scout.
func TeamQualifiedRole(team, role string) string {
	return TeamPrefix(team) + "-" + role
}

// Identity lookup kinds accepted by the player endpoints.
const (
	IdentityDiscord = "discord"
	IdentitySteam   = "steam"
	IdentityName    = "name"
)

// Player is a queued lobby member or a match roster entry
type Player struct {
	Name    string   `json:"name" binding:"required"`
	Discord string   `json:"discord,omitempty"`
	Steam   string   `json:"steam,omitempty"`
	Roles   []string `json:"roles" binding:"required,min=1"`
	AFK     bool     `json:"afk,omitempty"`
}

// Identity is the external identity used for uniqueness checks.
func (p Player) Identity() string {
	switch {
	case p.Discord != "":
		return p.Discord
	case p.Steam != "":
		return p.Steam
	}
	return p.Name
}

// Matches reports whether the player is identified by id under the given lookup kind.
func (p Player) Matches(kind, id string) bool {
	switch kind {
	case IdentityDiscord:
		return p.Discord != "" && p.Discord == id
	case IdentitySteam:
		return p.Steam != "" && p.Steam == NormalizeSteamID(id)
	case IdentityName:
		return p.Name == id
	}
	return false
}

func (p Player) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// WantedRole is the role a join request queues for: the last one submitted.
func (p Player) WantedRole() string {
	if len(p.Roles) == 0 {
		return ""
	}
	return p.Roles[len(p.Roles)-1]
}

// Team returns the team tag the player holds, if any.
func (p Player) Team() string {
	switch {
	case p.HasRole(RoleTeamA):
		return RoleTeamA
	case p.HasRole(RoleTeamB):
		return RoleTeamB
	}
	return ""
}

// CaptainTeam returns the team a captain drafts for.
func (p Player) CaptainTeam() (string, bool) {
	switch {
	case p.HasRole(RoleCaptainA):
		return RoleTeamA, true
	case p.HasRole(RoleCaptainB):
		return RoleTeamB, true
	}
	return "", false
}

func (p Player) IsCaptain() bool {
	_, ok := p.CaptainTeam()
	return ok
}

// Clone returns a deep copy of the player.
func (p Player) Clone() Player {
	p.Roles = slices.Clone(p.Roles)
	return p
}

// SameRoles reports whether both players hold the same set of role tags.
func (p Player) SameRoles(other Player) bool {
	a := slices.Compact(slices.Sorted(slices.Values(p.Roles)))
	b := slices.Compact(slices.Sorted(slices.Values(other.Roles)))
	return slices.Equal(a, b)
}

// NormalizeSteamID converts any accepted steam id notation to SteamID64.
// Unparseable input is returned unchanged.
func NormalizeSteamID(id string) string {
	if id == "" {
		return id
	}
	sid := steamid.New(id)
	if !sid.Valid() {
		return id
	}
	return sid.String()
}

// UniqueRoles drops repeated role tags. The last occurrence wins so the
// wanted role of a join request is preserved.
func UniqueRoles(roles []string) []string {
	out := make([]string, 0, len(roles))
	for i, role := range roles {
		if !slices.Contains(roles[i+1:], role) {
			out = append(out, role)
		}
	}
	return out
}

// ClonePlayers deep copies a roster.
func ClonePlayers(players []Player) []Player {
	if players == nil {
		return nil
	}
	out := make([]Player, len(players))
	for i, p := range players {
		out[i] = p.Clone()
	}
	return out
}

// IndexOfIdentity returns the roster position of identity, or -1.
func IndexOfIdentity(players []Player, identity string) int {
	return slices.IndexFunc(players, func(p Player) bool {
		return p.Identity() == identity
	})
}
