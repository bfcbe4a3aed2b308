// Package distribution decides whether players may join a lobby and how
// queued players are split into teams.
package distribution

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/cytokine/backend/internal/models"
)

// Verdict is the outcome of verifying a join request against a lobby.
type Verdict int

const (
	// Duplicate means the player is already queued with the exact same roles.
	Duplicate Verdict = -1
	Rejected  Verdict = 0
	Append    Verdict = 1
	Update    Verdict = 2
)

func (v Verdict) String() string {
	switch v {
	case Duplicate:
		return "duplicate"
	case Rejected:
		return "rejected"
	case Append:
		return "append"
	case Update:
		return "update"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// Strategy is implemented once per distribution type. Verify never mutates
// the lobby; Apply and Distribute mutate lobby.QueuedPlayers in place.
type Strategy interface {
	Verify(lobby *models.Lobby, player models.Player) Verdict
	Apply(lobby *models.Lobby, player models.Player, verdict Verdict)
	Distribute(lobby *models.Lobby)
}

// For returns the strategy of a distribution type.
func For(kind models.DistributionType) (Strategy, error) {
	switch kind {
	case models.DistributionRandom:
		return NewRandom(nil), nil
	case models.DistributionTeamRoleBased:
		return TeamRoleBased{}, nil
	case models.DistributionCaptainBased:
		return CaptainBased{}, nil
	}
	return nil, fmt.Errorf("unknown distribution type %q", kind)
}

// CountRole returns how many players hold role.
func CountRole(players []models.Player, role string) int {
	n := 0
	for _, p := range players {
		if p.HasRole(role) {
			n++
		}
	}
	return n
}

// existing returns the queued index of the player's identity, or -1.
func existing(lobby *models.Lobby, player models.Player) int {
	return models.IndexOfIdentity(lobby.QueuedPlayers, player.Identity())
}

// replaceOrAppend stores player according to verdict.
func replaceOrAppend(lobby *models.Lobby, player models.Player, verdict Verdict) {
	switch verdict {
	case Append:
		lobby.QueuedPlayers = append(lobby.QueuedPlayers, player.Clone())
	case Update:
		if i := existing(lobby, player); i >= 0 {
			lobby.QueuedPlayers[i].Roles = slices.Clone(player.Roles)
		}
	}
}

// Random queues anyone holding a required role and splits PLAYER-tagged
// entries into two teams by coin flip.
type Random struct {
	rng *rand.Rand
}

// NewRandom returns a Random strategy. A nil rng uses the global source.
func NewRandom(rng *rand.Rand) *Random {
	return &Random{rng: rng}
}

func (r *Random) intN(n int) int {
	if r.rng == nil {
		return rand.IntN(n)
	}
	return r.rng.IntN(n)
}

func (r *Random) Verify(lobby *models.Lobby, player models.Player) Verdict {
	i := existing(lobby, player)
	if i >= 0 && lobby.QueuedPlayers[i].SameRoles(player) {
		return Duplicate
	}

	wanted := player.WantedRole()
	req, ok := lobby.Requirement(wanted)
	if !ok {
		return Rejected
	}
	if i < 0 && len(lobby.QueuedPlayers) >= lobby.MaxPlayers {
		return Rejected
	}
	holds := i >= 0 && lobby.QueuedPlayers[i].HasRole(wanted)
	if !holds && !req.Overfill && CountRole(lobby.QueuedPlayers, wanted) >= req.Count {
		return Rejected
	}

	if i >= 0 {
		return Update
	}
	return Append
}

func (r *Random) Apply(lobby *models.Lobby, player models.Player, verdict Verdict) {
	replaceOrAppend(lobby, player, verdict)
}

// Distribute reassigns every PLAYER-tagged entry to team_a or team_b so that
// neither side exceeds half of the eligible players, rounded up.
func (r *Random) Distribute(lobby *models.Lobby) {
	eligible := CountRole(lobby.QueuedPlayers, models.RolePlayer)
	limit := (eligible + 1) / 2
	teams := [2]string{models.RoleTeamA, models.RoleTeamB}
	var count [2]int

	for i := range lobby.QueuedPlayers {
		p := &lobby.QueuedPlayers[i]
		if !p.HasRole(models.RolePlayer) {
			continue
		}
		p.Roles = slices.DeleteFunc(p.Roles, func(role string) bool {
			return role == models.RoleTeamA || role == models.RoleTeamB
		})

		ours := r.intN(2)
		if count[ours] >= limit {
			ours = 1 - ours
		}
		count[ours]++
		p.Roles = append(p.Roles, teams[ours])
	}
}

// TeamRoleBased admits a player only when their wanted role still has room.
type TeamRoleBased struct{}

// satisfied reports whether the role requirement is filled and admits nobody else.
func satisfied(players []models.Player, req models.RoleRequirement) bool {
	return !req.Overfill && CountRole(players, req.Name) >= req.Count
}

func (TeamRoleBased) Verify(lobby *models.Lobby, player models.Player) Verdict {
	wanted := player.WantedRole()
	req, ok := lobby.Requirement(wanted)
	if !ok {
		return Rejected
	}

	i := existing(lobby, player)
	if i >= 0 && lobby.QueuedPlayers[i].SameRoles(player) {
		return Duplicate
	}

	before := satisfied(lobby.QueuedPlayers, req)
	after := models.ClonePlayers(lobby.QueuedPlayers)
	if i >= 0 {
		after[i].Roles = slices.Clone(player.Roles)
		if before && satisfied(after, req) {
			return Rejected
		}
		return Update
	}

	teamsFull := len(lobby.QueuedPlayers) >= lobby.MaxPlayers
	after = append(after, player.Clone())
	if teamsFull || (before && satisfied(after, req)) {
		return Rejected
	}
	return Append
}

func (TeamRoleBased) Apply(lobby *models.Lobby, player models.Player, verdict Verdict) {
	replaceOrAppend(lobby, player, verdict)
}

// Distribute places any PLAYER-tagged entry that joined without a team on
// the smaller side. Players who queued for a team keep it.
func (TeamRoleBased) Distribute(lobby *models.Lobby) {
	a := CountRole(lobby.QueuedPlayers, models.RoleTeamA)
	b := CountRole(lobby.QueuedPlayers, models.RoleTeamB)
	for i := range lobby.QueuedPlayers {
		p := &lobby.QueuedPlayers[i]
		if !p.HasRole(models.RolePlayer) || p.Team() != "" {
			continue
		}
		if a <= b {
			p.Roles = append(p.Roles, models.RoleTeamA)
			a++
		} else {
			p.Roles = append(p.Roles, models.RoleTeamB)
			b++
		}
	}
}

// CaptainBased only records class preferences at join time. Teams are formed
// by the draft.
type CaptainBased struct{}

func (CaptainBased) Verify(lobby *models.Lobby, player models.Player) Verdict {
	i := existing(lobby, player)
	if i >= 0 {
		if lobby.QueuedPlayers[i].SameRoles(player) {
			return Duplicate
		}
		return Update
	}
	if len(lobby.QueuedPlayers) >= lobby.MaxPlayers {
		return Rejected
	}
	return Append
}

// Apply keeps the bookkeeping tags of a returning player and swaps their
// class roles, can-captain included, for the requested ones.
func (CaptainBased) Apply(lobby *models.Lobby, player models.Player, verdict Verdict) {
	switch verdict {
	case Append:
		lobby.QueuedPlayers = append(lobby.QueuedPlayers, player.Clone())
	case Update:
		i := existing(lobby, player)
		if i < 0 {
			return
		}
		q := &lobby.QueuedPlayers[i]
		roles := slices.DeleteFunc(slices.Clone(q.Roles), func(role string) bool {
			return !models.IsTechnicalRole(role)
		})
		for _, role := range player.Roles {
			if !models.IsTechnicalRole(role) && !slices.Contains(roles, role) {
				roles = append(roles, role)
			}
		}
		q.Roles = roles
	}
}

func (CaptainBased) Distribute(*models.Lobby) {}
