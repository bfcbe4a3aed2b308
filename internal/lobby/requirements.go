package lobby

import "github.com/cytokine/backend/internal/models"

// Tally is the outcome of checking a roster against role requirements.
type Tally struct {
	Counts     map[string]int
	Unfilled   []string
	Overfilled []string
}

// TallyRequirements counts role tags across the queued players, each tag at
// most once per player, and compares them with the requirements.
func TallyRequirements(l *models.Lobby) Tally {
	t := Tally{Counts: make(map[string]int)}
	for _, p := range l.QueuedPlayers {
		for _, role := range models.UniqueRoles(p.Roles) {
			t.Counts[role]++
		}
	}
	for _, req := range l.Requirements {
		n := t.Counts[req.Name]
		switch {
		case n < req.Count:
			t.Unfilled = append(t.Unfilled, req.Name)
		case n > req.Count && !req.Overfill:
			t.Overfilled = append(t.Overfilled, req.Name)
		}
	}
	return t
}

// RequirementsMet reports whether the lobby can move on: no requirement is
// unfilled or overfilled, and a captain draft also needs a full roster.
func RequirementsMet(l *models.Lobby) bool {
	t := TallyRequirements(l)
	if len(t.Unfilled) > 0 || len(t.Overfilled) > 0 {
		return false
	}
	if l.Distribution == models.DistributionCaptainBased && len(l.QueuedPlayers) < l.MaxPlayers {
		return false
	}
	return true
}
