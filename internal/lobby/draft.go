package lobby

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cytokine/backend/internal/errs"
	"github.com/cytokine/backend/internal/models"
)

// armPickTimer starts the one-shot captain selection timer unless it is
// already armed. A lobby marked armed without a scheduled timer, as after a
// restart, is armed again. Callers hold the lobby lock.
func (s *Service) armPickTimer(ctx context.Context, l *models.Lobby) error {
	id := l.ID
	if l.Data.PickTimerArmed {
		if s.sched.Busy(pickKey(id)) {
			return nil
		}
		s.log.WithField("lobby", id).Warn("pick timer lost, re-arming")
	} else {
		l.Data.PickTimerArmed = true
		if err := s.store.SetLobbyData(ctx, id, l.Data); err != nil {
			return err
		}
	}

	delay := time.Duration(l.Data.CaptainPickTimeout) * time.Second
	s.sched.ScheduleOnce(pickKey(id), delay, func(ctx context.Context) {
		if err := s.onPickTimeout(ctx, id); err != nil {
			s.log.WithError(err).WithField("lobby", id).Error("captain selection failed")
		}
	})
	s.log.WithFields(logrus.Fields{"lobby": id, "timeout": delay}).Info("pick timer armed")
	return nil
}

// onPickTimeout selects the captains and opens the draft.
func (s *Service) onPickTimeout(ctx context.Context, id string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	l, err := s.load(ctx, nil, id)
	if err != nil {
		return err
	}
	if !l.Status.PlayerEditable() || !l.Data.PickTimerArmed {
		return nil
	}

	if !RequirementsMet(l) || len(l.QueuedPlayers) < 2 {
		l.Data.PickTimerArmed = false
		if err := s.store.SetLobbyData(ctx, id, l.Data); err != nil {
			return err
		}
		s.log.WithField("lobby", id).Info("requirements no longer met, pick timer disarmed")
		if l.Status == models.LobbyWaitingForAFKCheck {
			return s.setStatus(ctx, l, models.LobbyWaitingForRequiredPlayers)
		}
		return nil
	}

	a, b := s.selectCaptains(l.QueuedPlayers)
	makeCaptain(&l.QueuedPlayers[a], models.RoleCaptainA, models.RoleTeamA)
	makeCaptain(&l.QueuedPlayers[b], models.RoleCaptainB, models.RoleTeamB)
	if err := s.store.SetQueuedPlayers(ctx, id, l.QueuedPlayers); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"lobby":     id,
		"captain_a": l.QueuedPlayers[a].Identity(),
		"captain_b": l.QueuedPlayers[b].Identity(),
	}).Info("captains selected")
	return s.setStatus(ctx, l, models.LobbyWaitingForPicks)
}

func makeCaptain(p *models.Player, captain, team string) {
	p.Roles = []string{models.RoleCanCaptain, captain, team, models.RolePlayer}
}

// selectCaptains returns the roster positions of the two captains. Exactly two
// volunteers become captains, two of more volunteers are drawn at random, and
// with fewer than two volunteers any two players are drawn.
func (s *Service) selectCaptains(players []models.Player) (int, int) {
	var volunteers []int
	for i, p := range players {
		if p.HasRole(models.RoleCanCaptain) {
			volunteers = append(volunteers, i)
		}
	}

	pool := volunteers
	if len(volunteers) == 2 {
		return volunteers[0], volunteers[1]
	}
	if len(volunteers) < 2 {
		pool = make([]int, len(players))
		for i := range players {
			pool[i] = i
		}
	}

	first := s.intN(len(pool))
	second := s.intN(len(pool) - 1)
	if second >= first {
		second++
	}
	return pool[first], pool[second]
}

// donePicking reports whether every non-captain seat has been drafted.
func donePicking(l *models.Lobby) bool {
	picked := 0
	for _, p := range l.QueuedPlayers {
		if p.HasRole(models.RolePicked) && !p.IsCaptain() {
			picked++
		}
	}
	return picked == l.MaxPlayers-2
}

// Pick drafts a queued player onto the requesting captain's team. Captain and
// picked player are identified by their Discord id.
func (s *Service) Pick(ctx context.Context, client *models.Client, id string, req models.PickRequest) (*models.Lobby, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	l, err := s.load(ctx, client, id)
	if err != nil {
		return nil, err
	}
	if l.Distribution != models.DistributionCaptainBased || l.Status != models.LobbyWaitingForPicks {
		return nil, errs.StateConflict("lobby %s is not picking", id)
	}

	ci := l.FindPlayer(models.IdentityDiscord, req.Captain)
	if ci < 0 {
		return nil, errs.Admission("only captains can pick")
	}
	team, ok := l.QueuedPlayers[ci].CaptainTeam()
	if !ok {
		return nil, errs.Admission("only captains can pick")
	}

	role := req.Pick.Role
	requirement, ok := l.Requirement(role)
	if !ok {
		return nil, errs.NotFound("role %s is not required by this lobby", role)
	}
	taken := 0
	for _, p := range l.QueuedPlayers {
		if p.HasRole(models.RolePicked) && p.HasRole(team) && p.HasRole(role) {
			taken++
		}
	}
	if taken >= requirement.Count/2 {
		return nil, errs.Admission("team already has enough %s players", role)
	}

	pi := l.FindPlayer(models.IdentityDiscord, req.Pick.Player)
	if pi < 0 {
		return nil, errs.NotFound("player %s not found", req.Pick.Player)
	}
	picked := &l.QueuedPlayers[pi]
	if picked.HasRole(models.RolePicked) || picked.IsCaptain() {
		return nil, errs.Admission("player %s has already been picked", req.Pick.Player)
	}
	picked.Roles = []string{models.RolePlayer, models.RolePicked, team, role, models.TeamQualifiedRole(team, role)}

	if err := s.store.SetQueuedPlayers(ctx, id, l.QueuedPlayers); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"lobby":   id,
		"captain": req.Captain,
		"player":  req.Pick.Player,
		"role":    role,
	}).Info("player picked")

	if donePicking(l) {
		s.sched.ScheduleOnce(evalKey(id), 0, s.evaluateTask(id))
	}
	return l, nil
}
