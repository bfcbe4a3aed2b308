package lobby

import (
	"context"
	"io"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cytokine/backend/internal/errs"
	"github.com/cytokine/backend/internal/models"
	"github.com/cytokine/backend/internal/scheduler"
	"github.com/cytokine/backend/internal/store"
)

type fakeMatches struct {
	mu        sync.Mutex
	created   []models.MatchRequest
	closed    []string
	processed map[string][]models.Player
	closeErr  error
}

func (f *fakeMatches) Create(_ context.Context, client *models.Client, req models.MatchRequest) (*models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, req)
	return &models.Match{ID: uuid.NewString(), Client: client.ID, Status: models.MatchWaitingForLobby}, nil
}

func (f *fakeMatches) Close(_ context.Context, id string) (*models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
	if f.closeErr != nil {
		return nil, f.closeErr
	}
	return &models.Match{ID: id, Status: models.MatchClosed}, nil
}

func (f *fakeMatches) Process(_ context.Context, id string, roster []models.Player) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.processed == nil {
		f.processed = make(map[string][]models.Player)
	}
	f.processed[id] = roster
	return nil
}

func (f *fakeMatches) roster(id string) ([]models.Player, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.processed[id]
	return r, ok
}

type fakeNotifier struct {
	mu       sync.Mutex
	statuses []models.LobbyStatus
}

func (f *fakeNotifier) Lobby(_ context.Context, l *models.Lobby) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, l.Status)
}

func (f *fakeNotifier) seen(status models.LobbyStatus) bool {
	return f.count(status) > 0
}

func (f *fakeNotifier) count(status models.LobbyStatus) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.statuses {
		if s == status {
			n++
		}
	}
	return n
}

type fixture struct {
	svc      *Service
	store    *store.Memory
	matches  *fakeMatches
	notifier *fakeNotifier
	client   *models.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	log := logrus.NewEntry(logger)

	sched := scheduler.New(context.Background(), log)
	t.Cleanup(sched.Stop)

	f := &fixture{
		store:    store.NewMemory(),
		matches:  &fakeMatches{},
		notifier: &fakeNotifier{},
		client:   &models.Client{ID: "bot"},
	}
	f.svc = NewService(f.store, f.notifier, sched, log, Options{Rand: rand.New(rand.NewPCG(1, 2))})
	f.svc.BindMatches(f.matches)
	return f
}

func player(discord string, roles ...string) models.Player {
	return models.Player{Name: "p" + discord, Discord: discord, Roles: roles}
}

func randomRequest(user string, size int) models.LobbyRequest {
	return models.LobbyRequest{
		UserID:       user,
		CallbackURL:  "http://bot.local/lobby",
		Distribution: models.DistributionRandom,
		Requirements: []models.RoleRequirement{{Name: models.RolePlayer, Count: size}},
		MatchOptions: models.MatchRequest{Game: models.GameTF2, Region: "eu", RequiredPlayers: size},
	}
}

func (f *fixture) create(t *testing.T, req models.LobbyRequest) *models.Lobby {
	t.Helper()
	l, err := f.svc.Create(context.Background(), f.client, req)
	require.NoError(t, err)
	return l
}

func (f *fixture) join(t *testing.T, id string, p models.Player) *models.Lobby {
	t.Helper()
	l, err := f.svc.AddPlayer(context.Background(), f.client, id, p)
	require.NoError(t, err)
	return l
}

func (f *fixture) status(t *testing.T, id string) models.LobbyStatus {
	t.Helper()
	l, err := f.store.GetLobby(context.Background(), id)
	require.NoError(t, err)
	return l.Status
}

func TestCreateDefaultsMatchCallback(t *testing.T) {
	f := newFixture(t)
	l := f.create(t, randomRequest("creator", 4))

	assert.Equal(t, models.LobbyWaitingForRequiredPlayers, l.Status)
	assert.Equal(t, 1800, l.Data.ExpiryTime)
	assert.Equal(t, 4, l.MaxPlayers)
	require.Len(t, f.matches.created, 1)
	assert.Equal(t, "http://bot.local/lobby", f.matches.created[0].CallbackURL)
	assert.True(t, f.notifier.seen(models.LobbyWaitingForRequiredPlayers))
}

func TestCreateRequiresRequiredPlayers(t *testing.T) {
	f := newFixture(t)
	req := randomRequest("creator", 0)
	req.Requirements = []models.RoleRequirement{{Name: "scout", Count: 4}, {Name: "medic", Count: 2}}

	_, err := f.svc.Create(context.Background(), f.client, req)
	assert.True(t, errs.IsAdmission(err))
	assert.Empty(t, f.matches.created)
}

func TestOverlappingRequirementsFillRoster(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := captainRequest("creator")
	req.Requirements = []models.RoleRequirement{
		{Name: models.RolePlayer, Count: 4}, {Name: "scout", Count: 2}, {Name: "medic", Count: 2},
	}
	l := f.create(t, req)
	require.Equal(t, 4, l.MaxPlayers)

	for _, p := range []models.Player{
		player("1", models.RolePlayer, "scout"),
		player("2", models.RolePlayer, "scout"),
		player("3", models.RolePlayer, "medic"),
		player("4", models.RolePlayer, "medic"),
	} {
		f.join(t, l.ID, p)
	}

	got, err := f.store.GetLobby(ctx, l.ID)
	require.NoError(t, err)
	assert.Len(t, got.QueuedPlayers, 4)
	assert.True(t, RequirementsMet(got))

	require.NoError(t, f.svc.Evaluate(ctx, l.ID))
	got, err = f.store.GetLobby(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, got.Data.PickTimerArmed)
}

func TestSeededPlayersAreAdmittedByStrategy(t *testing.T) {
	t.Run("over capacity", func(t *testing.T) {
		f := newFixture(t)
		req := randomRequest("creator", 2)
		req.QueuedPlayers = []models.Player{
			player("1", models.RolePlayer), player("2", models.RolePlayer), player("3", models.RolePlayer),
		}
		_, err := f.svc.Create(context.Background(), f.client, req)
		assert.True(t, errs.IsAdmission(err))
		assert.Empty(t, f.matches.created)
	})

	t.Run("unknown role", func(t *testing.T) {
		f := newFixture(t)
		req := randomRequest("creator", 2)
		req.QueuedPlayers = []models.Player{player("1", "pyro")}
		_, err := f.svc.Create(context.Background(), f.client, req)
		assert.True(t, errs.IsAdmission(err))
		assert.Empty(t, f.matches.created)
	})

	t.Run("repeated seed", func(t *testing.T) {
		f := newFixture(t)
		req := randomRequest("creator", 2)
		req.QueuedPlayers = []models.Player{player("1", models.RolePlayer), player("1", models.RolePlayer)}
		l := f.create(t, req)
		assert.Len(t, l.QueuedPlayers, 1)
		assert.Len(t, l.Joiners, 1)
	})
}

func TestRepeatedRolesAreCountedOnce(t *testing.T) {
	f := newFixture(t)
	l := f.create(t, randomRequest("creator", 2))
	got := f.join(t, l.ID, player("1", models.RolePlayer, models.RolePlayer))
	require.Len(t, got.QueuedPlayers, 1)
	assert.Equal(t, []string{models.RolePlayer}, got.QueuedPlayers[0].Roles)

	// A lobby built by hand still tallies each tag once per player.
	got.QueuedPlayers = append(got.QueuedPlayers, player("2", models.RolePlayer, models.RolePlayer))
	assert.Equal(t, 2, TallyRequirements(got).Counts[models.RolePlayer])
	assert.True(t, RequirementsMet(got))
}

func TestCreatorCannotOpenSecondLobby(t *testing.T) {
	f := newFixture(t)
	f.create(t, randomRequest("creator", 4))

	_, err := f.svc.Create(context.Background(), f.client, randomRequest("creator", 4))
	assert.True(t, errs.IsAdmission(err))
	assert.Len(t, f.matches.created, 1)
}

func TestQueuedPlayerCannotJoinOrCreateElsewhere(t *testing.T) {
	f := newFixture(t)
	first := f.create(t, randomRequest("alice", 4))
	second := f.create(t, randomRequest("bob", 4))
	f.join(t, first.ID, player("carol", models.RolePlayer))

	_, err := f.svc.AddPlayer(context.Background(), f.client, second.ID, player("carol", models.RolePlayer))
	assert.True(t, errs.IsAdmission(err))

	_, err = f.svc.Create(context.Background(), f.client, randomRequest("carol", 4))
	assert.True(t, errs.IsAdmission(err))

	// The creator of an active lobby cannot queue in another one either.
	_, err = f.svc.AddPlayer(context.Background(), f.client, second.ID, player("alice", models.RolePlayer))
	assert.True(t, errs.IsAdmission(err))
}

func TestCreateRejectsQueuedPlayersBusyElsewhere(t *testing.T) {
	f := newFixture(t)
	first := f.create(t, randomRequest("alice", 4))
	f.join(t, first.ID, player("carol", models.RolePlayer))

	req := randomRequest("bob", 4)
	req.QueuedPlayers = []models.Player{player("carol", models.RolePlayer)}
	_, err := f.svc.Create(context.Background(), f.client, req)
	assert.True(t, errs.IsAdmission(err))
}

func TestOtherClientsCannotSeeLobby(t *testing.T) {
	f := newFixture(t)
	l := f.create(t, randomRequest("creator", 4))

	_, err := f.svc.Get(context.Background(), &models.Client{ID: "other"}, l.ID)
	assert.True(t, errs.IsNotFound(err))
}

func TestDuplicateJoinIsNoop(t *testing.T) {
	f := newFixture(t)
	l := f.create(t, randomRequest("creator", 4))
	f.join(t, l.ID, player("1", models.RolePlayer))

	again := f.join(t, l.ID, player("1", models.RolePlayer))
	assert.Len(t, again.QueuedPlayers, 1)
}

func TestTeamRoleBasedRejectsFifthScout(t *testing.T) {
	f := newFixture(t)
	req := randomRequest("creator", 12)
	req.Distribution = models.DistributionTeamRoleBased
	req.Requirements = []models.RoleRequirement{{Name: "scout", Count: 4}, {Name: "medic", Count: 2}}
	l := f.create(t, req)

	for _, id := range []string{"1", "2", "3", "4"} {
		f.join(t, l.ID, player(id, models.RolePlayer, "scout"))
	}
	_, err := f.svc.AddPlayer(context.Background(), f.client, l.ID, player("5", models.RolePlayer, "scout"))
	assert.True(t, errs.IsAdmission(err))

	got, err := f.store.GetLobby(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Len(t, got.QueuedPlayers, 4)
}

func TestExtraExpiryGrantedOncePerIdentity(t *testing.T) {
	f := newFixture(t)
	req := randomRequest("creator", 4)
	req.Data.ExpiryTime = 100
	l := f.create(t, req)
	ctx := context.Background()

	f.join(t, l.ID, player("1", models.RolePlayer))
	_, err := f.svc.RemovePlayer(ctx, f.client, l.ID, models.IdentityDiscord, "1")
	require.NoError(t, err)
	f.join(t, l.ID, player("1", models.RolePlayer))

	got, err := f.store.GetLobby(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Data.ExtraExpiryTime)
	assert.Equal(t, []string{"1"}, got.Joiners)
}

func TestPlayerEditsRequireEditableStatus(t *testing.T) {
	f := newFixture(t)
	l := f.create(t, randomRequest("creator", 4))
	ctx := context.Background()
	f.join(t, l.ID, player("1", models.RolePlayer))

	updated, err := f.svc.AddPlayerRole(ctx, f.client, l.ID, models.IdentityDiscord, "1", models.RoleCanCaptain)
	require.NoError(t, err)
	assert.Contains(t, updated.QueuedPlayers[0].Roles, models.RoleCanCaptain)

	updated, err = f.svc.RemovePlayerRole(ctx, f.client, l.ID, models.IdentityName, "p1", models.RoleCanCaptain)
	require.NoError(t, err)
	assert.NotContains(t, updated.QueuedPlayers[0].Roles, models.RoleCanCaptain)

	_, err = f.svc.RemovePlayer(ctx, f.client, l.ID, models.IdentityDiscord, "nobody")
	assert.True(t, errs.IsNotFound(err))

	require.NoError(t, f.store.SetLobbyStatus(ctx, l.ID, models.LobbyDistributed))
	_, err = f.svc.RemovePlayer(ctx, f.client, l.ID, models.IdentityDiscord, "1")
	assert.True(t, errs.IsStateConflict(err))
	_, err = f.svc.AddPlayer(ctx, f.client, l.ID, player("2", models.RolePlayer))
	assert.True(t, errs.IsStateConflict(err))
}

func TestGetPlayer(t *testing.T) {
	f := newFixture(t)
	l := f.create(t, randomRequest("creator", 4))
	f.join(t, l.ID, models.Player{Name: "sniper", Steam: "[U:1:22202]", Roles: []string{models.RolePlayer}})

	p, err := f.svc.GetPlayer(context.Background(), f.client, l.ID, models.IdentitySteam, "STEAM_0:0:11101")
	require.NoError(t, err)
	assert.Equal(t, "sniper", p.Name)
}

func TestRequirementsMet(t *testing.T) {
	reqs := []models.RoleRequirement{{Name: "scout", Count: 2}, {Name: "medic", Count: 1}}
	tests := []struct {
		name    string
		players []models.Player
		dist    models.DistributionType
		max     int
		met     bool
	}{
		{"unfilled", []models.Player{player("1", "scout")}, models.DistributionRandom, 3, false},
		{"exact", []models.Player{player("1", "scout"), player("2", "scout"), player("3", "medic")}, models.DistributionRandom, 3, true},
		{"overfilled", []models.Player{player("1", "scout"), player("2", "scout"), player("3", "scout"), player("4", "medic")}, models.DistributionRandom, 4, false},
		{"captain roster short", []models.Player{player("1", "scout"), player("2", "scout"), player("3", "medic")}, models.DistributionCaptainBased, 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &models.Lobby{Requirements: reqs, QueuedPlayers: tt.players, Distribution: tt.dist, MaxPlayers: tt.max}
			assert.Equal(t, tt.met, RequirementsMet(l))
			assert.Equal(t, tt.met, RequirementsMet(l), "idempotent")
		})
	}
}

func TestOverfillAllowsSurplus(t *testing.T) {
	l := &models.Lobby{
		Requirements:  []models.RoleRequirement{{Name: models.RolePlayer, Count: 2, Overfill: true}},
		QueuedPlayers: []models.Player{player("1", "player"), player("2", "player"), player("3", "player")},
	}
	assert.True(t, RequirementsMet(l))
}

func TestEvaluateExpiresLobby(t *testing.T) {
	f := newFixture(t)
	l := f.create(t, randomRequest("creator", 4))
	f.svc.now = func() time.Time { return time.Now().Add(time.Hour) }

	require.NoError(t, f.svc.Evaluate(context.Background(), l.ID))
	assert.Equal(t, models.LobbyExpired, f.status(t, l.ID))
	assert.Equal(t, []string{l.Match}, f.matches.closed)
	assert.True(t, f.notifier.seen(models.LobbyExpired))

	// Terminal lobbies are left alone.
	require.NoError(t, f.svc.Evaluate(context.Background(), l.ID))
	assert.Len(t, f.matches.closed, 1)
}

func TestEvaluateDistributesRandomLobby(t *testing.T) {
	f := newFixture(t)
	l := f.create(t, randomRequest("creator", 4))
	for _, id := range []string{"1", "2", "3", "4"} {
		f.join(t, l.ID, player(id, models.RolePlayer))
	}

	require.NoError(t, f.svc.Evaluate(context.Background(), l.ID))
	assert.Equal(t, models.LobbyDistributed, f.status(t, l.ID))
	assert.True(t, f.notifier.seen(models.LobbyDistributing))

	roster, ok := f.matches.roster(l.Match)
	require.True(t, ok)
	require.Len(t, roster, 4)
	var a, b int
	for _, p := range roster {
		switch p.Team() {
		case models.RoleTeamA:
			a++
		case models.RoleTeamB:
			b++
		}
	}
	assert.Equal(t, 2, a)
	assert.Equal(t, 2, b)
}

func TestEvaluateWaitsWhileUnmet(t *testing.T) {
	f := newFixture(t)
	l := f.create(t, randomRequest("creator", 4))
	f.join(t, l.ID, player("1", models.RolePlayer))

	require.NoError(t, f.svc.Evaluate(context.Background(), l.ID))
	assert.Equal(t, models.LobbyWaitingForRequiredPlayers, f.status(t, l.ID))
	_, processed := f.matches.roster(l.Match)
	assert.False(t, processed)
}

func TestAFKCheck(t *testing.T) {
	f := newFixture(t)
	req := randomRequest("creator", 2)
	req.Data.AFKCheck = true
	l := f.create(t, req)
	ctx := context.Background()
	f.join(t, l.ID, player("1", models.RolePlayer))
	f.join(t, l.ID, player("2", models.RolePlayer))

	require.NoError(t, f.svc.Evaluate(ctx, l.ID))
	assert.Equal(t, models.LobbyWaitingForAFKCheck, f.status(t, l.ID))

	// Somebody leaves during the check.
	_, err := f.svc.RemovePlayer(ctx, f.client, l.ID, models.IdentityDiscord, "2")
	require.NoError(t, err)
	require.NoError(t, f.svc.Evaluate(ctx, l.ID))
	assert.Equal(t, models.LobbyWaitingForRequiredPlayers, f.status(t, l.ID))

	f.join(t, l.ID, player("2", models.RolePlayer))
	require.NoError(t, f.svc.Evaluate(ctx, l.ID))
	require.Equal(t, models.LobbyWaitingForAFKCheck, f.status(t, l.ID))

	_, err = f.svc.SetPlayerAFK(ctx, f.client, l.ID, models.IdentityDiscord, "1", false)
	require.NoError(t, err)
	require.NoError(t, f.svc.Evaluate(ctx, l.ID))
	assert.Equal(t, models.LobbyWaitingForAFKCheck, f.status(t, l.ID))

	_, err = f.svc.SetPlayerAFK(ctx, f.client, l.ID, models.IdentityDiscord, "2", false)
	require.NoError(t, err)
	require.NoError(t, f.svc.Evaluate(ctx, l.ID))
	assert.Equal(t, models.LobbyDistributed, f.status(t, l.ID))
}

func TestCloseCascadesToMatch(t *testing.T) {
	f := newFixture(t)
	l := f.create(t, randomRequest("creator", 4))

	closed, err := f.svc.Close(context.Background(), f.client, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyClosed, closed.Status)
	assert.Equal(t, []string{l.Match}, f.matches.closed)

	again, err := f.svc.Close(context.Background(), f.client, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyClosed, again.Status)
	assert.Len(t, f.matches.closed, 1)
}

func TestCloseWithTerminalMatch(t *testing.T) {
	f := newFixture(t)
	l := f.create(t, randomRequest("creator", 4))
	f.matches.closeErr = errs.StateConflict("match already finished")

	closed, err := f.svc.Close(context.Background(), f.client, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LobbyClosed, closed.Status)
}

func TestCloseKeepsLobbyWhenMatchCloseFails(t *testing.T) {
	f := newFixture(t)
	l := f.create(t, randomRequest("creator", 4))
	f.matches.closeErr = assert.AnError

	_, err := f.svc.Close(context.Background(), f.client, l.ID)
	assert.Error(t, err)
	assert.Equal(t, models.LobbyWaitingForRequiredPlayers, f.status(t, l.ID))
}

func TestCloseForMatchDoesNotCallBack(t *testing.T) {
	f := newFixture(t)
	l := f.create(t, randomRequest("creator", 4))

	require.NoError(t, f.svc.CloseForMatch(context.Background(), l.Match))
	assert.Equal(t, models.LobbyClosed, f.status(t, l.ID))
	assert.Empty(t, f.matches.closed)

	require.NoError(t, f.svc.CloseForMatch(context.Background(), "unknown"))
}

func TestSweepSchedulesPendingLobbies(t *testing.T) {
	f := newFixture(t)
	l := f.create(t, randomRequest("creator", 2))
	f.join(t, l.ID, player("1", models.RolePlayer))
	f.join(t, l.ID, player("2", models.RolePlayer))
	done := f.create(t, randomRequest("other", 2))
	_, err := f.svc.Close(context.Background(), f.client, done.ID)
	require.NoError(t, err)

	n, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Eventually(t, func() bool {
		_, ok := f.matches.roster(l.Match)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.LobbyDistributed, f.status(t, l.ID))
}
