package lobby

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cytokine/backend/internal/fleet"
	"github.com/cytokine/backend/internal/match"
	"github.com/cytokine/backend/internal/models"
)

type stubFleet struct{}

func (stubFleet) Providers(context.Context, string) ([]string, error) {
	return []string{"gcp"}, nil
}

func (stubFleet) Create(context.Context, fleet.CreateRequest) (*fleet.Server, error) {
	return &fleet.Server{ID: "srv-1", Status: fleet.ServerInit}, nil
}

func (stubFleet) Get(_ context.Context, id string) (*fleet.Server, error) {
	return &fleet.Server{ID: id, Status: fleet.ServerRunning}, nil
}

func (stubFleet) Delete(context.Context, string) error { return nil }

type matchRecorder struct {
	mu       sync.Mutex
	statuses []models.MatchStatus
}

func (r *matchRecorder) Match(_ context.Context, m *models.Match) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, m.Status)
}

func (r *matchRecorder) count(status models.MatchStatus) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.statuses {
		if s == status {
			n++
		}
	}
	return n
}

// Both orchestrators share one store, as they do in the server.
func TestFailedServerClosesLobbyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	recorder := &matchRecorder{}
	matches := match.NewService(f.store, recorder, f.svc.sched, f.svc.log, match.Options{Fleet: stubFleet{}})
	matches.BindLobbies(f.svc)
	f.svc.BindMatches(matches)
	f.client = &models.Client{ID: "bot", Access: models.ClientAccess{
		Games:   []string{models.GameTF2},
		Regions: map[string]models.RegionAccess{"eu": {}},
	}}

	req := randomRequest("creator", 2)
	req.MatchOptions.Preferences.CreateLighthouseServer = true
	l := f.create(t, req)
	f.join(t, l.ID, player("1", models.RolePlayer))
	f.join(t, l.ID, player("2", models.RolePlayer))

	require.NoError(t, f.svc.Evaluate(ctx, l.ID))
	assert.Equal(t, models.LobbyDistributed, f.status(t, l.ID))
	m, err := f.store.GetMatch(ctx, l.Match)
	require.NoError(t, err)
	require.Equal(t, models.MatchCreatingServer, m.Status)

	_, err = matches.HandleServerStatus(ctx, "srv-1", fleet.ServerFailed)
	require.NoError(t, err)
	_, err = matches.HandleServerStatus(ctx, "srv-1", fleet.ServerFailed)
	require.NoError(t, err)

	assert.Equal(t, models.LobbyClosed, f.status(t, l.ID))
	assert.Equal(t, 1, f.notifier.count(models.LobbyClosed))
	assert.Equal(t, 1, recorder.count(models.MatchFailed))
}
