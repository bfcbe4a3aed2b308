package notify

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cytokine/backend/internal/models"
)

func newDispatcher(sinks ...Sink) (*Dispatcher, *test.Hook) {
	logger, hook := test.NewNullLogger()
	return NewDispatcher(time.Second, logrus.NewEntry(logger), sinks...), hook
}

func TestLobbyNotificationRoundTrip(t *testing.T) {
	var (
		gotStatus string
		got       models.Lobby
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotStatus = r.URL.Query().Get("status")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	lobby := &models.Lobby{
		ID:          "l1",
		Status:      models.LobbyWaitingForPicks,
		CallbackURL: srv.URL + "/hook?token=abc",
		QueuedPlayers: []models.Player{
			{Name: "a", Discord: "1", Roles: []string{"player", "captain-a"}},
			{Name: "b", Discord: "2", Roles: []string{"player"}},
		},
	}
	d, _ := newDispatcher()
	d.Lobby(context.Background(), lobby)

	assert.Equal(t, string(models.LobbyWaitingForPicks), gotStatus)
	assert.Equal(t, lobby.Status, got.Status)
	assert.Equal(t, lobby.QueuedPlayers, got.QueuedPlayers)
}

func TestConnectionRefusedIsWarning(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	d, hook := newDispatcher()
	d.Match(context.Background(), &models.Match{ID: "m1", Status: models.MatchLive, CallbackURL: "http://" + addr})

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
}

func TestRejectedDeliveryIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, hook := newDispatcher()
	d.Match(context.Background(), &models.Match{ID: "m1", Status: models.MatchFailed, CallbackURL: srv.URL})

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
}

func TestRedisSinkPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	sub := rdb.Subscribe(ctx, EventsChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	d, _ := newDispatcher(NewRedisSink(rdb))
	d.Match(ctx, &models.Match{ID: "m1", Client: "bot", Status: models.MatchCreatingServer})

	select {
	case msg := <-sub.Channel():
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, KindMatch, ev.Kind)
		assert.Equal(t, "m1", ev.ID)
		assert.Equal(t, "bot", ev.Client)
		assert.Equal(t, string(models.MatchCreatingServer), ev.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("event not published")
	}
}
