package probe

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cytokine/backend/internal/models"
)

func newTestClient() *Client {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(500*time.Millisecond, logrus.NewEntry(logger))
}

// sidecarAddress splits an httptest URL into the host and ":port" parts the
// fleet manager reports.
func sidecarAddress(t *testing.T, raw string) (string, string) {
	u, err := url.Parse(raw)
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	return host, ":" + port
}

func TestSidecarStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/status", r.URL.Path)
		assert.Equal(t, "hatch pw", r.URL.Query().Get("password"))
		json.NewEncoder(w).Encode(SidecarStatus{Matches: []SidecarMatch{
			{Status: SidecarEnded, LogURL: "https://logs.tf/1"},
			{Status: SidecarInProgress},
		}})
	}))
	defer srv.Close()
	host, addr := sidecarAddress(t, srv.URL)

	status, err := newTestClient().SidecarStatus(context.Background(), host, addr, "hatch pw")
	require.NoError(t, err)
	latest, ok := status.Latest()
	require.True(t, ok)
	assert.Equal(t, SidecarInProgress, latest.Status)
}

func TestSidecarErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad password", http.StatusUnauthorized)
	}))
	defer srv.Close()
	host, addr := sidecarAddress(t, srv.URL)

	_, err := newTestClient().SidecarStatus(context.Background(), host, addr, "x")
	assert.ErrorContains(t, err, "401")
}

func TestWhitelist(t *testing.T) {
	var got []WhitelistEntry
	enabled := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/whitelist/enable":
			enabled = true
		case "/whitelist/player/":
			var e WhitelistEntry
			require.NoError(t, json.NewDecoder(r.Body).Decode(&e))
			got = append(got, e)
		}
	}))
	defer srv.Close()
	host, addr := sidecarAddress(t, srv.URL)

	c := newTestClient()
	require.NoError(t, c.EnableWhitelist(context.Background(), host, addr, "pw"))
	entry := WhitelistEntryFor(models.Player{
		Name: "medic main", Steam: "76561197960287930", Roles: []string{"player", "team_b", "medic", "blu-medic"},
	})
	require.NoError(t, c.AddWhitelistPlayer(context.Background(), host, addr, "pw", entry))

	assert.True(t, enabled)
	require.Len(t, got, 1)
	assert.Equal(t, WhitelistEntry{Steam: "76561197960287930", Name: "medic main", Team: "BLU", Class: "medic"}, got[0])
}

func TestWhitelistEntryFromQualifiedRole(t *testing.T) {
	e := WhitelistEntryFor(models.Player{Name: "x", Roles: []string{"player", "red-demoman"}})
	assert.Equal(t, "RED", e.Team)
	assert.Equal(t, "demoman", e.Class)
}

func TestQueryPlayersUnsupportedGame(t *testing.T) {
	_, err := newTestClient().QueryPlayers(context.Background(), "127.0.0.1", 27015, "csgo")
	assert.Error(t, err)
}

func TestQueryPlayersUnreachable(t *testing.T) {
	// Nothing answers A2S on a freshly closed UDP port.
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	conn.Close()

	_, err = newTestClient().QueryPlayers(context.Background(), "127.0.0.1", port, models.GameTF2)
	assert.Error(t, err)
}
