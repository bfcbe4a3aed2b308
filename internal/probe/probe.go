// Package probe queries running game servers and their hatch sidecar.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rumblefrog/go-a2s"
	"github.com/sirupsen/logrus"

	"github.com/cytokine/backend/internal/models"
)

// Sidecar match states.
const (
	SidecarPending    = "PENDING"
	SidecarInProgress = "IN_PROGRESS"
	SidecarEnded      = "ENDED"
)

// SidecarMatch is one match recorded by the sidecar.
type SidecarMatch struct {
	Status  string         `json:"status"`
	LogURL  string         `json:"logUrl,omitempty"`
	DemoURL string         `json:"demoUrl,omitempty"`
	Score   map[string]int `json:"score,omitempty"`
}

// SidecarStatus is the body of the sidecar status endpoint.
type SidecarStatus struct {
	Matches []SidecarMatch `json:"matches"`
}

// Latest returns the most recent match, if any.
func (s *SidecarStatus) Latest() (SidecarMatch, bool) {
	if s == nil || len(s.Matches) == 0 {
		return SidecarMatch{}, false
	}
	return s.Matches[len(s.Matches)-1], true
}

// Results converts the match artifacts into match data.
func (m SidecarMatch) Results() models.MatchData {
	return models.MatchData{LogsURL: m.LogURL, DemoURL: m.DemoURL, Score: m.Score}
}

// WhitelistEntry admits one player to the server on a fixed team and class.
type WhitelistEntry struct {
	Steam string `json:"steam"`
	Name  string `json:"name"`
	Team  string `json:"team"`
	Class string `json:"class"`
}

var classes = []string{"scout", "soldier", "pyro", "heavy", "demoman", "engineer", "sniper", "medic", "spy"}

// WhitelistEntryFor derives the in-game team and class of a roster player.
func WhitelistEntryFor(p models.Player) WhitelistEntry {
	e := WhitelistEntry{Steam: models.NormalizeSteamID(p.Steam), Name: p.Name}

	switch {
	case p.HasRole(models.RoleTeamA) || hasRolePart(p, "red"):
		e.Team = "RED"
	case p.HasRole(models.RoleTeamB) || hasRolePart(p, "blu"):
		e.Team = "BLU"
	}
	for _, class := range classes {
		if hasRolePart(p, class) {
			e.Class = class
			break
		}
	}
	return e
}

func hasRolePart(p models.Player, part string) bool {
	return slices.ContainsFunc(p.Roles, func(r string) bool { return strings.Contains(r, part) })
}

// Client probes game servers over A2S and the sidecar over HTTP.
type Client struct {
	timeout    time.Duration
	httpClient *http.Client
	log        *logrus.Entry
}

func New(timeout time.Duration, logger *logrus.Entry) *Client {
	return &Client{
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger,
	}
}

// QueryPlayers returns the number of players connected to a game server.
func (c *Client) QueryPlayers(ctx context.Context, host string, port int, game string) (int, error) {
	if game != models.GameTF2 {
		return 0, errors.Errorf("player query not supported for game %q", game)
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	type result struct {
		players int
		err     error
	}
	done := make(chan result, 1)
	go func() {
		client, err := a2s.NewClient(addr, a2s.TimeoutOption(c.timeout))
		if err != nil {
			done <- result{err: errors.Wrapf(err, "a2s dial %s", addr)}
			return
		}
		defer client.Close()
		info, err := client.QueryInfo()
		if err != nil {
			done <- result{err: errors.Wrapf(err, "a2s info %s", addr)}
			return
		}
		done <- result{players: int(info.Players)}
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r := <-done:
		return r.players, r.err
	}
}

// sidecarURL joins the server ip and the sidecar address, which carries its
// own port prefix (e.g. ":27017").
func sidecarURL(host, sidecarAddr, path, password string) string {
	return fmt.Sprintf("http://%s%s%s?password=%s", host, sidecarAddr, path, url.QueryEscape(password))
}

func (c *Client) sidecar(ctx context.Context, method, target string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode sidecar request")
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return errors.Wrap(err, "create sidecar request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "sidecar request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Errorf("sidecar responded %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode sidecar response")
}

// SidecarStatus fetches the match history recorded by the sidecar.
func (c *Client) SidecarStatus(ctx context.Context, host, sidecarAddr, password string) (*SidecarStatus, error) {
	var status SidecarStatus
	if err := c.sidecar(ctx, http.MethodGet, sidecarURL(host, sidecarAddr, "/status", password), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// EnableWhitelist restricts the server to whitelisted players.
func (c *Client) EnableWhitelist(ctx context.Context, host, sidecarAddr, password string) error {
	return c.sidecar(ctx, http.MethodPost, sidecarURL(host, sidecarAddr, "/whitelist/enable", password), nil, nil)
}

func (c *Client) AddWhitelistPlayer(ctx context.Context, host, sidecarAddr, password string, entry WhitelistEntry) error {
	return c.sidecar(ctx, http.MethodPost, sidecarURL(host, sidecarAddr, "/whitelist/player/", password), entry, nil)
}
