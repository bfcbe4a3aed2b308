// Package fleet talks to the Lighthouse fleet manager that allocates game servers.
package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cytokine/backend/internal/config"
)

// ServerStatus is reported by the fleet manager for each server
type ServerStatus string

const (
	ServerInit         ServerStatus = "INIT"
	ServerAllocating   ServerStatus = "ALLOCATING"
	ServerWaiting      ServerStatus = "WAITING"
	ServerIdle         ServerStatus = "IDLE"
	ServerRunning      ServerStatus = "RUNNING"
	ServerClosing      ServerStatus = "CLOSING"
	ServerDeallocating ServerStatus = "DEALLOCATING"
	ServerClosed       ServerStatus = "CLOSED"
	ServerFailed       ServerStatus = "FAILED"
)

func (s ServerStatus) Valid() bool {
	switch s {
	case ServerInit, ServerAllocating, ServerWaiting, ServerIdle, ServerRunning,
		ServerClosing, ServerDeallocating, ServerClosed, ServerFailed:
		return true
	}
	return false
}

// Ready reports whether the server accepts players.
func (s ServerStatus) Ready() bool {
	return s == ServerIdle || s == ServerRunning
}

// Gone reports whether the server is closed or failed.
func (s ServerStatus) Gone() bool {
	return s == ServerClosed || s == ServerFailed
}

// ServerData carries the sidecar (hatch) coordinates of a server.
type ServerData struct {
	HatchAddress  string `json:"hatchAddress,omitempty"`
	HatchPassword string `json:"hatchPassword,omitempty"`
	SDRIP         string `json:"sdrIp,omitempty"`
	SDRPort       int    `json:"sdrPort,omitempty"`
}

type ClosePreferences struct {
	MinPlayers int `json:"minPlayers,omitempty"`
	IdleTime   int `json:"idleTime,omitempty"`
	WaitTime   int `json:"waitTime,omitempty"`
}

// Server is a fleet-managed game server
type Server struct {
	ID           string           `json:"_id"`
	Client       string           `json:"client,omitempty"`
	Provider     string           `json:"provider,omitempty"`
	Region       string           `json:"region,omitempty"`
	Game         string           `json:"game,omitempty"`
	Status       ServerStatus     `json:"status"`
	IP           string           `json:"ip,omitempty"`
	Port         int              `json:"port,omitempty"`
	TVPort       int              `json:"tvPort,omitempty"`
	Password     string           `json:"password,omitempty"`
	RconPassword string           `json:"rconPassword,omitempty"`
	CallbackURL  string           `json:"callbackUrl,omitempty"`
	ClosePref    ClosePreferences `json:"closePref,omitempty"`
	Data         ServerData       `json:"data,omitempty"`
	CreatedAt    time.Time        `json:"createdAt,omitempty"`
}

// CreateRequest asks the fleet manager for a new server
type CreateRequest struct {
	Game        string           `json:"game"`
	Region      string           `json:"region"`
	Provider    string           `json:"provider"`
	Data        map[string]any   `json:"data,omitempty"`
	CallbackURL string           `json:"callbackUrl,omitempty"`
	ClosePref   ClosePreferences `json:"closePref"`
}

// Client handles Lighthouse API integration
type Client struct {
	baseURL     string
	secret      string
	callbackURL string
	httpClient  *http.Client
	log         *logrus.Entry
}

// NewClient creates a new Lighthouse client. It returns nil when no host is configured.
func NewClient(cfg *config.Config, logger *logrus.Entry) *Client {
	if cfg == nil || cfg.LighthouseHost == "" {
		logger.Warn("lighthouse not configured - server provisioning disabled")
		return nil
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.LighthouseHost, "/"),
		secret:      cfg.LighthouseClientSecret,
		callbackURL: cfg.ServerCallbackURL(),
		httpClient:  &http.Client{Timeout: time.Duration(cfg.LighthouseTimeoutSeconds) * time.Second},
		log:         logger,
	}
}

// StatusError is a non-2xx response from the fleet manager.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("lighthouse responded %d: %s", e.Code, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "failed to encode request")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.WithFields(logrus.Fields{"method": method, "path": path, "status": resp.StatusCode}).
			Warn("lighthouse request failed")
		return &StatusError{Code: resp.StatusCode, Body: string(b)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}

// Providers lists the providers available in region, preferred first.
func (c *Client) Providers(ctx context.Context, region string) ([]string, error) {
	var providers []string
	err := c.do(ctx, http.MethodGet, "/api/v1/providers/region/"+url.PathEscape(region), nil, &providers)
	return providers, err
}

// Create requests a server. Status changes arrive on the configured callback URL.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*Server, error) {
	if req.CallbackURL == "" {
		req.CallbackURL = c.callbackURL
	}
	var server Server
	if err := c.do(ctx, http.MethodPost, "/api/v1/servers", req, &server); err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{"server": server.ID, "provider": req.Provider, "region": req.Region}).
		Info("server requested")
	return &server, nil
}

func (c *Client) Get(ctx context.Context, id string) (*Server, error) {
	var server Server
	if err := c.do(ctx, http.MethodGet, "/api/v1/servers/"+url.PathEscape(id), nil, &server); err != nil {
		return nil, err
	}
	return &server, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/servers/"+url.PathEscape(id), nil, nil)
}
