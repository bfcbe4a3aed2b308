// Package notify delivers status changes to client callback URLs and to the
// internal event bus.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/cytokine/backend/internal/models"
)

// EventsChannel is the Redis channel status events are published on.
const EventsChannel = "cytokine:events"

// Entity kinds carried by events.
const (
	KindLobby = "lobby"
	KindMatch = "match"
)

// Event is one status change as seen by event subscribers.
type Event struct {
	Kind    string          `json:"kind"`
	ID      string          `json:"id"`
	Client  string          `json:"client"`
	Status  string          `json:"status"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// Sink receives every event. Publish errors are logged, never returned to callers.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// RedisSink publishes events on a Redis channel.
type RedisSink struct {
	rdb     *redis.Client
	channel string
}

func NewRedisSink(rdb *redis.Client) *RedisSink {
	return &RedisSink{rdb: rdb, channel: EventsChannel}
}

func (s *RedisSink) Publish(ctx context.Context, event Event) error {
	b, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	return errors.Wrap(s.rdb.Publish(ctx, s.channel, b).Err(), "publish event")
}

// Dispatcher posts entity snapshots to callback URLs. Delivery is fire and
// forget: it never retries and never fails the caller.
type Dispatcher struct {
	httpClient *http.Client
	sinks      []Sink
	log        *logrus.Entry
	now        func() time.Time
}

func NewDispatcher(timeout time.Duration, logger *logrus.Entry, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		httpClient: &http.Client{Timeout: timeout},
		sinks:      sinks,
		log:        logger,
		now:        time.Now,
	}
}

// Lobby announces the lobby's current status.
func (d *Dispatcher) Lobby(ctx context.Context, lobby *models.Lobby) {
	d.dispatch(ctx, KindLobby, lobby.ID, lobby.Client, string(lobby.Status), lobby.CallbackURL, lobby)
}

// Match announces the match's current status.
func (d *Dispatcher) Match(ctx context.Context, match *models.Match) {
	d.dispatch(ctx, KindMatch, match.ID, match.Client, string(match.Status), match.CallbackURL, match)
}

func (d *Dispatcher) dispatch(ctx context.Context, kind, id, client, status, callbackURL string, entity any) {
	log := d.log.WithFields(logrus.Fields{kind: id, "status": status})

	body, err := json.Marshal(entity)
	if err != nil {
		log.WithError(err).Error("failed to encode notification")
		return
	}

	if callbackURL != "" {
		d.post(ctx, log, callbackURL, status, body)
	}

	event := Event{Kind: kind, ID: id, Client: client, Status: status, At: d.now(), Payload: body}
	for _, sink := range d.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			log.WithError(err).Warn("failed to publish event")
		}
	}
}

func (d *Dispatcher) post(ctx context.Context, log *logrus.Entry, callbackURL, status string, body []byte) {
	target, err := withStatus(callbackURL, status)
	if err != nil {
		log.WithError(err).Errorf("invalid callback URL %q", callbackURL)
		return
	}
	log.Infof("notifying URL '%s'", callbackURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		log.WithError(err).Error("failed to create notification request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			log.Warnf("failed to connect callback URL %q", callbackURL)
			return
		}
		log.WithError(err).Error("failed to notify callback URL")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		log.WithField("code", resp.StatusCode).Error("callback URL rejected notification")
	}
}

func withStatus(callbackURL, status string) (string, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("status", status)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
