package ws

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/cytokine/backend/internal/notify"
)

// StartEventSubscriber relays events published on the Redis bus to the
// connections of the client each event belongs to.
func StartEventSubscriber(ctx context.Context, rdb *redis.Client, h *Hub) {
	if rdb == nil {
		h.log.Warn("redis client not set; event subscriber not started")
		return
	}

	pubsub := rdb.Subscribe(ctx, notify.EventsChannel)
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		h.log.Infof("%s subscriber started", notify.EventsChannel)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event notify.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					h.log.WithError(err).Warn("invalid event payload")
					continue
				}
				if event.Client == "" {
					continue
				}
				h.Broadcast(event.Client, []byte(msg.Payload))
			}
		}
	}()
}
