// Package coordination replicates room broadcasts across instances through
// the shared Redis pub/sub store.
package coordination

import (
	"context"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/fleetpulse/fleetpulse/internal/domain"
	"github.com/fleetpulse/fleetpulse/internal/metrics"
)

const (
	roomChannelPrefix  = "room:"
	roomChannelPattern = "room:*"
)

// RoomChannel returns the pub/sub channel carrying broadcasts for a room.
func RoomChannel(room string) string {
	return roomChannelPrefix + room
}

// ChannelRoom extracts the room name from a channel, returning false for
// channels outside the room namespace.
func ChannelRoom(channel string) (string, bool) {
	return strings.CutPrefix(channel, roomChannelPrefix)
}

// Deliverer re-delivers a replicated broadcast to the local room registry.
type Deliverer interface {
	DeliverLocal(room string, data []byte)
}

// Coordinator holds two separate connections to the shared store: one
// exclusively for publishing and one exclusively for subscribing, because a
// connection issuing subscribe commands cannot run other commands.
//
// Every message received on the subscribe side - from any instance,
// including this one - is handed to the local registry. If the store is
// unreachable, errors are logged and broadcasts degrade to local-only
// delivery; there is no queue and no retry.
type Coordinator struct {
	pub     *redis.Client
	sub     *redis.Client
	deliver Deliverer
}

// NewCoordinator creates a coordinator over dedicated publish and subscribe
// clients.
func NewCoordinator(pub, sub *redis.Client, deliver Deliverer) *Coordinator {
	return &Coordinator{pub: pub, sub: sub, deliver: deliver}
}

// Publish replicates one room broadcast to all instances.
func (c *Coordinator) Publish(ctx context.Context, room string, payload []byte) error {
	if err := c.pub.Publish(ctx, RoomChannel(room), payload).Err(); err != nil {
		return &domain.CoordinationError{Op: "publish", Cause: err}
	}
	return nil
}

// Start pattern-subscribes to the room namespace and re-delivers inbound
// messages until ctx is cancelled.
func (c *Coordinator) Start(ctx context.Context) {
	pubsub := c.sub.PSubscribe(ctx, roomChannelPattern)
	defer func() {
		_ = pubsub.Close()
	}()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				slog.Warn("Coordination subscription closed, broadcasts are local-only")
				return
			}
			c.handleMessage(msg)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) handleMessage(msg *redis.Message) {
	metrics.PubSubMessagesReceived.WithLabelValues(roomChannelPattern).Inc()

	room, ok := ChannelRoom(msg.Channel)
	if !ok {
		slog.Warn("Message on unexpected channel", "channel", msg.Channel)
		return
	}
	c.deliver.DeliverLocal(room, []byte(msg.Payload))
}
