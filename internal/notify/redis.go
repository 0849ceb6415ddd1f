package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis publishes personal events to per-player channels and delivers the
// ones it receives to local connections, so a player connected to any
// process gets their events.
type Redis struct {
	client *redis.Client
	prefix string
	target Deliverer
	logger *zap.Logger

	mu        sync.Mutex
	pubsub    *redis.PubSub
	ready     chan struct{}
	readyOnce sync.Once
}

// NewRedis creates a Redis notifier. Channels are named prefix + player id.
//
// Precondition: client, target and logger must be non-nil; prefix must be non-empty.
func NewRedis(client *redis.Client, prefix string, target Deliverer, logger *zap.Logger) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		target: target,
		logger: logger,
		ready:  make(chan struct{}),
	}
}

// Channel returns the personal channel of a player.
func (r *Redis) Channel(playerID int64) string {
	return r.prefix + strconv.FormatInt(playerID, 10)
}

// Notify publishes payload on the player's channel.
func (r *Redis) Notify(ctx context.Context, playerID int64, payload []byte) error {
	if err := r.client.Publish(ctx, r.Channel(playerID), payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", r.Channel(playerID), err)
	}
	return nil
}

// Ready is closed once the subscription is confirmed by the server.
func (r *Redis) Ready() <-chan struct{} {
	return r.ready
}

// Start subscribes to every personal channel and delivers received messages
// until ctx is cancelled or Stop is called.
//
// Postcondition: Returns nil on a clean stop, or the subscription error.
func (r *Redis) Start(ctx context.Context) error {
	ps := r.client.PSubscribe(ctx, r.prefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribing to %s*: %w", r.prefix, err)
	}
	r.mu.Lock()
	r.pubsub = ps
	r.mu.Unlock()
	r.readyOnce.Do(func() { close(r.ready) })
	r.logger.Info("personal channel subscriber started", zap.String("pattern", r.prefix+"*"))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.dispatch(msg)
		}
	}
}

// Stop closes the subscription.
func (r *Redis) Stop(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		_ = r.pubsub.Close()
		r.pubsub = nil
	}
}

func (r *Redis) dispatch(msg *redis.Message) {
	id, err := strconv.ParseInt(strings.TrimPrefix(msg.Channel, r.prefix), 10, 64)
	if err != nil {
		r.logger.Warn("ignoring message on malformed channel", zap.String("channel", msg.Channel))
		return
	}
	r.target.Deliver(id, []byte(msg.Payload))
}
