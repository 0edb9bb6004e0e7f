package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/tronbyt/server/internal/logging"
)

// RedisNotifier is the distributed backend for multi-host deployments.
// Each device gets its own pub/sub channel; notifications published on any
// host reach the host holding the device's websocket session.
type RedisNotifier struct {
	client *redis.Client
	clock  clockwork.Clock
}

// NewRedisNotifier connects to Redis using a URL of the form
// redis://[:password@]host:port[/db] and verifies the connection.
func NewRedisNotifier(ctx context.Context, redisURL string, clock clockwork.Clock) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logging.InfoWithComponent(logging.ComponentNotifier, "Redis notifier initialized", "addr", opts.Addr)
	return &RedisNotifier{client: client, clock: clock}, nil
}

func channelFor(deviceID string) string {
	return "tronbyt:notify:" + deviceID
}

type redisWaiter struct {
	pubsub *redis.PubSub
	clock  clockwork.Clock
	msgs   <-chan *redis.Message
}

// Waiter subscribes to the device's notification channel
func (r *RedisNotifier) Waiter(deviceID string) (Waiter, error) {
	pubsub := r.client.Subscribe(context.Background(), channelFor(deviceID))

	// Force the subscription onto the wire before the caller starts waiting
	if _, err := pubsub.Receive(context.Background()); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}

	return &redisWaiter{
		pubsub: pubsub,
		clock:  r.clock,
		msgs:   pubsub.Channel(),
	}, nil
}

// Notify publishes the notification on the device's channel
func (r *RedisNotifier) Notify(ctx context.Context, deviceID string, n *Notification) error {
	if err := r.client.Publish(ctx, channelFor(deviceID), encodeNotification(n)).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

func (r *RedisNotifier) Close() error {
	return r.client.Close()
}

func (w *redisWaiter) Wait(ctx context.Context, timeout time.Duration) (*Notification, bool) {
	timer := w.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-w.msgs:
		if !ok {
			return nil, false
		}
		return decodeNotification(msg.Payload), true
	case <-timer.Chan():
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

func (w *redisWaiter) Close() {
	if err := w.pubsub.Close(); err != nil {
		logging.DebugWithComponent(logging.ComponentNotifier, "Failed to close redis subscription", "error", err)
	}
}
