package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smukkama/weather-alerts/internal/observability"
	"github.com/smukkama/weather-alerts/internal/protocol"
)

const channelPrefix = "user:"

// ChannelForUser returns the pub/sub channel carrying a user's events.
func ChannelForUser(userID string) string {
	return channelPrefix + userID
}

// UserFromChannel extracts the user id from a channel name.
func UserFromChannel(channel string) (string, bool) {
	userID, ok := strings.CutPrefix(channel, channelPrefix)
	if !ok || userID == "" {
		return "", false
	}
	return userID, true
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisNotifier publishes events to per-user Redis channels. Delivery is
// fire-and-forget: a publish with no subscribers is not an error.
type RedisNotifier struct {
	client  publisher
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewRedisNotifier creates a notifier on top of a Redis client.
func NewRedisNotifier(client *redis.Client, logger *zap.Logger, metrics *observability.Metrics) *RedisNotifier {
	return &RedisNotifier{client: client, logger: logger, metrics: metrics}
}

// Publish sends event with payload to userID's channel only.
func (n *RedisNotifier) Publish(ctx context.Context, userID, event string, payload interface{}) error {
	if userID == "" {
		return fmt.Errorf("publish %s: empty user id", event)
	}

	data, err := protocol.EncodeUserEvent(event, payload)
	if err != nil {
		return err
	}

	receivers, err := n.client.Publish(ctx, ChannelForUser(userID), data).Result()
	if err != nil {
		return fmt.Errorf("failed to publish %s to user %s: %w", event, userID, err)
	}

	if n.metrics != nil {
		n.metrics.EventsPublished.WithLabelValues(event).Inc()
	}
	n.logger.Debug("event published",
		zap.String("user_id", userID),
		zap.String("event", event),
		zap.Int64("receivers", receivers),
	)
	return nil
}

// Handler receives events decoded from a user channel.
type Handler func(userID string, ev *protocol.UserEvent)

// Subscriber listens on every user channel and hands events to a Handler.
type Subscriber struct {
	client *redis.Client
	logger *zap.Logger
}

// NewSubscriber creates a new subscriber
func NewSubscriber(client *redis.Client, logger *zap.Logger) *Subscriber {
	return &Subscriber{client: client, logger: logger}
}

// Run subscribes to all user channels and blocks until ctx is done.
func (s *Subscriber) Run(ctx context.Context, handle Handler) error {
	pubsub := s.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to user channels: %w", err)
	}
	s.logger.Info("subscribed to user channels", zap.String("pattern", channelPrefix+"*"))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			userID, ev, err := decodeMessage(msg.Channel, msg.Payload)
			if err != nil {
				s.logger.Warn("dropping malformed user event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			handle(userID, ev)
		}
	}
}

func decodeMessage(channel, payload string) (string, *protocol.UserEvent, error) {
	userID, ok := UserFromChannel(channel)
	if !ok {
		return "", nil, fmt.Errorf("unexpected channel %q", channel)
	}
	ev, err := protocol.DecodeUserEvent([]byte(payload))
	if err != nil {
		return "", nil, fmt.Errorf("decode event: %w", err)
	}
	return userID, ev, nil
}
