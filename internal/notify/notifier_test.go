package notify

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smukkama/weather-alerts/internal/observability"
	"github.com/smukkama/weather-alerts/internal/protocol"
)

type fakePublisher struct {
	channels []string
	messages []string
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.channels = append(f.channels, channel)
	f.messages = append(f.messages, string(message.([]byte)))
	return redis.NewIntResult(1, nil)
}

func TestChannelForUser(t *testing.T) {
	assert.Equal(t, "user:u1", ChannelForUser("u1"))

	id, ok := UserFromChannel("user:u1")
	assert.True(t, ok)
	assert.Equal(t, "u1", id)

	_, ok = UserFromChannel("user:")
	assert.False(t, ok)
	_, ok = UserFromChannel("alerts:u1")
	assert.False(t, ok)
}

func TestRedisNotifier_PublishScopesToUser(t *testing.T) {
	fake := &fakePublisher{}
	n := &RedisNotifier{client: fake, logger: zap.NewNop(), metrics: observability.NewMetricsForTesting()}

	err := n.Publish(context.Background(), "u1", protocol.EventLocationSetAck, protocol.LocationSetAck{Success: true, Location: "London"})
	require.NoError(t, err)

	require.Equal(t, []string{"user:u1"}, fake.channels)
	assert.JSONEq(t,
		`{"event":"locationSetAck","payload":{"success":true,"location":"London"}}`,
		fake.messages[0])
}

func TestRedisNotifier_PublishErrors(t *testing.T) {
	n := &RedisNotifier{client: &fakePublisher{err: assert.AnError}, logger: zap.NewNop()}

	err := n.Publish(context.Background(), "u1", protocol.EventTemperatureError, protocol.TemperatureError{})
	assert.ErrorIs(t, err, assert.AnError)

	err = n.Publish(context.Background(), "", protocol.EventTemperatureError, protocol.TemperatureError{})
	assert.Error(t, err)
}

func TestDecodeMessage(t *testing.T) {
	userID, ev, err := decodeMessage("user:u9", `{"event":"temperatureError","payload":{"location":"x","message":"y"}}`)
	require.NoError(t, err)
	assert.Equal(t, "u9", userID)
	assert.Equal(t, protocol.EventTemperatureError, ev.Event)

	_, _, err = decodeMessage("other", `{"event":"x","payload":{}}`)
	assert.Error(t, err)

	_, _, err = decodeMessage("user:u9", `{`)
	assert.Error(t, err)
}
