package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBus_PublishesJSONOnPrefixedChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bus := NewRedisBus(client, "gate")
	assert.Equal(t, "gate:user:5", bus.Channel(UserTopic(5)))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, "gate:user:5")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, UserTopic(5), NewEvent(EventCommandStatus, map[string]any{"status": "EXECUTED"})))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gate:user:5", msg.Channel)

	var evt Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &evt))
	assert.Equal(t, EventCommandStatus, evt.Type)
	assert.Equal(t, "user:5", evt.Topic)
}

func TestRedisBus_DefaultPrefix(t *testing.T) {
	bus := NewRedisBus(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), " ")
	assert.Equal(t, DefaultChannelPrefix+":admin", bus.Channel(TopicAdmin))
	_ = bus.Close()
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	bus, err := DialRedis(context.Background(), "redis://"+mr.Addr(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	_, err = DialRedis(context.Background(), "not a url", "")
	assert.Error(t, err)
}

func TestRedisBus_PublishFailsWhenServerGone(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	bus := NewRedisBus(client, "")
	mr.Close()

	err := bus.Publish(context.Background(), TopicAdmin, NewEvent(EventApprovalUpdate, nil))
	assert.Error(t, err)
}
