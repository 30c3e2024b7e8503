package pubsub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type framePayload struct {
	VID   string `json:"vId"`
	Image string `json:"image"`
}

type collector struct {
	mu   sync.Mutex
	msgs []Message
}

func (c *collector) handle(_ context.Context, msg Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestMemoryBroadcaster_FanOutAndClose(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroadcaster()
	a, c := &collector{}, &collector{}

	subA, err := b.Subscribe(ctx, "tactical-stream", a.handle)
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, "tactical-stream", OnEvent(c.handle, "audio"))
	require.NoError(t, err)
	assert.Equal(t, 2, b.Subscribers("tactical-stream"))

	require.NoError(t, b.Publish(ctx, "tactical-stream", "frame", framePayload{VID: "dev-1", Image: "data:"}))
	require.NoError(t, b.Publish(ctx, "tactical-stream", "audio", map[string]string{"vId": "dev-1"}))
	require.NoError(t, b.Publish(ctx, "other", "frame", framePayload{}))

	assert.Equal(t, 2, a.count())
	assert.Equal(t, 1, c.count())

	var got framePayload
	require.NoError(t, a.msgs[0].Decode(&got))
	assert.Equal(t, "dev-1", got.VID)
	assert.Equal(t, "tactical-stream", a.msgs[0].Channel)

	require.NoError(t, subA.Close())
	require.NoError(t, subA.Close())
	require.NoError(t, b.Publish(ctx, "tactical-stream", "frame", framePayload{}))
	assert.Equal(t, 2, a.count())
	assert.Equal(t, 1, b.Subscribers("tactical-stream"))
}

func TestMemoryBroadcaster_ContextCancelReleases(t *testing.T) {
	b := NewMemoryBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	_, err := b.Subscribe(ctx, "intents:x", func(context.Context, Message) {})
	require.NoError(t, err)
	cancel()
	require.Eventually(t, func() bool { return b.Subscribers("intents:x") == 0 }, time.Second, 5*time.Millisecond)
}

func TestRedisBroadcaster_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b, err := NewRedisBroadcaster(client, WithChannelPrefix("fg:"))
	require.NoError(t, err)

	got := &collector{}
	sub, err := b.Subscribe(context.Background(), "tactical-stream", got.handle)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(context.Background(), "tactical-stream", "frame", framePayload{VID: "dev-9"}))
	require.Eventually(t, func() bool { return got.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	got.mu.Lock()
	msg := got.msgs[0]
	got.mu.Unlock()
	assert.Equal(t, "frame", msg.Event)
	assert.Equal(t, "tactical-stream", msg.Channel)
	var frame framePayload
	require.NoError(t, msg.Decode(&frame))
	assert.Equal(t, "dev-9", frame.VID)

	require.NoError(t, sub.Close())
	require.NoError(t, b.Publish(context.Background(), "tactical-stream", "frame", framePayload{VID: "dev-9"}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, got.count())
}
