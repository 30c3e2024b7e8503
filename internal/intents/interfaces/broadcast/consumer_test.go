package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetguardian/internal/eventing"
	intentevents "fleetguardian/internal/intents/application/events"
	intents "fleetguardian/internal/intents/domain"
	"fleetguardian/internal/pubsub"
)

func TestConsumerPublishesOnTargetChannel(t *testing.T) {
	ctx := context.Background()
	b := pubsub.NewMemoryBroadcaster()
	defer b.Close()

	var got []intents.Intent
	sub, err := b.Subscribe(ctx, Channel("dev-a"), func(_ context.Context, msg pubsub.Message) {
		var intent intents.Intent
		require.NoError(t, msg.Decode(&intent))
		got = append(got, intent)
	})
	require.NoError(t, err)
	defer sub.Close()

	other := 0
	sub2, err := b.Subscribe(ctx, Channel("dev-b"), func(context.Context, pubsub.Message) { other++ })
	require.NoError(t, err)
	defer sub2.Close()

	c, err := NewConsumer(b, nil)
	require.NoError(t, err)
	bus := eventing.NewInMemoryBus()
	c.Register(bus, nil)

	require.NoError(t, bus.Publish(ctx, intentevents.IntentIssued{
		IntentID:  "i-1",
		Target:    "dev-a",
		Kind:      string(intents.KindCaptureRequest),
		CreatedAt: time.Now(),
	}))

	require.Len(t, got, 1)
	assert.Equal(t, "i-1", got[0].ID)
	assert.Equal(t, intents.KindCaptureRequest, got[0].Kind)
	assert.Zero(t, other)
}

func TestConsumerRejectsForeignEvent(t *testing.T) {
	c, _ := NewConsumer(pubsub.NewMemoryBroadcaster(), nil)
	assert.Error(t, c.Handle(context.Background(), "nope"))
}
