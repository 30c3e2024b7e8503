package feed

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetguardian/internal/auth"
	"fleetguardian/internal/pubsub"
	telemetry "fleetguardian/internal/telemetry/domain"
)

const (
	org      = "11111111-1111-4111-8111-111111111111"
	branch   = "22222222-2222-4222-8222-222222222222"
	other    = "33333333-3333-4333-8333-333333333333"
	deviceID = "aaaaaaaa-1111-4111-8111-aaaaaaaaaaaa"
)

func sample(organizationID string, lat float64) telemetry.LocationSample {
	return telemetry.LocationSample{
		DeviceID:       deviceID,
		OrganizationID: organizationID,
		BranchID:       branch,
		Lat:            lat,
		Lng:            3.4,
		SpeedKmh:       30,
		SampledAt:      time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestPublisherUsesTenantChannel(t *testing.T) {
	b := pubsub.NewMemoryBroadcaster()
	var mine, theirs []telemetry.LocationSample
	subMine, err := b.Subscribe(context.Background(), Channel(org, branch), func(_ context.Context, msg pubsub.Message) {
		var s telemetry.LocationSample
		require.NoError(t, msg.Decode(&s))
		assert.Equal(t, EventLocation, msg.Event)
		mine = append(mine, s)
	})
	require.NoError(t, err)
	defer subMine.Close()
	subTheirs, err := b.Subscribe(context.Background(), Channel(other, branch), func(_ context.Context, msg pubsub.Message) {
		var s telemetry.LocationSample
		require.NoError(t, msg.Decode(&s))
		theirs = append(theirs, s)
	})
	require.NoError(t, err)
	defer subTheirs.Close()

	p, err := NewPublisher(b)
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), sample(org, 6.5), sample(org, 6.6)))

	require.Len(t, mine, 2)
	assert.Equal(t, 6.6, mine[1].Lat)
	assert.Empty(t, theirs)

	err = p.Publish(context.Background(), sample("", 6.7), sample(org, 6.8))
	assert.Error(t, err)
	assert.Len(t, mine, 3, "a bad sample does not stop the rest")
}

func TestNewPublisherRequiresBroadcaster(t *testing.T) {
	_, err := NewPublisher(nil)
	assert.Error(t, err)
}

func TestStreamHandlerWritesTenantSamples(t *testing.T) {
	b := pubsub.NewMemoryBroadcaster()
	handler := NewStreamHandler(b, nil)
	tenant := auth.Tenant{OrganizationID: org, BranchID: branch}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r.WithContext(auth.WithTenant(r.Context(), tenant)))
	}))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: ready\n", line)

	require.Eventually(t, func() bool { return b.Subscribers(Channel(org, branch)) == 1 }, time.Second, 10*time.Millisecond)
	p, err := NewPublisher(b)
	require.NoError(t, err)
	require.NoError(t, p.Publish(context.Background(), sample(other, 1.5)))
	require.NoError(t, p.Publish(context.Background(), sample(org, 6.55)))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("sample not streamed")
		default:
		}
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, deviceID) {
			assert.Contains(t, line, `"lat":6.55`)
			return
		}
	}
}

func TestStreamHandlerRequiresTenant(t *testing.T) {
	rec := httptest.NewRecorder()
	NewStreamHandler(pubsub.NewMemoryBroadcaster(), nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/locations/stream", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
