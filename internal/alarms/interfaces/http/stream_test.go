package http

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

	alarmapp "fleetguardian/internal/alarms/application"
	"fleetguardian/internal/auth"
)

const (
	org      = "11111111-1111-4111-8111-111111111111"
	branch   = "22222222-2222-4222-8222-222222222222"
	other    = "33333333-3333-4333-8333-333333333333"
	deviceID = "aaaaaaaa-1111-4111-8111-aaaaaaaaaaaa"
)

func TestSSEBroker_FiltersByTenant(t *testing.T) {
	broker := NewSSEBroker()
	mine := broker.Subscribe(auth.Tenant{OrganizationID: org, BranchID: branch})
	theirs := broker.Subscribe(auth.Tenant{OrganizationID: other, BranchID: branch})
	defer broker.Unsubscribe(mine)
	defer broker.Unsubscribe(theirs)

	broker.Notify(context.Background(), alarmapp.AlertEvent{
		Type:           alarmapp.EventRaised,
		Kind:           "SOS",
		DeviceID:       deviceID,
		OrganizationID: org,
		BranchID:       branch,
	})

	select {
	case payload := <-mine:
		assert.Contains(t, string(payload), deviceID)
	case <-time.After(time.Second):
		t.Fatal("no event for matching tenant")
	}
	select {
	case <-theirs:
		t.Fatal("event leaked to another tenant")
	default:
	}
}

func TestStreamHandler_WritesEvents(t *testing.T) {
	broker := NewSSEBroker()
	handler := NewStreamHandler(broker)
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

	require.Eventually(t, func() bool { return broker.Clients() == 1 }, time.Second, 10*time.Millisecond)
	broker.Notify(context.Background(), alarmapp.AlertEvent{
		Type:           alarmapp.EventRaised,
		Kind:           "ALERT",
		Code:           "SPEED_VIOLATION",
		DeviceID:       deviceID,
		OrganizationID: org,
		BranchID:       branch,
	})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("alert not streamed")
		default:
		}
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, "SPEED_VIOLATION") {
			return
		}
	}
}

func TestStreamHandler_RequiresTenant(t *testing.T) {
	rec := httptest.NewRecorder()
	NewStreamHandler(NewSSEBroker()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/alerts/stream", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
