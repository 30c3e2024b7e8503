package geo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_GeocodeAndRoute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/search":
			assert.Equal(t, "Ikeja, Lagos", r.URL.Query().Get("q"))
			assert.NotEmpty(t, r.Header.Get("User-Agent"))
			_, _ = w.Write([]byte(`[{"lat":"6.6018","lon":"3.3515"}]`))
		case r.URL.Path == "/route/v1/driving/3.3515,6.6018;3.4,6.45":
			_, _ = w.Write([]byte(`{"code":"Ok","routes":[{"geometry":"abc","duration":900.5,"distance":15000}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client, err := NewClient(server.URL, server.URL)
	require.NoError(t, err)

	p, err := client.Geocode(context.Background(), "Ikeja, Lagos")
	require.NoError(t, err)
	assert.InDelta(t, 6.6018, p.Lat, 1e-9)
	assert.InDelta(t, 3.3515, p.Lng, 1e-9)

	route, err := client.Route(context.Background(), p, DefaultFallback)
	require.NoError(t, err)
	assert.Equal(t, "abc", route.Polyline)
	assert.Equal(t, 900500*time.Millisecond, route.Duration)

	raw, err := json.Marshal(route)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"duration_s":900.5`)
}

func TestClient_GeocodeEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()
	client, err := NewClient(server.URL, "")
	require.NoError(t, err)
	_, err = client.Geocode(context.Background(), "nowhere")
	assert.True(t, errors.Is(err, ErrNoResult))
}

type slowGeocoder struct {
	calls atomic.Int32
	delay time.Duration
	err   error
	point Point
}

func (s *slowGeocoder) Geocode(ctx context.Context, _ string) (Point, error) {
	s.calls.Add(1)
	select {
	case <-time.After(s.delay):
		return s.point, s.err
	case <-ctx.Done():
		return Point{}, ctx.Err()
	}
}

func TestResolver_TimeoutUsesFallback(t *testing.T) {
	g := &slowGeocoder{delay: time.Second, point: Point{Lat: 1, Lng: 1}}
	r := NewResolver(g, WithTimeout(20*time.Millisecond))

	start := time.Now()
	p, ok := r.Locate(context.Background(), "Lekki Phase 1")
	assert.False(t, ok)
	assert.Equal(t, DefaultFallback, p)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestResolver_ErrorAndSuccess(t *testing.T) {
	g := &slowGeocoder{err: ErrNoResult}
	r := NewResolver(g, WithFallback(Point{Lat: 9, Lng: 7}))
	p, ok := r.Locate(context.Background(), "x")
	assert.False(t, ok)
	assert.Equal(t, Point{Lat: 9, Lng: 7}, p)

	g2 := &slowGeocoder{point: Point{Lat: 6.5, Lng: 3.3}}
	p, ok = NewResolver(g2).Locate(context.Background(), "Yaba")
	assert.True(t, ok)
	assert.Equal(t, Point{Lat: 6.5, Lng: 3.3}, p)

	p, ok = NewResolver(nil).Locate(context.Background(), "Yaba")
	assert.False(t, ok)
	assert.Equal(t, DefaultFallback, p)
}

func TestParsePoint(t *testing.T) {
	p, err := ParsePoint(" 6.45, 3.4 ")
	require.NoError(t, err)
	assert.Equal(t, DefaultFallback, p)
	_, err = ParsePoint("91,0")
	assert.Error(t, err)
	_, err = ParsePoint("abc")
	assert.Error(t, err)
}

func TestRouteHandler(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[{"geometry":"xyz","duration":60,"distance":500}]}`))
	}))
	defer server.Close()
	client, _ := NewClient("", server.URL)
	handler := NewRouteHandler(client)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/route?from=6.5,3.3&to=6.45,3.4", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), `"polyline":"xyz"`)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/route?from=bad&to=6.45,3.4", nil)
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
