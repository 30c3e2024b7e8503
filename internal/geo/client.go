package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNoResult is returned when the geocoder has no match.
var ErrNoResult = errors.New("geo: no result")

var errNotFound = errors.New("geo: not found")

// Route is a driving route between two points.
type Route struct {
	Polyline string        `json:"polyline"`
	Duration time.Duration `json:"-"`
	Distance float64       `json:"distance_m"`
}

// MarshalJSON exposes the duration in seconds.
func (r Route) MarshalJSON() ([]byte, error) {
	type alias Route
	return json.Marshal(struct {
		alias
		DurationSeconds float64 `json:"duration_s"`
	}{alias: alias(r), DurationSeconds: r.Duration.Seconds()})
}

// Client talks to a Nominatim-compatible geocoder and an OSRM-compatible
// router.
type Client struct {
	geocoderURL string
	routerURL   string
	userAgent   string
	client      *http.Client
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithUserAgent sets the User-Agent header; Nominatim rejects anonymous agents.
func WithUserAgent(agent string) ClientOption {
	return func(c *Client) {
		if agent != "" {
			c.userAgent = agent
		}
	}
}

// NewClient constructs a client. Either URL may be empty when the matching
// lookup is not used.
func NewClient(geocoderURL, routerURL string, opts ...ClientOption) (*Client, error) {
	if geocoderURL == "" && routerURL == "" {
		return nil, errors.New("geo: empty geocoder and router url")
	}
	c := &Client{
		geocoderURL: strings.TrimRight(geocoderURL, "/"),
		routerURL:   strings.TrimRight(routerURL, "/"),
		userAgent:   "fleetguardian/1.0",
		client:      &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type nominatimPlace struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// Geocode resolves a free-text address to its best match.
func (c *Client) Geocode(ctx context.Context, address string) (Point, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Point{}, errors.New("geo: empty address")
	}
	if c.geocoderURL == "" {
		return Point{}, errors.New("geo: geocoder not configured")
	}
	query := url.Values{}
	query.Set("format", "json")
	query.Set("limit", "1")
	query.Set("q", address)

	var places []nominatimPlace
	if err := c.getJSON(ctx, c.geocoderURL+"/search?"+query.Encode(), &places); err != nil {
		if errors.Is(err, errNotFound) {
			return Point{}, ErrNoResult
		}
		return Point{}, err
	}
	if len(places) == 0 {
		return Point{}, ErrNoResult
	}
	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return Point{}, fmt.Errorf("geo: bad lat %q", places[0].Lat)
	}
	lng, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return Point{}, fmt.Errorf("geo: bad lon %q", places[0].Lon)
	}
	return Point{Lat: lat, Lng: lng}, nil
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Geometry string  `json:"geometry"`
		Duration float64 `json:"duration"`
		Distance float64 `json:"distance"`
	} `json:"routes"`
}

// Route returns the driving route from one point to another.
func (c *Client) Route(ctx context.Context, from, to Point) (Route, error) {
	if c.routerURL == "" {
		return Route{}, errors.New("geo: router not configured")
	}
	if !from.Valid() || !to.Valid() {
		return Route{}, errors.New("geo: coordinate out of range")
	}
	// OSRM takes lng,lat.
	path := fmt.Sprintf("/route/v1/driving/%s,%s;%s,%s?overview=full&geometries=polyline",
		strconv.FormatFloat(from.Lng, 'f', -1, 64), strconv.FormatFloat(from.Lat, 'f', -1, 64),
		strconv.FormatFloat(to.Lng, 'f', -1, 64), strconv.FormatFloat(to.Lat, 'f', -1, 64))

	var resp osrmResponse
	if err := c.getJSON(ctx, c.routerURL+path, &resp); err != nil {
		return Route{}, err
	}
	if resp.Code != "Ok" || len(resp.Routes) == 0 {
		return Route{}, ErrNoResult
	}
	best := resp.Routes[0]
	return Route{
		Polyline: best.Geometry,
		Duration: time.Duration(best.Duration * float64(time.Second)),
		Distance: best.Distance,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("geo: http %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
