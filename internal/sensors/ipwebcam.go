package sensors

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const wavHeaderSize = 44

// IPWebcam reads the sensors of a phone running an IP webcam server:
// /shot.jpg, /audio.wav, /gps.json and /sensors.json.
type IPWebcam struct {
	baseURL    string
	httpClient *http.Client
}

// IPWebcamOption configures the client.
type IPWebcamOption func(*IPWebcam)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) IPWebcamOption {
	return func(c *IPWebcam) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewIPWebcam constructs a client for baseURL.
func NewIPWebcam(baseURL string, opts ...IPWebcamOption) (*IPWebcam, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("ipwebcam: base url required")
	}
	c := &IPWebcam{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Camera returns the camera view of the server.
func (c *IPWebcam) Camera() Camera { return ipCamera{c} }

// Microphone returns the microphone view of the server.
func (c *IPWebcam) Microphone() Microphone { return ipMicrophone{c} }

type ipCamera struct{ c *IPWebcam }

// Open checks the camera once so permission and reachability problems
// surface at acquisition.
func (cam ipCamera) Open(ctx context.Context) (CameraHandle, error) {
	if _, err := cam.c.shot(ctx); err != nil {
		return nil, err
	}
	return &ipCameraHandle{c: cam.c}, nil
}

type ipCameraHandle struct {
	c      *IPWebcam
	closed atomic.Bool
}

func (h *ipCameraHandle) Grab(ctx context.Context) ([]byte, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}
	return h.c.shot(ctx)
}

func (h *ipCameraHandle) Close() error {
	h.closed.Store(true)
	return nil
}

func (c *IPWebcam) shot(ctx context.Context) ([]byte, error) {
	resp, err := c.get(ctx, "/shot.jpg")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}

type ipMicrophone struct{ c *IPWebcam }

func (m ipMicrophone) Open(context.Context) (MicHandle, error) {
	return &ipMicHandle{c: m.c}, nil
}

type ipMicHandle struct {
	c      *IPWebcam
	closed atomic.Bool
}

// Record reads d worth of samples from the live WAV stream and returns them
// as a standalone WAV file.
func (h *ipMicHandle) Record(ctx context.Context, d time.Duration) ([]byte, error) {
	if h.closed.Load() {
		return nil, ErrClosed
	}
	resp, err := h.c.get(ctx, "/audio.wav")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(resp.Body, header); err != nil {
		return nil, fmt.Errorf("%w: wav header: %v", ErrUnavailable, err)
	}
	format, err := parseWAVHeader(header)
	if err != nil {
		return nil, err
	}
	want := format.bytesFor(d)
	data := make([]byte, want)
	n, err := io.ReadFull(resp.Body, data)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: wav data: %v", ErrUnavailable, err)
	}
	return EncodeWAV(format, data[:n]), nil
}

func (h *ipMicHandle) Close() error {
	h.closed.Store(true)
	return nil
}

// Current reads /gps.json. Speed is reported in m/s and converted to km/h.
func (c *IPWebcam) Current(ctx context.Context) (Fix, error) {
	resp, err := c.get(ctx, "/gps.json")
	if err != nil {
		return Fix{}, err
	}
	defer resp.Body.Close()

	var body struct {
		GPS struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
			Speed     float64 `json:"speed"`
			Bearing   float64 `json:"bearing"`
			Accuracy  float64 `json:"accuracy"`
			Time      int64   `json:"time"`
		} `json:"gps"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Fix{}, fmt.Errorf("%w: gps: %v", ErrUnavailable, err)
	}
	if body.GPS.Latitude == 0 && body.GPS.Longitude == 0 {
		return Fix{}, fmt.Errorf("%w: no gps fix", ErrUnavailable)
	}
	sampledAt := time.Now().UTC()
	if body.GPS.Time > 0 {
		sampledAt = time.UnixMilli(body.GPS.Time).UTC()
	}
	return Fix{
		Lat:       body.GPS.Latitude,
		Lng:       body.GPS.Longitude,
		SpeedKmh:  body.GPS.Speed * 3.6,
		Heading:   body.GPS.Bearing,
		Accuracy:  body.GPS.Accuracy,
		SampledAt: sampledAt,
	}, nil
}

// Level reads the most recent battery_level sample from /sensors.json.
func (c *IPWebcam) Level(ctx context.Context) (float64, error) {
	resp, err := c.get(ctx, "/sensors.json?sense=battery_level")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var body struct {
		BatteryLevel struct {
			Data [][]json.RawMessage `json:"data"`
		} `json:"battery_level"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("%w: battery: %v", ErrUnavailable, err)
	}
	samples := body.BatteryLevel.Data
	if len(samples) == 0 || len(samples[len(samples)-1]) < 2 {
		return 0, fmt.Errorf("%w: no battery reading", ErrUnavailable)
	}
	var values []float64
	if err := json.Unmarshal(samples[len(samples)-1][1], &values); err != nil || len(values) == 0 {
		return 0, fmt.Errorf("%w: battery reading malformed", ErrUnavailable)
	}
	return values[0], nil
}

func (c *IPWebcam) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %d", ErrUnavailable, path, resp.StatusCode)
	}
	return resp, nil
}

// WAVFormat is the PCM layout of a WAV stream.
type WAVFormat struct {
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// maxChunkBytes caps a recording at 3 s of 48 kHz stereo 16-bit PCM,
// whatever the remote header claims.
const maxChunkBytes = 3 * 48000 * 2 * 2

func (f WAVFormat) bytesFor(d time.Duration) int {
	frame := int(f.Channels) * int(f.BitsPerSample) / 8
	if frame <= 0 {
		return 0
	}
	n := float64(f.SampleRate) * d.Seconds() * float64(frame)
	switch {
	case n <= 0:
		return frame
	case n > maxChunkBytes:
		return maxChunkBytes - maxChunkBytes%frame
	}
	return int(n) / frame * frame
}

func parseWAVHeader(h []byte) (WAVFormat, error) {
	if len(h) < wavHeaderSize || string(h[0:4]) != "RIFF" || string(h[8:12]) != "WAVE" {
		return WAVFormat{}, fmt.Errorf("%w: not a wav stream", ErrUnavailable)
	}
	f := WAVFormat{
		Channels:      binary.LittleEndian.Uint16(h[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(h[24:28]),
		BitsPerSample: binary.LittleEndian.Uint16(h[34:36]),
	}
	if f.Channels == 0 || f.Channels > 8 || f.SampleRate == 0 || f.SampleRate > 192000 ||
		f.BitsPerSample == 0 || f.BitsPerSample > 32 || f.BitsPerSample%8 != 0 {
		return WAVFormat{}, fmt.Errorf("%w: wav header malformed", ErrUnavailable)
	}
	return f, nil
}

// EncodeWAV wraps PCM data in a canonical 44-byte WAV header.
func EncodeWAV(f WAVFormat, pcm []byte) []byte {
	out := make([]byte, wavHeaderSize+len(pcm))
	blockAlign := f.Channels * f.BitsPerSample / 8
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1)
	binary.LittleEndian.PutUint16(out[22:24], f.Channels)
	binary.LittleEndian.PutUint32(out[24:28], f.SampleRate)
	binary.LittleEndian.PutUint32(out[28:32], f.SampleRate*uint32(blockAlign))
	binary.LittleEndian.PutUint16(out[32:34], blockAlign)
	binary.LittleEndian.PutUint16(out[34:36], f.BitsPerSample)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}
