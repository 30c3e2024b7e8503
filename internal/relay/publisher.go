package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"fleetguardian/internal/identifier"
	"fleetguardian/internal/logging"
	"fleetguardian/internal/observability/metrics"
	"fleetguardian/internal/pubsub"
	"fleetguardian/internal/sensors"
)

// State is the publisher lifecycle state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateStreaming
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

const (
	minFrameInterval = 600 * time.Millisecond
	maxFrameInterval = 1667 * time.Millisecond
	minAudioInterval = time.Second
	maxAudioInterval = 3 * time.Second
)

// Config tunes the publish loops.
type Config struct {
	FrameInterval time.Duration
	AudioInterval time.Duration
	FrameWidth    int
	FrameHeight   int
	FrameQuality  int
}

// DefaultConfig returns the stock cadence and frame size.
func DefaultConfig() Config {
	return Config{
		FrameInterval: minFrameInterval,
		AudioInterval: time.Second,
		FrameWidth:    320,
		FrameHeight:   240,
		FrameQuality:  10,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	c.FrameInterval = clamp(c.FrameInterval, minFrameInterval, maxFrameInterval, d.FrameInterval)
	c.AudioInterval = clamp(c.AudioInterval, minAudioInterval, maxAudioInterval, d.AudioInterval)
	if c.FrameWidth <= 0 || c.FrameHeight <= 0 {
		c.FrameWidth, c.FrameHeight = d.FrameWidth, d.FrameHeight
	}
	if c.FrameQuality <= 0 {
		c.FrameQuality = d.FrameQuality
	}
	return c
}

func clamp(v, lo, hi, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Publisher runs the frame and audio publish loops for one device.
type Publisher struct {
	target      string
	broadcaster pubsub.Broadcaster
	camera      sensors.Camera
	mic         sensors.Microphone
	cfg         Config
	encode      func([]byte) ([]byte, error)
	onState     func(State)
	logger      logging.Logger

	op    sync.Mutex // serializes Start and Stop
	mu    sync.RWMutex
	state State

	cam     sensors.CameraHandle
	micH    sensors.MicHandle
	cancel  context.CancelFunc
	group   *errgroup.Group
	loops   atomic.Int32
	release *sync.Once
}

// PublisherOption configures the publisher.
type PublisherOption func(*Publisher)

// WithMicrophone enables the audio loop.
func WithMicrophone(mic sensors.Microphone) PublisherOption {
	return func(p *Publisher) {
		p.mic = mic
	}
}

// WithConfig overrides cadence and frame size.
func WithConfig(cfg Config) PublisherOption {
	return func(p *Publisher) {
		p.cfg = cfg.normalized()
	}
}

// WithFrameEncoder replaces the JPEG re-encoder.
func WithFrameEncoder(encode func([]byte) ([]byte, error)) PublisherOption {
	return func(p *Publisher) {
		if encode != nil {
			p.encode = encode
		}
	}
}

// WithStateHook observes every transition.
func WithStateHook(fn func(State)) PublisherOption {
	return func(p *Publisher) {
		p.onState = fn
	}
}

// WithPublisherLogger sets the logger.
func WithPublisherLogger(logger logging.Logger) PublisherOption {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher constructs an idle publisher for target.
func NewPublisher(target string, broadcaster pubsub.Broadcaster, camera sensors.Camera, opts ...PublisherOption) (*Publisher, error) {
	target, err := identifier.Parse(target)
	if err != nil {
		return nil, err
	}
	if broadcaster == nil || camera == nil {
		return nil, errors.New("relay: broadcaster and camera required")
	}
	p := &Publisher{
		target:      target,
		broadcaster: broadcaster,
		camera:      camera,
		cfg:         DefaultConfig(),
		logger:      logging.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.encode == nil {
		cfg := p.cfg
		p.encode = func(raw []byte) ([]byte, error) {
			return sensors.Reencode(raw, cfg.FrameWidth, cfg.FrameHeight, cfg.FrameQuality)
		}
	}
	return p, nil
}

// State returns the current state.
func (p *Publisher) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Target returns the device the publisher streams for.
func (p *Publisher) Target() string {
	return p.target
}

// ActiveLoops returns the number of running publish loops.
func (p *Publisher) ActiveLoops() int {
	return int(p.loops.Load())
}

// Start acquires the camera (and microphone if configured) and begins
// streaming. It is a no-op unless Idle. A camera failure leaves the
// publisher Idle; a microphone failure only disables audio.
func (p *Publisher) Start(ctx context.Context) error {
	p.op.Lock()
	defer p.op.Unlock()
	if p.State() != StateIdle {
		return nil
	}
	p.setState(StateStarting)

	cam, err := p.camera.Open(ctx)
	if err != nil {
		p.setState(StateIdle)
		metrics.IncRelayError("camera")
		p.logger.WithError(err).WithField("target", p.target).Warn("relay start failed: camera")
		return fmt.Errorf("relay: open camera: %w", err)
	}
	var mic sensors.MicHandle
	if p.mic != nil {
		mic, err = p.mic.Open(ctx)
		if err != nil {
			metrics.IncRelayError("microphone")
			p.logger.WithError(err).WithField("target", p.target).Warn("relay audio disabled: microphone")
			mic = nil
		}
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.mu.Lock()
	p.cam, p.micH = cam, mic
	p.cancel = cancel
	p.group = &errgroup.Group{}
	p.release = &sync.Once{}
	p.mu.Unlock()

	p.runLoop(loopCtx, "frame", p.cfg.FrameInterval, p.publishFrame)
	if mic != nil {
		p.runLoop(loopCtx, "audio", p.cfg.AudioInterval, p.publishAudio)
	}
	p.setState(StateStreaming)
	metrics.SetRelayStreaming(true)
	p.logger.WithFields(logging.Fields{
		"target":         p.target,
		"frame_interval": p.cfg.FrameInterval.String(),
		"audio":          mic != nil,
	}).Info("relay streaming")
	return nil
}

// Stop cancels both loops, waits for in-flight captures, then releases the
// camera and microphone. Safe from any state.
func (p *Publisher) Stop() error {
	p.op.Lock()
	defer p.op.Unlock()
	if p.State() != StateStreaming {
		return nil
	}
	p.setState(StateStopping)

	p.mu.RLock()
	cancel, group := p.cancel, p.group
	p.mu.RUnlock()
	cancel()
	_ = group.Wait()

	p.releaseHandles()
	p.setState(StateIdle)
	metrics.SetRelayStreaming(false)
	p.logger.WithField("target", p.target).Info("relay stopped")
	return nil
}

// Grab returns one raw frame from the held camera while streaming. ok is
// false when the publisher does not hold the camera.
func (p *Publisher) Grab(ctx context.Context) (frame []byte, ok bool, err error) {
	p.mu.RLock()
	cam := p.cam
	state := p.state
	p.mu.RUnlock()
	if state != StateStreaming || cam == nil {
		return nil, false, nil
	}
	frame, err = cam.Grab(ctx)
	return frame, true, err
}

func (p *Publisher) releaseHandles() {
	p.mu.RLock()
	once := p.release
	p.mu.RUnlock()
	if once == nil {
		return
	}
	once.Do(func() {
		p.mu.Lock()
		cam, mic := p.cam, p.micH
		p.cam, p.micH = nil, nil
		p.mu.Unlock()
		if cam != nil {
			if err := cam.Close(); err != nil {
				p.logger.WithError(err).Warn("camera release failed")
			}
		}
		if mic != nil {
			if err := mic.Close(); err != nil {
				p.logger.WithError(err).Warn("microphone release failed")
			}
		}
	})
}

// runLoop ticks at interval and runs work at most once at a time; ticks that
// land while work is still running are dropped.
func (p *Publisher) runLoop(ctx context.Context, stream string, interval time.Duration, work func(context.Context) error) {
	p.loops.Add(1)
	group := p.group
	group.Go(func() error {
		defer p.loops.Add(-1)
		var busy atomic.Bool
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick := func() {
			if !busy.CompareAndSwap(false, true) {
				metrics.IncRelayDropped(stream)
				return
			}
			group.Go(func() error {
				defer busy.Store(false)
				if err := work(ctx); err != nil && ctx.Err() == nil {
					metrics.IncRelayError(stream)
					p.logger.WithError(err).WithField("stream", stream).Warn("relay publish failed")
				}
				return nil
			})
		}
		tick()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				tick()
			}
		}
	})
}

func (p *Publisher) publishFrame(ctx context.Context) error {
	p.mu.RLock()
	cam := p.cam
	p.mu.RUnlock()
	if cam == nil {
		return sensors.ErrClosed
	}
	raw, err := cam.Grab(ctx)
	if err != nil {
		return err
	}
	encoded, err := p.encode(raw)
	if err != nil {
		return err
	}
	frame := MediaFrame{Target: p.target, Image: DataURL("image/jpeg", encoded)}
	if err := p.broadcaster.Publish(ctx, Channel, EventFrame, frame); err != nil {
		return err
	}
	metrics.IncRelayPublished(EventFrame)
	return nil
}

func (p *Publisher) publishAudio(ctx context.Context) error {
	p.mu.RLock()
	mic := p.micH
	p.mu.RUnlock()
	if mic == nil {
		return sensors.ErrClosed
	}
	segment := p.cfg.AudioInterval - 100*time.Millisecond
	wav, err := mic.Record(ctx, segment)
	if err != nil {
		return err
	}
	chunk := AudioChunk{Target: p.target, Audio: DataURL("audio/wav", wav)}
	if err := p.broadcaster.Publish(ctx, Channel, EventAudio, chunk); err != nil {
		return err
	}
	metrics.IncRelayPublished(EventAudio)
	return nil
}

func (p *Publisher) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	if p.onState != nil {
		p.onState(s)
	}
}
