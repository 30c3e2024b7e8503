package relay

import (
	"context"
	"errors"
	"strings"
	"sync"

	"fleetguardian/internal/identifier"
	"fleetguardian/internal/logging"
	"fleetguardian/internal/observability/metrics"
	"fleetguardian/internal/pubsub"
)

// Update is what a viewer renders: the latest frame or audio chunk.
type Update struct {
	Event  string `json:"event"`
	Target string `json:"vId"`
	Image  string `json:"image,omitempty"`
	Audio  string `json:"audio,omitempty"`
}

// Viewer follows one device on the shared channel. Items for other devices
// are discarded; the newest item always wins.
type Viewer struct {
	broadcaster pubsub.Broadcaster
	render      func(Update)
	logger      logging.Logger

	mu     sync.RWMutex
	target string
	frame  *MediaFrame
	audio  *AudioChunk
	sub    pubsub.Subscription
}

// NewViewer constructs a viewer for target. render may be nil.
func NewViewer(broadcaster pubsub.Broadcaster, target string, render func(Update), logger logging.Logger) (*Viewer, error) {
	if broadcaster == nil {
		return nil, errors.New("relay: nil broadcaster")
	}
	target, err := identifier.Parse(target)
	if err != nil {
		return nil, err
	}
	return &Viewer{
		broadcaster: broadcaster,
		render:      render,
		logger:      logging.OrDiscard(logger),
		target:      target,
	}, nil
}

// Start subscribes to the channel.
func (v *Viewer) Start(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sub != nil {
		return nil
	}
	sub, err := v.broadcaster.Subscribe(ctx, Channel, pubsub.OnEvent(v.handle, EventFrame, EventAudio))
	if err != nil {
		return err
	}
	v.sub = sub
	metrics.AddViewers(1)
	return nil
}

// SetTarget switches the viewed device and clears the held items.
func (v *Viewer) SetTarget(target string) error {
	target, err := identifier.Parse(target)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.target != target {
		v.target = target
		v.frame, v.audio = nil, nil
	}
	return nil
}

// Target returns the viewed device.
func (v *Viewer) Target() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.target
}

// LatestFrame returns the most recent frame for the viewed device.
func (v *Viewer) LatestFrame() (MediaFrame, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.frame == nil {
		return MediaFrame{}, false
	}
	return *v.frame, true
}

// LatestAudio returns the most recent audio chunk for the viewed device.
func (v *Viewer) LatestAudio() (AudioChunk, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.audio == nil {
		return AudioChunk{}, false
	}
	return *v.audio, true
}

// Close releases the subscription.
func (v *Viewer) Close() error {
	v.mu.Lock()
	sub := v.sub
	v.sub = nil
	v.mu.Unlock()
	if sub == nil {
		return nil
	}
	metrics.AddViewers(-1)
	return sub.Close()
}

func (v *Viewer) handle(_ context.Context, msg pubsub.Message) {
	var update Update
	switch msg.Event {
	case EventFrame:
		var frame MediaFrame
		if err := msg.Decode(&frame); err != nil {
			v.logger.WithError(err).Debug("frame discarded")
			return
		}
		v.mu.Lock()
		if !strings.EqualFold(frame.Target, v.target) {
			v.mu.Unlock()
			return
		}
		v.frame = &frame
		v.mu.Unlock()
		update = Update{Event: EventFrame, Target: frame.Target, Image: frame.Image}
	case EventAudio:
		var chunk AudioChunk
		if err := msg.Decode(&chunk); err != nil {
			v.logger.WithError(err).Debug("audio discarded")
			return
		}
		v.mu.Lock()
		if !strings.EqualFold(chunk.Target, v.target) {
			v.mu.Unlock()
			return
		}
		v.audio = &chunk
		v.mu.Unlock()
		update = Update{Event: EventAudio, Target: chunk.Target, Audio: chunk.Audio}
	default:
		return
	}
	metrics.IncViewerRender(update.Event)
	if v.render != nil {
		v.render(update)
	}
}
