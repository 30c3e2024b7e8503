package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	alarmapp "fleetguardian/internal/alarms/application"
	"fleetguardian/internal/logging"
)

// DeviceNamer resolves a display name (plate) for a device.
type DeviceNamer func(ctx context.Context, deviceID string) string

// Clock provides time for dedupe windows.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders alert events and sends them through a channel.
type Notifier struct {
	channel        Channel
	template       *Template
	clock          Clock
	logger         logging.Logger
	namer          DeviceNamer
	mu             sync.Mutex
	sent           map[string]sendRecord
	cooldown       time.Duration
	dedupeWindow   time.Duration
	requestTimeout time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithRequestTimeout bounds each channel send.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same
// device, code and event type.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithDeviceNamer shows a plate instead of the raw identifier.
func WithDeviceNamer(namer DeviceNamer) Option {
	return func(n *Notifier) {
		if namer != nil {
			n.namer = namer
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// NewNotifier constructs an alert notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:        channel,
		template:       template,
		clock:          systemClock{},
		logger:         logging.Discard(),
		sent:           make(map[string]sendRecord),
		requestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements alarmapp.AlertNotifier. Delivery failures are logged;
// nothing is retried.
func (n *Notifier) Notify(ctx context.Context, event alarmapp.AlertEvent) {
	if n == nil || n.channel == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if n.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.requestTimeout)
		defer cancel()
	}

	device := event.DeviceID
	if n.namer != nil {
		if name := n.namer(ctx, event.DeviceID); name != "" {
			device = name
		}
	}
	content, err := n.template.Render(buildTemplateData(event, device))
	if err != nil {
		n.logger.WithError(err).Warn("alert template render failed")
		return
	}
	key := notificationKey(event)
	if !n.shouldSend(key, content) {
		return
	}
	if err := n.channel.Send(ctx, content, event); err != nil {
		n.logger.WithError(err).WithFields(logging.Fields{
			"device_id": event.DeviceID,
			"code":      event.Code,
		}).Warn("alert notification failed")
		return
	}
	n.markSent(key, content)
}

func buildTemplateData(event alarmapp.AlertEvent, device string) TemplateData {
	data := TemplateData{
		Label:    eventLabel(event),
		Event:    event.Type,
		Kind:     event.Kind,
		Code:     event.Code,
		Device:   device,
		DeviceID: event.DeviceID,
		Message:  event.Message,
		Time:     event.At.UTC().Format(time.RFC3339),
	}
	if data.Code == "" {
		data.Code = event.Kind
	}
	if event.Value != nil {
		data.Value = formatFloat(*event.Value)
	}
	if event.Lat != nil && event.Lng != nil {
		data.Position = fmt.Sprintf("%.5f,%.5f", *event.Lat, *event.Lng)
	}
	return data
}

func eventLabel(event alarmapp.AlertEvent) string {
	switch {
	case event.Type == alarmapp.EventAcknowledged:
		return "Acknowledged"
	case event.Kind == "SOS":
		return "SOS"
	default:
		return "Alert"
	}
}

func formatFloat(value float64) string {
	return fmt.Sprintf("%.2f", value)
}

func (n *Notifier) shouldSend(key, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(key, content string) {
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(event alarmapp.AlertEvent) string {
	return event.DeviceID + "|" + event.Code + "|" + event.Type
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
