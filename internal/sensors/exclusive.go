package sensors

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Exclusive wraps a Camera so at most one handle is open at a time.
type Exclusive struct {
	camera Camera
	mu     sync.Mutex
	held   bool
}

// NewExclusive wraps camera.
func NewExclusive(camera Camera) *Exclusive {
	return &Exclusive{camera: camera}
}

// Open returns ErrBusy while another handle is open.
func (e *Exclusive) Open(ctx context.Context) (CameraHandle, error) {
	e.mu.Lock()
	if e.held {
		e.mu.Unlock()
		return nil, ErrBusy
	}
	e.held = true
	e.mu.Unlock()

	h, err := e.camera.Open(ctx)
	if err != nil {
		e.release()
		return nil, err
	}
	return &exclusiveHandle{CameraHandle: h, release: e.release}, nil
}

// Held reports whether a handle is open.
func (e *Exclusive) Held() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.held
}

func (e *Exclusive) release() {
	e.mu.Lock()
	e.held = false
	e.mu.Unlock()
}

type exclusiveHandle struct {
	CameraHandle
	release func()
	closed  atomic.Bool
}

func (h *exclusiveHandle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	defer h.release()
	return h.CameraHandle.Close()
}

// Static is a fixed LocationSource and BatteryGauge, used when the unit has
// no GPS endpoint.
type Static struct {
	Fix     Fix
	Battery float64
}

// Current returns the fixed position stamped with the current time.
func (s Static) Current(context.Context) (Fix, error) {
	fix := s.Fix
	fix.SampledAt = time.Now().UTC()
	return fix, nil
}

// Level returns the fixed battery level.
func (s Static) Level(context.Context) (float64, error) {
	return s.Battery, nil
}
