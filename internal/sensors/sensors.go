// Package sensors abstracts the field unit's hardware: camera, microphone,
// GPS and battery. Handles are exclusively owned until closed.
package sensors

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable is returned when a sensor cannot be reached or permission
	// is denied.
	ErrUnavailable = errors.New("sensors: unavailable")
	// ErrBusy is returned when the sensor is already held.
	ErrBusy = errors.New("sensors: busy")
	// ErrClosed is returned when using a released handle.
	ErrClosed = errors.New("sensors: handle closed")
)

// Camera hands out an exclusive capture handle.
type Camera interface {
	Open(ctx context.Context) (CameraHandle, error)
}

// CameraHandle grabs single frames. Close releases the camera.
type CameraHandle interface {
	Grab(ctx context.Context) ([]byte, error)
	Close() error
}

// Microphone hands out an exclusive recording handle.
type Microphone interface {
	Open(ctx context.Context) (MicHandle, error)
}

// MicHandle records short WAV segments. Close releases the microphone.
type MicHandle interface {
	Record(ctx context.Context, d time.Duration) ([]byte, error)
	Close() error
}

// Fix is one position reading.
type Fix struct {
	Lat       float64
	Lng       float64
	SpeedKmh  float64
	Heading   float64
	Accuracy  float64
	SampledAt time.Time
}

// LocationSource returns the current position.
type LocationSource interface {
	Current(ctx context.Context) (Fix, error)
}

// BatteryGauge returns the battery level in percent.
type BatteryGauge interface {
	Level(ctx context.Context) (float64, error)
}
