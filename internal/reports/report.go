// Package reports renders location history for download.
package reports

import (
	"errors"
	"sort"
	"time"

	"fleetguardian/internal/geo"
	telemetry "fleetguardian/internal/telemetry/domain"
)

// Format is an export file format.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// ErrUnsupportedFormat is returned for unknown export formats.
var ErrUnsupportedFormat = errors.New("reports: unsupported format")

// ParseFormat accepts xlsx (the default) or pdf.
func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case "", FormatXLSX:
		return FormatXLSX, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// History is one device's samples plus a trip summary.
type History struct {
	DeviceID    string
	PlateNumber string
	GeneratedAt time.Time
	Samples     []telemetry.LocationSample
	Summary     Summary
}

// Summary aggregates a run of samples.
type Summary struct {
	Samples     int
	From        time.Time
	To          time.Time
	DistanceKm  float64
	MaxSpeedKmh float64
	AvgSpeedKmh float64
	MinBattery  *float64
}

// NewHistory sorts samples oldest first and summarizes them.
func NewHistory(deviceID, plate string, samples []telemetry.LocationSample, now time.Time) History {
	sorted := make([]telemetry.LocationSample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SampledAt.Before(sorted[j].SampledAt)
	})
	return History{
		DeviceID:    deviceID,
		PlateNumber: plate,
		GeneratedAt: now.UTC(),
		Samples:     sorted,
		Summary:     Summarize(sorted),
	}
}

// Summarize expects samples oldest first.
func Summarize(samples []telemetry.LocationSample) Summary {
	summary := Summary{Samples: len(samples)}
	if len(samples) == 0 {
		return summary
	}
	summary.From = samples[0].SampledAt.UTC()
	summary.To = samples[len(samples)-1].SampledAt.UTC()

	var speedTotal float64
	for i, s := range samples {
		speedTotal += s.SpeedKmh
		if s.SpeedKmh > summary.MaxSpeedKmh {
			summary.MaxSpeedKmh = s.SpeedKmh
		}
		if s.Battery != nil && (summary.MinBattery == nil || *s.Battery < *summary.MinBattery) {
			level := *s.Battery
			summary.MinBattery = &level
		}
		if i > 0 {
			prev := samples[i-1]
			summary.DistanceKm += geo.Point{Lat: prev.Lat, Lng: prev.Lng}.DistanceKm(geo.Point{Lat: s.Lat, Lng: s.Lng})
		}
	}
	summary.AvgSpeedKmh = speedTotal / float64(len(samples))
	return summary
}
