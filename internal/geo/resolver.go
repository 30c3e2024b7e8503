package geo

import (
	"context"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"

	"fleetguardian/internal/logging"
	"fleetguardian/internal/observability/metrics"
)

// Geocoder resolves an address.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (Point, error)
}

// Resolver bounds geocoding with a deadline and substitutes a fallback on
// any failure, so callers never block on or fail because of the lookup.
// A circuit breaker skips the remote call while the geocoder keeps failing.
type Resolver struct {
	geocoder Geocoder
	timeout  time.Duration
	fallback Point
	executor failsafe.Executor[Point]
	logger   logging.Logger
}

// ResolverOption configures the resolver.
type ResolverOption func(*Resolver)

// WithTimeout bounds each lookup.
func WithTimeout(timeout time.Duration) ResolverOption {
	return func(r *Resolver) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithFallback overrides the fallback coordinate.
func WithFallback(p Point) ResolverOption {
	return func(r *Resolver) {
		if p.Valid() {
			r.fallback = p
		}
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(logger logging.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver wraps geocoder. A nil geocoder always yields the fallback.
func NewResolver(geocoder Geocoder, opts ...ResolverOption) *Resolver {
	breaker := circuitbreaker.NewBuilder[Point]().
		WithFailureThresholdRatio(5, 10).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		Build()
	r := &Resolver{
		geocoder: geocoder,
		timeout:  3 * time.Second,
		fallback: DefaultFallback,
		executor: failsafe.With(breaker),
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Locate returns the address position and true, or the fallback and false.
func (r *Resolver) Locate(ctx context.Context, address string) (Point, bool) {
	if r == nil || r.geocoder == nil || address == "" {
		metrics.IncGeocode("fallback")
		if r == nil {
			return DefaultFallback, false
		}
		return r.fallback, false
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	point, err := r.executor.WithContext(ctx).Get(func() (Point, error) {
		return r.geocoder.Geocode(ctx, address)
	})
	if err != nil {
		metrics.IncGeocode("fallback")
		r.logger.WithError(err).WithField("address", address).Warn("geocode failed, using fallback")
		return r.fallback, false
	}
	metrics.IncGeocode(metrics.ResultSuccess)
	return point, true
}
