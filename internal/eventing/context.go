package eventing

import "context"

type contextKey string

const (
	contextKeyEnvelope contextKey = "eventing.envelope"
	contextKeyOrg      contextKey = "eventing.organization_id"
	contextKeyCorr     contextKey = "eventing.correlation_id"
	contextKeyEventID  contextKey = "eventing.event_id"
)

// WithEnvelope attaches envelope metadata to context.
func WithEnvelope(ctx context.Context, env Envelope) context.Context {
	return context.WithValue(ctx, contextKeyEnvelope, env)
}

// EnvelopeFromContext returns envelope metadata if available.
func EnvelopeFromContext(ctx context.Context) (Envelope, bool) {
	value := ctx.Value(contextKeyEnvelope)
	env, ok := value.(Envelope)
	return env, ok
}

// WithOrganizationID sets the owning organization in context.
func WithOrganizationID(ctx context.Context, organizationID string) context.Context {
	return context.WithValue(ctx, contextKeyOrg, organizationID)
}

// WithCorrelationID sets correlation id in context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, contextKeyCorr, correlationID)
}

// WithEventID sets event id in context.
func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, contextKeyEventID, eventID)
}

// MetaFromContext builds metadata from context values.
func MetaFromContext(ctx context.Context) Meta {
	meta := Meta{}
	if value, ok := ctx.Value(contextKeyOrg).(string); ok {
		meta.OrganizationID = value
	}
	if value, ok := ctx.Value(contextKeyCorr).(string); ok {
		meta.CorrelationID = value
	}
	if value, ok := ctx.Value(contextKeyEventID).(string); ok {
		meta.EventID = value
	}
	return meta
}
