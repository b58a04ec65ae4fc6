package context

import "context"

type ctxKey string

const (
	requestIDKey ctxKey = "obs_request_id"
	referenceKey ctxKey = "obs_reference"
	eventTypeKey ctxKey = "obs_event_type"
)

// WithRequestID stores the inbound request id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithReference stores the payment or payout reference being processed so
// every log line for a webhook or job carries it.
func WithReference(ctx context.Context, reference string) context.Context {
	if reference == "" {
		return ctx
	}
	return context.WithValue(ctx, referenceKey, reference)
}

func ReferenceFromContext(ctx context.Context) string {
	return stringValue(ctx, referenceKey)
}

// WithEventType stores the gateway event type of a webhook delivery.
func WithEventType(ctx context.Context, eventType string) context.Context {
	if eventType == "" {
		return ctx
	}
	return context.WithValue(ctx, eventTypeKey, eventType)
}

func EventTypeFromContext(ctx context.Context) string {
	return stringValue(ctx, eventTypeKey)
}

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
