// Package shared holds small cross-cutting helpers used by every component
// of the bridge: context-propagated correlation ids and log/error redaction.
package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type sessionIDKey struct{}
type sourceDeviceKey struct{}
type requestIDKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithSessionID attaches a session id to the context.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// SessionID extracts the session id from context. Returns "" if absent.
func SessionID(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithSourceDevice attaches the originating device id to the context.
func WithSourceDevice(ctx context.Context, device string) context.Context {
	return context.WithValue(ctx, sourceDeviceKey{}, device)
}

// SourceDevice extracts the originating device id from context.
// Returns "unknown" if absent, matching the envelope's default.
func SourceDevice(ctx context.Context) string {
	if v, ok := ctx.Value(sourceDeviceKey{}).(string); ok && v != "" {
		return v
	}
	return "unknown"
}

// WithRequestID attaches an approval request id to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID extracts an approval request id from context. Returns "" if absent.
func RequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// NewID returns a fresh UUIDv4. Used for session ids generated in the
// absence of one on the envelope; approval request ids come from
// approval.Registry.NewRequestID.
func NewID() string {
	return uuid.NewString()
}
