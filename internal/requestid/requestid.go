package requestid

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Header carries a caller supplied request id over HTTP.
const Header = "X-Request-ID"

type contextKey struct{}

// New creates a request id for tracing.
func New() string {
	return uuid.NewString()
}

// WithContext adds a request id to context.
func WithContext(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, requestID)
}

// FromContext reads request id from context.
func FromContext(ctx context.Context) string {
	v := ctx.Value(contextKey{})
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// FromRequest returns the request's X-Request-ID header or a new id.
func FromRequest(r *http.Request) string {
	if rid := strings.TrimSpace(r.Header.Get(Header)); rid != "" {
		return rid
	}
	return New()
}
