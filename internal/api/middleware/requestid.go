// Package middleware provides HTTP middleware for the S3 API.
package middleware

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey int

const (
	// requestIDKey is the context key for the request ID.
	requestIDKey contextKey = iota
)

// requestCounter makes ids generated in the same instant distinct.
var requestCounter atomic.Uint32

// RequestID is a middleware that generates a unique request ID for each request.
// The request ID is added to the response headers and made available in the context.
// The format follows AWS S3's x-amz-request-id header format.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Check if request ID was already set (e.g., from a load balancer)
		requestID := r.Header.Get("X-Amz-Request-Id")
		if requestID == "" {
			requestID = generateRequestID()
		}

		w.Header().Set("X-Amz-Request-Id", requestID)
		w.Header().Set("X-Amz-Id-2", generateExtendedRequestID())

		next.ServeHTTP(w, r.WithContext(SetRequestID(r.Context(), requestID)))
	})
}

// GetRequestID retrieves the request ID from the context.
// Returns an empty string if no request ID is present.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}

	return ""
}

// SetRequestID sets a request ID in the context.
func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// generateRequestID returns 16 uppercase hex characters: 6 random bytes and
// a 2 byte counter.
func generateRequestID() string {
	id := uuid.New()
	n := requestCounter.Add(1)

	return fmt.Sprintf("%X%04X", id[:6], uint16(n))
}

// generateExtendedRequestID generates the extended request ID (x-amz-id-2).
func generateExtendedRequestID() string {
	a, b := uuid.New(), uuid.New()

	return base64.StdEncoding.EncodeToString(append(a[:], b[:]...))
}
