package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/s3gateway/internal/metrics"
)

func TestRequestIDGenerated(t *testing.T) {
	var seen string

	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bucket1", nil))

	assert.Len(t, seen, 16)
	assert.Equal(t, seen, rec.Header().Get("X-Amz-Request-Id"))
	assert.NotEmpty(t, rec.Header().Get("X-Amz-Id-2"))
}

func TestRequestIDPropagated(t *testing.T) {
	var seen string

	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/bucket1", nil)
	r.Header.Set("X-Amz-Request-Id", "upstream-id")
	h.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "upstream-id", seen)
}

func TestRequestIDsAreUnique(t *testing.T) {
	ids := make(map[string]struct{})

	for range 1000 {
		ids[generateRequestID()] = struct{}{}
	}

	assert.Len(t, ids, 1000)
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer

	base := zerolog.New(&buf).Level(zerolog.DebugLevel)

	var fromCtx *zerolog.Logger

	h := RequestID(RequestLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = zerolog.Ctx(r.Context())
		w.WriteHeader(http.StatusNotFound)
	})))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bucket1?policy", nil))

	require.NotNil(t, fromCtx)
	assert.Contains(t, buf.String(), `"status":404`)
	assert.Contains(t, buf.String(), `"request_id"`)
	assert.Contains(t, buf.String(), `"path":"/bucket1"`)
}

func TestS3Operation(t *testing.T) {
	tests := []struct {
		method   string
		target   string
		expected string
	}{
		{http.MethodPut, "/bucket1", "CreateBucket"},
		{http.MethodHead, "/bucket1", "HeadBucket"},
		{http.MethodDelete, "/bucket1", "DeleteBucket"},
		{http.MethodGet, "/bucket1?policy", "GetBucketPolicy"},
		{http.MethodPut, "/bucket1?policy", "PutBucketPolicy"},
		{http.MethodGet, "/bucket1?location", "GetBucketLocation"},
		{http.MethodDelete, "/bucket1?policy", "DeleteBucketPolicy"},
		{http.MethodPut, "/bucket1/a/b.txt", "PutObject"},
		{http.MethodGet, "/bucket1/a/b.txt", "GetObject"},
		{http.MethodHead, "/bucket1/a", "HeadObject"},
		{http.MethodDelete, "/bucket1/a", "DeleteObject"},
		{http.MethodGet, "/bucket1", "Unknown"},
		{http.MethodGet, "/", "Unknown"},
		{http.MethodPost, "/bucket1/a", "Unknown"},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(tt.method, tt.target, nil)
		assert.Equal(t, tt.expected, S3Operation(r), "%s %s", tt.method, tt.target)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	counter := metrics.RequestsTotal.WithLabelValues(http.MethodGet, "GetBucketPolicy", "4xx")
	before := testutil.ToFloat64(counter)

	h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bucket1?policy", nil))

	assert.InDelta(t, before+1, testutil.ToFloat64(counter), 0.001)
}

func TestInFlightDrain(t *testing.T) {
	tracker := NewInFlight()
	release := make(chan struct{})
	entered := make(chan struct{})

	h := tracker.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	}))

	done := make(chan struct{})

	go func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bucket1", nil))
		close(done)
	}()

	<-entered
	assert.Equal(t, int64(1), tracker.InFlightCount())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, tracker.WaitForDrain(ctx), context.DeadlineExceeded)

	close(release)
	<-done

	require.NoError(t, tracker.WaitForDrain(context.Background()))
	assert.Equal(t, int64(0), tracker.InFlightCount())
}
