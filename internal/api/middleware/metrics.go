package middleware

import (
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/piwi3910/s3gateway/internal/metrics"
)

const operationUnknown = "Unknown"

// MetricsMiddleware records request metrics.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		metrics.IncrementActiveConnections()
		defer metrics.DecrementActiveConnections()

		if r.ContentLength > 0 {
			metrics.AddBytesReceived(r.ContentLength)
		}

		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		operation := S3Operation(r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		metrics.RecordRequest(r.Method, operation, status, time.Since(start))

		if bucket := bucketFromPath(r.URL.Path); bucket != "" {
			metrics.RecordS3Operation(operation, bucket)
		}

		if ww.BytesWritten() > 0 {
			metrics.AddBytesSent(int64(ww.BytesWritten()))
		}
	})
}

// S3Operation names the S3 operation addressed by r.
func S3Operation(r *http.Request) string {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)

	hasBucket := parts[0] != ""
	hasKey := len(parts) == 2 && parts[1] != ""

	switch {
	case hasKey:
		return objectOperation(r.Method)
	case hasBucket:
		return bucketOperation(r)
	default:
		return operationUnknown
	}
}

func bucketOperation(r *http.Request) string {
	q := r.URL.Query()
	_, policy := q["policy"]
	_, location := q["location"]

	switch r.Method {
	case http.MethodPut:
		if policy {
			return "PutBucketPolicy"
		}

		return "CreateBucket"
	case http.MethodDelete:
		if policy {
			return "DeleteBucketPolicy"
		}

		return "DeleteBucket"
	case http.MethodHead:
		return "HeadBucket"
	case http.MethodGet:
		if policy {
			return "GetBucketPolicy"
		}

		if location {
			return "GetBucketLocation"
		}
	}

	return operationUnknown
}

func objectOperation(method string) string {
	switch method {
	case http.MethodPut:
		return "PutObject"
	case http.MethodGet:
		return "GetObject"
	case http.MethodHead:
		return "HeadObject"
	case http.MethodDelete:
		return "DeleteObject"
	default:
		return operationUnknown
	}
}

func bucketFromPath(path string) string {
	bucket, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	return bucket
}
