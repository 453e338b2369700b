package s3errors

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3ErrorString(t *testing.T) {
	assert.Equal(t, "NoSuchBucket: The specified bucket does not exist", ErrNoSuchBucket.Error())
	assert.Equal(t,
		"NoSuchBucket: The specified bucket does not exist (Resource: /bucket1)",
		ErrNoSuchBucket.WithResource("/bucket1").Error())
}

func TestWithersDoNotMutateSentinel(t *testing.T) {
	e := ErrInternalError.WithMessage("boom").WithRequestID("req-1")

	assert.Equal(t, "boom", e.Message)
	assert.Equal(t, "req-1", e.RequestID)
	assert.Equal(t, "We encountered an internal error. Please try again", ErrInternalError.Message)
	assert.Empty(t, ErrInternalError.RequestID)
}

func TestIs(t *testing.T) {
	wrapped := fmt.Errorf("action failed: %w", ErrNoSuchBucket.WithResource("/b"))

	assert.ErrorIs(t, wrapped, ErrNoSuchBucket)
	assert.NotErrorIs(t, wrapped, ErrNoSuchKey)
}

func TestGetS3Error(t *testing.T) {
	assert.Equal(t, "NoSuchKey", GetS3Error(ErrNoSuchKey).Code)
	assert.Equal(t, ErrInternalError, GetS3Error(errors.New("plain")))
}

func TestMarshal(t *testing.T) {
	body := ErrNoSuchBucketPolicy.WithResource("/bucket1").WithRequestID("req-1").Marshal()

	var resp ErrorResponse
	require.NoError(t, xml.Unmarshal(body, &resp))

	assert.Equal(t, "NoSuchBucketPolicy", resp.Code)
	assert.Equal(t, "/bucket1", resp.Resource)
	assert.Equal(t, "req-1", resp.RequestID)
}

func TestWriteS3Error(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteS3ErrorWithContext(rec, ErrServiceUnavailable, "/bucket1", "req-2")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Equal(t, "req-2", rec.Header().Get("x-amz-request-id"))
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "<Code>ServiceUnavailable</Code>")
}
