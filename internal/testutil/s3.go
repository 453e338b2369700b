package testutil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/piwi3910/s3gateway/internal/eventloop"
	"github.com/piwi3910/s3gateway/internal/request"
)

// S3Call describes a request built with NewS3Request.
type S3Call struct {
	Header http.Header
	Method string
	Target string
	Bucket string
	Object string
	Body   []byte
}

// NewS3Request builds a request bound to loop whose response is recorded.
func NewS3Request(loop *eventloop.Loop, call S3Call) (*request.Request, *httptest.ResponseRecorder) {
	hr := httptest.NewRequest(call.Method, call.Target, bytes.NewReader(call.Body))
	for k, v := range call.Header {
		hr.Header[k] = v
	}

	rec := httptest.NewRecorder()
	req := request.New(request.Params{
		Writer: rec,
		HTTP:   hr,
		Loop:   loop,
		ID:     "test-request",
		Bucket: call.Bucket,
		Object: call.Object,
		Body:   call.Body,
	})

	return req, rec
}

// RunAction posts start on loop and waits until req has responded.
func RunAction(t *testing.T, loop *eventloop.Loop, req *request.Request, start func()) {
	t.Helper()

	if !loop.Post(start) {
		t.Fatal("loop rejected action start")
	}

	done := make(chan struct{})

	go func() {
		<-req.Done()
		close(done)
	}()

	Wait(t, done)
}
