// Package request holds the per-request state shared by an action and the
// storage bridges it drives.
//
// A Request is bound to one event loop for its whole life. Continuations are
// posted to that loop, and the single client-visible response is written
// through SendResponse, which refuses any second attempt.
package request

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/piwi3910/s3gateway/pkg/s3errors"
)

// Errors returned by SendResponse.
var (
	ErrAlreadyResponded = errors.New("response already sent")
	ErrCanceled         = errors.New("request canceled")
)

// Poster schedules callbacks on an event loop.
type Poster interface {
	Post(fn func()) bool
}

// Params describes a request.
type Params struct {
	Writer http.ResponseWriter
	HTTP   *http.Request
	Loop   Poster
	Logger *zerolog.Logger
	ID     string
	Bucket string
	Object string
	Body   []byte
}

// Request is the state of one client request.
type Request struct {
	start     time.Time
	w         http.ResponseWriter
	r         *http.Request
	loop      Poster
	done      chan struct{}
	log       zerolog.Logger
	id        string
	bucket    string
	object    string
	body      []byte
	mu        sync.Mutex
	status    int
	doneOnce  sync.Once
	responded bool
	canceled  atomic.Bool
}

// New creates a request.
func New(p Params) *Request {
	log := zerolog.Nop()
	if p.Logger != nil {
		log = *p.Logger
	}

	log = log.With().
		Str("request_id", p.ID).
		Str("bucket", p.Bucket).
		Str("object", p.Object).
		Logger()

	return &Request{
		start:  time.Now(),
		w:      p.Writer,
		r:      p.HTTP,
		loop:   p.Loop,
		done:   make(chan struct{}),
		log:    log,
		id:     p.ID,
		bucket: p.Bucket,
		object: p.Object,
		body:   p.Body,
	}
}

// ID returns the request id.
func (r *Request) ID() string {
	return r.id
}

// Bucket returns the bucket name from the request path.
func (r *Request) Bucket() string {
	return r.bucket
}

// Object returns the object key from the request path.
func (r *Request) Object() string {
	return r.object
}

// Body returns the request body.
func (r *Request) Body() []byte {
	return r.body
}

// Method returns the HTTP method.
func (r *Request) Method() string {
	if r.r == nil {
		return ""
	}

	return r.r.Method
}

// Header returns a request header.
func (r *Request) Header(name string) string {
	if r.r == nil {
		return ""
	}

	return r.r.Header.Get(name)
}

// Headers returns the request headers.
func (r *Request) Headers() http.Header {
	if r.r == nil {
		return http.Header{}
	}

	return r.r.Header
}

// Query returns a query parameter and whether it was present.
func (r *Request) Query(name string) (string, bool) {
	if r.r == nil {
		return "", false
	}

	values, ok := r.r.URL.Query()[name]
	if !ok || len(values) == 0 {
		return "", ok
	}

	return values[0], true
}

// Context returns the HTTP request context.
func (r *Request) Context() context.Context {
	if r.r == nil {
		return context.Background()
	}

	return r.r.Context()
}

// Logger returns the request-scoped logger.
func (r *Request) Logger() *zerolog.Logger {
	return &r.log
}

// Post schedules fn on the request's loop.
func (r *Request) Post(fn func()) bool {
	return r.loop.Post(fn)
}

// Canceled reports whether the client went away before a response was sent.
func (r *Request) Canceled() bool {
	return r.canceled.Load()
}

// Cancel marks the request as dropped. Continuations still in flight release
// their resources and are discarded. Cancel has no effect once a response has
// been sent.
func (r *Request) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.responded {
		return
	}

	r.canceled.Store(true)
	r.log.Debug().Dur("elapsed", time.Since(r.start)).Msg("Request canceled by client")
	r.finish()
}

// Done is closed once a response has been sent or the request is canceled.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Responded reports whether a response has been sent.
func (r *Request) Responded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.responded
}

// Status returns the status of the sent response, or zero.
func (r *Request) Status() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.status
}

// SendResponse writes the response. Only the first call writes anything.
func (r *Request) SendResponse(status int, header http.Header, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.responded {
		r.log.Error().Int("status", status).Msg("Attempted to send a second response")
		return ErrAlreadyResponded
	}

	if r.canceled.Load() {
		return ErrCanceled
	}

	r.responded = true
	r.status = status

	if r.w != nil {
		h := r.w.Header()
		for k, v := range header {
			h[k] = v
		}

		if h.Get("x-amz-request-id") == "" && r.id != "" {
			h.Set("x-amz-request-id", r.id)
		}

		if body != nil && h.Get("Content-Length") == "" {
			h.Set("Content-Length", strconv.Itoa(len(body)))
		}

		r.w.WriteHeader(status)

		if len(body) > 0 && r.Method() != http.MethodHead {
			_, err := r.w.Write(body)
			if err != nil {
				r.log.Warn().Err(err).Msg("Failed to write response body")
			}
		}
	}

	r.log.Debug().
		Int("status", status).
		Dur("elapsed", time.Since(r.start)).
		Msg("Response sent")

	r.finish()

	return nil
}

// SendError writes an S3 error response for the request.
func (r *Request) SendError(e s3errors.S3Error) error {
	if e.RequestID == "" {
		e = e.WithRequestID(r.id)
	}

	if e.Resource == "" {
		e = e.WithResource(r.resource())
	}

	return r.SendResponse(e.StatusCode, e.Header(), e.Marshal())
}

func (r *Request) resource() string {
	if r.object != "" {
		return "/" + r.bucket + "/" + r.object
	}

	if r.bucket != "" {
		return "/" + r.bucket
	}

	return "/"
}

func (r *Request) finish() {
	r.doneOnce.Do(func() {
		close(r.done)
	})
}
