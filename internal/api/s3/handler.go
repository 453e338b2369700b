// Package s3 routes S3 API calls onto actions.
//
// Each call is bound to one event loop picked from the group. The handler
// starts the action on that loop and blocks until the action has written its
// response or the client has gone away.
package s3

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/piwi3910/s3gateway/internal/api/middleware"
	"github.com/piwi3910/s3gateway/internal/eventloop"
	"github.com/piwi3910/s3gateway/internal/request"
	"github.com/piwi3910/s3gateway/internal/s3action"
	"github.com/piwi3910/s3gateway/pkg/s3errors"
)

// maxControlBody bounds bodies of calls that carry a document rather than
// object data (bucket configuration, policies).
const maxControlBody = 20 << 10

// Subresources that address functionality the gateway does not serve.
var unsupportedSubresources = []string{
	"acl", "cors", "delete", "encryption", "legal-hold", "lifecycle", "logging",
	"notification", "object-lock", "partNumber", "replication", "retention",
	"tagging", "uploadId", "uploads", "versioning", "versions", "website",
}

type constructor func(s3action.Request, s3action.Deps) s3action.Action

// Handler handles S3 API requests.
type Handler struct {
	loops *eventloop.Group
	deps  s3action.Deps
	log   zerolog.Logger
}

// NewHandler creates a new S3 API handler.
func NewHandler(loops *eventloop.Group, deps s3action.Deps, log zerolog.Logger) *Handler {
	return &Handler{
		loops: loops,
		deps:  deps,
		log:   log,
	}
}

// RegisterRoutes registers S3 API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, s3errors.ErrMethodNotAllowed)
	})

	// Service operations
	r.Get("/", h.notImplemented)

	// Bucket operations
	r.Route("/{bucket}", func(r chi.Router) {
		r.Put("/", h.handleBucketPut)
		r.Delete("/", h.handleBucketDelete)
		r.Head("/", h.serve(false, newHeadBucket))
		r.Get("/", h.handleBucketGet)
		r.Post("/", h.notImplemented)

		// Object operations
		r.Put("/*", h.handleObjectPut)
		r.Get("/*", h.handleObject(newGetObject))
		r.Head("/*", h.handleObject(newHeadObject))
		r.Delete("/*", h.handleObject(newDeleteObject))
		r.Post("/*", h.notImplemented)
	})
}

func (h *Handler) handleBucketPut(w http.ResponseWriter, r *http.Request) {
	switch {
	case hasQuery(r, "policy"):
		h.serve(true, newPutBucketPolicy)(w, r)
	case unsupported(r):
		h.notImplemented(w, r)
	default:
		h.serve(true, newCreateBucket)(w, r)
	}
}

func (h *Handler) handleBucketGet(w http.ResponseWriter, r *http.Request) {
	switch {
	case hasQuery(r, "policy"):
		h.serve(false, newGetBucketPolicy)(w, r)
	case hasQuery(r, "location"):
		h.serve(false, newGetBucketLocation)(w, r)
	default:
		// Object listing and the remaining subresources.
		h.notImplemented(w, r)
	}
}

func (h *Handler) handleBucketDelete(w http.ResponseWriter, r *http.Request) {
	switch {
	case hasQuery(r, "policy"):
		h.serve(false, newDeleteBucketPolicy)(w, r)
	case unsupported(r):
		h.notImplemented(w, r)
	default:
		h.serve(false, newDeleteBucket)(w, r)
	}
}

func (h *Handler) handleObjectPut(w http.ResponseWriter, r *http.Request) {
	// Copies and aws-chunked uploads are not served.
	if r.Header.Get("X-Amz-Copy-Source") != "" || unsupported(r) || chunkedUpload(r) {
		h.notImplemented(w, r)
		return
	}

	h.serve(true, newPutObject)(w, r)
}

func (h *Handler) handleObject(newAction constructor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if unsupported(r) {
			h.notImplemented(w, r)
			return
		}

		h.serve(false, newAction)(w, r)
	}
}

func (h *Handler) notImplemented(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, s3errors.ErrNotImplemented)
}

// serve runs the action built by newAction on a loop and waits for its
// response.
func (h *Handler) serve(withBody bool, newAction constructor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body []byte

		if withBody {
			var s3err s3errors.S3Error

			body, s3err = h.readBody(w, r)
			if s3err.Code != "" {
				writeError(w, r, s3err)
				return
			}
		}

		bucket, key := pathParams(r)
		loop := h.loops.Pick()

		req := request.New(request.Params{
			Writer: w,
			HTTP:   r,
			Loop:   loop,
			Logger: &h.log,
			ID:     middleware.GetRequestID(r.Context()),
			Bucket: bucket,
			Object: key,
			Body:   body,
		})

		a := newAction(req, h.deps)

		if !loop.Post(a.Start) {
			req.Logger().Warn().Str("loop", loop.Name()).Msg("Event loop is stopped, rejecting request")
			_ = req.SendError(s3errors.ErrServiceUnavailable)

			return
		}

		select {
		case <-req.Done():
		case <-r.Context().Done():
			req.Cancel()
			req.Logger().Debug().Str("action", a.Name()).Msg("Client went away before the response")
		}
	}
}

// readBody reads the request body within the limit of the call.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, s3errors.S3Error) {
	limit := h.bodyLimit(r)

	if limit > 0 && r.ContentLength > limit {
		return nil, s3errors.ErrEntityTooLarge
	}

	reader := io.Reader(r.Body)
	if limit > 0 {
		reader = http.MaxBytesReader(w, r.Body, limit)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, s3errors.ErrEntityTooLarge
		}

		return nil, s3errors.ErrIncompleteBody
	}

	if r.ContentLength >= 0 && int64(len(body)) != r.ContentLength {
		return nil, s3errors.ErrIncompleteBody
	}

	return body, s3errors.S3Error{}
}

func (h *Handler) bodyLimit(r *http.Request) int64 {
	_, key := pathParams(r)
	if key == "" {
		return maxControlBody
	}

	return h.deps.MaxObjectSize
}

// pathParams splits the decoded path into bucket and object key.
func pathParams(r *http.Request) (string, string) {
	bucket := chi.URLParam(r, "bucket")
	key := strings.TrimPrefix(r.URL.Path, "/"+bucket)
	key = strings.TrimPrefix(key, "/")

	return bucket, key
}

func hasQuery(r *http.Request, name string) bool {
	_, ok := r.URL.Query()[name]
	return ok
}

func unsupported(r *http.Request) bool {
	q := r.URL.Query()
	for _, name := range unsupportedSubresources {
		if _, ok := q[name]; ok {
			return true
		}
	}

	return false
}

func chunkedUpload(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") ||
		strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked")
}

func writeError(w http.ResponseWriter, r *http.Request, err s3errors.S3Error) {
	s3errors.WriteS3ErrorWithContext(w, err, r.URL.Path, middleware.GetRequestID(r.Context()))
}

func newCreateBucket(req s3action.Request, deps s3action.Deps) s3action.Action {
	return s3action.NewCreateBucket(req, deps)
}

func newHeadBucket(req s3action.Request, deps s3action.Deps) s3action.Action {
	return s3action.NewHeadBucket(req, deps)
}

func newDeleteBucket(req s3action.Request, deps s3action.Deps) s3action.Action {
	return s3action.NewDeleteBucket(req, deps)
}

func newGetBucketLocation(req s3action.Request, deps s3action.Deps) s3action.Action {
	return s3action.NewGetBucketLocation(req, deps)
}

func newGetBucketPolicy(req s3action.Request, deps s3action.Deps) s3action.Action {
	return s3action.NewGetBucketPolicy(req, deps)
}

func newPutBucketPolicy(req s3action.Request, deps s3action.Deps) s3action.Action {
	return s3action.NewPutBucketPolicy(req, deps)
}

func newDeleteBucketPolicy(req s3action.Request, deps s3action.Deps) s3action.Action {
	return s3action.NewDeleteBucketPolicy(req, deps)
}

func newPutObject(req s3action.Request, deps s3action.Deps) s3action.Action {
	return s3action.NewPutObject(req, deps)
}

func newGetObject(req s3action.Request, deps s3action.Deps) s3action.Action {
	return s3action.NewGetObject(req, deps)
}

func newHeadObject(req s3action.Request, deps s3action.Deps) s3action.Action {
	return s3action.NewHeadObject(req, deps)
}

func newDeleteObject(req s3action.Request, deps s3action.Deps) s3action.Action {
	return s3action.NewDeleteObject(req, deps)
}
