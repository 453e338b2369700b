// Package s3action implements the S3 API calls as actions.
//
// Every action follows the same outline: optional synchronous request checks,
// a fetch of the bucket record, the call's own storage steps, and a single
// responder that turns the outcome into the client response.
package s3action

import (
	"errors"
	"net/http"

	"github.com/piwi3910/s3gateway/internal/action"
	"github.com/piwi3910/s3gateway/internal/kvs"
	"github.com/piwi3910/s3gateway/internal/metadata"
	"github.com/piwi3910/s3gateway/internal/metrics"
	"github.com/piwi3910/s3gateway/internal/object"
	"github.com/piwi3910/s3gateway/pkg/s3errors"
)

// DefaultOwner owns buckets created without an explicit owner.
const DefaultOwner = "s3gateway"

const defaultRegion = "us-east-1"

// Request is what actions need from the request they serve.
type Request interface {
	action.Request
	kvs.Request
	ID() string
	Bucket() string
	Object() string
	Body() []byte
	Header(name string) string
	Headers() http.Header
	Method() string
}

// Action is a runnable S3 call.
type Action interface {
	Name() string
	Start()
	IsComplete() bool
	State() action.State
}

// Deps are the collaborators shared by every action.
type Deps struct {
	Client *kvs.Client
	// Compression picks the codec for object data.
	Compression object.Policy
	// MaxObjectSize bounds PutObject bodies. Zero means no limit.
	MaxObjectSize int64
	Region        string
	Owner         string
}

func (d Deps) owner() string {
	if d.Owner == "" {
		return DefaultOwner
	}

	return d.Owner
}

// BucketAction is the base of every action addressed to a bucket.
type BucketAction struct {
	*action.Base
	req    Request
	deps   Deps
	bucket *metadata.BucketMetadata
}

func newBucketAction(name string, req Request, deps Deps) *BucketAction {
	return &BucketAction{
		Base:   action.New(name, req),
		req:    req,
		deps:   deps,
		bucket: metadata.NewBucketMetadata(deps.Client, req, req.Bucket()),
	}
}

// BucketMetadata returns the bucket collaborator.
func (a *BucketAction) BucketMetadata() *metadata.BucketMetadata {
	return a.bucket
}

func (a *BucketAction) validateBucketName() {
	err := metadata.ValidateBucketName(a.req.Bucket())
	if err != nil {
		a.Abort(s3errors.GetS3Error(err))
		return
	}

	a.Next()
}

func (a *BucketAction) fetchBucketInfo() {
	a.bucket.Load(a.Next, a.fetchBucketInfoFailed)
}

func (a *BucketAction) fetchBucketInfoFailed() {
	if a.bucket.State() == metadata.StateMissing {
		a.Logger().Debug().Msg("Bucket missing")
		a.Abort(s3errors.ErrNoSuchBucket)

		return
	}

	a.Abort(a.storageError(a.bucket.Err(), s3errors.ErrNoSuchBucket))
}

// saveBucketInfo persists the bucket record and continues.
func (a *BucketAction) saveBucketInfo() {
	a.bucket.Save(a.Next, func() {
		a.Abort(a.storageError(a.bucket.Err(), s3errors.ErrNoSuchBucket))
	})
}

// storageError maps a storage failure to the client error. notFound is the
// response for a missing resource, which depends on what was being looked up.
func (a *BucketAction) storageError(err error, notFound s3errors.S3Error) s3errors.S3Error {
	switch kvs.Classify(err) {
	case kvs.ClassNotFound:
		return notFound
	case kvs.ClassRejected:
		if errors.Is(err, kvs.ErrValueTooLarge) {
			return s3errors.ErrEntityTooLarge
		}

		return s3errors.ErrInvalidRequest.WithMessage("The request was rejected by the storage backend")
	case kvs.ClassUnavailable:
		a.Logger().Warn().Err(err).Msg("Storage backend unavailable")
		return s3errors.ErrServiceUnavailable
	default:
		a.Logger().Error().Err(err).Msg("Unclassified storage failure")
		return s3errors.ErrInternalError
	}
}

// responder wraps the success response of a concrete action: an aborted
// action sends its error instead.
func (a *BucketAction) responder(success func()) func() {
	return func() {
		if e, ok := a.Err(); ok {
			metrics.RecordError(a.Name(), e.Code)
			a.SendError(e)

			return
		}

		success()
	}
}

func (a *BucketAction) sendStatus(status int) func() {
	return func() {
		a.SendResponse(status, nil, nil)
	}
}

func emptyHeader() http.Header {
	return http.Header{}
}
