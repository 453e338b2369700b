package s3action

import (
	"bytes"
	"encoding/xml"
	"net/http"

	"github.com/piwi3910/s3gateway/internal/metadata"
	"github.com/piwi3910/s3gateway/pkg/s3errors"
	"github.com/piwi3910/s3gateway/pkg/s3types"
)

// CreateBucket creates a bucket record if none exists.
type CreateBucket struct {
	*BucketAction
	existing *metadata.BucketMetadata
	region   string
}

// NewCreateBucket creates the action.
func NewCreateBucket(req Request, deps Deps) *CreateBucket {
	a := &CreateBucket{BucketAction: newBucketAction("CreateBucket", req, deps)}

	a.AddTask("validate_bucket_name", a.validateBucketName)
	a.AddTask("read_bucket_configuration", a.readBucketConfiguration)
	a.AddTask("save_bucket_info", a.saveNewBucket)
	a.SetResponder(a.responder(a.sendResponse))

	return a
}

// readBucketConfiguration accepts an empty body or a LocationConstraint
// naming the gateway region. us-east-1 may always be requested.
func (a *CreateBucket) readBucketConfiguration() {
	a.region = a.deps.Region

	body := bytes.TrimSpace(a.req.Body())
	if len(body) == 0 {
		a.Next()
		return
	}

	var cfg s3types.CreateBucketConfiguration
	if err := xml.Unmarshal(body, &cfg); err != nil {
		a.Abort(s3errors.ErrMalformedXML)
		return
	}

	switch cfg.LocationConstraint {
	case "", a.deps.Region:
	case defaultRegion:
		a.region = defaultRegion
	default:
		a.Abort(s3errors.ErrInvalidLocationConstraint)
		return
	}

	a.Next()
}

func (a *CreateBucket) saveNewBucket() {
	b := a.bucket.Bucket()
	b.Owner = a.deps.owner()
	b.Region = a.region

	a.bucket.SaveNew(a.Next, a.saveNewBucketFailed)
}

func (a *CreateBucket) saveNewBucketFailed() {
	if a.bucket.State() != metadata.StateExists {
		a.Abort(a.storageError(a.bucket.Err(), s3errors.ErrInternalError))
		return
	}

	// Tell the owner apart from everyone else.
	a.existing = metadata.NewBucketMetadata(a.deps.Client, a.req, a.req.Bucket())
	a.existing.Load(func() {
		if a.existing.Bucket().Owner == a.deps.owner() {
			a.Abort(s3errors.ErrBucketAlreadyOwnedByYou)
			return
		}

		a.Abort(s3errors.ErrBucketAlreadyExists)
	}, func() {
		a.Abort(s3errors.ErrBucketAlreadyExists)
	})
}

func (a *CreateBucket) sendResponse() {
	h := emptyHeader()
	h.Set("Location", "/"+a.req.Bucket())

	a.SendResponse(http.StatusOK, h, nil)
}

// HeadBucket checks that a bucket exists.
type HeadBucket struct {
	*BucketAction
}

// NewHeadBucket creates the action.
func NewHeadBucket(req Request, deps Deps) *HeadBucket {
	a := &HeadBucket{BucketAction: newBucketAction("HeadBucket", req, deps)}

	a.AddTask("fetch_bucket_info", a.fetchBucketInfo)
	a.SetResponder(a.responder(a.sendResponse))

	return a
}

func (a *HeadBucket) sendResponse() {
	h := emptyHeader()
	if r := a.bucket.Bucket().Region; r != "" {
		h.Set("x-amz-bucket-region", r)
	}

	a.SendResponse(http.StatusOK, h, nil)
}

// GetBucketLocation reports the region of a bucket.
type GetBucketLocation struct {
	*BucketAction
}

// NewGetBucketLocation creates the action.
func NewGetBucketLocation(req Request, deps Deps) *GetBucketLocation {
	a := &GetBucketLocation{BucketAction: newBucketAction("GetBucketLocation", req, deps)}

	a.AddTask("fetch_bucket_info", a.fetchBucketInfo)
	a.SetResponder(a.responder(a.sendResponse))

	return a
}

func (a *GetBucketLocation) sendResponse() {
	// us-east-1 is reported as an empty constraint.
	region := a.bucket.Bucket().Region
	if region == defaultRegion {
		region = ""
	}

	body, err := xml.Marshal(s3types.LocationConstraint{Region: region})
	if err != nil {
		a.SendError(s3errors.ErrInternalError)
		return
	}

	h := emptyHeader()
	h.Set("Content-Type", "application/xml")

	a.SendResponse(http.StatusOK, h, append([]byte(xml.Header), body...))
}

// DeleteBucket removes an empty bucket.
type DeleteBucket struct {
	*BucketAction
}

// NewDeleteBucket creates the action.
func NewDeleteBucket(req Request, deps Deps) *DeleteBucket {
	a := &DeleteBucket{BucketAction: newBucketAction("DeleteBucket", req, deps)}

	a.AddTask("fetch_bucket_info", a.fetchBucketInfo)
	a.AddTask("check_bucket_empty", a.checkBucketEmpty)
	a.AddTask("delete_bucket_info", a.deleteBucketInfo)
	a.SetResponder(a.responder(a.sendStatus(http.StatusNoContent)))

	return a
}

func (a *DeleteBucket) checkBucketEmpty() {
	if a.bucket.Bucket().ObjectCount > 0 {
		a.Abort(s3errors.ErrBucketNotEmpty)
		return
	}

	a.Next()
}

func (a *DeleteBucket) deleteBucketInfo() {
	a.bucket.Remove(a.Next, func() {
		a.Abort(a.storageError(a.bucket.Err(), s3errors.ErrNoSuchBucket))
	})
}
