package s3action

import (
	"encoding/json"
	"net/http"

	"github.com/piwi3910/s3gateway/pkg/s3errors"
)

// GetBucketPolicy returns the policy document of a bucket.
type GetBucketPolicy struct {
	*BucketAction
}

// NewGetBucketPolicy creates the action.
func NewGetBucketPolicy(req Request, deps Deps) *GetBucketPolicy {
	a := &GetBucketPolicy{BucketAction: newBucketAction("GetBucketPolicy", req, deps)}

	a.AddTask("fetch_bucket_info", a.fetchBucketInfo)
	a.AddTask("check_metadata_missing_status", a.checkMetadataMissingStatus)
	a.SetResponder(a.responder(a.sendResponse))

	return a
}

func (a *GetBucketPolicy) checkMetadataMissingStatus() {
	if a.bucket.Policy() == "" {
		a.Abort(s3errors.ErrNoSuchBucketPolicy)
		return
	}

	a.Next()
}

func (a *GetBucketPolicy) sendResponse() {
	h := emptyHeader()
	h.Set("Content-Type", "application/json")

	a.SendResponse(http.StatusOK, h, []byte(a.bucket.Policy()))
}

// PutBucketPolicy replaces the policy document of a bucket.
type PutBucketPolicy struct {
	*BucketAction
}

// NewPutBucketPolicy creates the action.
func NewPutBucketPolicy(req Request, deps Deps) *PutBucketPolicy {
	a := &PutBucketPolicy{BucketAction: newBucketAction("PutBucketPolicy", req, deps)}

	a.AddTask("validate_policy", a.validatePolicy)
	a.AddTask("fetch_bucket_info", a.fetchBucketInfo)
	a.AddTask("set_policy", a.setPolicy)
	a.AddTask("save_bucket_info", a.saveBucketInfo)
	a.SetResponder(a.responder(a.sendStatus(http.StatusNoContent)))

	return a
}

func (a *PutBucketPolicy) validatePolicy() {
	var doc map[string]json.RawMessage

	err := json.Unmarshal(a.req.Body(), &doc)
	if err != nil || len(doc) == 0 {
		a.Abort(s3errors.ErrMalformedPolicy)
		return
	}

	a.Next()
}

func (a *PutBucketPolicy) setPolicy() {
	a.bucket.Bucket().Policy = string(a.req.Body())
	a.Next()
}

// DeleteBucketPolicy removes the policy document of a bucket.
type DeleteBucketPolicy struct {
	*BucketAction
}

// NewDeleteBucketPolicy creates the action.
func NewDeleteBucketPolicy(req Request, deps Deps) *DeleteBucketPolicy {
	a := &DeleteBucketPolicy{BucketAction: newBucketAction("DeleteBucketPolicy", req, deps)}

	a.AddTask("fetch_bucket_info", a.fetchBucketInfo)
	a.AddTask("clear_policy", a.clearPolicy)
	a.SetResponder(a.responder(a.sendStatus(http.StatusNoContent)))

	return a
}

func (a *DeleteBucketPolicy) clearPolicy() {
	if a.bucket.Policy() == "" {
		a.Done()
		return
	}

	a.bucket.Bucket().Policy = ""
	a.saveBucketInfo()
}
