package s3action

import (
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/piwi3910/s3gateway/internal/metadata"
	"github.com/piwi3910/s3gateway/internal/metrics"
	"github.com/piwi3910/s3gateway/internal/object"
	"github.com/piwi3910/s3gateway/pkg/s3errors"
)

const userMetaPrefix = "X-Amz-Meta-"

// ObjectAction is the base of every action addressed to an object.
type ObjectAction struct {
	*BucketAction
	object *metadata.ObjectMetadata
	data   *object.Data
}

func newObjectAction(name string, req Request, deps Deps) *ObjectAction {
	return &ObjectAction{
		BucketAction: newBucketAction(name, req, deps),
		object:       metadata.NewObjectMetadata(deps.Client, req, req.Bucket(), req.Object()),
		data:         object.NewData(deps.Client, req, req.Bucket()),
	}
}

// ObjectMetadata returns the object collaborator.
func (a *ObjectAction) ObjectMetadata() *metadata.ObjectMetadata {
	return a.object
}

func (a *ObjectAction) validateObjectKey() {
	err := metadata.ValidateObjectKey(a.req.Object())
	if err != nil {
		a.Abort(s3errors.GetS3Error(err))
		return
	}

	a.Next()
}

func (a *ObjectAction) fetchObjectInfo() {
	a.object.Load(a.Next, a.fetchObjectInfoFailed)
}

func (a *ObjectAction) fetchObjectInfoFailed() {
	if a.object.State() == metadata.StateMissing {
		a.Abort(s3errors.ErrNoSuchKey)
		return
	}

	a.Abort(a.storageError(a.object.Err(), s3errors.ErrNoSuchKey))
}

// objectHeader renders the headers describing the stored object.
func (a *ObjectAction) objectHeader() http.Header {
	o := a.object.Object()

	h := emptyHeader()
	h.Set("Content-Length", strconv.FormatInt(o.Size, 10))
	h.Set("ETag", `"`+o.ETag+`"`)
	h.Set("Last-Modified", o.LastModified.UTC().Format(http.TimeFormat))

	if o.ContentType != "" {
		h.Set("Content-Type", o.ContentType)
	}

	if o.VersionID != "" {
		h.Set("x-amz-version-id", o.VersionID)
	}

	for k, v := range o.Metadata {
		h.Set(userMetaPrefix+k, v)
	}

	return h
}

// PutObject stores an object body and its record. Each version's body lives
// under its own data key, so the previous body stays readable until the new
// record is saved.
type PutObject struct {
	*ObjectAction
	codec    object.Codec
	previous *metadata.Object
	dataKey  string
}

// NewPutObject creates the action.
func NewPutObject(req Request, deps Deps) *PutObject {
	a := &PutObject{ObjectAction: newObjectAction("PutObject", req, deps)}

	a.AddTask("validate_object_key", a.validateObjectKey)
	a.AddTask("validate_object_size", a.validateObjectSize)
	a.AddTask("fetch_bucket_info", a.fetchBucketInfo)
	a.AddTask("check_existing_object", a.checkExistingObject)
	a.AddTask("write_object_data", a.writeObjectData)
	a.AddTask("save_object_info", a.saveObjectInfo)
	a.AddTask("remove_previous_data", a.removePreviousData)
	a.AddTask("update_bucket_info", a.updateBucketInfo)
	a.SetResponder(a.responder(a.sendResponse))

	return a
}

func (a *PutObject) validateObjectSize() {
	limit := a.deps.MaxObjectSize
	if limit > 0 && int64(len(a.req.Body())) > limit {
		a.Abort(s3errors.ErrEntityTooLarge)
		return
	}

	a.Next()
}

func (a *PutObject) checkExistingObject() {
	existing := metadata.NewObjectMetadata(a.deps.Client, a.req, a.req.Bucket(), a.req.Object())

	existing.Load(func() {
		previous := *existing.Object()
		a.previous = &previous
		a.Next()
	}, func() {
		if existing.State() == metadata.StateMissing {
			a.Next()
			return
		}

		a.Abort(a.storageError(existing.Err(), s3errors.ErrNoSuchKey))
	})
}

func (a *PutObject) writeObjectData() {
	body := a.req.Body()
	a.codec = a.deps.Compression.Choose(len(body), a.req.Header("Content-Type"))

	o := a.object.Object()
	o.VersionID = uuid.New().String()
	a.dataKey = metadata.DataKey(a.req.Object(), o.VersionID)

	a.data.Write(a.dataKey, body, a.codec, a.Next, func() {
		a.Abort(a.storageError(a.data.Err(), s3errors.ErrNoSuchBucket))
	})
}

func (a *PutObject) saveObjectInfo() {
	body := a.req.Body()
	sum := md5.Sum(body)

	o := a.object.Object()
	o.Size = int64(len(body))
	o.StoredSize = int64(a.data.StoredSize())
	o.ETag = hex.EncodeToString(sum[:])
	o.ContentType = a.req.Header("Content-Type")
	o.LastModified = time.Now().UTC()
	o.DataKey = a.dataKey
	o.Codec = a.codec.Name()
	o.Metadata = a.userMetadata()

	a.object.Save(a.Next, a.saveObjectInfoFailed)
}

// saveObjectInfoFailed removes the data written by the previous step before
// reporting the failure. Any previous version is untouched.
func (a *PutObject) saveObjectInfoFailed() {
	failure := a.storageError(a.object.Err(), s3errors.ErrNoSuchBucket)

	a.data.Remove(a.dataKey, func() {
		a.Abort(failure)
	}, func() {
		metrics.RecordRollbackFailure()
		a.Logger().Error().Err(a.data.Err()).Str("data_key", a.dataKey).Msg("Failed to roll back object data")
		a.Abort(failure)
	})
}

// removePreviousData drops the body of the version the new record replaced.
func (a *PutObject) removePreviousData() {
	if a.previous == nil || a.previous.StoredKey() == a.dataKey {
		a.Next()
		return
	}

	key := a.previous.StoredKey()

	a.data.Remove(key, a.Next, func() {
		// The new version is saved; the old body is only unreachable.
		metrics.RecordRollbackFailure()
		a.Logger().Warn().Err(a.data.Err()).Str("data_key", key).Msg("Previous object data not removed")
		a.Next()
	})
}

func (a *PutObject) updateBucketInfo() {
	if a.previous != nil {
		a.Next()
		return
	}

	a.bucket.Bucket().ObjectCount++
	a.bucket.Save(a.Next, func() {
		// The object is stored; only the count is stale.
		a.Logger().Error().Err(a.bucket.Err()).Msg("Failed to update bucket object count")
		a.Next()
	})
}

func (a *PutObject) userMetadata() map[string]string {
	var meta map[string]string

	for k, v := range a.req.Headers() {
		k = http.CanonicalHeaderKey(k)
		if !strings.HasPrefix(k, userMetaPrefix) || len(v) == 0 {
			continue
		}

		if meta == nil {
			meta = make(map[string]string)
		}

		meta[strings.TrimPrefix(k, userMetaPrefix)] = v[0]
	}

	return meta
}

func (a *PutObject) sendResponse() {
	o := a.object.Object()

	h := emptyHeader()
	h.Set("ETag", `"`+o.ETag+`"`)
	h.Set("x-amz-version-id", o.VersionID)

	a.SendResponse(http.StatusOK, h, nil)
}

// GetObject returns an object body.
type GetObject struct {
	*ObjectAction
}

// NewGetObject creates the action.
func NewGetObject(req Request, deps Deps) *GetObject {
	a := &GetObject{ObjectAction: newObjectAction("GetObject", req, deps)}

	a.AddTask("fetch_bucket_info", a.fetchBucketInfo)
	a.AddTask("fetch_object_info", a.fetchObjectInfo)
	a.AddTask("read_object_data", a.readObjectData)
	a.SetResponder(a.responder(a.sendResponse))

	return a
}

func (a *GetObject) readObjectData() {
	o := a.object.Object()

	a.data.Read(o.StoredKey(), o.Codec, a.Next, func() {
		a.Abort(a.storageError(a.data.Err(), s3errors.ErrNoSuchKey))
	})
}

func (a *GetObject) sendResponse() {
	body := a.data.Body()
	if body == nil {
		body = []byte{}
	}

	a.SendResponse(http.StatusOK, a.objectHeader(), body)
}

// HeadObject returns the headers of an object.
type HeadObject struct {
	*ObjectAction
}

// NewHeadObject creates the action.
func NewHeadObject(req Request, deps Deps) *HeadObject {
	a := &HeadObject{ObjectAction: newObjectAction("HeadObject", req, deps)}

	a.AddTask("fetch_bucket_info", a.fetchBucketInfo)
	a.AddTask("fetch_object_info", a.fetchObjectInfo)
	a.SetResponder(a.responder(a.sendResponse))

	return a
}

func (a *HeadObject) sendResponse() {
	a.SendResponse(http.StatusOK, a.objectHeader(), nil)
}

// DeleteObject removes an object. Deleting a missing object succeeds.
type DeleteObject struct {
	*ObjectAction
}

// NewDeleteObject creates the action.
func NewDeleteObject(req Request, deps Deps) *DeleteObject {
	a := &DeleteObject{ObjectAction: newObjectAction("DeleteObject", req, deps)}

	a.AddTask("fetch_bucket_info", a.fetchBucketInfo)
	a.AddTask("fetch_object_info", a.fetchObjectIfPresent)
	a.AddTask("delete_object_info", a.deleteObjectInfo)
	a.AddTask("delete_object_data", a.deleteObjectData)
	a.AddTask("update_bucket_info", a.updateBucketInfo)
	a.SetResponder(a.responder(a.sendStatus(http.StatusNoContent)))

	return a
}

func (a *DeleteObject) fetchObjectIfPresent() {
	a.object.Load(a.Next, func() {
		if a.object.State() == metadata.StateMissing {
			a.Done()
			return
		}

		a.Abort(a.storageError(a.object.Err(), s3errors.ErrNoSuchKey))
	})
}

func (a *DeleteObject) deleteObjectInfo() {
	a.object.Remove(a.Next, func() {
		if a.object.State() == metadata.StateMissing {
			a.Done()
			return
		}

		a.Abort(a.storageError(a.object.Err(), s3errors.ErrNoSuchKey))
	})
}

func (a *DeleteObject) deleteObjectData() {
	a.data.Remove(a.object.Object().StoredKey(), a.Next, func() {
		// The record is gone, so the object is deleted either way.
		a.Logger().Warn().Err(a.data.Err()).Msg("Object data not removed")
		a.Next()
	})
}

func (a *DeleteObject) updateBucketInfo() {
	b := a.bucket.Bucket()
	if b.ObjectCount > 0 {
		b.ObjectCount--
	}

	a.bucket.Save(a.Next, func() {
		a.Logger().Error().Err(a.bucket.Err()).Msg("Failed to update bucket object count")
		a.Next()
	})
}
