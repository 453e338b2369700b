package s3action_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/s3gateway/internal/action"
	"github.com/piwi3910/s3gateway/internal/eventloop"
	"github.com/piwi3910/s3gateway/internal/kvs"
	"github.com/piwi3910/s3gateway/internal/kvs/memkv"
	"github.com/piwi3910/s3gateway/internal/metadata"
	"github.com/piwi3910/s3gateway/internal/object"
	"github.com/piwi3910/s3gateway/internal/s3action"
	"github.com/piwi3910/s3gateway/internal/testutil"
)

const testPolicy = `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":"*","Action":"s3:GetObject","Resource":"arn:aws:s3:::bucket1/*"}]}`

type harness struct {
	engine *memkv.Engine
	loop   *eventloop.Loop
	deps   s3action.Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	engine := testutil.NewEngine(t, memkv.Options{})

	return &harness{
		engine: engine,
		loop:   testutil.StartLoop(t, t.Name()),
		deps: s3action.Deps{
			Client: kvs.NewClient(engine, nil),
			Region: "us-east-1",
			Owner:  "owner-1",
		},
	}
}

func (h *harness) seedBucket(t *testing.T, b metadata.Bucket) {
	t.Helper()

	testutil.SeedJSON(t, h.engine, metadata.BucketsIndex, b.Name, b)
}

func (h *harness) bucketRecord(t *testing.T, name string) (metadata.Bucket, bool) {
	t.Helper()

	var b metadata.Bucket
	ok := testutil.LookupJSON(t, h.engine, metadata.BucketsIndex, name, &b)

	return b, ok
}

type constructor func(s3action.Request, s3action.Deps) s3action.Action

func (h *harness) run(t *testing.T, newAction constructor, call testutil.S3Call) (s3action.Action, *httptest.ResponseRecorder) {
	t.Helper()

	if call.Method == "" {
		call.Method = http.MethodGet
	}

	if call.Target == "" {
		call.Target = "/" + call.Bucket
		if call.Object != "" {
			call.Target += "/" + call.Object
		}
	}

	req, rec := testutil.NewS3Request(h.loop, call)
	a := newAction(req, h.deps)

	testutil.RunAction(t, h.loop, req, a.Start)

	return a, rec
}

func getBucketPolicy(r s3action.Request, d s3action.Deps) s3action.Action {
	return s3action.NewGetBucketPolicy(r, d)
}

func putBucketPolicy(r s3action.Request, d s3action.Deps) s3action.Action {
	return s3action.NewPutBucketPolicy(r, d)
}

func deleteBucketPolicy(r s3action.Request, d s3action.Deps) s3action.Action {
	return s3action.NewDeleteBucketPolicy(r, d)
}

func createBucket(r s3action.Request, d s3action.Deps) s3action.Action {
	return s3action.NewCreateBucket(r, d)
}

func getBucketLocation(r s3action.Request, d s3action.Deps) s3action.Action {
	return s3action.NewGetBucketLocation(r, d)
}

func headBucket(r s3action.Request, d s3action.Deps) s3action.Action {
	return s3action.NewHeadBucket(r, d)
}

func deleteBucket(r s3action.Request, d s3action.Deps) s3action.Action {
	return s3action.NewDeleteBucket(r, d)
}

func putObject(r s3action.Request, d s3action.Deps) s3action.Action {
	return s3action.NewPutObject(r, d)
}

func getObject(r s3action.Request, d s3action.Deps) s3action.Action {
	return s3action.NewGetObject(r, d)
}

func headObject(r s3action.Request, d s3action.Deps) s3action.Action {
	return s3action.NewHeadObject(r, d)
}

func deleteObject(r s3action.Request, d s3action.Deps) s3action.Action {
	return s3action.NewDeleteObject(r, d)
}

func TestGetBucketPolicySendResponseToClientSuccess(t *testing.T) {
	h := newHarness(t)
	h.seedBucket(t, metadata.Bucket{Name: "bucket1", Policy: testPolicy})

	a, rec := h.run(t, getBucketPolicy, testutil.S3Call{Bucket: "bucket1", Target: "/bucket1?policy"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testPolicy, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, action.StateCompleted, a.State())
	assert.True(t, a.IsComplete())
}

func TestGetBucketPolicySendResponseToClientNoSuchBucket(t *testing.T) {
	h := newHarness(t)
	h.seedBucket(t, metadata.Bucket{Name: "bucket1", Policy: testPolicy})

	a, rec := h.run(t, getBucketPolicy, testutil.S3Call{Bucket: "missing-bucket", Target: "/missing-bucket?policy"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>NoSuchBucket</Code>")
	assert.Equal(t, action.StateAborted, a.State())
}

func TestGetBucketPolicySendResponseToClientNoSuchBucketPolicy(t *testing.T) {
	h := newHarness(t)
	h.seedBucket(t, metadata.Bucket{Name: "bucket1"})

	_, rec := h.run(t, getBucketPolicy, testutil.S3Call{Bucket: "bucket1", Target: "/bucket1?policy"})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>NoSuchBucketPolicy</Code>")
}

func TestGetBucketPolicySendResponseToClientServiceUnavailable(t *testing.T) {
	h := newHarness(t)
	h.seedBucket(t, metadata.Bucket{Name: "bucket1", Policy: testPolicy})
	h.engine.InjectError(kvs.OpGet, kvs.ErrUnavailable)

	_, rec := h.run(t, getBucketPolicy, testutil.S3Call{Bucket: "bucket1", Target: "/bucket1?policy"})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>ServiceUnavailable</Code>")
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestGetBucketPolicySendResponseToClientInternalError(t *testing.T) {
	h := newHarness(t)
	h.engine.Seed(metadata.BucketsIndex, "bucket1", []byte("{corrupt"))

	_, rec := h.run(t, getBucketPolicy, testutil.S3Call{Bucket: "bucket1", Target: "/bucket1?policy"})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>InternalError</Code>")
}

func TestGetBucketPolicyTasks(t *testing.T) {
	h := newHarness(t)
	req, _ := testutil.NewS3Request(h.loop, testutil.S3Call{Method: http.MethodGet, Target: "/bucket1?policy", Bucket: "bucket1"})

	a := s3action.NewGetBucketPolicy(req, h.deps)

	assert.Equal(t, []string{"fetch_bucket_info", "check_metadata_missing_status"}, a.Tasks())
	assert.Equal(t, action.StateNotStarted, a.State())
}

func TestCreateBucket(t *testing.T) {
	h := newHarness(t)

	_, rec := h.run(t, createBucket, testutil.S3Call{Method: http.MethodPut, Bucket: "bucket1"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/bucket1", rec.Header().Get("Location"))

	b, ok := h.bucketRecord(t, "bucket1")
	require.True(t, ok)
	assert.Equal(t, "owner-1", b.Owner)
	assert.Equal(t, "us-east-1", b.Region)
	assert.False(t, b.CreatedAt.IsZero())

	_, rec = h.run(t, createBucket, testutil.S3Call{Method: http.MethodPut, Bucket: "bucket1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>BucketAlreadyOwnedByYou</Code>")
}

func TestCreateBucketOwnedByOther(t *testing.T) {
	h := newHarness(t)
	h.seedBucket(t, metadata.Bucket{Name: "bucket1", Owner: "someone-else"})

	_, rec := h.run(t, createBucket, testutil.S3Call{Method: http.MethodPut, Bucket: "bucket1"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>BucketAlreadyExists</Code>")
}

func TestCreateBucketInvalidName(t *testing.T) {
	h := newHarness(t)

	_, rec := h.run(t, createBucket, testutil.S3Call{Method: http.MethodPut, Bucket: "Bad_Name"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>InvalidBucketName</Code>")
	assert.Zero(t, h.engine.Len(metadata.BucketsIndex))
}

func TestCreateBucketUnavailable(t *testing.T) {
	h := newHarness(t)
	h.engine.InjectError(kvs.OpPut, kvs.ErrUnavailable)

	_, rec := h.run(t, createBucket, testutil.S3Call{Method: http.MethodPut, Bucket: "bucket1"})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateBucketLocationConstraint(t *testing.T) {
	h := newHarness(t)
	h.deps.Region = "eu-west-1"

	body := []byte(`<CreateBucketConfiguration><LocationConstraint>eu-west-1</LocationConstraint></CreateBucketConfiguration>`)
	_, rec := h.run(t, createBucket, testutil.S3Call{Method: http.MethodPut, Bucket: "bucket1", Body: body})
	require.Equal(t, http.StatusOK, rec.Code)

	b, ok := h.bucketRecord(t, "bucket1")
	require.True(t, ok)
	assert.Equal(t, "eu-west-1", b.Region)

	body = []byte(`<CreateBucketConfiguration><LocationConstraint>ap-south-1</LocationConstraint></CreateBucketConfiguration>`)
	_, rec = h.run(t, createBucket, testutil.S3Call{Method: http.MethodPut, Bucket: "bucket2", Body: body})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>InvalidLocationConstraint</Code>")

	_, rec = h.run(t, createBucket, testutil.S3Call{Method: http.MethodPut, Bucket: "bucket3", Body: []byte("<Create")})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>MalformedXML</Code>")
	assert.Equal(t, 1, h.engine.Len(metadata.BucketsIndex))
}

func TestGetBucketLocation(t *testing.T) {
	h := newHarness(t)
	h.seedBucket(t, metadata.Bucket{Name: "bucket1", Region: "eu-west-1"})
	h.seedBucket(t, metadata.Bucket{Name: "bucket2", Region: "us-east-1"})

	_, rec := h.run(t, getBucketLocation, testutil.S3Call{Bucket: "bucket1", Target: "/bucket1?location"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), ">eu-west-1</LocationConstraint>")

	_, rec = h.run(t, getBucketLocation, testutil.S3Call{Bucket: "bucket2", Target: "/bucket2?location"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "us-east-1")

	_, rec = h.run(t, getBucketLocation, testutil.S3Call{Bucket: "nope", Target: "/nope?location"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHeadBucket(t *testing.T) {
	h := newHarness(t)
	h.seedBucket(t, metadata.Bucket{Name: "bucket1", Region: "eu-west-1"})

	_, rec := h.run(t, headBucket, testutil.S3Call{Method: http.MethodHead, Bucket: "bucket1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "eu-west-1", rec.Header().Get("x-amz-bucket-region"))

	_, rec = h.run(t, headBucket, testutil.S3Call{Method: http.MethodHead, Bucket: "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestDeleteBucket(t *testing.T) {
	h := newHarness(t)
	h.seedBucket(t, metadata.Bucket{Name: "full", ObjectCount: 2})
	h.seedBucket(t, metadata.Bucket{Name: "empty"})

	_, rec := h.run(t, deleteBucket, testutil.S3Call{Method: http.MethodDelete, Bucket: "full"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>BucketNotEmpty</Code>")

	_, rec = h.run(t, deleteBucket, testutil.S3Call{Method: http.MethodDelete, Bucket: "empty"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, ok := h.bucketRecord(t, "empty")
	assert.False(t, ok)

	_, rec = h.run(t, deleteBucket, testutil.S3Call{Method: http.MethodDelete, Bucket: "empty"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPutBucketPolicy(t *testing.T) {
	h := newHarness(t)
	h.seedBucket(t, metadata.Bucket{Name: "bucket1"})

	_, rec := h.run(t, putBucketPolicy, testutil.S3Call{
		Method: http.MethodPut,
		Target: "/bucket1?policy",
		Bucket: "bucket1",
		Body:   []byte(testPolicy),
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	b, _ := h.bucketRecord(t, "bucket1")
	assert.Equal(t, testPolicy, b.Policy)

	_, rec = h.run(t, getBucketPolicy, testutil.S3Call{Bucket: "bucket1", Target: "/bucket1?policy"})
	assert.Equal(t, testPolicy, rec.Body.String())
}

func TestPutBucketPolicyMalformed(t *testing.T) {
	h := newHarness(t)
	h.seedBucket(t, metadata.Bucket{Name: "bucket1"})

	for _, body := range []string{"", "not json", "[]", "{}"} {
		a, rec := h.run(t, putBucketPolicy, testutil.S3Call{
			Method: http.MethodPut,
			Target: "/bucket1?policy",
			Bucket: "bucket1",
			Body:   []byte(body),
		})

		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), "<Code>MalformedPolicy</Code>", body)
		assert.Equal(t, action.StateAborted, a.State())
	}
}

func TestDeleteBucketPolicy(t *testing.T) {
	h := newHarness(t)
	h.seedBucket(t, metadata.Bucket{Name: "bucket1", Policy: testPolicy})

	_, rec := h.run(t, deleteBucketPolicy, testutil.S3Call{Method: http.MethodDelete, Target: "/bucket1?policy", Bucket: "bucket1"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	b, _ := h.bucketRecord(t, "bucket1")
	assert.Empty(t, b.Policy)

	_, rec = h.run(t, deleteBucketPolicy, testutil.S3Call{Method: http.MethodDelete, Target: "/bucket1?policy", Bucket: "bucket1"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestObjectLifecycle(t *testing.T) {
	h := newHarness(t)

	codec, err := object.NewCodec(object.CodecZstd)
	require.NoError(t, err)
	h.deps.Compression = object.DefaultPolicy(codec)
	h.seedBucket(t, metadata.Bucket{Name: "bucket1"})

	body := bytes.Repeat([]byte("hello world\x00"), 512)
	header := http.Header{}
	header.Set("Content-Type", "text/plain")
	header.Set("X-Amz-Meta-Color", "blue")

	_, rec := h.run(t, putObject, testutil.S3Call{
		Method: http.MethodPut,
		Bucket: "bucket1",
		Object: "docs/readme.txt",
		Body:   body,
		Header: header,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	assert.NotEmpty(t, etag)
	assert.NotEmpty(t, rec.Header().Get("x-amz-version-id"))

	var stored metadata.Object
	require.True(t, testutil.LookupJSON(t, h.engine, metadata.ObjectsIndex("bucket1"), "docs/readme.txt", &stored))
	assert.Equal(t, metadata.DataKey("docs/readme.txt", stored.VersionID), stored.DataKey)
	assert.Equal(t, rec.Header().Get("x-amz-version-id"), stored.VersionID)

	raw, ok := h.engine.Lookup(metadata.DataIndex("bucket1"), stored.DataKey)
	require.True(t, ok)
	assert.Less(t, len(raw), len(body))

	b, _ := h.bucketRecord(t, "bucket1")
	assert.Equal(t, int64(1), b.ObjectCount)

	_, rec = h.run(t, getObject, testutil.S3Call{Bucket: "bucket1", Object: "docs/readme.txt"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body, rec.Body.Bytes())
	assert.Equal(t, etag, rec.Header().Get("ETag"))
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "blue", rec.Header().Get("X-Amz-Meta-Color"))

	_, rec = h.run(t, headObject, testutil.S3Call{Method: http.MethodHead, Bucket: "bucket1", Object: "docs/readme.txt"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
	assert.Equal(t, "6144", rec.Header().Get("Content-Length"))

	// Overwrite keeps the count.
	_, rec = h.run(t, putObject, testutil.S3Call{Method: http.MethodPut, Bucket: "bucket1", Object: "docs/readme.txt", Body: []byte("v2")})
	require.Equal(t, http.StatusOK, rec.Code)

	b, _ = h.bucketRecord(t, "bucket1")
	assert.Equal(t, int64(1), b.ObjectCount)
	assert.Equal(t, 1, h.engine.Len(metadata.DataIndex("bucket1")))

	_, ok = h.engine.Lookup(metadata.DataIndex("bucket1"), stored.DataKey)
	assert.False(t, ok, "previous version's data is removed")

	_, rec = h.run(t, getObject, testutil.S3Call{Bucket: "bucket1", Object: "docs/readme.txt"})
	assert.Equal(t, "v2", rec.Body.String())

	_, rec = h.run(t, deleteObject, testutil.S3Call{Method: http.MethodDelete, Bucket: "bucket1", Object: "docs/readme.txt"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	b, _ = h.bucketRecord(t, "bucket1")
	assert.Zero(t, b.ObjectCount)
	assert.Zero(t, h.engine.Len(metadata.DataIndex("bucket1")))

	_, rec = h.run(t, getObject, testutil.S3Call{Bucket: "bucket1", Object: "docs/readme.txt"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>NoSuchKey</Code>")

	_, rec = h.run(t, deleteObject, testutil.S3Call{Method: http.MethodDelete, Bucket: "bucket1", Object: "docs/readme.txt"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestPutObjectNoSuchBucket(t *testing.T) {
	h := newHarness(t)

	_, rec := h.run(t, putObject, testutil.S3Call{Method: http.MethodPut, Bucket: "nope", Object: "k", Body: []byte("x")})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>NoSuchBucket</Code>")
	assert.Zero(t, h.engine.Len(metadata.DataIndex("nope")))
}

func TestPutObjectTooLarge(t *testing.T) {
	h := newHarness(t)
	h.deps.MaxObjectSize = 4
	h.seedBucket(t, metadata.Bucket{Name: "bucket1"})

	_, rec := h.run(t, putObject, testutil.S3Call{Method: http.MethodPut, Bucket: "bucket1", Object: "k", Body: []byte("12345")})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>EntityTooLarge</Code>")
}

func TestPutObjectBackendQuota(t *testing.T) {
	h := newHarness(t)
	h.seedBucket(t, metadata.Bucket{Name: "bucket1"})
	h.engine.InjectIndexError(metadata.DataIndex("bucket1"), kvs.OpPut, kvs.ErrValueTooLarge)

	_, rec := h.run(t, putObject, testutil.S3Call{Method: http.MethodPut, Bucket: "bucket1", Object: "k", Body: []byte("12345")})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>EntityTooLarge</Code>")
}

func TestPutObjectRollsBackData(t *testing.T) {
	h := newHarness(t)
	h.seedBucket(t, metadata.Bucket{Name: "bucket1"})
	h.engine.InjectIndexError(metadata.ObjectsIndex("bucket1"), kvs.OpPut, kvs.ErrUnavailable)

	a, rec := h.run(t, putObject, testutil.S3Call{Method: http.MethodPut, Bucket: "bucket1", Object: "k", Body: []byte("data")})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, action.StateAborted, a.State())
	assert.Zero(t, h.engine.Len(metadata.DataIndex("bucket1")))

	b, _ := h.bucketRecord(t, "bucket1")
	assert.Zero(t, b.ObjectCount)
}

func TestPutObjectOverwriteKeepsPreviousVersionOnFailure(t *testing.T) {
	h := newHarness(t)

	codec, err := object.NewCodec(object.CodecZstd)
	require.NoError(t, err)
	h.deps.Compression = object.DefaultPolicy(codec)
	h.seedBucket(t, metadata.Bucket{Name: "bucket1"})

	v1 := bytes.Repeat([]byte("a"), 4096)
	header := http.Header{}
	header.Set("Content-Type", "text/plain")

	_, rec := h.run(t, putObject, testutil.S3Call{Method: http.MethodPut, Bucket: "bucket1", Object: "k", Body: v1, Header: header})
	require.Equal(t, http.StatusOK, rec.Code)
	version := rec.Header().Get("x-amz-version-id")

	h.engine.InjectIndexError(metadata.ObjectsIndex("bucket1"), kvs.OpPut, kvs.ErrUnavailable)

	png := http.Header{}
	png.Set("Content-Type", "image/png")

	a, rec := h.run(t, putObject, testutil.S3Call{Method: http.MethodPut, Bucket: "bucket1", Object: "k", Body: bytes.Repeat([]byte("b"), 100), Header: png})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, action.StateAborted, a.State())
	assert.Equal(t, 1, h.engine.Len(metadata.DataIndex("bucket1")))

	h.engine.ClearErrors()

	_, rec = h.run(t, getObject, testutil.S3Call{Bucket: "bucket1", Object: "k"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, v1, rec.Body.Bytes())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, version, rec.Header().Get("x-amz-version-id"))

	b, _ := h.bucketRecord(t, "bucket1")
	assert.Equal(t, int64(1), b.ObjectCount)
}

func TestPutObjectOverwriteKeepsNewVersionWhenCleanupFails(t *testing.T) {
	h := newHarness(t)
	h.seedBucket(t, metadata.Bucket{Name: "bucket1"})

	_, rec := h.run(t, putObject, testutil.S3Call{Method: http.MethodPut, Bucket: "bucket1", Object: "k", Body: []byte("v1")})
	require.Equal(t, http.StatusOK, rec.Code)

	h.engine.InjectIndexError(metadata.DataIndex("bucket1"), kvs.OpDelete, kvs.ErrUnavailable)

	_, rec = h.run(t, putObject, testutil.S3Call{Method: http.MethodPut, Bucket: "bucket1", Object: "k", Body: []byte("v2")})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, h.engine.Len(metadata.DataIndex("bucket1")))

	h.engine.ClearErrors()

	_, rec = h.run(t, getObject, testutil.S3Call{Bucket: "bucket1", Object: "k"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v2", rec.Body.String())
}

func TestGetObjectLegacyDataKey(t *testing.T) {
	h := newHarness(t)
	h.seedBucket(t, metadata.Bucket{Name: "bucket1"})
	testutil.SeedJSON(t, h.engine, metadata.ObjectsIndex("bucket1"), "old.txt", metadata.Object{Key: "old.txt", Size: 3, Codec: object.CodecNone})
	h.engine.Seed(metadata.DataIndex("bucket1"), "old.txt", []byte("abc"))

	_, rec := h.run(t, getObject, testutil.S3Call{Bucket: "bucket1", Object: "old.txt"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", rec.Body.String())

	_, rec = h.run(t, deleteObject, testutil.S3Call{Method: http.MethodDelete, Bucket: "bucket1", Object: "old.txt"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, h.engine.Len(metadata.DataIndex("bucket1")))
}

func TestPutObjectInvalidKey(t *testing.T) {
	h := newHarness(t)
	h.seedBucket(t, metadata.Bucket{Name: "bucket1"})

	_, rec := h.run(t, putObject, testutil.S3Call{Method: http.MethodPut, Target: "/bucket1/x", Bucket: "bucket1", Object: "a\x00b", Body: []byte("x")})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Code>InvalidArgument</Code>")
}

func TestGetObjectDataUnavailable(t *testing.T) {
	h := newHarness(t)
	h.seedBucket(t, metadata.Bucket{Name: "bucket1"})

	_, rec := h.run(t, putObject, testutil.S3Call{Method: http.MethodPut, Bucket: "bucket1", Object: "k", Body: []byte("data")})
	require.Equal(t, http.StatusOK, rec.Code)

	h.engine.InjectIndexError(metadata.DataIndex("bucket1"), kvs.OpGet, kvs.ErrUnavailable)

	_, rec = h.run(t, getObject, testutil.S3Call{Bucket: "bucket1", Object: "k"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
