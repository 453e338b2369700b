package integration

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/piwi3910/s3gateway/internal/metadata"
)

const testPolicy = `{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":"*","Action":"s3:GetObject","Resource":"arn:aws:s3:::policy-bucket/*"}]}`

func (s *IntegrationTestSuite) TestBucketLifecycle() {
	const bucket = "lifecycle-bucket"

	s.Require().NoError(s.client.MakeBucket(s.ctx, bucket, minio.MakeBucketOptions{}))

	exists, err := s.client.BucketExists(s.ctx, bucket)
	s.Require().NoError(err)
	s.True(exists)

	err = s.client.MakeBucket(s.ctx, bucket, minio.MakeBucketOptions{})
	s.Equal("BucketAlreadyOwnedByYou", minio.ToErrorResponse(err).Code)

	location, err := s.client.GetBucketLocation(s.ctx, bucket)
	s.Require().NoError(err)
	s.Equal("us-east-1", location)

	s.Require().NoError(s.client.RemoveBucket(s.ctx, bucket))

	exists, err = s.client.BucketExists(s.ctx, bucket)
	s.Require().NoError(err)
	s.False(exists)
}

func (s *IntegrationTestSuite) TestObjectRoundTrip() {
	const bucket = "objects-bucket"

	s.Require().NoError(s.client.MakeBucket(s.ctx, bucket, minio.MakeBucketOptions{}))

	body := []byte("hello from minio-go")
	_, err := s.client.PutObject(s.ctx, bucket, "greetings/hello.txt", bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{
			ContentType:  "text/plain",
			UserMetadata: map[string]string{"owner": "ops"},
		})
	s.Require().NoError(err)

	info, err := s.client.StatObject(s.ctx, bucket, "greetings/hello.txt", minio.StatObjectOptions{})
	s.Require().NoError(err)
	s.Equal(int64(len(body)), info.Size)
	s.Equal("text/plain", info.ContentType)
	s.Equal("ops", info.UserMetadata["Owner"])

	obj, err := s.client.GetObject(s.ctx, bucket, "greetings/hello.txt", minio.GetObjectOptions{})
	s.Require().NoError(err)

	got, err := io.ReadAll(obj)
	s.Require().NoError(err)
	s.Require().NoError(obj.Close())
	s.Equal(body, got)

	err = s.client.RemoveBucket(s.ctx, bucket)
	s.Equal("BucketNotEmpty", minio.ToErrorResponse(err).Code)

	s.Require().NoError(s.client.RemoveObject(s.ctx, bucket, "greetings/hello.txt", minio.RemoveObjectOptions{}))

	_, err = s.client.StatObject(s.ctx, bucket, "greetings/hello.txt", minio.StatObjectOptions{})
	s.Equal(http.StatusNotFound, minio.ToErrorResponse(err).StatusCode)

	s.Require().NoError(s.client.RemoveBucket(s.ctx, bucket))
}

func (s *IntegrationTestSuite) TestCompressedObject() {
	const bucket = "compressed-bucket"

	s.Require().NoError(s.client.MakeBucket(s.ctx, bucket, minio.MakeBucketOptions{}))

	body := []byte(strings.Repeat("gateway log line\n", 1024))
	_, err := s.client.PutObject(s.ctx, bucket, "app.log", bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "text/plain"})
	s.Require().NoError(err)

	var record metadata.Object
	s.Require().Equal(http.StatusOK, s.adminJSON("/api/v1/admin/buckets/"+bucket+"/objects/app.log", &record))
	s.Equal(int64(len(body)), record.Size)
	s.NotEqual("none", record.Codec)
	s.Less(record.StoredSize, record.Size)

	obj, err := s.client.GetObject(s.ctx, bucket, "app.log", minio.GetObjectOptions{})
	s.Require().NoError(err)

	got, err := io.ReadAll(obj)
	s.Require().NoError(err)
	s.Require().NoError(obj.Close())
	s.Equal(body, got)
}

func (s *IntegrationTestSuite) TestBucketPolicy() {
	const bucket = "policy-bucket"

	s.Require().NoError(s.client.MakeBucket(s.ctx, bucket, minio.MakeBucketOptions{}))
	s.Require().NoError(s.client.SetBucketPolicy(s.ctx, bucket, testPolicy))

	policy, err := s.client.GetBucketPolicy(s.ctx, bucket)
	s.Require().NoError(err)
	s.JSONEq(testPolicy, policy)

	var record metadata.Bucket
	s.Require().Equal(http.StatusOK, s.adminJSON("/api/v1/admin/buckets/"+bucket, &record))
	s.JSONEq(testPolicy, record.Policy)

	// An empty policy removes it.
	s.Require().NoError(s.client.SetBucketPolicy(s.ctx, bucket, ""))

	record = metadata.Bucket{}
	s.Require().Equal(http.StatusOK, s.adminJSON("/api/v1/admin/buckets/"+bucket, &record))
	s.Empty(record.Policy)
}

func (s *IntegrationTestSuite) TestMissingResources() {
	_, err := s.client.StatObject(s.ctx, "no-such-bucket", "key", minio.StatObjectOptions{})
	s.Equal(http.StatusNotFound, minio.ToErrorResponse(err).StatusCode)

	err = s.client.RemoveBucket(s.ctx, "no-such-bucket")
	s.Equal("NoSuchBucket", minio.ToErrorResponse(err).Code)

	s.Equal(http.StatusNotFound, s.adminJSON("/api/v1/admin/buckets/no-such-bucket", nil))
}

func (s *IntegrationTestSuite) TestEngineReport() {
	var report struct {
		Engine string `json:"engine"`
		Loops  []struct {
			Name string `json:"name"`
		} `json:"loops"`
	}

	s.Require().Equal(http.StatusOK, s.adminJSON("/api/v1/admin/engine", &report))
	s.Equal(getEnvOrDefault("S3GATEWAY_TEST_BACKEND", "memory"), report.Engine)
	s.Len(report.Loops, 2)
}
