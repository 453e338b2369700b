// Package s3errors provides S3-compatible error types and response handling.
// These errors follow the AWS S3 error response format.
package s3errors

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
)

// S3Error represents an S3 API error with code, message, status, and context.
type S3Error struct {
	Code       string
	Message    string
	Resource   string
	RequestID  string
	StatusCode int
}

// Error implements the error interface.
func (e S3Error) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s: %s (Resource: %s)", e.Code, e.Message, e.Resource)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithResource returns a copy of the error with the resource field set.
func (e S3Error) WithResource(resource string) S3Error {
	e.Resource = resource
	return e
}

// WithRequestID returns a copy of the error with the request ID field set.
func (e S3Error) WithRequestID(requestID string) S3Error {
	e.RequestID = requestID
	return e
}

// WithMessage returns a copy of the error with a custom message.
func (e S3Error) WithMessage(message string) S3Error {
	e.Message = message
	return e
}

// Is implements error matching for errors.Is().
func (e S3Error) Is(target error) bool {
	if t, ok := target.(S3Error); ok {
		return e.Code == t.Code
	}

	return false
}

// ErrorResponse represents the XML structure for S3 error responses.
type ErrorResponse struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	Resource  string   `xml:"Resource,omitempty"`
	RequestID string   `xml:"RequestId,omitempty"`
	HostID    string   `xml:"HostId,omitempty"`
}

// Marshal renders the XML error document.
func (e S3Error) Marshal() []byte {
	var buf bytes.Buffer

	buf.WriteString(xml.Header)
	_ = xml.NewEncoder(&buf).Encode(ErrorResponse{
		Code:      e.Code,
		Message:   e.Message,
		Resource:  e.Resource,
		RequestID: e.RequestID,
	})

	return buf.Bytes()
}

// Header returns the response headers for the error.
func (e S3Error) Header() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/xml")

	if e.RequestID != "" {
		h.Set("x-amz-request-id", e.RequestID)
	}

	if e.StatusCode == http.StatusServiceUnavailable {
		h.Set("Retry-After", "1")
	}

	return h
}

// WriteS3Error writes an S3 error response to the HTTP response writer.
func WriteS3Error(w http.ResponseWriter, err S3Error) {
	for k, v := range err.Header() {
		w.Header()[k] = v
	}

	w.WriteHeader(err.StatusCode)
	_, _ = w.Write(err.Marshal())
}

// WriteS3ErrorWithContext writes an S3 error response with resource and request ID from context.
func WriteS3ErrorWithContext(w http.ResponseWriter, err S3Error, resource, requestID string) {
	WriteS3Error(w, err.WithResource(resource).WithRequestID(requestID))
}

// Standard S3 Error Definitions
// Reference: https://docs.aws.amazon.com/AmazonS3/latest/API/ErrorResponses.html

// Bucket Errors.
var (
	// ErrNoSuchBucket is returned when the specified bucket does not exist.
	ErrNoSuchBucket = S3Error{
		Code:       "NoSuchBucket",
		Message:    "The specified bucket does not exist",
		StatusCode: http.StatusNotFound,
	}

	// ErrBucketAlreadyExists is returned when the bucket name is already taken.
	ErrBucketAlreadyExists = S3Error{
		Code:       "BucketAlreadyExists",
		Message:    "The requested bucket name is not available. The bucket namespace is shared by all users of the system. Please select a different name and try again",
		StatusCode: http.StatusConflict,
	}

	// ErrBucketAlreadyOwnedByYou is returned when the bucket already exists and is owned by you.
	ErrBucketAlreadyOwnedByYou = S3Error{
		Code:       "BucketAlreadyOwnedByYou",
		Message:    "The bucket you tried to create already exists, and you own it",
		StatusCode: http.StatusConflict,
	}

	// ErrBucketNotEmpty is returned when the bucket is not empty.
	ErrBucketNotEmpty = S3Error{
		Code:       "BucketNotEmpty",
		Message:    "The bucket you tried to delete is not empty",
		StatusCode: http.StatusConflict,
	}

	// ErrInvalidBucketName is returned when the bucket name is invalid.
	ErrInvalidBucketName = S3Error{
		Code:       "InvalidBucketName",
		Message:    "The specified bucket is not valid",
		StatusCode: http.StatusBadRequest,
	}

	// ErrInvalidLocationConstraint is returned when the requested region is not served.
	ErrInvalidLocationConstraint = S3Error{
		Code:       "InvalidLocationConstraint",
		Message:    "The specified location constraint is not valid",
		StatusCode: http.StatusBadRequest,
	}

	// ErrNoSuchBucketPolicy is returned when the specified bucket does not have a bucket policy.
	ErrNoSuchBucketPolicy = S3Error{
		Code:       "NoSuchBucketPolicy",
		Message:    "The specified bucket does not have a bucket policy",
		StatusCode: http.StatusNotFound,
	}
)

// Object Errors.
var (
	// ErrNoSuchKey is returned when the specified key does not exist.
	ErrNoSuchKey = S3Error{
		Code:       "NoSuchKey",
		Message:    "The specified key does not exist",
		StatusCode: http.StatusNotFound,
	}

	// ErrEntityTooLarge is returned when the proposed upload exceeds the maximum allowed.
	ErrEntityTooLarge = S3Error{
		Code:       "EntityTooLarge",
		Message:    "Your proposed upload exceeds the maximum allowed object size",
		StatusCode: http.StatusBadRequest,
	}

	// ErrKeyTooLongError is returned when the key is too long.
	ErrKeyTooLongError = S3Error{
		Code:       "KeyTooLongError",
		Message:    "Your key is too long",
		StatusCode: http.StatusBadRequest,
	}
)

// Request Errors.
var (
	// ErrInvalidArgument is returned when an argument is invalid.
	ErrInvalidArgument = S3Error{
		Code:       "InvalidArgument",
		Message:    "Invalid Argument",
		StatusCode: http.StatusBadRequest,
	}

	// ErrInvalidRequest is returned when the request is not valid.
	ErrInvalidRequest = S3Error{
		Code:       "InvalidRequest",
		Message:    "Invalid Request",
		StatusCode: http.StatusBadRequest,
	}

	// ErrMalformedPolicy is returned when the policy was not well-formed.
	ErrMalformedPolicy = S3Error{
		Code:       "MalformedPolicy",
		Message:    "The policy document was not well-formed or did not validate against our published schema",
		StatusCode: http.StatusBadRequest,
	}

	// ErrMalformedXML is returned when the request XML is not well-formed.
	ErrMalformedXML = S3Error{
		Code:       "MalformedXML",
		Message:    "The XML you provided was not well-formed or did not validate against our published schema",
		StatusCode: http.StatusBadRequest,
	}

	// ErrIncompleteBody is returned when the request body is shorter than Content-Length.
	ErrIncompleteBody = S3Error{
		Code:       "IncompleteBody",
		Message:    "You did not provide the number of bytes specified by the Content-Length HTTP header",
		StatusCode: http.StatusBadRequest,
	}

	// ErrMethodNotAllowed is returned when the specified method is not allowed.
	ErrMethodNotAllowed = S3Error{
		Code:       "MethodNotAllowed",
		Message:    "The specified method is not allowed against this resource",
		StatusCode: http.StatusMethodNotAllowed,
	}

	// ErrNotImplemented is returned when a header or functionality is not implemented.
	ErrNotImplemented = S3Error{
		Code:       "NotImplemented",
		Message:    "A header you provided implies functionality that is not implemented",
		StatusCode: http.StatusNotImplemented,
	}
)

// Server Errors.
var (
	// ErrInternalError is returned when an internal error occurred.
	ErrInternalError = S3Error{
		Code:       "InternalError",
		Message:    "We encountered an internal error. Please try again",
		StatusCode: http.StatusInternalServerError,
	}

	// ErrServiceUnavailable is returned when the service is not available.
	ErrServiceUnavailable = S3Error{
		Code:       "ServiceUnavailable",
		Message:    "Please reduce your request rate",
		StatusCode: http.StatusServiceUnavailable,
	}
)

// GetS3Error attempts to extract an S3Error from an error.
// If the error is not an S3Error, it returns ErrInternalError.
func GetS3Error(err error) S3Error {
	var s3err S3Error
	if errors.As(err, &s3err) {
		return s3err
	}

	return ErrInternalError
}
