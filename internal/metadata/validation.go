package metadata

import (
	"regexp"
	"strings"

	"github.com/piwi3910/s3gateway/pkg/s3errors"
)

// MaxObjectKeyLength is the longest accepted object key in bytes.
const MaxObjectKeyLength = 1024

var (
	bucketNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)
	ipRegex         = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
)

// ValidateBucketName validates S3 bucket naming rules
func ValidateBucketName(name string) error {
	if len(name) < 3 || len(name) > 63 {
		return s3errors.ErrInvalidBucketName.WithMessage("bucket name must be between 3 and 63 characters")
	}

	if !bucketNameRegex.MatchString(name) {
		return s3errors.ErrInvalidBucketName.WithMessage("bucket name can only contain lowercase letters, numbers, hyphens, and periods")
	}

	if strings.Contains(name, "..") {
		return s3errors.ErrInvalidBucketName.WithMessage("bucket name cannot contain consecutive periods")
	}

	// Cannot look like an IP address
	if ipRegex.MatchString(name) {
		return s3errors.ErrInvalidBucketName.WithMessage("bucket name cannot be formatted as an IP address")
	}

	return nil
}

// ValidateObjectKey validates an object key.
func ValidateObjectKey(key string) error {
	if key == "" {
		return s3errors.ErrInvalidArgument.WithMessage("object key must not be empty")
	}

	if len(key) > MaxObjectKeyLength {
		return s3errors.ErrKeyTooLongError
	}

	if strings.Contains(key, "\x00") {
		return s3errors.ErrInvalidArgument.WithMessage("object key must not contain NUL bytes")
	}

	return nil
}
