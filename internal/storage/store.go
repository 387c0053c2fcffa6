package storage

import (
	"context"
	"slices"
	"time"
)

// Store reads and writes immutable, ordered versions of objects in a bucket.
type Store interface {
	// ListVersions returns every stamped version of key, oldest first.
	ListVersions(ctx context.Context, bucket, key string) ([]ObjectVersion, error)
	// GetBody returns the body stored at versionID, or the latest body when versionID is empty.
	GetBody(ctx context.Context, bucket, key, versionID string) (Object, error)
	// PutBody stores body as a new version of key.
	PutBody(ctx context.Context, bucket, key string, body []byte) (PutResult, error)
	// ListKeys returns the distinct keys stored in bucket, sorted.
	ListKeys(ctx context.Context, bucket string) ([]string, error)
}

// ObjectVersion describes one entry in an object's version history.
type ObjectVersion struct {
	Key          string
	VersionID    string
	LastModified time.Time
	IsLatest     bool
}

// Object is a stored body with the metadata of the version it was read from.
type Object struct {
	Key          string
	Body         []byte
	VersionID    string
	LastModified time.Time
}

// PutResult is what the store assigned to a new version.
type PutResult struct {
	VersionID    string
	LastModified time.Time
}

// NotFoundError signals a missing bucket, key or version.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return e.Resource + " " + e.Key + " not found"
}

// AccessDeniedError signals the credentials in use cannot read or write the resource.
type AccessDeniedError struct {
	Bucket string
	Key    string
	Err    error
}

func (e *AccessDeniedError) Error() string {
	msg := "access denied on " + e.Bucket
	if e.Key != "" {
		msg += "/" + e.Key
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AccessDeniedError) Unwrap() error {
	return e.Err
}

// ValidationError represents invalid input supplied by callers.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// unversionedID is the stamp S3 reports for objects written while versioning was off.
const unversionedID = "null"

// normalizeVersions drops foreign keys and unstamped entries and orders the rest oldest first.
func normalizeVersions(key string, versions []ObjectVersion) []ObjectVersion {
	result := make([]ObjectVersion, 0, len(versions))
	for _, v := range versions {
		if v.Key != key {
			continue
		}
		if v.VersionID == "" || v.VersionID == unversionedID {
			continue
		}
		result = append(result, v)
	}
	slices.SortStableFunc(result, func(a, b ObjectVersion) int {
		return a.LastModified.Compare(b.LastModified)
	})
	return result
}

func validateLocation(bucket, key string) error {
	if bucket == "" {
		return &ValidationError{Message: "bucket is required"}
	}
	if key == "" {
		return &ValidationError{Message: "key is required"}
	}
	return nil
}
