// Package storage defines the object store abstraction used by the
// thumbnail resolver. Implementations translate the store's "not found"
// errors into nil results so the callers only deal with typed absence;
// every other failure surfaces as an error.
package storage

import (
	"context"
	"io"
)

// MetaParentETag is the object metadata key holding the etag of the source
// object a derivative was generated from.
const MetaParentETag = "x-amz-meta-parent-etag"

// FileItem describes a stored object. ETag values are always the unquoted
// hex form.
type FileItem struct {
	Bucket      string
	Name        string
	Size        int64
	ContentType string
	ETag        string
	// ParentETag is the source etag binding of a derivative, empty for
	// source objects.
	ParentETag string
}

// Response is an open read stream from the store. The caller owns it and
// must Close it on every exit path.
type Response struct {
	Body          io.ReadCloser
	ContentLength int64
	ContentType   string
	ETag          string
}

// Close releases the underlying store connection. Safe to call twice.
func (r *Response) Close() error {
	if r.Body == nil {
		return nil
	}
	body := r.Body
	r.Body = nil
	return body.Close()
}

// Client is the object store abstraction. Implementations must be safe for
// concurrent use by many request handlers.
type Client interface {
	// Stat returns the object's metadata, or nil if the object or its
	// bucket does not exist.
	Stat(ctx context.Context, bucket, name string) (*FileItem, error)

	// OpenStream opens a lazy read stream, or returns nil if the object
	// does not exist. The returned Response must be closed by the caller.
	OpenStream(ctx context.Context, bucket, name string) (*Response, error)

	// Load reads the whole object into memory, or returns nil if the
	// object does not exist.
	Load(ctx context.Context, bucket, name string) ([]byte, error)

	// Put uploads content. When parentETag is not empty it is persisted
	// as object metadata under MetaParentETag.
	Put(ctx context.Context, bucket, name string, content []byte, contentType, parentETag string) (*FileItem, error)

	// TryCreateBucket creates the bucket, returning false if it already
	// exists. A positive lifeTimeDays attaches a lifecycle rule expiring
	// all objects after that many days.
	TryCreateBucket(ctx context.Context, bucket string, lifeTimeDays int) (bool, error)
}
