// Package storagetest provides an in-memory storage.Client for tests,
// including bookkeeping to assert that every opened stream gets closed.
package storagetest

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sync"

	"github.com/s3thumbs/s3thumbs/storage"
)

type object struct {
	data        []byte
	contentType string
	etag        string
	parentETag  string
}

// Client is an in-memory storage.Client.
type Client struct {
	mu      sync.Mutex
	buckets map[string]map[string]object

	// TTLs records the life time passed to TryCreateBucket per bucket.
	TTLs map[string]int
	// CreateErrs makes TryCreateBucket fail for the given buckets.
	CreateErrs map[string]error
	// StatErr makes every Stat call fail.
	StatErr error

	opened int
	closed int
}

var _ storage.Client = (*Client)(nil)

// New returns an empty in-memory client.
func New() *Client {
	return &Client{
		buckets: map[string]map[string]object{},
		TTLs:    map[string]int{},
	}
}

// ETag returns the etag the fake assigns to the given content.
func ETag(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// PutObject seeds an object, creating the bucket if needed, and returns
// its etag.
func (c *Client) PutObject(bucket, name string, data []byte, contentType string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buckets[bucket] == nil {
		c.buckets[bucket] = map[string]object{}
	}
	etag := ETag(data)
	c.buckets[bucket][name] = object{data: data, contentType: contentType, etag: etag}
	return etag
}

// Remove deletes an object if present.
func (c *Client) Remove(bucket, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.buckets[bucket], name)
}

// OpenStreams returns the number of streams opened but not yet closed.
func (c *Client) OpenStreams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened - c.closed
}

func (c *Client) get(bucket, name string) (object, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.buckets[bucket][name]
	return obj, ok
}

// Stat implements storage.Client.
func (c *Client) Stat(_ context.Context, bucket, name string) (*storage.FileItem, error) {
	if c.StatErr != nil {
		return nil, c.StatErr
	}
	obj, ok := c.get(bucket, name)
	if !ok {
		return nil, nil
	}
	return &storage.FileItem{
		Bucket:      bucket,
		Name:        name,
		Size:        int64(len(obj.data)),
		ContentType: obj.contentType,
		ETag:        obj.etag,
		ParentETag:  obj.parentETag,
	}, nil
}

// OpenStream implements storage.Client.
func (c *Client) OpenStream(_ context.Context, bucket, name string) (*storage.Response, error) {
	obj, ok := c.get(bucket, name)
	if !ok {
		return nil, nil
	}
	c.mu.Lock()
	c.opened++
	c.mu.Unlock()
	return &storage.Response{
		Body:          &trackedReader{Reader: bytes.NewReader(obj.data), client: c},
		ContentLength: int64(len(obj.data)),
		ContentType:   obj.contentType,
		ETag:          obj.etag,
	}, nil
}

// Load implements storage.Client.
func (c *Client) Load(_ context.Context, bucket, name string) ([]byte, error) {
	obj, ok := c.get(bucket, name)
	if !ok {
		return nil, nil
	}
	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return data, nil
}

// Put implements storage.Client.
func (c *Client) Put(_ context.Context, bucket, name string, content []byte, contentType, parentETag string) (*storage.FileItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buckets[bucket] == nil {
		c.buckets[bucket] = map[string]object{}
	}
	etag := ETag(content)
	c.buckets[bucket][name] = object{
		data:        content,
		contentType: contentType,
		etag:        etag,
		parentETag:  parentETag,
	}
	return &storage.FileItem{
		Bucket:      bucket,
		Name:        name,
		Size:        int64(len(content)),
		ContentType: contentType,
		ETag:        etag,
		ParentETag:  parentETag,
	}, nil
}

// TryCreateBucket implements storage.Client.
func (c *Client) TryCreateBucket(_ context.Context, bucket string, lifeTimeDays int) (bool, error) {
	if err := c.CreateErrs[bucket]; err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.buckets[bucket]; exists {
		return false, nil
	}
	c.buckets[bucket] = map[string]object{}
	c.TTLs[bucket] = lifeTimeDays
	return true, nil
}

type trackedReader struct {
	*bytes.Reader
	client *Client
	once   sync.Once
}

var _ io.ReadCloser = (*trackedReader)(nil)

func (r *trackedReader) Close() error {
	r.once.Do(func() {
		r.client.mu.Lock()
		r.client.closed++
		r.client.mu.Unlock()
	})
	return nil
}
