// Package s3 implements the storage.Client interface on top of an
// S3-compatible endpoint using minio-go.
package s3

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"
	"github.com/pkg/errors"

	"github.com/s3thumbs/s3thumbs/config"
	"github.com/s3thumbs/s3thumbs/storage"
)

const ttlRuleID = "thumbsTtlRule"

// metaKey is MetaParentETag without the x-amz-meta- prefix; minio-go adds
// and strips the prefix itself.
const metaKey = "parent-etag"

// Client is a storage.Client backed by minio-go.
type Client struct {
	mc     *minio.Client
	region string
}

var _ storage.Client = (*Client)(nil)

// New builds a Client from the configured connection settings.
func New(cfg config.S3Settings) (*Client, error) {
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
		Region: cfg.Region,
	}
	// TrustCert enables server certificate verification; disabling it
	// accepts self-signed endpoints.
	if cfg.UseTLS && !cfg.TrustCert {
		opts.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	mc, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create s3 client for %q", cfg.Endpoint)
	}
	return &Client{mc: mc, region: cfg.Region}, nil
}

// Stat implements storage.Client. Typed store errors (NoSuchKey,
// NoSuchBucket, ...) are translated into absence.
func (c *Client) Stat(ctx context.Context, bucket, name string) (*storage.FileItem, error) {
	info, err := c.mc.StatObject(ctx, bucket, name, minio.StatObjectOptions{})
	if err != nil {
		if isStoreError(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to stat %s/%s", bucket, name)
	}
	return &storage.FileItem{
		Bucket:      bucket,
		Name:        name,
		Size:        info.Size,
		ContentType: info.ContentType,
		ETag:        trimETag(info.ETag),
		ParentETag:  parentETag(info),
	}, nil
}

// OpenStream implements storage.Client. The returned response body is the
// lazy minio object stream.
func (c *Client) OpenStream(ctx context.Context, bucket, name string) (*storage.Response, error) {
	obj, err := c.mc.GetObject(ctx, bucket, name, minio.GetObjectOptions{})
	if err != nil {
		if isStoreError(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to open %s/%s", bucket, name)
	}
	// GetObject is lazy, the first Stat triggers the request.
	info, err := obj.Stat()
	if err != nil {
		_ = obj.Close()
		if isStoreError(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to open %s/%s", bucket, name)
	}
	return &storage.Response{
		Body:          obj,
		ContentLength: info.Size,
		ContentType:   info.ContentType,
		ETag:          trimETag(info.ETag),
	}, nil
}

// Load implements storage.Client.
func (c *Client) Load(ctx context.Context, bucket, name string) ([]byte, error) {
	resp, err := c.OpenStream(ctx, bucket, name)
	if err != nil || resp == nil {
		return nil, err
	}
	defer func() {
		_ = resp.Close()
	}()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load %s/%s", bucket, name)
	}
	return data, nil
}

// Put implements storage.Client.
func (c *Client) Put(ctx context.Context, bucket, name string, content []byte, contentType, parentETag string) (*storage.FileItem, error) {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if parentETag != "" {
		opts.UserMetadata = map[string]string{metaKey: parentETag}
	}
	info, err := c.mc.PutObject(ctx, bucket, name, bytes.NewReader(content), int64(len(content)), opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to put %s/%s", bucket, name)
	}
	return &storage.FileItem{
		Bucket:      bucket,
		Name:        name,
		Size:        int64(len(content)),
		ContentType: contentType,
		ETag:        trimETag(info.ETag),
		ParentETag:  parentETag,
	}, nil
}

// TryCreateBucket implements storage.Client.
func (c *Client) TryCreateBucket(ctx context.Context, bucket string, lifeTimeDays int) (bool, error) {
	exists, err := c.mc.BucketExists(ctx, bucket)
	if err != nil {
		return false, errors.Wrapf(err, "failed to check bucket %q", bucket)
	}
	if exists {
		return false, nil
	}
	err = c.mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.region})
	if err != nil {
		return false, errors.Wrapf(err, "failed to create bucket %q", bucket)
	}
	if lifeTimeDays > 0 {
		cfg := lifecycle.NewConfiguration()
		cfg.Rules = []lifecycle.Rule{{
			ID:         ttlRuleID,
			Status:     "Enabled",
			RuleFilter: lifecycle.Filter{Prefix: ""},
			Expiration: lifecycle.Expiration{Days: lifecycle.ExpirationDays(lifeTimeDays)},
		}}
		if err := c.mc.SetBucketLifecycle(ctx, bucket, cfg); err != nil {
			return false, errors.Wrapf(err, "failed to set lifecycle on bucket %q", bucket)
		}
	}
	return true, nil
}

// isStoreError reports whether err is a typed S3 error response as opposed
// to a transport failure. The service maps all typed store errors on read
// paths to absence.
func isStoreError(err error) bool {
	resp := minio.ToErrorResponse(errors.Cause(err))
	return resp.Code != ""
}

// trimETag strips the surrounding quotes S3 wraps etags in.
func trimETag(etag string) string {
	return strings.Trim(etag, `"`)
}

func parentETag(info minio.ObjectInfo) string {
	for key, value := range info.UserMetadata {
		if strings.EqualFold(key, metaKey) {
			return value
		}
	}
	// Some gateways expose user metadata through the raw header set only.
	return info.Metadata.Get(storage.MetaParentETag)
}
