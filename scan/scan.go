// Package scan classifies (bucket, object) requests into the outcome that
// drives the thumbnail resolver.
package scan

import (
	"context"

	"github.com/pkg/errors"

	"github.com/s3thumbs/s3thumbs/config"
	"github.com/s3thumbs/s3thumbs/storage"
)

// Status is the classification of a scan.
type Status int

const (
	// BucketNotFound - the requested bucket is not configured.
	BucketNotFound Status = iota + 1
	// SourceFileNotFound - the source object does not exist.
	SourceFileNotFound
	// UseSourceFile - the request targets a source bucket, serve the
	// source object as-is.
	UseSourceFile
	// FileFound - a derivative exists and its parent etag still matches
	// the source.
	FileFound
	// CreateNew - the derivative is missing or stale and must be
	// materialized.
	CreateNew
)

func (s Status) String() string {
	switch s {
	case BucketNotFound:
		return "bucket-not-found"
	case SourceFileNotFound:
		return "source-file-not-found"
	case UseSourceFile:
		return "use-source-file"
	case FileFound:
		return "file-found"
	case CreateNew:
		return "create-new"
	}
	return "unknown"
}

// Result carries the scan outcome together with the stats needed to act
// on it.
type Result struct {
	Status         Status
	SourceFileStat *storage.FileItem
	FileStat       *storage.FileItem
	BucketSettings config.BucketSettings
}

// Scanner resolves requests against the bucket map and the store.
type Scanner struct {
	store   storage.Client
	buckets *config.BucketsMap
}

// New creates a Scanner.
func New(store storage.Client, buckets *config.BucketsMap) *Scanner {
	return &Scanner{store: store, buckets: buckets}
}

// ScanFile classifies a request for bucket/name. The source object is
// always stat'ed against the configured source bucket; a derivative is
// fresh only while its parent etag matches the source etag.
func (s *Scanner) ScanFile(ctx context.Context, bucket, name string) (Result, error) {
	settings, ok := s.buckets.Settings(bucket)
	if !ok {
		return Result{Status: BucketNotFound}, nil
	}

	sourceStat, err := s.store.Stat(ctx, settings.SourceBucket, name)
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to stat source file")
	}
	if sourceStat == nil {
		return Result{Status: SourceFileNotFound}, nil
	}

	if bucket == settings.SourceBucket {
		return Result{Status: UseSourceFile, SourceFileStat: sourceStat}, nil
	}

	thumbStat, err := s.store.Stat(ctx, bucket, name)
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to stat thumbnail file")
	}
	if thumbStat != nil && thumbStat.ParentETag == sourceStat.ETag {
		return Result{Status: FileFound, SourceFileStat: sourceStat, FileStat: thumbStat}, nil
	}

	return Result{Status: CreateNew, SourceFileStat: sourceStat, BucketSettings: settings}, nil
}

// FindBucketByAlias maps an alias under a source bucket to the derived
// bucket it names. An unknown alias degrades to the source bucket itself;
// an unknown source bucket returns false.
func (s *Scanner) FindBucketByAlias(sourceBucket, alias string) (string, bool) {
	if _, ok := s.buckets.AllSourceBuckets[sourceBucket]; !ok {
		return "", false
	}
	if bucket, ok := s.buckets.AliasMap[alias]; ok {
		return bucket, true
	}
	return sourceBucket, true
}
