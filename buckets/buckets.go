// Package buckets provisions the configured buckets at startup.
package buckets

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/s3thumbs/s3thumbs/config"
	"github.com/s3thumbs/s3thumbs/health"
	"github.com/s3thumbs/s3thumbs/storage"
)

// Provisioner creates the configured buckets with their TTL rules. It
// works off the derived buckets map, whose default source is always
// resolved. Best effort: failures are recorded in the summary, never
// retried.
type Provisioner struct {
	store   storage.Client
	buckets *config.BucketsMap
	log     logrus.FieldLogger
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(store storage.Client, buckets *config.BucketsMap, log logrus.FieldLogger) *Provisioner {
	return &Provisioner{store: store, buckets: buckets, log: log}
}

// CreateBuckets provisions the default source bucket, every thumbnail
// bucket with its TTL, and every distinct extra source bucket without
// TTL.
func (p *Provisioner) CreateBuckets(ctx context.Context) *health.BucketsInfo {
	p.log.Debugf("creating %d buckets", len(p.buckets.Buckets))
	info := &health.BucketsInfo{
		ThumbnailBuckets: map[string]health.BucketStatus{},
		SourceBuckets:    map[string]health.BucketStatus{},
	}

	defaultSource := p.buckets.SourceBucket
	info.SourceBuckets[defaultSource] = p.createBucket(ctx, defaultSource, 0)

	for _, name := range sortedNames(p.buckets.Buckets) {
		if name == defaultSource {
			// The default source's passthrough entry, created above.
			continue
		}
		bs := p.buckets.Buckets[name]
		info.ThumbnailBuckets[name] = p.createBucket(ctx, name, bs.LifeTimeDays)

		source := bs.SourceBucket
		if source == defaultSource {
			continue
		}
		if _, done := info.SourceBuckets[source]; done {
			continue
		}
		info.SourceBuckets[source] = p.createBucket(ctx, source, 0)
	}

	info.Error = hasErrors(info)
	return info
}

func (p *Provisioner) createBucket(ctx context.Context, name string, lifeTimeDays int) health.BucketStatus {
	created, err := p.store.TryCreateBucket(ctx, name, lifeTimeDays)
	if err != nil {
		p.log.Warnf("failed to create bucket %s: %v", name, err)
		return health.StatusError
	}
	if created {
		p.log.Infof("bucket %s was created with life time of %d days (zero days means infinity)", name, lifeTimeDays)
		return health.StatusCreated
	}
	p.log.Infof("bucket %s already exists, skip it", name)
	return health.StatusExists
}

func hasErrors(info *health.BucketsInfo) bool {
	for _, status := range info.SourceBuckets {
		if status == health.StatusError {
			return true
		}
	}
	for _, status := range info.ThumbnailBuckets {
		if status == health.StatusError {
			return true
		}
	}
	return false
}

func sortedNames(buckets map[string]config.BucketSettings) []string {
	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
