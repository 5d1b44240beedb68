package config

import (
	"sort"

	"github.com/pkg/errors"
)

// BucketsMap is the validated, fully defaulted view of the bucket
// configuration. It is derived once from AppSettings at startup and is
// read-only afterwards.
type BucketsMap struct {
	// SourceBucket is the canonical default source bucket.
	SourceBucket string
	// Buckets maps every derived bucket (plus a synthetic entry for the
	// default source itself) to its resolved settings.
	Buckets map[string]BucketSettings
	// AllSourceBuckets is the set of every bucket that acts as a source
	// for some derived bucket, including the default.
	AllSourceBuckets map[string]struct{}
	// AliasMap maps alias -> derived bucket name.
	AliasMap map[string]string
}

// DeriveBucketsMap resolves AppSettings into a BucketsMap. Missing bucket
// sizes fall back to the default size and missing source buckets to the
// default source. It fails when no source bucket is configured anywhere or
// when a derived bucket ends up without a size. The result is deterministic
// for equal settings.
func DeriveBucketsMap(settings AppSettings) (*BucketsMap, error) {
	names := make([]string, 0, len(settings.Buckets))
	for name := range settings.Buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	source := settings.SourceBucket
	if source == "" {
		for _, name := range names {
			if sb := settings.Buckets[name].SourceBucket; sb != "" {
				source = sb
				break
			}
		}
	}
	if source == "" {
		return nil, errors.New("source bucket was not configured, check configuration")
	}

	m := &BucketsMap{
		SourceBucket:     source,
		Buckets:          make(map[string]BucketSettings, len(settings.Buckets)+1),
		AllSourceBuckets: map[string]struct{}{source: {}},
		AliasMap:         map[string]string{},
	}
	for _, name := range names {
		bs := settings.Buckets[name]
		if bs.SourceBucket == "" {
			bs.SourceBucket = source
		}
		if bs.Size == nil {
			bs.Size = settings.DefaultSize
		}
		if bs.Size == nil {
			return nil, errors.Errorf("size is not configured for bucket %q", name)
		}
		if bs.Alias != "" {
			if other, taken := m.AliasMap[bs.Alias]; taken {
				return nil, errors.Errorf("alias %q is used by both %q and %q", bs.Alias, other, name)
			}
			m.AliasMap[bs.Alias] = name
		}
		m.Buckets[name] = bs
		m.AllSourceBuckets[bs.SourceBucket] = struct{}{}
	}

	// The default source is served as-is, so it gets a passthrough entry.
	if _, exists := m.Buckets[source]; !exists {
		m.Buckets[source] = BucketSettings{SourceBucket: source, Size: settings.DefaultSize}
	}
	return m, nil
}

// Settings returns the resolved settings for a bucket.
func (m *BucketsMap) Settings(bucket string) (BucketSettings, bool) {
	bs, ok := m.Buckets[bucket]
	return bs, ok
}

// IsKnown reports whether name is a configured bucket or a source bucket.
// The request stats recorder only records paths under known buckets.
func (m *BucketsMap) IsKnown(name string) bool {
	if _, ok := m.Buckets[name]; ok {
		return true
	}
	_, ok := m.AllSourceBuckets[name]
	return ok
}
