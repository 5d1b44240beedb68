// Package config holds the application settings and the derived buckets map.
//
// Settings come from (in increasing precedence) file-backed secrets, a .env
// file, config.json and environment variables. The raw values are
// heterogeneous - the s3 connection may be a structured object or a URL
// string, a bucket may be a structured object or a query string - so the
// parsers here normalise everything into immutable typed values before the
// rest of the program sees them.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultImageSize is used when neither the bucket nor the top level
// configuration specifies a thumbnail size.
var DefaultImageSize = ImageSize{W: 200, H: 200}

// ImageSize is a thumbnail bounding box in pixels.
type ImageSize struct {
	W int `mapstructure:"w" json:"w"`
	H int `mapstructure:"h" json:"h"`
}

// String returns the "{W}x{H}" form.
func (s ImageSize) String() string {
	return strconv.Itoa(s.W) + "x" + strconv.Itoa(s.H)
}

// ParseImageSize parses a "{W}x{H}" string into an ImageSize.
func ParseImageSize(in string) (ImageSize, error) {
	parts := strings.Split(in, "x")
	if len(parts) != 2 {
		return ImageSize{}, errors.Errorf("couldn't parse %q into an image size", in)
	}
	w, errW := strconv.Atoi(parts[0])
	h, errH := strconv.Atoi(parts[1])
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return ImageSize{}, errors.Errorf("couldn't parse %q into an image size", in)
	}
	return ImageSize{W: w, H: h}, nil
}

// S3Settings holds the connection parameters for the object store.
type S3Settings struct {
	Endpoint  string `mapstructure:"endpoint" json:"endpoint"`
	AccessKey string `mapstructure:"access_key" json:"access_key"`
	SecretKey string `mapstructure:"secret_key" json:"secret_key"`
	Region    string `mapstructure:"region" json:"region"`
	UseTLS    bool   `mapstructure:"use_tls" json:"use_tls"`
	// TrustCert enables verification of the server certificate. Turn it
	// off for endpoints with self-signed certificates.
	TrustCert bool `mapstructure:"trust_cert" json:"trust_cert"`
}

// ParseS3URL turns a "scheme://ak:sk@host:port/region[/bucket]" URL into
// S3Settings plus the optional default source bucket from the second path
// segment.
func ParseS3URL(in string) (S3Settings, string, error) {
	u, err := url.Parse(in)
	if err != nil {
		return S3Settings{}, "", errors.Wrapf(err, "invalid s3 url %q", in)
	}
	if u.Host == "" {
		return S3Settings{}, "", errors.Errorf("invalid s3 url %q: missing host", in)
	}
	segments := splitPath(u.Path)
	if len(segments) == 0 {
		return S3Settings{}, "", errors.Errorf("invalid s3 url %q: missing region", in)
	}
	secret, _ := u.User.Password()
	secure := u.Scheme == "https"
	s3 := S3Settings{
		Endpoint:  u.Host,
		AccessKey: u.User.Username(),
		SecretKey: secret,
		Region:    segments[0],
		UseTLS:    secure,
		TrustCert: secure,
	}
	sourceBucket := ""
	if len(segments) > 1 {
		sourceBucket = segments[1]
	}
	return s3, sourceBucket, nil
}

func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// BucketSettings describes one derived (thumbnail) bucket.
type BucketSettings struct {
	// Size is the thumbnail bounding box. Falls back to the top level
	// default during resolution.
	Size *ImageSize `mapstructure:"size" json:"size,omitempty"`
	// LifeTimeDays is the bucket TTL in days, zero means never expire.
	LifeTimeDays int `mapstructure:"life_time_days" json:"life_time_days"`
	// SourceBucket overrides the default source bucket.
	SourceBucket string `mapstructure:"source_bucket" json:"source_bucket"`
	// Alias is an optional label usable in /{source}/{file}/{alias} routes.
	Alias string `mapstructure:"alias" json:"alias,omitempty"`
	// Format converts thumbnails to "png" or "jpeg". Empty keeps the
	// source format.
	Format string `mapstructure:"format" json:"format,omitempty"`
	// JPEGQuality applies when re-encoding to jpeg, 1-100.
	JPEGQuality int `mapstructure:"jpeg_quality" json:"jpeg_quality,omitempty"`
}

// ParseBucketQuery parses the compact "size=WxH&source_bucket=..&
// life_time_days=N&alias=.." form of a bucket definition.
func ParseBucketQuery(in string) (BucketSettings, error) {
	values, err := url.ParseQuery(in)
	if err != nil {
		return BucketSettings{}, errors.Wrapf(err, "invalid bucket definition %q", in)
	}
	var bs BucketSettings
	if v := values.Get("size"); v != "" {
		size, err := ParseImageSize(v)
		if err != nil {
			return BucketSettings{}, err
		}
		bs.Size = &size
	}
	if v := values.Get("life_time_days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days < 0 {
			return BucketSettings{}, errors.Errorf("invalid life_time_days %q", v)
		}
		bs.LifeTimeDays = days
	}
	if v := values.Get("jpeg_quality"); v != "" {
		q, err := strconv.Atoi(v)
		if err != nil || q < 1 || q > 100 {
			return BucketSettings{}, errors.Errorf("invalid jpeg_quality %q", v)
		}
		bs.JPEGQuality = q
	}
	bs.SourceBucket = values.Get("source_bucket")
	bs.Alias = values.Get("alias")
	bs.Format = values.Get("format")
	return bs, nil
}

// AppSettings is the fully parsed application configuration. It is built
// once at startup and never mutated.
type AppSettings struct {
	S3           S3Settings
	Buckets      map[string]BucketSettings
	SourceBucket string
	DefaultSize  *ImageSize
	LogLevel     string
	LogFormat    string
	Listen       string
	StatsDB      string
}

func (s AppSettings) String() string {
	return fmt.Sprintf("s3=%s buckets=%d source=%s listen=%s",
		s.S3.Endpoint, len(s.Buckets), s.SourceBucket, s.Listen)
}
