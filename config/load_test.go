package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp runs the test from a fresh temp dir so load does not pick up
// stray config files.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		_ = os.Chdir(wd)
	})
	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

// loadClean runs load with a secrets dir that does not exist so only the
// sources the test sets up apply.
func loadClean(t *testing.T) (AppSettings, error) {
	t.Helper()
	return load(filepath.Join(t.TempDir(), "secrets"))
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	settings, err := loadClean(t)
	require.NoError(t, err)

	assert.Equal(t, "localhost:9000", settings.S3.Endpoint)
	assert.Equal(t, "eu-west-1", settings.S3.Region)
	assert.True(t, settings.S3.TrustCert)
	require.NotNil(t, settings.DefaultSize)
	assert.Equal(t, DefaultImageSize, *settings.DefaultSize)
	assert.Equal(t, "info", settings.LogLevel)
	assert.Equal(t, ":8080", settings.Listen)
	assert.Empty(t, settings.Buckets)
}

func TestLoadConfigFile(t *testing.T) {
	dir := chdirTemp(t)
	writeFile(t, dir, "config.json", `{
		"s3": {"endpoint": "minio:9000", "access_key": "ak", "secret_key": "sk"},
		"source_bucket": "images",
		"size": "150x150",
		"buckets": {
			"thumb-small": {"size": "100x100", "alias": "small", "life_time_days": 30},
			"thumb-query": "size=50x50&source_bucket=photos"
		}
	}`)

	settings, err := loadClean(t)
	require.NoError(t, err)

	assert.Equal(t, "minio:9000", settings.S3.Endpoint)
	assert.Equal(t, "ak", settings.S3.AccessKey)
	assert.Equal(t, "images", settings.SourceBucket)
	assert.Equal(t, ImageSize{W: 150, H: 150}, *settings.DefaultSize)

	small := settings.Buckets["thumb-small"]
	require.NotNil(t, small.Size)
	assert.Equal(t, ImageSize{W: 100, H: 100}, *small.Size)
	assert.Equal(t, "small", small.Alias)
	assert.Equal(t, 30, small.LifeTimeDays)

	query := settings.Buckets["thumb-query"]
	require.NotNil(t, query.Size)
	assert.Equal(t, ImageSize{W: 50, H: 50}, *query.Size)
	assert.Equal(t, "photos", query.SourceBucket)
}

func TestLoadS3URL(t *testing.T) {
	dir := chdirTemp(t)
	writeFile(t, dir, "config.json", `{"s3": "https://ak:sk@minio:9000/eu-central-1/pictures"}`)

	settings, err := loadClean(t)
	require.NoError(t, err)

	assert.Equal(t, "minio:9000", settings.S3.Endpoint)
	assert.Equal(t, "eu-central-1", settings.S3.Region)
	assert.True(t, settings.S3.UseTLS)
	// The URL's second path segment wins over source_bucket.
	assert.Equal(t, "pictures", settings.SourceBucket)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)
	writeFile(t, dir, "config.json", `{"source_bucket": "images", "log_level": "debug"}`)
	t.Setenv("SOURCE_BUCKET", "photos")
	t.Setenv("S3__ENDPOINT", "other:9000")

	settings, err := loadClean(t)
	require.NoError(t, err)

	assert.Equal(t, "photos", settings.SourceBucket)
	assert.Equal(t, "other:9000", settings.S3.Endpoint)
	assert.Equal(t, "debug", settings.LogLevel)
}

func TestLoadBucketsFromEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("BUCKETS__THUMBS__SIZE", "100x100")
	t.Setenv("BUCKETS__THUMBS__SOURCE_BUCKET", "images")
	t.Setenv("BUCKETS__TINY", "size=10x10&alias=tiny")

	settings, err := loadClean(t)
	require.NoError(t, err)

	thumbs, ok := settings.Buckets["thumbs"]
	require.True(t, ok)
	require.NotNil(t, thumbs.Size)
	assert.Equal(t, ImageSize{W: 100, H: 100}, *thumbs.Size)
	assert.Equal(t, "images", thumbs.SourceBucket)

	tiny, ok := settings.Buckets["tiny"]
	require.True(t, ok)
	assert.Equal(t, "tiny", tiny.Alias)
}

func TestLoadBucketEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)
	writeFile(t, dir, "config.json", `{
		"source_bucket": "images",
		"buckets": {
			"thumbs": {"size": "100x100", "alias": "small"},
			"other": "size=40x40"
		}
	}`)
	t.Setenv("BUCKETS__THUMBS__SIZE", "50x50")
	t.Setenv("BUCKETS__TINY", "size=10x10")

	settings, err := loadClean(t)
	require.NoError(t, err)
	require.Len(t, settings.Buckets, 3)

	// The env var overrides one field, the rest of the bucket survives.
	thumbs := settings.Buckets["thumbs"]
	require.NotNil(t, thumbs.Size)
	assert.Equal(t, ImageSize{W: 50, H: 50}, *thumbs.Size)
	assert.Equal(t, "small", thumbs.Alias)

	// File-only buckets stay untouched.
	other := settings.Buckets["other"]
	require.NotNil(t, other.Size)
	assert.Equal(t, ImageSize{W: 40, H: 40}, *other.Size)

	// Env-only buckets are added.
	tiny := settings.Buckets["tiny"]
	require.NotNil(t, tiny.Size)
	assert.Equal(t, ImageSize{W: 10, H: 10}, *tiny.Size)
}

func TestLoadBucketEnvReplacesDefinition(t *testing.T) {
	dir := chdirTemp(t)
	writeFile(t, dir, "config.json", `{"buckets": {"thumbs": {"size": "100x100", "alias": "small"}}}`)
	t.Setenv("BUCKETS__THUMBS", "size=20x20")

	settings, err := loadClean(t)
	require.NoError(t, err)

	// A whole query-string definition replaces the bucket.
	thumbs := settings.Buckets["thumbs"]
	require.NotNil(t, thumbs.Size)
	assert.Equal(t, ImageSize{W: 20, H: 20}, *thumbs.Size)
	assert.Empty(t, thumbs.Alias)
}

func TestLoadDotenv(t *testing.T) {
	dir := chdirTemp(t)
	writeFile(t, dir, ".env", "SOURCE_BUCKET=dotenv-bucket\n")

	settings, err := loadClean(t)
	require.NoError(t, err)
	assert.Equal(t, "dotenv-bucket", settings.SourceBucket)
}

func TestLoadDotenvLosesToConfigFile(t *testing.T) {
	dir := chdirTemp(t)
	writeFile(t, dir, ".env", "SOURCE_BUCKET=dotenv-bucket\n")
	writeFile(t, dir, "config.json", `{"source_bucket": "file-bucket"}`)

	settings, err := loadClean(t)
	require.NoError(t, err)
	assert.Equal(t, "file-bucket", settings.SourceBucket)
}

func TestLoadSecrets(t *testing.T) {
	chdirTemp(t)
	secrets := t.TempDir()
	writeFile(t, secrets, "SOURCE_BUCKET", "vault-bucket\n")
	writeFile(t, secrets, "S3__SECRET_KEY", "topsecret")

	settings, err := load(secrets)
	require.NoError(t, err)
	assert.Equal(t, "vault-bucket", settings.SourceBucket)
	assert.Equal(t, "topsecret", settings.S3.SecretKey)
}

func TestLoadSecretsLoseToDotenv(t *testing.T) {
	dir := chdirTemp(t)
	secrets := t.TempDir()
	writeFile(t, secrets, "SOURCE_BUCKET", "vault-bucket")
	writeFile(t, dir, ".env", "SOURCE_BUCKET=dotenv-bucket\n")

	settings, err := load(secrets)
	require.NoError(t, err)
	assert.Equal(t, "dotenv-bucket", settings.SourceBucket)
}

func TestLoadBadSize(t *testing.T) {
	dir := chdirTemp(t)
	writeFile(t, dir, "config.json", `{"size": "bogus"}`)

	_, err := loadClean(t)
	assert.Error(t, err)
}

func TestLoadBadBucket(t *testing.T) {
	dir := chdirTemp(t)
	writeFile(t, dir, "config.json", `{"buckets": {"thumbs": {"size": "bogus"}}}`)

	_, err := loadClean(t)
	assert.Error(t, err)
}
