package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	configFile = "config.json"
	dotenvFile = ".env"
	// secretsDir holds file-backed secrets, one file per key.
	secretsDir = "/run/secrets"
	// envDelimiter separates nested keys in environment variables,
	// eg BUCKETS__THUMBS__SIZE=100x100.
	envDelimiter = "__"
)

// Load reads the application settings from the environment, config.json,
// .env and file-backed secrets, in decreasing precedence. It fails on
// malformed sizes, s3 URLs or bucket definitions; the caller is expected
// to abort startup.
func Load() (AppSettings, error) {
	return load(secretsDir)
}

func load(secrets string) (AppSettings, error) {
	v := viper.New()
	setDefaults(v)
	loadSecrets(v, secrets)
	loadDotenv(v)

	v.SetConfigFile(configFile)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(errors.Cause(err)) {
			return AppSettings{}, errors.Wrap(err, "failed to read config file")
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", envDelimiter))
	v.AutomaticEnv()

	return build(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("s3.endpoint", "localhost:9000")
	v.SetDefault("s3.region", "eu-west-1")
	v.SetDefault("s3.trust_cert", true)
	v.SetDefault("size", DefaultImageSize.String())
	v.SetDefault("log_level", "info")
	v.SetDefault("log_fmt", "text")
	v.SetDefault("listen", ":8080")
	v.SetDefault("stats_db", "request_stats.db")
}

// loadSecrets merges file-backed secrets into the defaults layer. Every
// file under dir is one key in the same form as the environment
// variables; every other configuration source takes precedence.
func loadSecrets(v *viper.Viper, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		key := strings.ToLower(strings.ReplaceAll(entry.Name(), envDelimiter, "."))
		v.SetDefault(key, strings.TrimSpace(string(data)))
	}
}

// loadDotenv merges .env into the defaults layer so that the config file
// and real environment variables take precedence over it.
func loadDotenv(v *viper.Viper) {
	dot := viper.New()
	dot.SetConfigFile(dotenvFile)
	dot.SetConfigType("env")
	if err := dot.ReadInConfig(); err != nil {
		return
	}
	for key, value := range dot.AllSettings() {
		v.SetDefault(strings.ReplaceAll(key, envDelimiter, "."), value)
	}
}

// bucketEnvOverrides collects the BUCKETS__* environment variables. The
// bucket names are not known in advance so AutomaticEnv cannot resolve
// them. BUCKETS__NAME holds a whole query-string definition,
// BUCKETS__NAME__FIELD one field.
func bucketEnvOverrides() map[string]any {
	out := map[string]any{}
	for _, entry := range os.Environ() {
		name, value, found := strings.Cut(entry, "=")
		if !found {
			continue
		}
		parts := strings.Split(strings.ToLower(name), envDelimiter)
		if len(parts) < 2 || parts[0] != "buckets" || parts[1] == "" {
			continue
		}
		switch bucket := parts[1]; len(parts) {
		case 2:
			out[bucket] = value
		case 3:
			fields, ok := out[bucket].(map[string]any)
			if !ok {
				fields = map[string]any{}
			}
			fields[parts[2]] = value
			out[bucket] = fields
		}
	}
	return out
}

func build(v *viper.Viper) (AppSettings, error) {
	settings := AppSettings{
		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_fmt"),
		Listen:    v.GetString("listen"),
		StatsDB:   v.GetString("stats_db"),
	}

	s3, urlSourceBucket, err := buildS3(v)
	if err != nil {
		return AppSettings{}, err
	}
	settings.S3 = s3

	settings.SourceBucket = v.GetString("source_bucket")
	if urlSourceBucket != "" {
		settings.SourceBucket = urlSourceBucket
	}

	size, err := buildSize(v.Get("size"))
	if err != nil {
		return AppSettings{}, err
	}
	settings.DefaultSize = size

	buckets, err := buildBuckets(v.Get("buckets"), bucketEnvOverrides())
	if err != nil {
		return AppSettings{}, err
	}
	settings.Buckets = buckets
	return settings, nil
}

// buildS3 resolves the s3 key which is either a URL string or a nested
// object. The URL form may carry the default source bucket in its path.
func buildS3(v *viper.Viper) (S3Settings, string, error) {
	if raw, ok := v.Get("s3").(string); ok {
		return ParseS3URL(raw)
	}
	s3 := S3Settings{
		Endpoint:  v.GetString("s3.endpoint"),
		AccessKey: v.GetString("s3.access_key"),
		SecretKey: v.GetString("s3.secret_key"),
		Region:    v.GetString("s3.region"),
		UseTLS:    v.GetBool("s3.use_tls"),
		TrustCert: v.GetBool("s3.trust_cert"),
	}
	return s3, "", nil
}

func buildSize(raw any) (*ImageSize, error) {
	if raw == nil {
		return nil, nil
	}
	switch value := raw.(type) {
	case string:
		if value == "" {
			return nil, nil
		}
		size, err := ParseImageSize(value)
		if err != nil {
			return nil, err
		}
		return &size, nil
	default:
		var size ImageSize
		if err := decode(raw, &size); err != nil {
			return nil, errors.Wrap(err, "invalid size")
		}
		return &size, nil
	}
}

// buildBuckets resolves the configured buckets and overlays the
// BUCKETS__* environment variables on top, per bucket and per field, so
// an env override never discards the file-configured buckets.
func buildBuckets(raw any, overrides map[string]any) (map[string]BucketSettings, error) {
	entries := map[string]any{}
	if raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, errors.Errorf("invalid buckets configuration: %T", raw)
		}
		entries = m
	}
	buckets := make(map[string]BucketSettings, len(entries)+len(overrides))
	for name, entry := range entries {
		bs, err := buildBucket(entry)
		if err != nil {
			return nil, errors.Wrapf(err, "bucket %q", name)
		}
		buckets[name] = bs
	}
	for name, override := range overrides {
		bs, err := overrideBucket(buckets[name], override)
		if err != nil {
			return nil, errors.Wrapf(err, "bucket %q", name)
		}
		buckets[name] = bs
	}
	return buckets, nil
}

func buildBucket(raw any) (BucketSettings, error) {
	if query, ok := raw.(string); ok {
		return ParseBucketQuery(query)
	}
	var bs BucketSettings
	if err := decode(raw, &bs); err != nil {
		return BucketSettings{}, err
	}
	return bs, nil
}

// overrideBucket applies one environment override onto the settings from
// the file. A whole query-string definition replaces the bucket, a field
// map changes only the fields it names.
func overrideBucket(base BucketSettings, raw any) (BucketSettings, error) {
	if query, ok := raw.(string); ok {
		return ParseBucketQuery(query)
	}
	if err := decode(raw, &base); err != nil {
		return BucketSettings{}, err
	}
	return base, nil
}

// decode unmarshals a raw config value with a hook that accepts "WxH"
// strings wherever an ImageSize is expected.
func decode(raw any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       imageSizeHook,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(raw)
}

func imageSizeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(ImageSize{}) {
		return data, nil
	}
	return ParseImageSize(data.(string))
}
