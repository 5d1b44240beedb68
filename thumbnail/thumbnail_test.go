package thumbnail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/s3thumbs/s3thumbs/config"
	"github.com/s3thumbs/s3thumbs/scan"
	"github.com/s3thumbs/s3thumbs/storage/storagetest"
)

func pngImage(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testService(t *testing.T, store *storagetest.Client) *Service {
	t.Helper()
	size := config.ImageSize{W: 100, H: 100}
	m, err := config.DeriveBucketsMap(config.AppSettings{
		SourceBucket: "images",
		DefaultSize:  &size,
		Buckets: map[string]config.BucketSettings{
			"thumbs": {Alias: "small"},
		},
	})
	require.NoError(t, err)
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return New(store, scan.New(store, m), log)
}

func serve(svc *Service, bucket, name string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/%s/%s", bucket, name), nil)
	for k, vs := range header {
		req.Header[k] = vs
	}
	w := httptest.NewRecorder()
	svc.ServeThumbnail(w, req, bucket, name)
	return w
}

func TestServeThumbnailMaterializes(t *testing.T) {
	store := storagetest.New()
	sourceETag := store.PutObject("images", "cat.png", pngImage(t, 400, 400), "image/png")
	svc := testService(t, store)

	w := serve(svc, "thumbs", "cat.png", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, strconv.Itoa(w.Body.Len()), w.Header().Get("Content-Length"))
	assert.NotEmpty(t, w.Header().Get("Etag"))

	img, _, err := image.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())

	// The derivative is stored with the source etag as parent.
	stat, err := store.Stat(context.Background(), "thumbs", "cat.png")
	require.NoError(t, err)
	require.NotNil(t, stat)
	assert.Equal(t, sourceETag, stat.ParentETag)
	assert.Zero(t, store.OpenStreams())
}

func TestServeThumbnailServesFresh(t *testing.T) {
	store := storagetest.New()
	store.PutObject("images", "cat.png", pngImage(t, 400, 400), "image/png")
	svc := testService(t, store)

	first := serve(svc, "thumbs", "cat.png", nil)
	require.Equal(t, http.StatusOK, first.Code)

	// Second request hits the stored derivative and streams identical bytes.
	second := serve(svc, "thumbs", "cat.png", nil)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
	assert.Equal(t, first.Header().Get("Etag"), second.Header().Get("Etag"))
	assert.Zero(t, store.OpenStreams())
}

func TestServeThumbnailNotModified(t *testing.T) {
	store := storagetest.New()
	store.PutObject("images", "cat.png", pngImage(t, 400, 400), "image/png")
	svc := testService(t, store)

	first := serve(svc, "thumbs", "cat.png", nil)
	require.Equal(t, http.StatusOK, first.Code)
	etag := first.Header().Get("Etag")
	require.NotEmpty(t, etag)

	header := http.Header{}
	header.Set("If-None-Match", etag)
	w := serve(svc, "thumbs", "cat.png", header)
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Equal(t, etag, w.Header().Get("Etag"))
	assert.Empty(t, w.Body.Bytes())
	assert.Zero(t, store.OpenStreams())
}

func TestServeThumbnailNotModifiedQuotedETag(t *testing.T) {
	store := storagetest.New()
	store.PutObject("images", "cat.png", pngImage(t, 400, 400), "image/png")
	svc := testService(t, store)

	first := serve(svc, "thumbs", "cat.png", nil)
	etag := first.Header().Get("Etag")

	header := http.Header{}
	header.Set("If-None-Match", `"`+etag+`"`)
	w := serve(svc, "thumbs", "cat.png", header)
	assert.Equal(t, http.StatusNotModified, w.Code)
}

func TestServeThumbnailStaleRematerializes(t *testing.T) {
	store := storagetest.New()
	store.PutObject("images", "cat.png", pngImage(t, 400, 400), "image/png")
	svc := testService(t, store)

	first := serve(svc, "thumbs", "cat.png", nil)
	require.Equal(t, http.StatusOK, first.Code)

	// Overwrite the source: the cached derivative must be rebuilt.
	store.PutObject("images", "cat.png", pngImage(t, 300, 200), "image/png")
	w := serve(svc, "thumbs", "cat.png", nil)
	require.Equal(t, http.StatusOK, w.Code)

	img, _, err := image.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 66, img.Bounds().Dy())
}

func TestServeSourceFile(t *testing.T) {
	store := storagetest.New()
	data := []byte("raw source bytes")
	etag := store.PutObject("images", "doc.bin", data, "application/octet-stream")
	svc := testService(t, store)

	w := serve(svc, "images", "doc.bin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, data, w.Body.Bytes())
	assert.Equal(t, etag, w.Header().Get("Etag"))
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	assert.Zero(t, store.OpenStreams())
}

func TestServeThumbnailNotFound(t *testing.T) {
	store := storagetest.New()
	svc := testService(t, store)

	for _, test := range []struct {
		bucket, name string
	}{
		{"unknown", "cat.png"}, // bucket not configured
		{"thumbs", "nope.png"}, // source missing
		{"images", "nope.png"}, // source bucket, object missing
	} {
		w := serve(svc, test.bucket, test.name, nil)
		require.Equal(t, http.StatusNotFound, w.Code, test.bucket)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, map[string]string{"detail": "File not found"}, body)
	}
}

func TestServeThumbnailUndecodableSource(t *testing.T) {
	store := storagetest.New()
	store.PutObject("images", "notes.txt", []byte("plain text"), "text/plain")
	svc := testService(t, store)

	w := serve(svc, "thumbs", "notes.txt", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Nothing got uploaded to the thumbnail bucket.
	stat, err := store.Stat(context.Background(), "thumbs", "notes.txt")
	require.NoError(t, err)
	assert.Nil(t, stat)
}

func TestServeThumbnailStoreError(t *testing.T) {
	store := storagetest.New()
	store.StatErr = fmt.Errorf("connection refused")
	svc := testService(t, store)

	w := serve(svc, "thumbs", "cat.png", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestServeByAlias(t *testing.T) {
	store := storagetest.New()
	store.PutObject("images", "cat.png", pngImage(t, 400, 400), "image/png")
	svc := testService(t, store)

	req := httptest.NewRequest(http.MethodGet, "/images/cat.png/small", nil)
	w := httptest.NewRecorder()
	svc.ServeByAlias(w, req, "images", "cat.png", "small")
	require.Equal(t, http.StatusOK, w.Code)

	img, _, err := image.Decode(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())

	// The alias and the direct route hit the same stored derivative.
	direct := serve(svc, "thumbs", "cat.png", nil)
	assert.Equal(t, w.Header().Get("Etag"), direct.Header().Get("Etag"))
}

func TestServeByAliasUnknownAliasServesSource(t *testing.T) {
	store := storagetest.New()
	data := pngImage(t, 400, 400)
	etag := store.PutObject("images", "cat.png", data, "image/png")
	svc := testService(t, store)

	req := httptest.NewRequest(http.MethodGet, "/images/cat.png/huge", nil)
	w := httptest.NewRecorder()
	svc.ServeByAlias(w, req, "images", "cat.png", "huge")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, etag, w.Header().Get("Etag"))
	assert.Equal(t, data, w.Body.Bytes())
}

func TestServeByAliasUnknownSource(t *testing.T) {
	svc := testService(t, storagetest.New())

	req := httptest.NewRequest(http.MethodGet, "/other/cat.png/small", nil)
	w := httptest.NewRecorder()
	svc.ServeByAlias(w, req, "other", "cat.png", "small")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
