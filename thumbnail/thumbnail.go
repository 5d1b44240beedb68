// Package thumbnail implements the resolution engine: given a scan
// outcome it serves the source, serves a fresh derivative, or
// materializes a new derivative and uploads it with the parent etag
// binding.
package thumbnail

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/s3thumbs/s3thumbs/config"
	"github.com/s3thumbs/s3thumbs/images"
	"github.com/s3thumbs/s3thumbs/scan"
	"github.com/s3thumbs/s3thumbs/storage"
)

const (
	headerETag        = "Etag"
	headerLength      = "Content-Length"
	headerContentType = "Content-Type"
)

var errNotFound = errors.New("file not found")

// Service resolves thumbnail requests into HTTP responses. It never
// returns errors to the HTTP layer; every failure is rendered as a
// response.
type Service struct {
	store   storage.Client
	scanner *scan.Scanner
	log     logrus.FieldLogger

	// group coalesces concurrent materializations of the same object so
	// a burst of misses produces one resize instead of many. Correctness
	// does not depend on it: concurrent writers would all carry the same
	// parent etag.
	group singleflight.Group
}

// New creates a Service.
func New(store storage.Client, scanner *scan.Scanner, log logrus.FieldLogger) *Service {
	return &Service{store: store, scanner: scanner, log: log}
}

// ServeThumbnail handles GET /{bucket}/{file_name}.
func (s *Service) ServeThumbnail(w http.ResponseWriter, r *http.Request, bucket, name string) {
	result, err := s.scanner.ScanFile(r.Context(), bucket, name)
	if err != nil {
		s.internalError(w, bucket+"/"+name, err)
		return
	}
	switch result.Status {
	case scan.BucketNotFound:
		s.log.Debugf("bucket %s is not configured", bucket)
		writeNotFound(w)
	case scan.SourceFileNotFound:
		s.log.Debug("source file was not found")
		writeNotFound(w)
	case scan.UseSourceFile:
		s.serveExisting(w, r, result.SourceFileStat)
	case scan.FileFound:
		s.log.Debug("found thumbnail file")
		s.serveExisting(w, r, result.FileStat)
	case scan.CreateNew:
		s.createAndUpload(w, r, result.SourceFileStat, result.BucketSettings, bucket)
	}
}

// ServeByAlias handles GET /{source_bucket}/{file_name}/{alias}.
func (s *Service) ServeByAlias(w http.ResponseWriter, r *http.Request, sourceBucket, name, alias string) {
	bucket, ok := s.scanner.FindBucketByAlias(sourceBucket, alias)
	if !ok {
		s.log.Debugf("source bucket %s was not found, return 404", sourceBucket)
		writeNotFound(w)
		return
	}
	s.ServeThumbnail(w, r, bucket, name)
}

// serveExisting answers with 304 when the client's etag is current,
// otherwise streams the stored object.
func (s *Service) serveExisting(w http.ResponseWriter, r *http.Request, stat *storage.FileItem) {
	etag := strings.Trim(r.Header.Get("If-None-Match"), `"`)
	if etag != "" && etag == stat.ETag {
		s.log.Debugf("requested file has the same etag: %s", etag)
		w.Header().Set(headerETag, etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	resp, err := s.store.OpenStream(r.Context(), stat.Bucket, stat.Name)
	if err != nil {
		s.internalError(w, stat.Bucket+"/"+stat.Name, err)
		return
	}
	if resp == nil {
		writeNotFound(w)
		return
	}
	defer func() {
		_ = resp.Close()
	}()

	w.Header().Set(headerETag, resp.ETag)
	w.Header().Set(headerLength, strconv.FormatInt(resp.ContentLength, 10))
	w.Header().Set(headerContentType, resp.ContentType)
	if _, err := io.Copy(w, resp.Body); err != nil {
		// Most likely the client went away mid-stream.
		s.log.Debugf("streaming %s/%s aborted: %v", stat.Bucket, stat.Name, err)
	}
}

type materialized struct {
	item        *storage.FileItem
	data        []byte
	contentType string
}

// createAndUpload materializes the derivative and streams it back.
func (s *Service) createAndUpload(w http.ResponseWriter, r *http.Request, sourceStat *storage.FileItem, settings config.BucketSettings, bucket string) {
	// The materialization is shared between coalesced requests, so it
	// must survive the first requester disconnecting.
	ctx := context.WithoutCancel(r.Context())
	key := bucket + "/" + sourceStat.Name
	value, err, _ := s.group.Do(key, func() (any, error) {
		return s.materialize(ctx, sourceStat, settings, bucket)
	})
	if err != nil {
		if errors.Is(err, errNotFound) {
			writeNotFound(w)
			return
		}
		s.internalError(w, key, err)
		return
	}
	m := value.(*materialized)

	w.Header().Set(headerETag, m.item.ETag)
	w.Header().Set(headerLength, strconv.FormatInt(m.item.Size, 10))
	w.Header().Set(headerContentType, m.contentType)
	if _, err := w.Write(m.data); err != nil {
		s.log.Debugf("writing %s aborted: %v", key, err)
	}
}

func (s *Service) materialize(ctx context.Context, sourceStat *storage.FileItem, settings config.BucketSettings, bucket string) (*materialized, error) {
	data, err := s.store.Load(ctx, sourceStat.Bucket, sourceStat.Name)
	if err != nil {
		return nil, err
	}
	if data == nil {
		s.log.Debug("source file was not found")
		return nil, errNotFound
	}
	s.log.Debug("source file was loaded into memory")

	thumb := images.Resize(data, settings.Size.W, settings.Size.H, settings.Format, settings.JPEGQuality)
	if thumb.Err != nil || len(thumb.Data) == 0 {
		s.log.Warnf("failed to create thumbnail: %v", thumb.Err)
		return nil, errNotFound
	}
	s.log.Debug("thumbnail file was created")

	item, err := s.store.Put(ctx, bucket, sourceStat.Name, thumb.Data, thumb.ContentType, sourceStat.ETag)
	if err != nil {
		return nil, err
	}
	s.log.Debug("thumbnail was uploaded to storage")
	return &materialized{item: item, data: thumb.Data, contentType: thumb.ContentType}, nil
}

func (s *Service) internalError(w http.ResponseWriter, what string, err error) {
	s.log.Errorf("%s: %v", what, err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func writeNotFound(w http.ResponseWriter) {
	w.Header().Set(headerContentType, "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": "File not found"})
}
