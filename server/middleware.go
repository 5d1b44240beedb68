package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/s3thumbs/s3thumbs/config"
)

// Recorder observes finished responses. Implementations must tolerate
// concurrent calls and swallow their own failures.
type Recorder interface {
	HandleRequest(ctx context.Context, path string, statusCode int)
}

// recordStats records hit stats for requests whose first path segment
// names a known bucket. Recording runs in a background goroutine after
// the response has been written so it never delays the client, and a
// recorder panic never reaches the connection.
func recordStats(bucketsMap *config.BucketsMap, rec Recorder, log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			bucket := firstSegment(r.URL.Path)
			if bucket == "" || !bucketsMap.IsKnown(bucket) {
				return
			}
			path, status := r.URL.Path, statusOf(ww)
			go func() {
				defer func() {
					if p := recover(); p != nil {
						log.Errorf("stats recorder panic: %v", p)
					}
				}()
				rec.HandleRequest(context.Background(), path, status)
			}()
		})
	}
}

func firstSegment(path string) string {
	for _, segment := range strings.Split(path, "/") {
		if segment != "" {
			return segment
		}
	}
	return ""
}

func statusOf(ww middleware.WrapResponseWriter) int {
	if ww.Status() == 0 {
		return http.StatusOK
	}
	return ww.Status()
}
