// Package health holds the startup bucket-provisioning summary and serves
// the health check routes.
package health

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/pkg/errors"
)

// BucketStatus is the outcome of one bucket creation attempt.
type BucketStatus string

const (
	// StatusCreated - the bucket was created by this process.
	StatusCreated BucketStatus = "created"
	// StatusExists - the bucket already existed.
	StatusExists BucketStatus = "exists"
	// StatusError - the creation attempt failed.
	StatusError BucketStatus = "error"
)

// BucketsInfo is the per-bucket provisioning summary. Error is true iff
// any entry is StatusError.
type BucketsInfo struct {
	ThumbnailBuckets map[string]BucketStatus `json:"thumbnail_buckets"`
	SourceBuckets    map[string]BucketStatus `json:"source_buckets"`
	Error            bool                    `json:"error"`
}

// State stores the provisioning summary. It is written exactly once after
// startup and read by the health routes afterwards.
type State struct {
	mu   sync.RWMutex
	info *BucketsInfo
}

// NewState returns an empty State.
func NewState() *State {
	return &State{}
}

// SetBucketsInfo stores the summary. A second write is rejected.
func (s *State) SetBucketsInfo(info *BucketsInfo) error {
	if info == nil {
		return errors.New("buckets info is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info != nil {
		return errors.New("buckets info is readonly")
	}
	s.info = info
	return nil
}

// BucketsInfo returns the stored summary. Reading before the write is a
// programming error and returns an error.
func (s *State) BucketsInfo() (*BucketsInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.info == nil {
		return nil, errors.New("buckets info was not set")
	}
	return s.info, nil
}

// Handler serves GET /hc and /health: the summary plus the service
// version, 500 when provisioning was degraded.
func Handler(state *State, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := state.BucketsInfo()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if info.Error {
			w.WriteHeader(http.StatusInternalServerError)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  info,
			"version": version,
		})
	}
}
