// Package stats records per-path hit counters for thumbnail requests.
// Recording runs after the response was sent and must never affect it:
// all failures are logged and swallowed.
package stats

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Priority classifies a request path for cache warm-up tooling.
type Priority string

// Priorities, lowest first.
const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// RequestStat is one row of the request_stats table. Path uniqueness is
// enforced by the schema.
type RequestStat struct {
	ID       uint      `gorm:"primaryKey;autoIncrement"`
	Path     string    `gorm:"uniqueIndex;not null"`
	Hits     int64     `gorm:"not null;default:0"`
	UpdateDT time.Time `gorm:"column:update_dt;not null"`
	Errors   int64     `gorm:"not null;default:0"`
	Priority Priority  `gorm:"type:varchar(16);not null;default:LOW"`
}

// TableName implements the gorm table naming interface.
func (RequestStat) TableName() string { return "request_stats" }

// Service persists request stats. Safe for concurrent use; gorm hands out
// a fresh session per call.
type Service struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// Open opens (and migrates) the sqlite database at dsn.
func Open(dsn string, log logrus.FieldLogger) (*Service, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open stats database %q", dsn)
	}
	if err := db.AutoMigrate(&RequestStat{}); err != nil {
		return nil, errors.Wrap(err, "failed to migrate stats database")
	}
	return &Service{db: db, log: log}, nil
}

// HandleRequest records one observed response: 200 and 304 increment the
// path's hit counter, 404 deletes the row, anything else is ignored.
func (s *Service) HandleRequest(ctx context.Context, path string, statusCode int) {
	var err error
	switch statusCode {
	case http.StatusNotFound:
		err = s.invalidateHits(ctx, path)
	case http.StatusOK, http.StatusNotModified:
		err = s.addHit(ctx, path)
	default:
		return
	}
	if err != nil {
		s.log.Warnf("failed to record stats for %s: %v", path, err)
	}
}

func (s *Service) addHit(ctx context.Context, path string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "path"}},
		DoUpdates: clause.Assignments(map[string]any{
			"hits":      gorm.Expr("hits + 1"),
			"update_dt": now,
		}),
	}).Create(&RequestStat{
		Path:     path,
		Hits:     1,
		UpdateDT: now,
		Priority: PriorityLow,
	}).Error
}

func (s *Service) invalidateHits(ctx context.Context, path string) error {
	return s.db.WithContext(ctx).Where("path = ?", path).Delete(&RequestStat{}).Error
}

// TopRequests returns the paths with the highest hit counters. Order among
// ties is unspecified.
func (s *Service) TopRequests(ctx context.Context, count int) (map[string]struct{}, error) {
	var paths []string
	err := s.db.WithContext(ctx).
		Model(&RequestStat{}).
		Order("hits desc").
		Limit(count).
		Pluck("path", &paths).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to query top requests")
	}
	result := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		result[p] = struct{}{}
	}
	return result, nil
}
