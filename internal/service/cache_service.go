package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/smartattend-api/pkg/errors"
)

// CacheRepository abstracts persistence for cached payloads.
type CacheRepository interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

const cacheKeyPrefix = "smartattend"

// SessionSummaryCacheKey addresses the cached roll-up of one session.
func SessionSummaryCacheKey(sessionID string) string {
	return fmt.Sprintf("%s:summary:session:%s", cacheKeyPrefix, sessionID)
}

// StudentReportCacheKey addresses a cached student report. An empty course means all courses.
func StudentReportCacheKey(studentID, courseID string) string {
	if courseID == "" {
		courseID = "all"
	}
	return fmt.Sprintf("%s:report:student:%s:%s", cacheKeyPrefix, studentID, courseID)
}

func studentReportCachePattern(studentID string) string {
	if studentID == "" {
		return cacheKeyPrefix + ":report:student:*"
	}
	return fmt.Sprintf("%s:report:student:%s:*", cacheKeyPrefix, studentID)
}

// AnalyticsCacheKey addresses a cached analytics roll-up. Empty parts become "all".
func AnalyticsCacheKey(kind string, parts ...string) string {
	segments := make([]string, 0, len(parts)+3)
	segments = append(segments, cacheKeyPrefix, "analytics", kind)
	for _, part := range parts {
		if part == "" {
			part = "all"
		}
		segments = append(segments, part)
	}
	return strings.Join(segments, ":")
}

func analyticsCachePattern() string {
	return cacheKeyPrefix + ":analytics:*"
}

// CacheService fronts report reads with Redis. Failures degrade to a miss.
type CacheService struct {
	repo       CacheRepository
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheRepository, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get attempts to retrieve a cached entry. It returns true when the cache was hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	s.metrics.RecordCacheOperation(err == nil, time.Since(start))
	if err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return false, nil
		}
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	return true, nil
}

// Set stores the value in cache.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// InvalidateAttendance drops every cached view a new or corrected mark can change.
func (s *CacheService) InvalidateAttendance(ctx context.Context, sessionID, studentID string) {
	if !s.Enabled() {
		return
	}
	if err := s.repo.Delete(ctx, SessionSummaryCacheKey(sessionID)); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	s.deletePattern(ctx, analyticsCachePattern())
	if studentID == "" {
		return
	}
	s.deletePattern(ctx, studentReportCachePattern(studentID))
}

// InvalidateSessionLifecycle drops the views whose denominators move when a
// session is held: its summary, every student report and the analytics roll-ups.
func (s *CacheService) InvalidateSessionLifecycle(ctx context.Context, sessionID string) {
	if !s.Enabled() {
		return
	}
	if err := s.repo.Delete(ctx, SessionSummaryCacheKey(sessionID)); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	s.deletePattern(ctx, studentReportCachePattern(""))
	s.deletePattern(ctx, analyticsCachePattern())
}

func (s *CacheService) deletePattern(ctx context.Context, pattern string) {
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
	}
}
