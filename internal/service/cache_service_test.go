package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/smartattend-api/internal/models"
)

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "smartattend:summary:session:sess-1", SessionSummaryCacheKey("sess-1"))
	assert.Equal(t, "smartattend:report:student:stu-1:all", StudentReportCacheKey("stu-1", ""))
	assert.Equal(t, "smartattend:report:student:stu-1:course-1", StudentReportCacheKey("stu-1", "course-1"))
}

func TestCacheServiceRoundTripAndInvalidate(t *testing.T) {
	repo := newMemCacheRepo()
	metrics := NewMetricsService()
	cache := NewCacheService(repo, metrics, time.Minute, nil, true)
	ctx := context.Background()

	var summary models.SessionSummary
	hit, err := cache.Get(ctx, SessionSummaryCacheKey("sess-1"), &summary)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.Set(ctx, SessionSummaryCacheKey("sess-1"), models.SessionSummary{SessionID: "sess-1", TotalEnrolled: 10}, 0))
	require.NoError(t, cache.Set(ctx, StudentReportCacheKey("stu-1", "course-1"), models.StudentAttendanceReport{StudentID: "stu-1"}, 0))

	hit, err = cache.Get(ctx, SessionSummaryCacheKey("sess-1"), &summary)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 10, summary.TotalEnrolled)

	cache.InvalidateAttendance(ctx, "sess-1", "stu-1")
	assert.Empty(t, repo.values)
	assert.Equal(t, uint64(1), metrics.Snapshot().CacheHits)
	assert.Equal(t, uint64(1), metrics.Snapshot().CacheMisses)
}

func TestCacheServiceDisabled(t *testing.T) {
	repo := newMemCacheRepo()
	cache := NewCacheService(repo, nil, time.Minute, nil, false)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", models.SessionSummary{}, 0))
	assert.Empty(t, repo.values)

	var nilCache *CacheService
	assert.False(t, nilCache.Enabled())
	assert.NotPanics(t, func() { nilCache.InvalidateAttendance(ctx, "sess-1", "stu-1") })
}
