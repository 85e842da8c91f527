package service

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/smartattend-api/internal/models"
	appErrors "github.com/noah-isme/smartattend-api/pkg/errors"
)

type analyticsRepository interface {
	CourseSessionRates(ctx context.Context, filter models.CourseStatsFilter, asOf time.Time) ([]models.SessionAttendanceRate, error)
	DailyTrend(ctx context.Context, from, to time.Time, courseID string) ([]models.AttendanceTrendRow, error)
	StudentStandings(ctx context.Context, courseID string, asOf time.Time) ([]models.StudentStanding, error)
}

const (
	defaultTrendDays     = 30
	maxTrendDays         = 365
	defaultRiskThreshold = riskMediumBelow
)

// AnalyticsConfig tunes analytics roll-ups.
type AnalyticsConfig struct {
	Location *time.Location
	CacheTTL time.Duration
}

// AnalyticsService provides course, trend and risk roll-ups with caching.
type AnalyticsService struct {
	repo        analyticsRepository
	enrollments reportEnrollmentRepository
	cache       *CacheService
	clock       Clock
	logger      *zap.Logger
	cfg         AnalyticsConfig
}

// NewAnalyticsService constructs the service.
func NewAnalyticsService(repo analyticsRepository, enrollments reportEnrollmentRepository, cache *CacheService, clock Clock, logger *zap.Logger, cfg AnalyticsConfig) *AnalyticsService {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if clock == nil {
		clock = NewSystemClock(cfg.Location)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnalyticsService{repo: repo, enrollments: enrollments, cache: cache, clock: clock, logger: logger, cfg: cfg}
}

// CourseStats rates every held session of a course against its enrollment.
func (s *AnalyticsService) CourseStats(ctx context.Context, filter models.CourseStatsFilter) (*models.CourseAttendanceStats, error) {
	filter.CourseID = strings.TrimSpace(filter.CourseID)
	if filter.CourseID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "course id is required")
	}
	if filter.DateFrom != nil && filter.DateTo != nil && filter.DateTo.Before(*filter.DateFrom) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_date must not be before start_date")
	}
	key := AnalyticsCacheKey("course", filter.CourseID, formatDay(filter.DateFrom), formatDay(filter.DateTo))
	var cached models.CourseAttendanceStats
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	enrolled, err := s.enrollments.CountByCourse(ctx, filter.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollment")
	}
	rates, err := s.repo.CourseSessionRates(ctx, filter, s.today())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load course sessions")
	}

	stats := BuildCourseStats(filter.CourseID, enrolled, rates)
	if err := s.cache.Set(ctx, key, stats, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("cache course stats", zap.Error(err))
	}
	return &stats, nil
}

// BuildCourseStats averages per-session rates. A course without enrollment rates zero.
func BuildCourseStats(courseID string, enrolled int, rates []models.SessionAttendanceRate) models.CourseAttendanceStats {
	stats := models.CourseAttendanceStats{CourseID: courseID, TotalSessions: len(rates), TotalStudents: enrolled}
	if len(rates) == 0 {
		return stats
	}
	var sum float64
	stats.LowestAttendance = math.MaxFloat64
	for _, rate := range rates {
		pct := percentage(rate.Attended, enrolled)
		sum += pct
		stats.HighestAttendance = math.Max(stats.HighestAttendance, pct)
		stats.LowestAttendance = math.Min(stats.LowestAttendance, pct)
	}
	stats.AverageAttendance = math.Round(sum/float64(len(rates))*100) / 100
	return stats
}

// Trends returns the daily attendance series for the trailing window ending today.
func (s *AnalyticsService) Trends(ctx context.Context, days int, courseID string) (*models.AttendanceTrends, error) {
	if days <= 0 {
		days = defaultTrendDays
	}
	if days > maxTrendDays {
		return nil, appErrors.Clone(appErrors.ErrValidation, "days must be at most 365")
	}
	courseID = strings.TrimSpace(courseID)
	end := s.today()
	start := end.AddDate(0, 0, -days)
	key := AnalyticsCacheKey("trends", end.Format("2006-01-02"), strconv.Itoa(days), courseID)
	var cached models.AttendanceTrends
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	rows, err := s.repo.DailyTrend(ctx, start, end, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load attendance trend")
	}
	trends := models.AttendanceTrends{
		CourseID:    courseID,
		PeriodStart: start.Format("2006-01-02"),
		PeriodEnd:   end.Format("2006-01-02"),
		Trends:      make([]models.AttendanceTrendPoint, 0, len(rows)),
	}
	for _, row := range rows {
		trends.Trends = append(trends.Trends, models.AttendanceTrendPoint{
			Date:                 row.Day.Format("2006-01-02"),
			TotalSessions:        row.Sessions,
			TotalPresent:         row.Attended,
			Expected:             row.Expected,
			AttendancePercentage: percentage(row.Attended, row.Expected),
		})
	}
	if err := s.cache.Set(ctx, key, trends, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("cache attendance trends", zap.Error(err))
	}
	return &trends, nil
}

// RiskReport lists students whose attendance percentage is below threshold.
func (s *AnalyticsService) RiskReport(ctx context.Context, courseID string, threshold float64) (*models.RiskReport, error) {
	if threshold == 0 {
		threshold = defaultRiskThreshold
	}
	if threshold < 0 || threshold > 100 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "threshold must be between 0 and 100")
	}
	courseID = strings.TrimSpace(courseID)
	key := AnalyticsCacheKey("risk", courseID, strconv.FormatFloat(threshold, 'f', 2, 64))
	var cached models.RiskReport
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	standings, err := s.repo.StudentStandings(ctx, courseID, s.today())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student standings")
	}
	report := BuildRiskReport(courseID, threshold, standings)
	if err := s.cache.Set(ctx, key, report, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("cache risk report", zap.Error(err))
	}
	return &report, nil
}

// BuildRiskReport scores each standing and keeps those under threshold, lowest first.
// Students with no held sessions are never at risk.
func BuildRiskReport(courseID string, threshold float64, standings []models.StudentStanding) models.RiskReport {
	report := models.RiskReport{CourseID: courseID, ThresholdPercentage: threshold, Students: []models.AtRiskStudent{}}
	for _, standing := range standings {
		scored := BuildStudentReport(standing.StudentID, courseID, standing.Held, standing.AttendanceStatusCounts)
		if scored.TotalSessions == 0 || scored.Percentage >= threshold {
			continue
		}
		if scored.RiskLevel == "normal" {
			scored.RiskLevel = "medium"
		}
		report.Students = append(report.Students, models.AtRiskStudent{
			StudentAttendanceReport: scored,
			RollNo:                  standing.RollNo,
			FullName:                standing.FullName,
		})
	}
	sort.SliceStable(report.Students, func(i, j int) bool {
		if report.Students[i].Percentage != report.Students[j].Percentage {
			return report.Students[i].Percentage < report.Students[j].Percentage
		}
		return report.Students[i].RollNo < report.Students[j].RollNo
	})
	report.TotalAtRisk = len(report.Students)
	return report
}

func (s *AnalyticsService) today() time.Time {
	return dateOnly(s.clock.Now(), s.cfg.Location)
}

func formatDay(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
