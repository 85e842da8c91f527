package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/smartattend-api/internal/models"
	appErrors "github.com/noah-isme/smartattend-api/pkg/errors"
	"github.com/noah-isme/smartattend-api/pkg/response"
)

type analyticsService interface {
	CourseStats(ctx context.Context, filter models.CourseStatsFilter) (*models.CourseAttendanceStats, error)
	Trends(ctx context.Context, days int, courseID string) (*models.AttendanceTrends, error)
	RiskReport(ctx context.Context, courseID string, threshold float64) (*models.RiskReport, error)
}

// AnalyticsHandler exposes course, trend and risk roll-ups to staff.
type AnalyticsHandler struct {
	analytics analyticsService
}

// NewAnalyticsHandler constructs handler.
func NewAnalyticsHandler(analytics analyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics}
}

// Course godoc
// @Summary Attendance statistics for a course
// @Tags Analytics
// @Produce json
// @Param id path string true "Course ID"
// @Param start_date query string false "YYYY-MM-DD"
// @Param end_date query string false "YYYY-MM-DD"
// @Success 200 {object} response.Envelope
// @Router /analytics/courses/{id} [get]
func (h *AnalyticsHandler) Course(c *gin.Context) {
	from, err := optionalDateQuery(c, "start_date")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := optionalDateQuery(c, "end_date")
	if err != nil {
		response.Error(c, err)
		return
	}
	stats, err := h.analytics.CourseStats(c.Request.Context(), models.CourseStatsFilter{CourseID: c.Param("id"), DateFrom: from, DateTo: to})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Trends godoc
// @Summary Daily attendance trend
// @Tags Analytics
// @Produce json
// @Param days query int false "Trailing window in days (default 30)"
// @Param course_id query string false "Course ID"
// @Success 200 {object} response.Envelope
// @Router /analytics/trends [get]
func (h *AnalyticsHandler) Trends(c *gin.Context) {
	days := 0
	if raw := strings.TrimSpace(c.Query("days")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "days must be a positive integer"))
			return
		}
		days = parsed
	}
	trends, err := h.analytics.Trends(c.Request.Context(), days, c.Query("course_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, trends, nil)
}

// RiskReport godoc
// @Summary Students below the attendance threshold
// @Tags Analytics
// @Produce json
// @Param threshold query number false "Percentage threshold (default 75)"
// @Param course_id query string false "Course ID"
// @Success 200 {object} response.Envelope
// @Router /analytics/risk-report [get]
func (h *AnalyticsHandler) RiskReport(c *gin.Context) {
	threshold := 0.0
	if raw := strings.TrimSpace(c.Query("threshold")); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "threshold must be a number"))
			return
		}
		threshold = parsed
	}
	report, err := h.analytics.RiskReport(c.Request.Context(), c.Query("course_id"), threshold)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}
