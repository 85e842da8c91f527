package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/smartattend-api/internal/models"
	"github.com/noah-isme/smartattend-api/internal/service"
	appErrors "github.com/noah-isme/smartattend-api/pkg/errors"
	"github.com/noah-isme/smartattend-api/pkg/response"
)

type reportService interface {
	SessionSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error)
	StudentReport(ctx context.Context, studentID, courseID string, caller models.Caller) (*models.StudentAttendanceReport, error)
	SessionAttendance(ctx context.Context, sessionID string, filter models.AttendanceFilter) ([]models.AttendanceRecord, *models.Pagination, error)
	StudentAttendance(ctx context.Context, studentID string, filter models.AttendanceFilter, caller models.Caller) ([]models.AttendanceRecord, *models.Pagination, error)
	ExportSession(ctx context.Context, sessionID string, format service.ExportFormat) (*service.ExportFile, error)
}

// ReportHandler exposes attendance reporting endpoints.
type ReportHandler struct {
	reports reportService
}

// NewReportHandler constructs handler.
func NewReportHandler(reports reportService) *ReportHandler {
	return &ReportHandler{reports: reports}
}

// SessionSummary godoc
// @Summary Session attendance summary
// @Tags Reports
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/summary [get]
func (h *ReportHandler) SessionSummary(c *gin.Context) {
	summary, err := h.reports.SessionSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// SessionAttendance godoc
// @Summary Marks recorded for a session
// @Tags Reports
// @Produce json
// @Param id path string true "Session ID"
// @Param status query string false "present|late|absent|excused"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/attendance [get]
func (h *ReportHandler) SessionAttendance(c *gin.Context) {
	filter, err := attendanceFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	records, pagination, err := h.reports.SessionAttendance(c.Request.Context(), c.Param("id"), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}

// StudentAttendance godoc
// @Summary Marks recorded for a student
// @Tags Reports
// @Produce json
// @Param id path string true "Student ID"
// @Param course_id query string false "Course ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/attendance [get]
func (h *ReportHandler) StudentAttendance(c *gin.Context) {
	filter, err := attendanceFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	filter.CourseID = strings.TrimSpace(c.Query("course_id"))
	records, pagination, err := h.reports.StudentAttendance(c.Request.Context(), c.Param("id"), filter, callerFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}

// StudentReport godoc
// @Summary Student attendance percentage
// @Tags Reports
// @Produce json
// @Param id path string true "Student ID"
// @Param course_id query string false "Course ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/attendance-report [get]
func (h *ReportHandler) StudentReport(c *gin.Context) {
	report, err := h.reports.StudentReport(c.Request.Context(), c.Param("id"), strings.TrimSpace(c.Query("course_id")), callerFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// Export godoc
// @Summary Download the session attendance sheet
// @Tags Reports
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Session ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /sessions/{id}/export [get]
func (h *ReportHandler) Export(c *gin.Context) {
	format := service.ExportFormat(c.DefaultQuery("format", string(service.ExportFormatCSV)))
	file, err := h.reports.ExportSession(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}

func attendanceFilter(c *gin.Context) (models.AttendanceFilter, error) {
	page, size := pageParams(c)
	filter := models.AttendanceFilter{Page: page, PageSize: size}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, ok := models.ParseAttendanceStatus(raw)
		if !ok {
			return filter, appErrors.Clone(appErrors.ErrValidation, "status must be one of present, late, absent, excused")
		}
		filter.Status = &status
	}
	return filter, nil
}
