package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/smartattend-api/internal/models"
	appErrors "github.com/noah-isme/smartattend-api/pkg/errors"
	"github.com/noah-isme/smartattend-api/pkg/export"
)

type reportSessionRepository interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
}

type reportEnrollmentRepository interface {
	CountByCourse(ctx context.Context, courseID string) (int, error)
}

type reportStudentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type attendanceReportRepository interface {
	CountByStatus(ctx context.Context, sessionID string) (*models.AttendanceStatusCounts, error)
	StudentCounts(ctx context.Context, studentID, courseID string) (*models.AttendanceStatusCounts, error)
	CountHeldSessions(ctx context.Context, studentID, courseID string, asOf time.Time) (int, error)
	List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error)
	SessionRoster(ctx context.Context, sessionID string) ([]models.SessionRosterRow, error)
}

// sheetRenderer turns a sheet into a downloadable file body.
type sheetRenderer interface {
	Render(sheet export.Sheet) ([]byte, error)
	ContentType() string
	Extension() string
}

// ExportFormat names a supported export encoding.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportFile is a rendered attendance sheet.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

const (
	riskHighBelow   = 60.0
	riskMediumBelow = 75.0
)

// AttendanceReportConfig tunes reporting.
type AttendanceReportConfig struct {
	Location *time.Location
	CacheTTL time.Duration
}

// AttendanceReportService answers read-only roll-up questions over the ledger.
type AttendanceReportService struct {
	sessions    reportSessionRepository
	enrollments reportEnrollmentRepository
	students    reportStudentRepository
	attendance  attendanceReportRepository
	cache       *CacheService
	renderers   map[ExportFormat]sheetRenderer
	clock       Clock
	logger      *zap.Logger
	cfg         AttendanceReportConfig
}

// NewAttendanceReportService constructs the service with CSV and PDF renderers.
func NewAttendanceReportService(
	sessions reportSessionRepository,
	enrollments reportEnrollmentRepository,
	students reportStudentRepository,
	attendance attendanceReportRepository,
	cache *CacheService,
	clock Clock,
	logger *zap.Logger,
	cfg AttendanceReportConfig,
) *AttendanceReportService {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if clock == nil {
		clock = NewSystemClock(cfg.Location)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceReportService{
		sessions:    sessions,
		enrollments: enrollments,
		students:    students,
		attendance:  attendance,
		cache:       cache,
		renderers: map[ExportFormat]sheetRenderer{
			ExportFormatCSV: export.NewCSVExporter(),
			ExportFormatPDF: export.NewPDFExporter(),
		},
		clock:  clock,
		logger: logger,
		cfg:    cfg,
	}
}

// SessionSummary rolls up one session against its course enrollment.
func (s *AttendanceReportService) SessionSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	key := SessionSummaryCacheKey(sessionID)
	var cached models.SessionSummary
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	enrolled, err := s.enrollments.CountByCourse(ctx, session.CourseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count enrollment")
	}
	counts, err := s.attendance.CountByStatus(ctx, session.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count attendance")
	}

	summary := BuildSessionSummary(session.ID, enrolled, *counts)
	_ = s.cache.Set(ctx, key, summary, s.cfg.CacheTTL)
	return &summary, nil
}

// BuildSessionSummary derives absences and the attendance rate from raw counts.
// Absent is enrolled minus present, late and excused, floored at zero, so unmarked
// students count as absent while excused marks are reported apart.
func BuildSessionSummary(sessionID string, enrolled int, counts models.AttendanceStatusCounts) models.SessionSummary {
	absent := enrolled - counts.Present - counts.Late - counts.Excused
	if absent < 0 {
		absent = 0
	}
	return models.SessionSummary{
		SessionID:      sessionID,
		TotalEnrolled:  enrolled,
		Present:        counts.Present,
		Late:           counts.Late,
		Absent:         absent,
		Excused:        counts.Excused,
		AttendanceRate: percentage(counts.Present+counts.Late, enrolled),
	}
}

// StudentReport computes a student's attendance percentage, optionally for one course.
// Students may only read their own report.
func (s *AttendanceReportService) StudentReport(ctx context.Context, studentID, courseID string, caller models.Caller) (*models.StudentAttendanceReport, error) {
	if caller.Role == models.RoleStudent && caller.StudentID != studentID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only view their own attendance")
	}
	key := StudentReportCacheKey(studentID, courseID)
	var cached models.StudentAttendanceReport
	if hit, _ := s.cache.Get(ctx, key, &cached); hit {
		return &cached, nil
	}

	if _, err := s.students.FindByID(ctx, studentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrStudentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	counts, err := s.attendance.StudentCounts(ctx, studentID, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count attendance")
	}
	held, err := s.attendance.CountHeldSessions(ctx, studentID, courseID, dateOnly(s.clock.Now(), s.cfg.Location))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count sessions")
	}

	report := BuildStudentReport(studentID, courseID, held, *counts)
	_ = s.cache.Set(ctx, key, report, s.cfg.CacheTTL)
	return &report, nil
}

// BuildStudentReport scores a student. Held sessions without a mark count as absences.
func BuildStudentReport(studentID, courseID string, heldSessions int, counts models.AttendanceStatusCounts) models.StudentAttendanceReport {
	marked := counts.Present + counts.Late + counts.Absent + counts.Excused
	total := heldSessions
	if marked > total {
		total = marked
	}
	attended := counts.Present + counts.Late
	pct := percentage(attended, total)
	risk := "normal"
	switch {
	case total == 0:
	case pct < riskHighBelow:
		risk = "high"
	case pct < riskMediumBelow:
		risk = "medium"
	}
	return models.StudentAttendanceReport{
		StudentID:     studentID,
		CourseID:      courseID,
		TotalSessions: total,
		Present:       counts.Present,
		Late:          counts.Late,
		Excused:       counts.Excused,
		Absent:        total - attended - counts.Excused,
		Attended:      attended,
		Percentage:    pct,
		RiskLevel:     risk,
	}
}

// SessionAttendance lists the marks of one session.
func (s *AttendanceReportService) SessionAttendance(ctx context.Context, sessionID string, filter models.AttendanceFilter) ([]models.AttendanceRecord, *models.Pagination, error) {
	if _, err := s.loadSession(ctx, sessionID); err != nil {
		return nil, nil, err
	}
	filter.SessionID = sessionID
	return s.listAttendance(ctx, filter)
}

// StudentAttendance lists a student's marks. Students may only read their own.
func (s *AttendanceReportService) StudentAttendance(ctx context.Context, studentID string, filter models.AttendanceFilter, caller models.Caller) ([]models.AttendanceRecord, *models.Pagination, error) {
	if caller.Role == models.RoleStudent && caller.StudentID != studentID {
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "students may only view their own attendance")
	}
	filter.StudentID = studentID
	return s.listAttendance(ctx, filter)
}

func (s *AttendanceReportService) listAttendance(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, *models.Pagination, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 200 {
		filter.PageSize = 50
	}
	records, total, err := s.attendance.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance")
	}
	return records, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

var rosterHeaders = []string{"Roll No", "Name", "Status", "Method", "Confidence", "Marked At"}

// ExportSession renders the session roster, unmarked students included.
func (s *AttendanceReportService) ExportSession(ctx context.Context, sessionID string, format ExportFormat) (*ExportFile, error) {
	renderer, ok := s.renderers[ExportFormat(strings.ToLower(string(format)))]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	roster, err := s.attendance.SessionRoster(ctx, session.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	summary, err := s.SessionSummary(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]string, 0, len(roster))
	for _, entry := range roster {
		row := map[string]string{
			"Roll No": entry.RollNo,
			"Name":    entry.FullName,
			"Status":  string(models.AttendanceStatusAbsent),
		}
		if entry.Status != nil {
			row["Status"] = string(*entry.Status)
		}
		if entry.VerificationMethod != nil {
			row["Method"] = string(*entry.VerificationMethod)
		}
		if entry.OverallConfidence != nil {
			row["Confidence"] = fmt.Sprintf("%.1f", *entry.OverallConfidence)
		}
		if entry.MarkedAt != nil {
			row["Marked At"] = entry.MarkedAt.In(s.cfg.Location).Format("15:04:05")
		}
		rows = append(rows, row)
	}

	date := session.SessionDate.Format("2006-01-02")
	sheet := export.Sheet{
		Title: "Attendance Sheet",
		Preamble: []string{
			fmt.Sprintf("Course: %s", session.CourseID),
			fmt.Sprintf("Session: %s %s-%s", date, session.StartTime, session.EndTime),
			fmt.Sprintf("Enrolled: %d  Present: %d  Late: %d  Absent: %d  Excused: %d  Rate: %.2f%%",
				summary.TotalEnrolled, summary.Present, summary.Late, summary.Absent, summary.Excused, summary.AttendanceRate),
		},
		Data: export.Dataset{Headers: rosterHeaders, Rows: rows},
	}
	body, err := renderer.Render(sheet)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	s.logger.Info("session exported", zap.String("session_id", session.ID), zap.String("format", renderer.Extension()), zap.Int("rows", len(rows)))
	return &ExportFile{
		Filename:    fmt.Sprintf("attendance_%s_%s.%s", session.CourseID, date, renderer.Extension()),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

func (s *AttendanceReportService) loadSession(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrSessionNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

// percentage returns part/whole*100 rounded to two decimals, or 0 for an empty whole.
func percentage(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*10000) / 100
}
