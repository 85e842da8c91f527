package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/smartattend-api/internal/biometric"
	"github.com/noah-isme/smartattend-api/internal/middleware"
	"github.com/noah-isme/smartattend-api/internal/models"
	"github.com/noah-isme/smartattend-api/internal/service"
	appErrors "github.com/noah-isme/smartattend-api/pkg/errors"
)

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, data interface{}) map[string]json.RawMessage {
	t.Helper()
	var env map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	if data != nil {
		require.NoError(t, json.Unmarshal(env["data"], data))
	}
	return env
}

type verifierMock struct {
	outcome  *models.VerificationOutcome
	err      error
	received models.VerificationInput
	updated  *models.Attendance
}

func (m *verifierMock) Submit(ctx context.Context, input models.VerificationInput) (*models.VerificationOutcome, error) {
	m.received = input
	return m.outcome, m.err
}

func (m *verifierMock) UpdateStatus(ctx context.Context, id string, req models.UpdateAttendanceStatusRequest, caller models.Caller) (*models.Attendance, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.updated, nil
}

func studentClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "user-1", Role: models.RoleStudent, StudentID: "stu-1"}
}

func teacherClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "teacher-1", Role: models.RoleTeacher}
}

func TestAttendanceHandlerVerifyStatusCodes(t *testing.T) {
	cases := []struct {
		code   models.VerificationCode
		status int
	}{
		{code: models.VerificationSuccess, status: http.StatusCreated},
		{code: models.VerificationAlreadyMarked, status: http.StatusConflict},
		{code: models.VerificationFailed, status: http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			mock := &verifierMock{outcome: &models.VerificationOutcome{Code: tc.code, Success: tc.code == models.VerificationSuccess}}
			h := NewAttendanceHandler(mock, &biometric.StaticFaceMatcher{Confidence: 90}, nil)
			body := []byte(`{"session_code":"ABC123","qr_payload":"SMARTATTEND:COLLEGE001:CS2024001","method":"face_qr","face_image":"aGVsbG8=","qr_scanned":true}`)
			c, w := newGinContext(http.MethodPost, "/api/v1/attendance/verify", body)
			c.Set(middleware.ContextUserKey, studentClaims())

			h.Verify(c)
			assert.Equal(t, tc.status, w.Code)
			var outcome models.VerificationOutcome
			decodeEnvelope(t, w, &outcome)
			assert.Equal(t, tc.code, outcome.Code)
			assert.Equal(t, models.Caller{UserID: "user-1", Role: models.RoleStudent, StudentID: "stu-1"}, mock.received.Caller)
			require.NotNil(t, mock.received.FaceConfidence)
			assert.Equal(t, 90.0, *mock.received.FaceConfidence)
		})
	}
}

func TestAttendanceHandlerVerifyScoresFaceImage(t *testing.T) {
	mock := &verifierMock{outcome: &models.VerificationOutcome{Code: models.VerificationSuccess, Success: true}}
	h := NewAttendanceHandler(mock, &biometric.StaticFaceMatcher{Confidence: 83.5}, nil)
	body := []byte(`{"session_code":"ABC123","qr_payload":"SMARTATTEND:COLLEGE001:CS2024001","method":"face_qr","face_image":"aGVsbG8=","is_kiosk":true}`)
	c, w := newGinContext(http.MethodPost, "/api/v1/attendance/verify", body)
	c.Set(middleware.ContextUserKey, teacherClaims())

	h.Verify(c)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, mock.received.FaceConfidence)
	assert.Equal(t, 83.5, *mock.received.FaceConfidence)
	assert.True(t, mock.received.IsKiosk)
}

func TestAttendanceHandlerVerifyRejectsClientConfidence(t *testing.T) {
	mock := &verifierMock{outcome: &models.VerificationOutcome{Code: models.VerificationSuccess, Success: true}}
	h := NewAttendanceHandler(mock, &biometric.StaticFaceMatcher{Confidence: 40}, nil)
	bodies := map[string]string{
		"without image": `{"session_code":"ABC123","qr_payload":"SMARTATTEND:COLLEGE001:CS2024001","method":"face_qr","face_confidence":100}`,
		"with image":    `{"session_code":"ABC123","qr_payload":"SMARTATTEND:COLLEGE001:CS2024001","method":"face_qr","face_confidence":100,"face_image":"aGVsbG8="}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			c, w := newGinContext(http.MethodPost, "/api/v1/attendance/verify", []byte(body))
			c.Set(middleware.ContextUserKey, studentClaims())

			h.Verify(c)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "face_confidence")
			assert.Empty(t, mock.received.Method)
		})
	}
}

func TestAttendanceHandlerVerifyRequiresFaceImage(t *testing.T) {
	mock := &verifierMock{}
	h := NewAttendanceHandler(mock, &biometric.StaticFaceMatcher{Confidence: 90}, nil)
	c, w := newGinContext(http.MethodPost, "/api/v1/attendance/verify",
		[]byte(`{"session_code":"ABC123","qr_payload":"SMARTATTEND:COLLEGE001:CS2024001","method":"face_qr"}`))
	c.Set(middleware.ContextUserKey, studentClaims())

	h.Verify(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "face_image is required")
	assert.Empty(t, mock.received.Method)
}

func TestAttendanceHandlerVerifyWithoutMatcher(t *testing.T) {
	mock := &verifierMock{}
	h := NewAttendanceHandler(mock, nil, nil)
	c, w := newGinContext(http.MethodPost, "/api/v1/attendance/verify",
		[]byte(`{"session_code":"ABC123","qr_payload":"SMARTATTEND:COLLEGE001:CS2024001","method":"face_qr","face_image":"aGVsbG8="}`))
	c.Set(middleware.ContextUserKey, studentClaims())

	h.Verify(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Empty(t, mock.received.Method)
}

func TestAttendanceHandlerTruncatesDeviceInfoOnRuneBoundary(t *testing.T) {
	mock := &verifierMock{outcome: &models.VerificationOutcome{Code: models.VerificationSuccess, Success: true}}
	h := NewAttendanceHandler(mock, &biometric.StaticFaceMatcher{Confidence: 90}, nil)
	c, w := newGinContext(http.MethodPost, "/api/v1/attendance/verify",
		[]byte(`{"session_code":"ABC123","qr_payload":"SMARTATTEND:COLLEGE001:CS2024001","method":"face_qr","face_image":"aGVsbG8="}`))
	c.Request.Header.Set("User-Agent", strings.Repeat("é", 300))
	c.Set(middleware.ContextUserKey, studentClaims())

	h.Verify(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, utf8.ValidString(mock.received.DeviceInfo))
	assert.Equal(t, 255, utf8.RuneCountInString(mock.received.DeviceInfo))
	assert.Equal(t, strings.Repeat("é", 255), mock.received.DeviceInfo)
}

func TestAttendanceHandlerVerifyProviderError(t *testing.T) {
	mock := &verifierMock{}
	h := NewAttendanceHandler(mock, &biometric.StaticFaceMatcher{Err: appErrors.ErrPoorLighting}, nil)
	body := []byte(`{"session_code":"ABC123","qr_payload":"SMARTATTEND:COLLEGE001:CS2024001","method":"face_qr","face_image":"aGVsbG8="}`)
	c, w := newGinContext(http.MethodPost, "/api/v1/attendance/verify", body)
	c.Set(middleware.ContextUserKey, studentClaims())

	h.Verify(c)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "POOR_LIGHTING")
	assert.Empty(t, mock.received.Method)
}

func TestAttendanceHandlerVerifyRejectsManual(t *testing.T) {
	mock := &verifierMock{}
	h := NewAttendanceHandler(mock, nil, nil)
	c, w := newGinContext(http.MethodPost, "/api/v1/attendance/verify", []byte(`{"session_id":"sess-1","student_id":"stu-1","method":"manual"}`))
	c.Set(middleware.ContextUserKey, teacherClaims())

	h.Verify(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAttendanceHandlerManualForcesMethod(t *testing.T) {
	mock := &verifierMock{outcome: &models.VerificationOutcome{Code: models.VerificationSuccess, Success: true}}
	h := NewAttendanceHandler(mock, nil, nil)
	c, w := newGinContext(http.MethodPost, "/api/v1/attendance/manual", []byte(`{"session_id":"sess-1","student_id":"stu-1","status":"excused","method":"face_qr"}`))
	c.Request.RemoteAddr = "10.1.2.3:5555"
	c.Set(middleware.ContextUserKey, teacherClaims())

	h.Manual(c)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.VerificationMethodManual, mock.received.Method)
	require.NotNil(t, mock.received.Status)
	assert.Equal(t, models.AttendanceStatusExcused, *mock.received.Status)
	assert.Equal(t, "10.1.2.3", mock.received.IPAddress)
	assert.Equal(t, "teacher-1", mock.received.Caller.UserID)
}

func TestAttendanceHandlerStructuralError(t *testing.T) {
	mock := &verifierMock{err: appErrors.ErrNotEnrolled}
	h := NewAttendanceHandler(mock, nil, nil)
	c, w := newGinContext(http.MethodPost, "/api/v1/attendance/verify", []byte(`{"session_code":"ABC123","student_id":"stu-1","method":"fingerprint","fingerprint_token":"x"}`))
	c.Set(middleware.ContextUserKey, studentClaims())

	h.Verify(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_ENROLLED")
}

func TestAttendanceHandlerUpdateStatus(t *testing.T) {
	mock := &verifierMock{updated: &models.Attendance{ID: "att-1", Status: models.AttendanceStatusLate}}
	h := NewAttendanceHandler(mock, nil, nil)
	c, w := newGinContext(http.MethodPatch, "/api/v1/attendance/att-1/status", []byte(`{"status":"late"}`))
	c.Params = gin.Params{{Key: "id", Value: "att-1"}}
	c.Set(middleware.ContextUserKey, teacherClaims())

	h.UpdateStatus(c)
	assert.Equal(t, http.StatusOK, w.Code)

	c, w = newGinContext(http.MethodPatch, "/api/v1/attendance/att-1/status", []byte(`{"status":`))
	h.UpdateStatus(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type sessionServiceMock struct {
	session    *models.Session
	activation *models.ActivationResult
	err        error
	filter     models.SessionFilter
}

func (m *sessionServiceMock) Create(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	return m.session, m.err
}

func (m *sessionServiceMock) Get(ctx context.Context, id string) (*models.Session, error) {
	return m.session, m.err
}

func (m *sessionServiceMock) Activate(ctx context.Context, id string) (*models.ActivationResult, error) {
	return m.activation, m.err
}

func (m *sessionServiceMock) Deactivate(ctx context.Context, id string) (*models.Session, error) {
	return m.session, m.err
}

func (m *sessionServiceMock) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, *models.Pagination, error) {
	m.filter = filter
	if m.err != nil {
		return nil, nil, m.err
	}
	return []models.Session{*m.session}, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, nil
}

func (m *sessionServiceMock) ListActive(ctx context.Context, courseID string) ([]models.Session, error) {
	return []models.Session{*m.session}, m.err
}

func activeSession() *models.Session {
	code := "ABC123"
	return &models.Session{ID: "sess-1", CourseID: "CS101", IsActive: true, AttendanceCode: &code}
}

func TestSessionHandlerRedactsCodeForStudents(t *testing.T) {
	h := NewSessionHandler(&sessionServiceMock{session: activeSession()})

	c, w := newGinContext(http.MethodGet, "/api/v1/sessions/sess-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "sess-1"}}
	c.Set(middleware.ContextUserKey, studentClaims())
	h.Get(c)
	require.Equal(t, http.StatusOK, w.Code)
	var session models.Session
	decodeEnvelope(t, w, &session)
	assert.Nil(t, session.AttendanceCode)

	c, w = newGinContext(http.MethodGet, "/api/v1/sessions/sess-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "sess-1"}}
	c.Set(middleware.ContextUserKey, teacherClaims())
	h.Get(c)
	decodeEnvelope(t, w, &session)
	require.NotNil(t, session.AttendanceCode)
	assert.Equal(t, "ABC123", *session.AttendanceCode)
}

func TestSessionHandlerListParsesFilters(t *testing.T) {
	mock := &sessionServiceMock{session: activeSession()}
	h := NewSessionHandler(mock)

	c, w := newGinContext(http.MethodGet, "/api/v1/sessions?course_id=CS101&is_active=true&date_from=2026-03-01&page=2", nil)
	c.Set(middleware.ContextUserKey, teacherClaims())
	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CS101", mock.filter.CourseID)
	require.NotNil(t, mock.filter.IsActive)
	assert.True(t, *mock.filter.IsActive)
	require.NotNil(t, mock.filter.DateFrom)
	assert.Equal(t, 2, mock.filter.Page)
	env := decodeEnvelope(t, w, nil)
	assert.Contains(t, string(env["pagination"]), `"total_count":1`)

	c, w = newGinContext(http.MethodGet, "/api/v1/sessions?is_active=maybe", nil)
	h.List(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionHandlerActivate(t *testing.T) {
	h := NewSessionHandler(&sessionServiceMock{activation: &models.ActivationResult{SessionID: "sess-1", AttendanceCode: "KQ7MZ2"}})
	c, w := newGinContext(http.MethodPost, "/api/v1/sessions/sess-1/activate", nil)
	c.Params = gin.Params{{Key: "id", Value: "sess-1"}}

	h.Activate(c)
	require.Equal(t, http.StatusOK, w.Code)
	var result models.ActivationResult
	decodeEnvelope(t, w, &result)
	assert.Equal(t, "KQ7MZ2", result.AttendanceCode)

	h = NewSessionHandler(&sessionServiceMock{err: appErrors.ErrCodeExhausted})
	c, w = newGinContext(http.MethodPost, "/api/v1/sessions/sess-1/activate", nil)
	h.Activate(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSessionHandlerCreateValidation(t *testing.T) {
	h := NewSessionHandler(&sessionServiceMock{err: appErrors.ErrInvalidDate})
	c, w := newGinContext(http.MethodPost, "/api/v1/sessions", []byte(`{"course_id":"CS101","session_date":"2020-01-01","start_time":"09:00","end_time":"10:00"}`))
	h.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_DATE")

	c, w = newGinContext(http.MethodPost, "/api/v1/sessions", []byte(`not json`))
	h.Create(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type reportServiceMock struct {
	summary *models.SessionSummary
	report  *models.StudentAttendanceReport
	file    *service.ExportFile
	format  service.ExportFormat
	filter  models.AttendanceFilter
	err     error
}

func (m *reportServiceMock) SessionSummary(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	return m.summary, m.err
}

func (m *reportServiceMock) StudentReport(ctx context.Context, studentID, courseID string, caller models.Caller) (*models.StudentAttendanceReport, error) {
	return m.report, m.err
}

func (m *reportServiceMock) SessionAttendance(ctx context.Context, sessionID string, filter models.AttendanceFilter) ([]models.AttendanceRecord, *models.Pagination, error) {
	m.filter = filter
	return nil, &models.Pagination{Page: 1, PageSize: 50}, m.err
}

func (m *reportServiceMock) StudentAttendance(ctx context.Context, studentID string, filter models.AttendanceFilter, caller models.Caller) ([]models.AttendanceRecord, *models.Pagination, error) {
	m.filter = filter
	return nil, &models.Pagination{Page: 1, PageSize: 50}, m.err
}

func (m *reportServiceMock) ExportSession(ctx context.Context, sessionID string, format service.ExportFormat) (*service.ExportFile, error) {
	m.format = format
	return m.file, m.err
}

func TestReportHandlerExport(t *testing.T) {
	mock := &reportServiceMock{file: &service.ExportFile{Filename: "attendance_CS101_2026-03-02.csv", ContentType: "text/csv", Body: []byte("Roll No\n")}}
	h := NewReportHandler(mock)
	c, w := newGinContext(http.MethodGet, "/api/v1/sessions/sess-1/export", nil)
	c.Params = gin.Params{{Key: "id", Value: "sess-1"}}

	h.Export(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.ExportFormatCSV, mock.format)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attendance_CS101_2026-03-02.csv")
	assert.Equal(t, "Roll No\n", w.Body.String())
}

func TestReportHandlerSessionSummary(t *testing.T) {
	h := NewReportHandler(&reportServiceMock{summary: &models.SessionSummary{SessionID: "sess-1", TotalEnrolled: 10, Present: 7, Late: 1, Absent: 2, AttendanceRate: 80}})
	c, w := newGinContext(http.MethodGet, "/api/v1/sessions/sess-1/summary", nil)
	c.Params = gin.Params{{Key: "id", Value: "sess-1"}}

	h.SessionSummary(c)
	require.Equal(t, http.StatusOK, w.Code)
	var summary models.SessionSummary
	decodeEnvelope(t, w, &summary)
	assert.Equal(t, 80.0, summary.AttendanceRate)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestReportHandlerAttendanceFilter(t *testing.T) {
	mock := &reportServiceMock{}
	h := NewReportHandler(mock)

	c, w := newGinContext(http.MethodGet, "/api/v1/sessions/sess-1/attendance?status=LATE", nil)
	h.SessionAttendance(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, mock.filter.Status)
	assert.Equal(t, models.AttendanceStatusLate, *mock.filter.Status)

	c, w = newGinContext(http.MethodGet, "/api/v1/sessions/sess-1/attendance?status=gone", nil)
	h.SessionAttendance(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type anomalyServiceMock struct {
	resolver string
	notes    string
	filter   models.AnomalyFilter
	err      error
}

func (m *anomalyServiceMock) List(ctx context.Context, filter models.AnomalyFilter) ([]models.Anomaly, *models.Pagination, error) {
	m.filter = filter
	return []models.Anomaly{}, &models.Pagination{Page: 1, PageSize: 50}, m.err
}

func (m *anomalyServiceMock) Get(ctx context.Context, id string) (*models.Anomaly, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.Anomaly{ID: id, AnomalyType: models.AnomalyProxySuspected}, nil
}

func (m *anomalyServiceMock) Stats(ctx context.Context) (*models.AnomalyStats, error) {
	return &models.AnomalyStats{Total: 3}, m.err
}

func (m *anomalyServiceMock) Resolve(ctx context.Context, id, resolverID, notes string) (*models.Anomaly, error) {
	m.resolver, m.notes = resolverID, notes
	return &models.Anomaly{ID: id, IsResolved: true}, m.err
}

func (m *anomalyServiceMock) Dismiss(ctx context.Context, id, resolverID, reason string) (*models.Anomaly, error) {
	m.resolver, m.notes = resolverID, reason
	return &models.Anomaly{ID: id, IsResolved: true}, m.err
}

func TestAnomalyHandlerResolveAcceptsEmptyBody(t *testing.T) {
	mock := &anomalyServiceMock{}
	h := NewAnomalyHandler(mock)
	c, w := newGinContext(http.MethodPost, "/api/v1/anomalies/an-1/resolve", nil)
	c.Params = gin.Params{{Key: "id", Value: "an-1"}}
	c.Set(middleware.ContextUserKey, teacherClaims())

	h.Resolve(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "teacher-1", mock.resolver)
	assert.Empty(t, mock.notes)

	c, w = newGinContext(http.MethodPost, "/api/v1/anomalies/an-1/dismiss", []byte(`{"reason":"twin siblings"}`))
	c.Params = gin.Params{{Key: "id", Value: "an-1"}}
	c.Set(middleware.ContextUserKey, teacherClaims())
	h.Dismiss(c)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "twin siblings", mock.notes)
}

func TestAnomalyHandlerGet(t *testing.T) {
	h := NewAnomalyHandler(&anomalyServiceMock{})
	c, w := newGinContext(http.MethodGet, "/api/v1/anomalies/an-7", nil)
	c.Params = gin.Params{{Key: "id", Value: "an-7"}}

	h.Get(c)
	require.Equal(t, http.StatusOK, w.Code)
	var anomaly models.Anomaly
	decodeEnvelope(t, w, &anomaly)
	assert.Equal(t, "an-7", anomaly.ID)

	h = NewAnomalyHandler(&anomalyServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "anomaly not found")})
	c, w = newGinContext(http.MethodGet, "/api/v1/anomalies/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}
	h.Get(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnomalyHandlerListFilters(t *testing.T) {
	mock := &anomalyServiceMock{}
	h := NewAnomalyHandler(mock)
	c, w := newGinContext(http.MethodGet, "/api/v1/anomalies?type=face_mismatch&severity=HIGH&is_resolved=false", nil)

	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.AnomalyFaceMismatch, mock.filter.AnomalyType)
	assert.Equal(t, models.SeverityHigh, mock.filter.Severity)
	require.NotNil(t, mock.filter.IsResolved)
	assert.False(t, *mock.filter.IsResolved)
}

type analyticsServiceMock struct {
	filter    models.CourseStatsFilter
	days      int
	courseID  string
	threshold float64
	err       error
}

func (m *analyticsServiceMock) CourseStats(ctx context.Context, filter models.CourseStatsFilter) (*models.CourseAttendanceStats, error) {
	m.filter = filter
	return &models.CourseAttendanceStats{CourseID: filter.CourseID, TotalSessions: 4}, m.err
}

func (m *analyticsServiceMock) Trends(ctx context.Context, days int, courseID string) (*models.AttendanceTrends, error) {
	m.days, m.courseID = days, courseID
	return &models.AttendanceTrends{Trends: []models.AttendanceTrendPoint{}}, m.err
}

func (m *analyticsServiceMock) RiskReport(ctx context.Context, courseID string, threshold float64) (*models.RiskReport, error) {
	m.courseID, m.threshold = courseID, threshold
	return &models.RiskReport{ThresholdPercentage: threshold, Students: []models.AtRiskStudent{}}, m.err
}

func TestAnalyticsHandlerCourseParsesDates(t *testing.T) {
	mock := &analyticsServiceMock{}
	h := NewAnalyticsHandler(mock)
	c, w := newGinContext(http.MethodGet, "/api/v1/analytics/courses/course-1?start_date=2026-02-01&end_date=2026-02-28", nil)
	c.Params = gin.Params{{Key: "id", Value: "course-1"}}

	h.Course(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "course-1", mock.filter.CourseID)
	require.NotNil(t, mock.filter.DateFrom)
	require.NotNil(t, mock.filter.DateTo)
	assert.Equal(t, "2026-02-28", mock.filter.DateTo.Format("2006-01-02"))

	c, w = newGinContext(http.MethodGet, "/api/v1/analytics/courses/course-1?start_date=01-02-2026", nil)
	c.Params = gin.Params{{Key: "id", Value: "course-1"}}
	h.Course(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyticsHandlerTrendsAndRiskQueries(t *testing.T) {
	mock := &analyticsServiceMock{}
	h := NewAnalyticsHandler(mock)

	c, w := newGinContext(http.MethodGet, "/api/v1/analytics/trends?days=14&course_id=course-9", nil)
	h.Trends(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 14, mock.days)
	assert.Equal(t, "course-9", mock.courseID)

	c, w = newGinContext(http.MethodGet, "/api/v1/analytics/trends?days=-3", nil)
	h.Trends(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newGinContext(http.MethodGet, "/api/v1/analytics/risk-report?threshold=80.5", nil)
	h.RiskReport(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 80.5, mock.threshold)

	c, w = newGinContext(http.MethodGet, "/api/v1/analytics/risk-report?threshold=high", nil)
	h.RiskReport(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsHandlerReady(t *testing.T) {
	h := NewMetricsHandler(service.NewMetricsService(), map[string]Pinger{
		"postgres": PingFunc(func(ctx context.Context) error { return nil }),
		"redis":    PingFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
	})
	c, w := newGinContext(http.MethodGet, "/ready", nil)
	h.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")

	h = NewMetricsHandler(nil, map[string]Pinger{"postgres": PingFunc(func(ctx context.Context) error { return nil })})
	c, w = newGinContext(http.MethodGet, "/ready", nil)
	h.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)

	c, w = newGinContext(http.MethodGet, "/metrics", nil)
	h.Prometheus(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
