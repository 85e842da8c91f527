package service

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/smartattend-api/internal/models"
	appErrors "github.com/noah-isme/smartattend-api/pkg/errors"
	"github.com/noah-isme/smartattend-api/pkg/logger"
)

const (
	qrScanBonus               = 10.0
	fingerprintHashConfidence = 95.0
	webAuthnConfidence        = 98.0
	manualConfidence          = 100.0
)

type verificationSessionRepository interface {
	FindByID(ctx context.Context, id string) (*models.Session, error)
	FindByCode(ctx context.Context, code string) (*models.Session, error)
}

type studentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByRollNo(ctx context.Context, rollNo string) (*models.Student, error)
	AdvanceSignCount(ctx context.Context, studentID string, count int64) (int64, error)
}

type enrollmentRepository interface {
	Exists(ctx context.Context, courseID, studentID string) (bool, error)
}

type attendanceRepository interface {
	FindByStudentAndSession(ctx context.Context, studentID, sessionID string) (*models.Attendance, error)
	Insert(ctx context.Context, record *models.Attendance) error
	UpdateStatus(ctx context.Context, id string, status models.AttendanceStatus, updatedBy string, at time.Time) (*models.Attendance, error)
	CountOtherStudentsFromIP(ctx context.Context, sessionID, studentID, ip string) (int, error)
}

// VerificationConfig holds the attendance policy knobs.
type VerificationConfig struct {
	Location              *time.Location
	LateThreshold         time.Duration
	FaceConfidenceFloor   float64
	FaceHighSeverityBelow float64
	StrictSignCount       bool
	FailedAttemptLimit    int
	FailedAttemptWindow   time.Duration
}

func (c VerificationConfig) withDefaults() VerificationConfig {
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.LateThreshold <= 0 {
		c.LateThreshold = 15 * time.Minute
	}
	if c.FaceConfidenceFloor <= 0 {
		c.FaceConfidenceFloor = 70
	}
	if c.FaceHighSeverityBelow <= 0 {
		c.FaceHighSeverityBelow = 50
	}
	if c.FailedAttemptLimit <= 0 {
		c.FailedAttemptLimit = 3
	}
	if c.FailedAttemptWindow <= 0 {
		c.FailedAttemptWindow = 30 * time.Minute
	}
	return c
}

// VerificationService turns verification attempts into attendance marks.
type VerificationService struct {
	sessions    verificationSessionRepository
	students    studentRepository
	enrollments enrollmentRepository
	attendance  attendanceRepository
	anomalies   *AnomalyService
	cache       *CacheService
	metrics     *MetricsService
	clock       Clock
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         VerificationConfig
	locks       *keyedMutex
}

// NewVerificationService wires the engine.
func NewVerificationService(
	sessions verificationSessionRepository,
	students studentRepository,
	enrollments enrollmentRepository,
	attendance attendanceRepository,
	anomalies *AnomalyService,
	cache *CacheService,
	metrics *MetricsService,
	clock Clock,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg VerificationConfig,
) *VerificationService {
	cfg = cfg.withDefaults()
	if clock == nil {
		clock = NewSystemClock(cfg.Location)
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VerificationService{
		sessions:    sessions,
		students:    students,
		enrollments: enrollments,
		attendance:  attendance,
		anomalies:   anomalies,
		cache:       cache,
		metrics:     metrics,
		clock:       clock,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
		locks:       newKeyedMutex(),
	}
}

// attempt carries the resolved entities through the pipeline.
type attempt struct {
	input   models.VerificationInput
	session *models.Session
	student *models.Student
	log     *zap.Logger
}

func (a *attempt) studentID() *string { return &a.student.ID }

func (a *attempt) sessionID() *string { return &a.session.ID }

func (a *attempt) ip() *string { return optionalString(a.input.IPAddress) }

func (a *attempt) device() *string { return optionalString(a.input.DeviceInfo) }

// Submit runs one attempt through the pipeline. Structural rejections return a
// typed error; ledger-stage outcomes, including refusals, return an outcome.
func (s *VerificationService) Submit(ctx context.Context, input models.VerificationInput) (*models.VerificationOutcome, error) {
	started := time.Now()
	outcome, err := s.submit(ctx, input)
	var label string
	if err != nil {
		label = appErrors.FromError(err).Code
	} else {
		label = string(outcome.Code)
	}
	s.metrics.RecordVerification(input.Method, label, time.Since(started))
	return outcome, err
}

func (s *VerificationService) submit(ctx context.Context, input models.VerificationInput) (*models.VerificationOutcome, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	a := &attempt{input: input, log: logger.FromContext(ctx, s.logger)}

	session, err := s.resolveSession(ctx, input)
	if err != nil {
		return nil, err
	}
	a.session = session

	student, err := s.resolveStudent(ctx, input)
	if err != nil {
		return nil, err
	}
	if input.Caller.Role == models.RoleStudent && input.Caller.StudentID != student.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "students may only mark their own attendance")
	}
	a.student = student
	a.log = a.log.With(zap.String("session_id", session.ID), zap.String("student_id", student.ID), zap.String("method", string(input.Method)))

	if input.Method == models.VerificationMethodFingerprint {
		if err := verifyFingerprint(student, input); err != nil {
			return nil, err
		}
	}

	unlock := s.locks.Lock(student.ID + "|" + session.ID)
	defer unlock()

	existing, err := s.attendance.FindByStudentAndSession(ctx, student.ID, session.ID)
	switch {
	case err == nil:
		return s.alreadyMarked(ctx, a, existing), nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing attendance")
	}

	if input.Method == models.VerificationMethodFaceQR && *input.FaceConfidence < s.cfg.FaceConfidenceFloor {
		return s.faceMismatch(ctx, a), nil
	}

	enrolled, err := s.enrollments.Exists(ctx, session.CourseID, student.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.ErrNotEnrolled
	}

	var advisory *models.Anomaly
	if input.WebAuthn != nil && input.Method == models.VerificationMethodFingerprint {
		flagged, err := s.checkSignCount(ctx, a)
		if err != nil {
			return nil, err
		}
		if flagged != nil && s.cfg.StrictSignCount {
			return &models.VerificationOutcome{
				Code:          models.VerificationFailed,
				Student:       student.Summary(),
				Message:       "Authenticator counter did not advance; attendance was not recorded",
				AnomalyLogged: true,
				AnomalyID:     &flagged.ID,
			}, nil
		}
		advisory = flagged
	}

	now := s.clock.Now()
	var status models.AttendanceStatus
	if input.Method == models.VerificationMethodManual && input.Status != nil {
		status = *input.Status
	} else {
		status, err = s.statusAt(session, now)
		if err != nil {
			return nil, err
		}
	}

	record := s.buildRecord(a, status, now)
	if err := s.attendance.Insert(ctx, record); err != nil {
		if errors.Is(err, appErrors.ErrDuplicateRecord) {
			existing, findErr := s.attendance.FindByStudentAndSession(ctx, student.ID, session.ID)
			if findErr != nil {
				existing = nil
			}
			return s.alreadyMarked(ctx, a, existing), nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attendance")
	}
	s.cache.InvalidateAttendance(ctx, session.ID, student.ID)

	if advisory == nil {
		advisory = s.checkSharedDevice(ctx, a)
	}

	a.log.Info("attendance recorded",
		zap.String("attendance_id", record.ID),
		zap.String("status", string(status)),
		zap.Float64("overall_confidence", record.OverallConfidence),
	)
	outcome := &models.VerificationOutcome{
		Success:    true,
		Code:       models.VerificationSuccess,
		Status:     &record.Status,
		Attendance: record,
		Student:    student.Summary(),
		Message:    fmt.Sprintf("Attendance marked as %s", status),
	}
	if advisory != nil {
		outcome.AnomalyLogged = true
		outcome.AnomalyID = &advisory.ID
	}
	return outcome, nil
}

func (s *VerificationService) validateInput(input models.VerificationInput) error {
	if err := s.validator.Struct(input); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid verification payload")
	}
	switch input.Method {
	case models.VerificationMethodFaceQR:
		if input.FaceConfidence == nil {
			return appErrors.Clone(appErrors.ErrValidation, "face_confidence is required for face_qr")
		}
	case models.VerificationMethodFingerprint:
		if input.WebAuthn == nil && strings.TrimSpace(input.FingerprintToken) == "" {
			return appErrors.Clone(appErrors.ErrValidation, "fingerprint_token or webauthn assertion is required")
		}
	case models.VerificationMethodManual:
		if !input.Caller.Role.CanManageAttendance() {
			return appErrors.Clone(appErrors.ErrForbidden, "manual entry requires a teacher or administrator")
		}
		if strings.TrimSpace(input.SessionID) == "" {
			return appErrors.Clone(appErrors.ErrValidation, "session_id is required for manual entry")
		}
	}
	if input.Status != nil && input.Method != models.VerificationMethodManual {
		return appErrors.Clone(appErrors.ErrValidation, "status can only be assigned by manual entry")
	}
	if input.Method != models.VerificationMethodManual && strings.TrimSpace(input.SessionCode) == "" && strings.TrimSpace(input.SessionID) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "session_code is required")
	}
	if strings.TrimSpace(input.QRPayload) == "" && strings.TrimSpace(input.StudentID) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "qr_payload or student_id is required")
	}
	return nil
}

func (s *VerificationService) resolveSession(ctx context.Context, input models.VerificationInput) (*models.Session, error) {
	var (
		session *models.Session
		err     error
	)
	code := strings.ToUpper(strings.TrimSpace(input.SessionCode))
	if input.Method != models.VerificationMethodManual && code != "" {
		session, err = s.sessions.FindByCode(ctx, code)
	} else {
		session, err = s.sessions.FindByID(ctx, strings.TrimSpace(input.SessionID))
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrSessionNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve session")
	}
	if input.Method != models.VerificationMethodManual && !session.IsActive {
		return nil, appErrors.ErrSessionInactive
	}
	return session, nil
}

func (s *VerificationService) resolveStudent(ctx context.Context, input models.VerificationInput) (*models.Student, error) {
	var (
		student *models.Student
		err     error
	)
	if strings.TrimSpace(input.QRPayload) != "" {
		payload, parseErr := ParseQRPayload(input.QRPayload)
		if parseErr != nil {
			return nil, parseErr
		}
		student, err = s.students.FindByRollNo(ctx, payload.RollNo)
	} else {
		student, err = s.students.FindByID(ctx, strings.TrimSpace(input.StudentID))
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrStudentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student")
	}
	return student, nil
}

// verifyFingerprint matches the presented evidence against the enrolled template.
// Stored hashes in bcrypt form are compared with bcrypt, anything else by exact match.
func verifyFingerprint(student *models.Student, input models.VerificationInput) error {
	if input.WebAuthn != nil {
		if student.WebAuthnCredentialID == nil ||
			subtle.ConstantTimeCompare([]byte(*student.WebAuthnCredentialID), []byte(input.WebAuthn.CredentialID)) != 1 {
			return appErrors.ErrFingerprintNoMatch
		}
		return nil
	}
	if student.FingerprintHash == nil || *student.FingerprintHash == "" {
		return appErrors.Clone(appErrors.ErrFingerprintNoMatch, "no fingerprint enrolled for this student")
	}
	stored := *student.FingerprintHash
	presented := strings.TrimSpace(input.FingerprintToken)
	if strings.HasPrefix(stored, "$2") {
		if err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(presented)); err != nil {
			return appErrors.ErrFingerprintNoMatch
		}
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(presented)) != 1 {
		return appErrors.ErrFingerprintNoMatch
	}
	return nil
}

func (s *VerificationService) alreadyMarked(ctx context.Context, a *attempt, existing *models.Attendance) *models.VerificationOutcome {
	details := map[string]interface{}{"method": a.input.Method, "is_kiosk": a.input.IsKiosk}
	outcome := &models.VerificationOutcome{
		Code:    models.VerificationAlreadyMarked,
		Student: a.student.Summary(),
		Message: "Attendance already marked for this session",
	}
	if existing != nil {
		details["existing_attendance_id"] = existing.ID
		details["existing_status"] = existing.Status
		outcome.Attendance = existing
		outcome.Status = &existing.Status
	}
	s.logAnomaly(ctx, a, outcome, models.AnomalyInput{
		Type:     models.AnomalyDuplicateAttendance,
		Severity: models.SeverityMedium,
		Reason:   "Attendance already marked for this session",
		Details:  details,
	})
	return outcome
}

func (s *VerificationService) faceMismatch(ctx context.Context, a *attempt) *models.VerificationOutcome {
	confidence := *a.input.FaceConfidence
	severity := models.SeverityMedium
	if confidence < s.cfg.FaceHighSeverityBelow {
		severity = models.SeverityHigh
	}
	outcome := &models.VerificationOutcome{
		Code:    models.VerificationFailed,
		Student: a.student.Summary(),
		Message: fmt.Sprintf("Face verification failed (confidence %.1f%%)", confidence),
	}
	s.logAnomaly(ctx, a, outcome, models.AnomalyInput{
		Type:     models.AnomalyFaceMismatch,
		Severity: severity,
		Reason:   fmt.Sprintf("Face confidence %.1f below threshold %.0f", confidence, s.cfg.FaceConfidenceFloor),
		Details:  map[string]interface{}{"face_confidence": confidence, "qr_scanned": a.input.QRScanned, "is_kiosk": a.input.IsKiosk},
	})
	s.escalateRepeatedFailures(ctx, a)
	return outcome
}

// escalateRepeatedFailures adds one multiple_attempts anomaly per window once the
// failure count for the pair reaches the limit.
func (s *VerificationService) escalateRepeatedFailures(ctx context.Context, a *attempt) {
	failures, err := s.anomalies.CountRecent(ctx, a.student.ID, a.session.ID, models.AnomalyFaceMismatch, s.cfg.FailedAttemptWindow)
	if err != nil {
		a.log.Error("count failed attempts", zap.Error(err))
		return
	}
	if failures < s.cfg.FailedAttemptLimit {
		return
	}
	escalated, err := s.anomalies.CountRecent(ctx, a.student.ID, a.session.ID, models.AnomalyMultipleAttempts, s.cfg.FailedAttemptWindow)
	if err != nil {
		a.log.Error("count escalations", zap.Error(err))
		return
	}
	if escalated > 0 {
		return
	}
	s.logAnomaly(ctx, a, nil, models.AnomalyInput{
		Type:     models.AnomalyMultipleAttempts,
		Severity: models.SeverityHigh,
		Reason:   fmt.Sprintf("%d failed face verifications within %s", failures, s.cfg.FailedAttemptWindow),
		Details:  map[string]interface{}{"failed_attempts": failures, "window_minutes": s.cfg.FailedAttemptWindow.Minutes()},
	})
}

// checkSignCount advances the stored WebAuthn counter and flags a presented
// counter that did not increase. Authenticators reporting zero on both sides
// do not implement the counter.
func (s *VerificationService) checkSignCount(ctx context.Context, a *attempt) (*models.Anomaly, error) {
	presented := a.input.WebAuthn.SignCount
	previous, err := s.students.AdvanceSignCount(ctx, a.student.ID, presented)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update authenticator counter")
	}
	if presented > previous || (presented == 0 && previous == 0) {
		return nil, nil
	}
	return s.logAnomaly(ctx, a, nil, models.AnomalyInput{
		Type:     models.AnomalyProxySuspected,
		Severity: models.SeverityHigh,
		Reason:   "Authenticator signature counter did not increase",
		Details:  map[string]interface{}{"presented_sign_count": presented, "stored_sign_count": previous},
	}), nil
}

// checkSharedDevice flags a self-service mark made from an address another
// student already used for this session.
func (s *VerificationService) checkSharedDevice(ctx context.Context, a *attempt) *models.Anomaly {
	if a.input.IsKiosk || a.input.Method == models.VerificationMethodManual || a.input.IPAddress == "" {
		return nil
	}
	others, err := s.attendance.CountOtherStudentsFromIP(ctx, a.session.ID, a.student.ID, a.input.IPAddress)
	if err != nil {
		a.log.Warn("shared device check failed", zap.Error(err))
		return nil
	}
	if others == 0 {
		return nil
	}
	return s.logAnomaly(ctx, a, nil, models.AnomalyInput{
		Type:     models.AnomalyProxySuspected,
		Severity: models.SeverityMedium,
		Reason:   "Another student marked this session from the same address",
		Details:  map[string]interface{}{"other_students": others},
	})
}

// logAnomaly records the anomaly and reflects it on outcome when one is given.
// A failed write is logged and leaves anomaly_logged false.
func (s *VerificationService) logAnomaly(ctx context.Context, a *attempt, outcome *models.VerificationOutcome, input models.AnomalyInput) *models.Anomaly {
	input.StudentID = a.studentID()
	input.SessionID = a.sessionID()
	input.IPAddress = a.ip()
	input.DeviceInfo = a.device()
	anomaly, err := s.anomalies.Log(ctx, input)
	if err != nil {
		a.log.Error("record anomaly", zap.String("type", string(input.Type)), zap.Error(err))
		return nil
	}
	if outcome != nil {
		outcome.AnomalyLogged = true
		outcome.AnomalyID = &anomaly.ID
	}
	return anomaly
}

// statusAt is late iff now is strictly after session start plus the threshold.
func (s *VerificationService) statusAt(session *models.Session, now time.Time) (models.AttendanceStatus, error) {
	start, err := session.StartsAt(s.cfg.Location)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "session has an invalid start time")
	}
	if now.After(start.Add(s.cfg.LateThreshold)) {
		return models.AttendanceStatusLate, nil
	}
	return models.AttendanceStatusPresent, nil
}

func (s *VerificationService) buildRecord(a *attempt, status models.AttendanceStatus, now time.Time) *models.Attendance {
	input := a.input
	record := &models.Attendance{
		StudentID:          a.student.ID,
		SessionID:          a.session.ID,
		Status:             status,
		VerificationMethod: input.Method,
		MarkedAt:           now.UTC(),
		CreatedAt:          now.UTC(),
		IsKiosk:            input.IsKiosk,
		DeviceInfo:         a.device(),
		IPAddress:          a.ip(),
		OverallConfidence:  overallConfidence(input),
	}
	switch input.Method {
	case models.VerificationMethodFaceQR:
		face := *input.FaceConfidence
		scanned := input.QRScanned
		record.FaceConfidence = &face
		record.QRScanned = &scanned
	case models.VerificationMethodFingerprint:
		matched := true
		record.FingerprintMatch = &matched
	case models.VerificationMethodManual:
		record.MarkedBy = optionalString(input.Caller.UserID)
	}
	return record
}

// overallConfidence scores the evidence on a 0 to 100 scale.
func overallConfidence(input models.VerificationInput) float64 {
	switch input.Method {
	case models.VerificationMethodFaceQR:
		score := *input.FaceConfidence
		if input.QRScanned {
			score += qrScanBonus
		}
		return math.Min(score, 100)
	case models.VerificationMethodFingerprint:
		if input.WebAuthn != nil {
			return webAuthnConfidence
		}
		return fingerprintHashConfidence
	default:
		return manualConfidence
	}
}

// UpdateStatus overrides the status of an existing mark. It never creates a record.
func (s *VerificationService) UpdateStatus(ctx context.Context, attendanceID string, req models.UpdateAttendanceStatusRequest, caller models.Caller) (*models.Attendance, error) {
	if !caller.Role.CanManageAttendance() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers and administrators can change attendance")
	}
	status, ok := models.ParseAttendanceStatus(req.Status)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "status must be one of present, late, absent, excused")
	}
	record, err := s.attendance.UpdateStatus(ctx, attendanceID, status, caller.UserID, s.clock.Now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update attendance")
	}
	s.cache.InvalidateAttendance(ctx, record.SessionID, record.StudentID)
	logger.FromContext(ctx, s.logger).Info("attendance status overridden",
		zap.String("attendance_id", record.ID),
		zap.String("status", string(status)),
		zap.String("updated_by", caller.UserID),
	)
	return record, nil
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
