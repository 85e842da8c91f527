package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/smartattend-api/internal/models"
	appErrors "github.com/noah-isme/smartattend-api/pkg/errors"
)

type sessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id string) (*models.Session, error)
	FindByCode(ctx context.Context, code string) (*models.Session, error)
	CodeInUse(ctx context.Context, code string) (bool, error)
	Activate(ctx context.Context, id, code string, at time.Time) error
	Deactivate(ctx context.Context, id string, at time.Time) error
	List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error)
	ListActiveOn(ctx context.Context, date time.Time, courseID string) ([]models.Session, error)
}

// SessionServiceConfig tunes session lifecycle behaviour.
type SessionServiceConfig struct {
	Location        *time.Location
	CodeMaxAttempts int
}

// SessionService drives sessions through scheduled, active and closed.
type SessionService struct {
	repo      sessionRepository
	codes     CodeGenerator
	clock     Clock
	validator *validator.Validate
	metrics   *MetricsService
	cache     *CacheService
	logger    *zap.Logger
	cfg       SessionServiceConfig
}

// NewSessionService constructs the lifecycle manager.
func NewSessionService(repo sessionRepository, codes CodeGenerator, clock Clock, validate *validator.Validate, metrics *MetricsService, cache *CacheService, logger *zap.Logger, cfg SessionServiceConfig) *SessionService {
	if codes == nil {
		codes = NewRandomCodeGenerator(nil)
	}
	if clock == nil {
		clock = NewSystemClock(cfg.Location)
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.CodeMaxAttempts <= 0 {
		cfg.CodeMaxAttempts = 10
	}
	return &SessionService{repo: repo, codes: codes, clock: clock, validator: validate, metrics: metrics, cache: cache, logger: logger, cfg: cfg}
}

// Create schedules a new session. Dates before today are rejected.
func (s *SessionService) Create(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	date, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(req.SessionDate), s.cfg.Location)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "session_date must be YYYY-MM-DD")
	}
	if date.Before(dateOnly(s.clock.Now(), s.cfg.Location)) {
		return nil, appErrors.ErrInvalidDate
	}
	start, err := models.ParseClock(req.StartTime)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "start_time must be HH:MM or HH:MM:SS")
	}
	end, err := models.ParseClock(req.EndTime)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_time must be HH:MM or HH:MM:SS")
	}
	if end <= start {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end_time must be after start_time")
	}

	session := &models.Session{
		CourseID:        req.CourseID,
		SessionDate:     date,
		StartTime:       models.ClockTime(models.FormatClock(start)),
		EndTime:         models.ClockTime(models.FormatClock(end)),
		RoomNo:          req.RoomNo,
		Building:        req.Building,
		TimetableID:     req.TimetableID,
		CreatedManually: req.TimetableID == nil || *req.TimetableID == "",
		CreatedAt:       s.clock.Now().UTC(),
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}
	s.logger.Info("session scheduled", zap.String("session_id", session.ID), zap.String("course_id", session.CourseID))
	return session, nil
}

// Get returns a session by ID.
func (s *SessionService) Get(ctx context.Context, id string) (*models.Session, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrSessionNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

// Activate opens the session for attendance and returns its code. An already
// active session keeps and returns its current code.
func (s *SessionService) Activate(ctx context.Context, id string) (*models.ActivationResult, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.IsActive && session.AttendanceCode != nil {
		result := &models.ActivationResult{SessionID: session.ID, AttendanceCode: *session.AttendanceCode}
		if session.ActivatedAt != nil {
			result.ActivatedAt = *session.ActivatedAt
		}
		return result, nil
	}

	now := s.clock.Now().UTC()
	for attempt := 1; attempt <= s.cfg.CodeMaxAttempts; attempt++ {
		code, err := s.codes.Generate()
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate attendance code")
		}
		inUse, err := s.repo.CodeInUse(ctx, code)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check attendance code")
		}
		if inUse {
			s.metrics.RecordCodeCollision()
			continue
		}
		err = s.repo.Activate(ctx, session.ID, code, now)
		switch {
		case err == nil:
			// Activation makes the session count as held for every enrolled student.
			s.cache.InvalidateSessionLifecycle(ctx, session.ID)
			s.logger.Info("session activated", zap.String("session_id", session.ID), zap.Int("attempts", attempt))
			return &models.ActivationResult{SessionID: session.ID, AttendanceCode: code, ActivatedAt: now}, nil
		case errors.Is(err, appErrors.ErrDuplicateRecord):
			s.metrics.RecordCodeCollision()
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.ErrSessionNotFound
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to activate session")
		}
	}
	s.logger.Error("attendance code space exhausted", zap.String("session_id", session.ID), zap.Int("attempts", s.cfg.CodeMaxAttempts))
	return nil, appErrors.ErrCodeExhausted
}

// Deactivate stops the session from accepting attendance. The code is kept for display.
func (s *SessionService) Deactivate(ctx context.Context, id string) (*models.Session, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if err := s.repo.Deactivate(ctx, id, s.clock.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrSessionNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate session")
	}
	s.logger.Info("session deactivated", zap.String("session_id", id))
	return s.Get(ctx, id)
}

// List returns sessions matching the filter.
func (s *SessionService) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, *models.Pagination, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	sessions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	return sessions, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// ListActive returns today's sessions that are taking attendance.
func (s *SessionService) ListActive(ctx context.Context, courseID string) ([]models.Session, error) {
	today := dateOnly(s.clock.Now(), s.cfg.Location)
	sessions, err := s.repo.ListActiveOn(ctx, today, courseID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list active sessions")
	}
	return sessions, nil
}

