package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/smartattend-api/internal/models"
	appErrors "github.com/noah-isme/smartattend-api/pkg/errors"
)

type anomalyRepository interface {
	Create(ctx context.Context, anomaly *models.Anomaly) error
	FindByID(ctx context.Context, id string) (*models.Anomaly, error)
	MarkResolved(ctx context.Context, id string, kind models.ResolutionKind, resolvedBy string, notes *string, at time.Time) (*models.Anomaly, error)
	CountRecent(ctx context.Context, studentID, sessionID string, anomalyType models.AnomalyType, since time.Time) (int, error)
	List(ctx context.Context, filter models.AnomalyFilter) ([]models.Anomaly, int, error)
	Stats(ctx context.Context, since time.Time) (*models.AnomalyStats, error)
}

// AnomalyService owns the anomaly side-channel: engine writes and staff review.
type AnomalyService struct {
	repo    anomalyRepository
	clock   Clock
	metrics *MetricsService
	logger  *zap.Logger
}

// NewAnomalyService constructs the service.
func NewAnomalyService(repo anomalyRepository, clock Clock, metrics *MetricsService, logger *zap.Logger) *AnomalyService {
	if clock == nil {
		clock = NewSystemClock(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnomalyService{repo: repo, clock: clock, metrics: metrics, logger: logger}
}

// Log appends an anomaly stamped with the current attempt time.
func (s *AnomalyService) Log(ctx context.Context, input models.AnomalyInput) (*models.Anomaly, error) {
	if !input.Type.Valid() || !input.Severity.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown anomaly type or severity")
	}
	anomaly := &models.Anomaly{
		StudentID:   input.StudentID,
		SessionID:   input.SessionID,
		AnomalyType: input.Type,
		Severity:    input.Severity,
		Reason:      input.Reason,
		AttemptTime: s.clock.Now().UTC(),
		IPAddress:   input.IPAddress,
		DeviceInfo:  input.DeviceInfo,
	}
	if len(input.Details) > 0 {
		raw, err := json.Marshal(input.Details)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode anomaly details")
		}
		anomaly.Details = raw
	}
	if err := s.repo.Create(ctx, anomaly); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record anomaly")
	}
	s.metrics.RecordAnomaly(anomaly.AnomalyType, anomaly.Severity)
	s.logger.Warn("attendance anomaly recorded",
		zap.String("anomaly_id", anomaly.ID),
		zap.String("type", string(anomaly.AnomalyType)),
		zap.String("severity", string(anomaly.Severity)),
		zap.String("reason", anomaly.Reason),
	)
	return anomaly, nil
}

// CountRecent counts anomalies of one type for the pair within window of now.
func (s *AnomalyService) CountRecent(ctx context.Context, studentID, sessionID string, anomalyType models.AnomalyType, window time.Duration) (int, error) {
	since := s.clock.Now().Add(-window).UTC()
	count, err := s.repo.CountRecent(ctx, studentID, sessionID, anomalyType, since)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count anomalies")
	}
	return count, nil
}

// Resolve closes an anomaly after review. Closing a closed anomaly returns it unchanged.
func (s *AnomalyService) Resolve(ctx context.Context, id, resolverID, notes string) (*models.Anomaly, error) {
	return s.close(ctx, id, models.ResolutionResolved, resolverID, notes)
}

// Dismiss closes an anomaly as a false positive. Closing a closed anomaly returns it unchanged.
func (s *AnomalyService) Dismiss(ctx context.Context, id, resolverID, reason string) (*models.Anomaly, error) {
	return s.close(ctx, id, models.ResolutionDismissed, resolverID, reason)
}

func (s *AnomalyService) close(ctx context.Context, id string, kind models.ResolutionKind, resolverID, notes string) (*models.Anomaly, error) {
	if strings.TrimSpace(resolverID) == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "resolver identity is required")
	}
	var notesPtr *string
	if trimmed := strings.TrimSpace(notes); trimmed != "" {
		notesPtr = &trimmed
	}

	anomaly, err := s.repo.MarkResolved(ctx, id, kind, resolverID, notesPtr, s.clock.Now().UTC())
	if err == nil {
		s.logger.Info("anomaly closed", zap.String("anomaly_id", id), zap.String("kind", string(kind)), zap.String("resolved_by", resolverID))
		return anomaly, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to close anomaly")
	}

	return s.Get(ctx, id)
}

// Get returns one anomaly.
func (s *AnomalyService) Get(ctx context.Context, id string) (*models.Anomaly, error) {
	anomaly, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "anomaly not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load anomaly")
	}
	return anomaly, nil
}

// List returns anomalies matching the filter.
func (s *AnomalyService) List(ctx context.Context, filter models.AnomalyFilter) ([]models.Anomaly, *models.Pagination, error) {
	if filter.AnomalyType != "" && !filter.AnomalyType.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown anomaly type")
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown severity")
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 200 {
		filter.PageSize = 50
	}
	anomalies, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list anomalies")
	}
	return anomalies, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Stats aggregates the anomaly log; the recent bucket covers the last 24 hours.
func (s *AnomalyService) Stats(ctx context.Context) (*models.AnomalyStats, error) {
	stats, err := s.repo.Stats(ctx, s.clock.Now().Add(-24*time.Hour).UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load anomaly stats")
	}
	return stats, nil
}
