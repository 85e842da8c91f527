package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/smartattend-api/internal/models"
)

const anomalyColumns = `id, student_id, session_id, anomaly_type, severity, reason, COALESCE(details, '{}'::jsonb) AS details,
        is_resolved, resolution_kind, resolved_by, resolution_notes, resolved_at, attempt_time, ip_address, device_info, created_at`

// AnomalyRepository is the append-mostly anomaly log.
type AnomalyRepository struct {
	db *sqlx.DB
}

// NewAnomalyRepository constructs the repository.
func NewAnomalyRepository(db *sqlx.DB) *AnomalyRepository {
	return &AnomalyRepository{db: db}
}

// Create appends an anomaly.
func (r *AnomalyRepository) Create(ctx context.Context, anomaly *models.Anomaly) error {
	if anomaly.ID == "" {
		anomaly.ID = uuid.NewString()
	}
	if anomaly.AttemptTime.IsZero() {
		anomaly.AttemptTime = time.Now().UTC()
	}
	if anomaly.CreatedAt.IsZero() {
		anomaly.CreatedAt = anomaly.AttemptTime
	}
	details := "{}"
	if len(anomaly.Details) > 0 {
		details = string(anomaly.Details)
	}
	const query = `INSERT INTO anomalies (id, student_id, session_id, anomaly_type, severity, reason, details,
        is_resolved, attempt_time, ip_address, device_info, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, FALSE, $8, $9, $10, $11)`
	if _, err := r.db.ExecContext(ctx, query,
		anomaly.ID, anomaly.StudentID, anomaly.SessionID, anomaly.AnomalyType, anomaly.Severity, anomaly.Reason, details,
		anomaly.AttemptTime, anomaly.IPAddress, anomaly.DeviceInfo, anomaly.CreatedAt,
	); err != nil {
		return fmt.Errorf("create anomaly: %w", err)
	}
	return nil
}

// FindByID returns an anomaly by its ID.
func (r *AnomalyRepository) FindByID(ctx context.Context, id string) (*models.Anomaly, error) {
	query := `SELECT ` + anomalyColumns + ` FROM anomalies WHERE id = $1`
	var anomaly models.Anomaly
	if err := r.db.GetContext(ctx, &anomaly, query, id); err != nil {
		return nil, err
	}
	return &anomaly, nil
}

// MarkResolved closes an unresolved anomaly. It returns sql.ErrNoRows when the
// anomaly is missing or already closed.
func (r *AnomalyRepository) MarkResolved(ctx context.Context, id string, kind models.ResolutionKind, resolvedBy string, notes *string, at time.Time) (*models.Anomaly, error) {
	query := `UPDATE anomalies SET is_resolved = TRUE, resolution_kind = $2, resolved_by = $3, resolution_notes = $4, resolved_at = $5
        WHERE id = $1 AND is_resolved = FALSE RETURNING ` + anomalyColumns
	var anomaly models.Anomaly
	if err := r.db.GetContext(ctx, &anomaly, query, id, kind, resolvedBy, notes, at); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("resolve anomaly: %w", err)
	}
	return &anomaly, nil
}

// CountRecent counts anomalies of one type for the pair logged at or after since.
func (r *AnomalyRepository) CountRecent(ctx context.Context, studentID, sessionID string, anomalyType models.AnomalyType, since time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM anomalies WHERE student_id = $1 AND session_id = $2 AND anomaly_type = $3 AND attempt_time >= $4`
	var total int
	if err := r.db.GetContext(ctx, &total, query, studentID, sessionID, anomalyType, since); err != nil {
		return 0, fmt.Errorf("count recent anomalies: %w", err)
	}
	return total, nil
}

// List returns anomalies newest first.
func (r *AnomalyRepository) List(ctx context.Context, filter models.AnomalyFilter) ([]models.Anomaly, int, error) {
	var conditions []string
	var args []interface{}
	add := func(expr string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(expr, len(args)))
	}
	if filter.StudentID != "" {
		add("student_id = $%d", filter.StudentID)
	}
	if filter.SessionID != "" {
		add("session_id = $%d", filter.SessionID)
	}
	if filter.AnomalyType != "" {
		add("anomaly_type = $%d", filter.AnomalyType)
	}
	if filter.Severity != "" {
		add("severity = $%d", filter.Severity)
	}
	if filter.IsResolved != nil {
		add("is_resolved = $%d", *filter.IsResolved)
	}
	if filter.From != nil {
		add("attempt_time >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("attempt_time <= $%d", *filter.To)
	}
	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}
	_, size, offset := normalisePage(filter.Page, filter.PageSize, 50, 200)

	query := fmt.Sprintf(`SELECT %s FROM anomalies%s ORDER BY attempt_time DESC LIMIT %d OFFSET %d`, anomalyColumns, clause, size, offset)
	var anomalies []models.Anomaly
	if err := r.db.SelectContext(ctx, &anomalies, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list anomalies: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM anomalies"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count anomalies: %w", err)
	}
	return anomalies, total, nil
}

type anomalyBucket struct {
	Key   string `db:"key"`
	Total int    `db:"total"`
}

// Stats aggregates the anomaly log. Recent24h counts anomalies attempted after since.
func (r *AnomalyRepository) Stats(ctx context.Context, since time.Time) (*models.AnomalyStats, error) {
	stats := &models.AnomalyStats{ByType: map[string]int{}, BySeverity: map[string]int{}}

	var totals struct {
		Total      int `db:"total"`
		Unresolved int `db:"unresolved"`
		Recent     int `db:"recent"`
	}
	const totalsQuery = `SELECT COUNT(*) AS total,
        COUNT(*) FILTER (WHERE is_resolved = FALSE) AS unresolved,
        COUNT(*) FILTER (WHERE attempt_time >= $1) AS recent
        FROM anomalies`
	if err := r.db.GetContext(ctx, &totals, totalsQuery, since); err != nil {
		return nil, fmt.Errorf("anomaly totals: %w", err)
	}
	stats.Total = totals.Total
	stats.Unresolved = totals.Unresolved
	stats.Resolved = totals.Total - totals.Unresolved
	stats.Recent24h = totals.Recent

	var byType []anomalyBucket
	if err := r.db.SelectContext(ctx, &byType, `SELECT anomaly_type AS key, COUNT(*) AS total FROM anomalies GROUP BY anomaly_type`); err != nil {
		return nil, fmt.Errorf("anomalies by type: %w", err)
	}
	for _, b := range byType {
		stats.ByType[b.Key] = b.Total
	}

	var bySeverity []anomalyBucket
	if err := r.db.SelectContext(ctx, &bySeverity, `SELECT severity AS key, COUNT(*) AS total FROM anomalies GROUP BY severity`); err != nil {
		return nil, fmt.Errorf("anomalies by severity: %w", err)
	}
	for _, b := range bySeverity {
		stats.BySeverity[b.Key] = b.Total
	}
	return stats, nil
}
