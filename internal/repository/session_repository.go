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
	appErrors "github.com/noah-isme/smartattend-api/pkg/errors"
)

const sessionColumns = `id, course_id, session_date, start_time, end_time, room_no, building, timetable_id,
        is_active, attendance_code, created_manually, activated_at, deactivated_at, created_at, updated_at`

// SessionRepository persists class sessions and their attendance codes.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new scheduled session.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = session.CreatedAt
	const query = `INSERT INTO sessions (id, course_id, session_date, start_time, end_time, room_no, building, timetable_id,
        is_active, attendance_code, created_manually, created_at, updated_at)
        VALUES (:id, :course_id, :session_date, :start_time, :end_time, :room_no, :building, :timetable_id,
        :is_active, :attendance_code, :created_manually, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindByID returns a session by its ID.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// FindByCode resolves an attendance code. An active holder of the code wins over
// closed sessions that kept it for historical display.
func (r *SessionRepository) FindByCode(ctx context.Context, code string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE attendance_code = $1
        ORDER BY is_active DESC, activated_at DESC NULLS LAST LIMIT 1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, code); err != nil {
		return nil, err
	}
	return &session, nil
}

// CodeInUse checks whether an active session already holds the code.
func (r *SessionRepository) CodeInUse(ctx context.Context, code string) (bool, error) {
	const query = `SELECT 1 FROM sessions WHERE attendance_code = $1 AND is_active = TRUE LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, code); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check attendance code: %w", err)
	}
	return true, nil
}

// Activate marks the session active with the given code. A clash with another
// active session's code surfaces as ErrDuplicateRecord via the partial unique index.
func (r *SessionRepository) Activate(ctx context.Context, id, code string, at time.Time) error {
	const query = `UPDATE sessions SET is_active = TRUE, attendance_code = $2, activated_at = $3, deactivated_at = NULL, updated_at = $3
        WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, code, at)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("activate session: %w", appErrors.ErrDuplicateRecord)
		}
		return fmt.Errorf("activate session: %w", err)
	}
	return requireAffected(res, "activate session")
}

// Deactivate closes the session while retaining its code.
func (r *SessionRepository) Deactivate(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE sessions SET is_active = FALSE, deactivated_at = $2, updated_at = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("deactivate session: %w", err)
	}
	return requireAffected(res, "deactivate session")
}

// List returns sessions filtered by the provided criteria.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error) {
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("session_date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("session_date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	if filter.IsActive != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)+1))
		args = append(args, *filter.IsActive)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	_, size, offset := normalisePage(filter.Page, filter.PageSize, 20, 100)

	query := fmt.Sprintf(`SELECT %s FROM sessions%s ORDER BY session_date %s, start_time %s LIMIT %d OFFSET %d`,
		sessionColumns, clause, order, order, size, offset)
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM sessions"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	return sessions, total, nil
}

// ListActiveOn returns the sessions taking attendance on the given date.
func (r *SessionRepository) ListActiveOn(ctx context.Context, date time.Time, courseID string) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE is_active = TRUE AND session_date = $1`
	args := []interface{}{date}
	if courseID != "" {
		query += " AND course_id = $2"
		args = append(args, courseID)
	}
	query += " ORDER BY start_time"
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return sessions, nil
}

func requireAffected(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
