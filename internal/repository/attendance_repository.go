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

const attendanceColumns = `id, student_id, session_id, status, verification_method, face_confidence, fingerprint_match,
        qr_scanned, overall_confidence, marked_at, is_kiosk, device_info, ip_address, marked_by, updated_by, created_at, updated_at`

// AttendanceRepository is the attendance ledger. The (student_id, session_id)
// unique constraint is the final arbiter of the one-mark-per-session rule.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs the repository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// FindByStudentAndSession returns the existing mark for the pair.
func (r *AttendanceRepository) FindByStudentAndSession(ctx context.Context, studentID, sessionID string) (*models.Attendance, error) {
	query := `SELECT ` + attendanceColumns + ` FROM attendances WHERE student_id = $1 AND session_id = $2`
	var record models.Attendance
	if err := r.db.GetContext(ctx, &record, query, studentID, sessionID); err != nil {
		return nil, err
	}
	return &record, nil
}

// Insert commits a new mark. When the pair is already marked nothing is written
// and ErrDuplicateRecord is returned.
func (r *AttendanceRepository) Insert(ctx context.Context, record *models.Attendance) error {
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.MarkedAt.IsZero() {
		record.MarkedAt = now
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = record.CreatedAt
	const query = `INSERT INTO attendances (id, student_id, session_id, status, verification_method, face_confidence,
        fingerprint_match, qr_scanned, overall_confidence, marked_at, is_kiosk, device_info, ip_address, marked_by, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
        ON CONFLICT (student_id, session_id) DO NOTHING RETURNING id`
	var insertedID string
	err := r.db.QueryRowxContext(ctx, query,
		record.ID, record.StudentID, record.SessionID, record.Status, record.VerificationMethod, record.FaceConfidence,
		record.FingerprintMatch, record.QRScanned, record.OverallConfidence, record.MarkedAt, record.IsKiosk,
		record.DeviceInfo, record.IPAddress, record.MarkedBy, record.CreatedAt, record.UpdatedAt,
	).Scan(&insertedID)
	if err != nil {
		if err == sql.ErrNoRows || isUniqueViolation(err) {
			return fmt.Errorf("insert attendance for student %s session %s: %w", record.StudentID, record.SessionID, appErrors.ErrDuplicateRecord)
		}
		return fmt.Errorf("insert attendance: %w", err)
	}
	return nil
}

// UpdateStatus overrides the status of an existing mark in place.
func (r *AttendanceRepository) UpdateStatus(ctx context.Context, id string, status models.AttendanceStatus, updatedBy string, at time.Time) (*models.Attendance, error) {
	query := `UPDATE attendances SET status = $2, updated_by = $3, updated_at = $4 WHERE id = $1 RETURNING ` + attendanceColumns
	var record models.Attendance
	if err := r.db.GetContext(ctx, &record, query, id, status, updatedBy, at); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("update attendance status: %w", err)
	}
	return &record, nil
}

// CountByStatus aggregates the ledger for one session.
func (r *AttendanceRepository) CountByStatus(ctx context.Context, sessionID string) (*models.AttendanceStatusCounts, error) {
	const query = `SELECT
        COUNT(*) FILTER (WHERE status = 'present') AS present,
        COUNT(*) FILTER (WHERE status = 'late') AS late,
        COUNT(*) FILTER (WHERE status = 'absent') AS absent,
        COUNT(*) FILTER (WHERE status = 'excused') AS excused
        FROM attendances WHERE session_id = $1`
	var counts models.AttendanceStatusCounts
	if err := r.db.GetContext(ctx, &counts, query, sessionID); err != nil {
		return nil, fmt.Errorf("count session attendance: %w", err)
	}
	return &counts, nil
}

// StudentCounts aggregates a student's marks, optionally scoped to a course.
func (r *AttendanceRepository) StudentCounts(ctx context.Context, studentID, courseID string) (*models.AttendanceStatusCounts, error) {
	query := `SELECT
        COUNT(*) FILTER (WHERE a.status = 'present') AS present,
        COUNT(*) FILTER (WHERE a.status = 'late') AS late,
        COUNT(*) FILTER (WHERE a.status = 'absent') AS absent,
        COUNT(*) FILTER (WHERE a.status = 'excused') AS excused
        FROM attendances a JOIN sessions s ON s.id = a.session_id
        WHERE a.student_id = $1`
	args := []interface{}{studentID}
	if courseID != "" {
		query += " AND s.course_id = $2"
		args = append(args, courseID)
	}
	var counts models.AttendanceStatusCounts
	if err := r.db.GetContext(ctx, &counts, query, args...); err != nil {
		return nil, fmt.Errorf("count student attendance: %w", err)
	}
	return &counts, nil
}

// CountHeldSessions counts sessions of the student's enrolled courses that have
// taken place: activated at least once or dated before asOf.
func (r *AttendanceRepository) CountHeldSessions(ctx context.Context, studentID, courseID string, asOf time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM sessions s
        JOIN enrollments e ON e.course_id = s.course_id
        WHERE e.student_id = $1 AND (s.activated_at IS NOT NULL OR s.session_date < $2)`
	args := []interface{}{studentID, asOf}
	if courseID != "" {
		query += " AND s.course_id = $3"
		args = append(args, courseID)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, query, args...); err != nil {
		return 0, fmt.Errorf("count held sessions: %w", err)
	}
	return total, nil
}

// List returns attendance records with student metadata.
func (r *AttendanceRepository) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error) {
	base := `FROM attendances a
JOIN students st ON st.id = a.student_id
JOIN sessions s ON s.id = a.session_id`
	where := []string{"1=1"}
	var args []interface{}
	if filter.SessionID != "" {
		where = append(where, fmt.Sprintf("a.session_id = $%d", len(args)+1))
		args = append(args, filter.SessionID)
	}
	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("a.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.CourseID != "" {
		where = append(where, fmt.Sprintf("s.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != nil && filter.Status.Valid() {
		where = append(where, fmt.Sprintf("a.status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	whereClause := strings.Join(where, " AND ")
	_, size, offset := normalisePage(filter.Page, filter.PageSize, 50, 200)

	query := fmt.Sprintf(`SELECT a.id, a.student_id, a.session_id, a.status, a.verification_method, a.face_confidence,
        a.fingerprint_match, a.qr_scanned, a.overall_confidence, a.marked_at, a.is_kiosk, a.device_info, a.ip_address,
        a.marked_by, a.updated_by, a.created_at, a.updated_at, st.roll_no AS student_roll_no, st.full_name AS student_name
        %s WHERE %s ORDER BY a.marked_at DESC LIMIT %d OFFSET %d`, base, whereClause, size, offset)
	var rows []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list attendance: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause), args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance: %w", err)
	}
	return rows, total, nil
}

// SessionRoster lists every enrolled student of the session's course with their mark.
func (r *AttendanceRepository) SessionRoster(ctx context.Context, sessionID string) ([]models.SessionRosterRow, error) {
	const query = `SELECT st.id AS student_id, st.roll_no, st.full_name, a.status, a.verification_method, a.overall_confidence, a.marked_at
FROM sessions s
JOIN enrollments e ON e.course_id = s.course_id
JOIN students st ON st.id = e.student_id
LEFT JOIN attendances a ON a.session_id = s.id AND a.student_id = st.id
WHERE s.id = $1
ORDER BY st.roll_no`
	var rows []models.SessionRosterRow
	if err := r.db.SelectContext(ctx, &rows, query, sessionID); err != nil {
		return nil, fmt.Errorf("session roster: %w", err)
	}
	return rows, nil
}

// CountOtherStudentsFromIP counts distinct students other than studentID whose
// self-service mark for the session came from ip.
func (r *AttendanceRepository) CountOtherStudentsFromIP(ctx context.Context, sessionID, studentID, ip string) (int, error) {
	const query = `SELECT COUNT(DISTINCT student_id) FROM attendances
        WHERE session_id = $1 AND ip_address = $2 AND student_id <> $3 AND is_kiosk = FALSE`
	var total int
	if err := r.db.GetContext(ctx, &total, query, sessionID, ip, studentID); err != nil {
		return 0, fmt.Errorf("count shared ip marks: %w", err)
	}
	return total, nil
}
