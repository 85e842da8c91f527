package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/smartattend-api/internal/models"
)

// heldSession matches sessions that have taken place: activated at least once or
// dated before the reference day bound to the given placeholder.
const heldSession = "(s.activated_at IS NOT NULL OR s.session_date < $%d)"

// AnalyticsRepository exposes read-optimised aggregates over sessions and the ledger.
type AnalyticsRepository struct {
	db *sqlx.DB
}

// NewAnalyticsRepository instantiates the repository.
func NewAnalyticsRepository(db *sqlx.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

// CourseSessionRates returns every held session of a course with its present and late count.
func (r *AnalyticsRepository) CourseSessionRates(ctx context.Context, filter models.CourseStatsFilter, asOf time.Time) ([]models.SessionAttendanceRate, error) {
	var builder strings.Builder
	builder.WriteString(`SELECT s.id AS session_id, s.session_date,
        COUNT(a.id) FILTER (WHERE a.status IN ('present', 'late')) AS attended
        FROM sessions s
        LEFT JOIN attendances a ON a.session_id = s.id
        WHERE s.course_id = $1`)
	args := []interface{}{filter.CourseID, asOf}
	builder.WriteString(" AND " + fmt.Sprintf(heldSession, 2))
	if filter.DateFrom != nil {
		args = append(args, *filter.DateFrom)
		builder.WriteString(fmt.Sprintf(" AND s.session_date >= $%d", len(args)))
	}
	if filter.DateTo != nil {
		args = append(args, *filter.DateTo)
		builder.WriteString(fmt.Sprintf(" AND s.session_date <= $%d", len(args)))
	}
	builder.WriteString(" GROUP BY s.id, s.session_date ORDER BY s.session_date, s.id")

	var rates []models.SessionAttendanceRate
	if err := r.db.SelectContext(ctx, &rates, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("query course session rates: %w", err)
	}
	return rates, nil
}

// DailyTrend aggregates held sessions per day between from and to inclusive.
// Expected is the summed course enrollment of the day's sessions.
func (r *AnalyticsRepository) DailyTrend(ctx context.Context, from, to time.Time, courseID string) ([]models.AttendanceTrendRow, error) {
	var builder strings.Builder
	builder.WriteString(`SELECT s.session_date AS day,
        COUNT(*) AS sessions,
        COALESCE(SUM(a.attended), 0) AS attended,
        COALESCE(SUM(e.enrolled), 0) AS expected
        FROM sessions s
        LEFT JOIN (SELECT session_id, COUNT(*) FILTER (WHERE status IN ('present', 'late')) AS attended
            FROM attendances GROUP BY session_id) a ON a.session_id = s.id
        LEFT JOIN (SELECT course_id, COUNT(*) AS enrolled FROM enrollments GROUP BY course_id) e ON e.course_id = s.course_id
        WHERE s.session_date >= $1 AND s.session_date <= $2`)
	args := []interface{}{from, to}
	builder.WriteString(" AND " + fmt.Sprintf(heldSession, 2))
	if courseID != "" {
		args = append(args, courseID)
		builder.WriteString(fmt.Sprintf(" AND s.course_id = $%d", len(args)))
	}
	builder.WriteString(" GROUP BY s.session_date ORDER BY s.session_date")

	var rows []models.AttendanceTrendRow
	if err := r.db.SelectContext(ctx, &rows, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("query daily trend: %w", err)
	}
	return rows, nil
}

// StudentStandings returns counts and held sessions for every enrolled student,
// optionally scoped to one course.
func (r *AnalyticsRepository) StudentStandings(ctx context.Context, courseID string, asOf time.Time) ([]models.StudentStanding, error) {
	args := []interface{}{asOf}
	courseClause := ""
	if courseID != "" {
		args = append(args, courseID)
		courseClause = fmt.Sprintf(" AND e.course_id = $%d", len(args))
	}
	query := fmt.Sprintf(`SELECT st.id AS student_id, st.roll_no, st.full_name,
        COUNT(s.id) FILTER (WHERE %s) AS held,
        COUNT(a.id) FILTER (WHERE a.status = 'present') AS present,
        COUNT(a.id) FILTER (WHERE a.status = 'late') AS late,
        COUNT(a.id) FILTER (WHERE a.status = 'absent') AS absent,
        COUNT(a.id) FILTER (WHERE a.status = 'excused') AS excused
        FROM students st
        JOIN enrollments e ON e.student_id = st.id
        LEFT JOIN sessions s ON s.course_id = e.course_id
        LEFT JOIN attendances a ON a.session_id = s.id AND a.student_id = st.id
        WHERE 1=1%s
        GROUP BY st.id, st.roll_no, st.full_name
        ORDER BY st.roll_no`, fmt.Sprintf(heldSession, 1), courseClause)

	var standings []models.StudentStanding
	if err := r.db.SelectContext(ctx, &standings, query, args...); err != nil {
		return nil, fmt.Errorf("query student standings: %w", err)
	}
	return standings, nil
}
