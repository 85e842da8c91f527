package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/smartattend-api/internal/models"
	appErrors "github.com/noah-isme/smartattend-api/pkg/errors"
)

func TestAttendanceRepositoryInsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAttendanceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (student_id, session_id) DO NOTHING RETURNING id")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("att-1"))

	record := &models.Attendance{StudentID: "stu-1", SessionID: "sess-1", Status: models.AttendanceStatusPresent,
		VerificationMethod: models.VerificationMethodFaceQR, OverallConfidence: 95}
	require.NoError(t, repo.Insert(context.Background(), record))
	assert.NotEmpty(t, record.ID)
	assert.False(t, record.MarkedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRepositoryInsertConflict(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAttendanceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (student_id, session_id) DO NOTHING")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := repo.Insert(context.Background(), &models.Attendance{StudentID: "stu-1", SessionID: "sess-1"})
	assert.ErrorIs(t, err, appErrors.ErrDuplicateRecord)
}

func TestAttendanceRepositoryCountByStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAttendanceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM attendances WHERE session_id = $1")).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"present", "late", "absent", "excused"}).AddRow(7, 1, 0, 1))

	counts, err := repo.CountByStatus(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusCounts{Present: 7, Late: 1, Excused: 1}, *counts)
}

func TestAttendanceRepositoryUpdateStatusMissing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAttendanceRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE attendances SET status = $2")).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.UpdateStatus(context.Background(), "att-x", models.AttendanceStatusExcused, "teacher-1", time.Now())
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestAttendanceRepositoryCountHeldSessionsScopedToCourse(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAttendanceRepository(db)
	asOf := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("AND s.course_id = $3")).
		WithArgs("stu-1", asOf, "course-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	total, err := repo.CountHeldSessions(context.Background(), "stu-1", "course-1", asOf)
	require.NoError(t, err)
	assert.Equal(t, 12, total)
}

func TestAttendanceRepositorySessionRoster(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAttendanceRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("LEFT JOIN attendances a ON a.session_id = s.id AND a.student_id = st.id")).
		WithArgs("sess-1").
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "roll_no", "full_name", "status", "verification_method", "overall_confidence", "marked_at"}).
			AddRow("stu-1", "CS-1", "Ada", "present", "face_qr", 92.0, now).
			AddRow("stu-2", "CS-2", "Brian", nil, nil, nil, nil))

	rows, err := repo.SessionRoster(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[1].Status)
	require.NotNil(t, rows[0].Status)
	assert.Equal(t, models.AttendanceStatusPresent, *rows[0].Status)
}
