package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/smartattend-api/internal/models"
)

func TestAnalyticsRepositoryCourseSessionRates(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAnalyticsRepository(db)
	asOf := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE s.course_id = $1 AND (s.activated_at IS NOT NULL OR s.session_date < $2) AND s.session_date >= $3 GROUP BY s.id")).
		WithArgs("course-1", asOf, from).
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "session_date", "attended"}).
			AddRow("sess-1", from, 8).
			AddRow("sess-2", from.AddDate(0, 0, 2), 6))

	rates, err := repo.CourseSessionRates(context.Background(), models.CourseStatsFilter{CourseID: "course-1", DateFrom: &from}, asOf)
	require.NoError(t, err)
	require.Len(t, rates, 2)
	assert.Equal(t, 6, rates[1].Attended)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalyticsRepositoryDailyTrend(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAnalyticsRepository(db)
	from := time.Date(2026, 2, 8, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE s.session_date >= $1 AND s.session_date <= $2 AND (s.activated_at IS NOT NULL OR s.session_date < $2) AND s.course_id = $3")).
		WithArgs(from, to, "course-1").
		WillReturnRows(sqlmock.NewRows([]string{"day", "sessions", "attended", "expected"}).
			AddRow(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), 2, 15, 20))

	rows, err := repo.DailyTrend(context.Background(), from, to, "course-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 20, rows[0].Expected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAnalyticsRepositoryStudentStandings(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAnalyticsRepository(db)
	asOf := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("COUNT(s.id) FILTER (WHERE (s.activated_at IS NOT NULL OR s.session_date < $1)) AS held")).
		WithArgs(asOf).
		WillReturnRows(sqlmock.NewRows([]string{"student_id", "roll_no", "full_name", "held", "present", "late", "absent", "excused"}).
			AddRow("stu-1", "CS-001", "Ada Lovelace", 10, 6, 1, 2, 1))

	standings, err := repo.StudentStandings(context.Background(), "", asOf)
	require.NoError(t, err)
	require.Len(t, standings, 1)
	assert.Equal(t, 10, standings[0].Held)
	assert.Equal(t, 6, standings[0].Present)
	assert.Equal(t, 1, standings[0].Excused)
	assert.NoError(t, mock.ExpectationsWereMet())
}
