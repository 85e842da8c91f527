package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/smartattend-api/internal/models"
)

const studentColumns = `id, roll_no, college_id, full_name, fingerprint_hash, webauthn_credential_id, webauthn_sign_count`

// StudentRepository reads the student directory and maintains the WebAuthn counter.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// FindByID returns a student by its ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByRollNo returns a student by roll number.
func (r *StudentRepository) FindByRollNo(ctx context.Context, rollNo string) (*models.Student, error) {
	query := `SELECT ` + studentColumns + ` FROM students WHERE roll_no = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, rollNo); err != nil {
		return nil, err
	}
	return &student, nil
}

// AdvanceSignCount stores count as the student's WebAuthn signature counter if it
// is larger than the stored one and returns the previous value. The row is locked
// for the duration so concurrent assertions observe a monotonic sequence.
func (r *StudentRepository) AdvanceSignCount(ctx context.Context, studentID string, count int64) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin sign count update: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var previous int64
	if err := tx.GetContext(ctx, &previous, `SELECT webauthn_sign_count FROM students WHERE id = $1 FOR UPDATE`, studentID); err != nil {
		return 0, fmt.Errorf("lock sign count: %w", err)
	}
	if count > previous {
		if _, err := tx.ExecContext(ctx, `UPDATE students SET webauthn_sign_count = $2 WHERE id = $1`, studentID, count); err != nil {
			return 0, fmt.Errorf("advance sign count: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sign count: %w", err)
	}
	committed = true
	return previous, nil
}
