package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/smartattend-api/internal/models"
	appErrors "github.com/noah-isme/smartattend-api/pkg/errors"
)

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	// activateErrs is consumed one entry per Activate call before the write happens.
	activateErrs []error
}

func newMemSessionRepo(sessions ...*models.Session) *memSessionRepo {
	repo := &memSessionRepo{sessions: map[string]*models.Session{}}
	for _, s := range sessions {
		repo.sessions[s.ID] = s
	}
	return repo
}

func (r *memSessionRepo) Create(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	clone := *session
	r.sessions[session.ID] = &clone
	return nil
}

func (r *memSessionRepo) FindByID(ctx context.Context, id string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *s
	return &clone, nil
}

func (r *memSessionRepo) FindByCode(ctx context.Context, code string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *models.Session
	for _, s := range r.sessions {
		if s.AttendanceCode == nil || *s.AttendanceCode != code {
			continue
		}
		if found == nil || (s.IsActive && !found.IsActive) {
			found = s
		}
	}
	if found == nil {
		return nil, sql.ErrNoRows
	}
	clone := *found
	return &clone, nil
}

func (r *memSessionRepo) CodeInUse(ctx context.Context, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.codeInUseLocked(code), nil
}

func (r *memSessionRepo) codeInUseLocked(code string) bool {
	for _, s := range r.sessions {
		if s.IsActive && s.AttendanceCode != nil && *s.AttendanceCode == code {
			return true
		}
	}
	return false
}

func (r *memSessionRepo) Activate(ctx context.Context, id, code string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.activateErrs) > 0 {
		err := r.activateErrs[0]
		r.activateErrs = r.activateErrs[1:]
		if err != nil {
			return err
		}
	}
	s, ok := r.sessions[id]
	if !ok {
		return sql.ErrNoRows
	}
	if r.codeInUseLocked(code) {
		return fmt.Errorf("activate session: %w", appErrors.ErrDuplicateRecord)
	}
	s.IsActive = true
	s.AttendanceCode = &code
	s.ActivatedAt = &at
	s.DeactivatedAt = nil
	return nil
}

func (r *memSessionRepo) Deactivate(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.IsActive = false
	s.DeactivatedAt = &at
	return nil
}

func (r *memSessionRepo) List(ctx context.Context, filter models.SessionFilter) ([]models.Session, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Session
	for _, s := range r.sessions {
		if filter.CourseID != "" && s.CourseID != filter.CourseID {
			continue
		}
		if filter.IsActive != nil && s.IsActive != *filter.IsActive {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (r *memSessionRepo) ListActiveOn(ctx context.Context, date time.Time, courseID string) ([]models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Session
	for _, s := range r.sessions {
		if !s.IsActive || s.SessionDate.Format("2006-01-02") != date.Format("2006-01-02") {
			continue
		}
		if courseID != "" && s.CourseID != courseID {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

type memStudentRepo struct {
	mu       sync.Mutex
	students map[string]*models.Student
}

func newMemStudentRepo(students ...*models.Student) *memStudentRepo {
	repo := &memStudentRepo{students: map[string]*models.Student{}}
	for _, s := range students {
		repo.students[s.ID] = s
	}
	return repo
}

func (r *memStudentRepo) FindByID(ctx context.Context, id string) (*models.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *s
	return &clone, nil
}

func (r *memStudentRepo) FindByRollNo(ctx context.Context, rollNo string) (*models.Student, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.students {
		if s.RollNo == rollNo {
			clone := *s
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *memStudentRepo) AdvanceSignCount(ctx context.Context, studentID string, count int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.students[studentID]
	if !ok {
		return 0, sql.ErrNoRows
	}
	previous := s.WebAuthnSignCount
	if count > previous {
		s.WebAuthnSignCount = count
	}
	return previous, nil
}

type memEnrollmentRepo struct {
	members map[string]map[string]bool
}

func newMemEnrollmentRepo() *memEnrollmentRepo {
	return &memEnrollmentRepo{members: map[string]map[string]bool{}}
}

func (r *memEnrollmentRepo) enroll(courseID string, studentIDs ...string) {
	if r.members[courseID] == nil {
		r.members[courseID] = map[string]bool{}
	}
	for _, id := range studentIDs {
		r.members[courseID][id] = true
	}
}

func (r *memEnrollmentRepo) Exists(ctx context.Context, courseID, studentID string) (bool, error) {
	return r.members[courseID][studentID], nil
}

func (r *memEnrollmentRepo) CountByCourse(ctx context.Context, courseID string) (int, error) {
	return len(r.members[courseID]), nil
}

type memAttendanceRepo struct {
	mu      sync.Mutex
	records map[string]*models.Attendance
	// raceOnInsert makes the next Insert observe a concurrent winner.
	raceOnInsert *models.Attendance
	held         int
}

func newMemAttendanceRepo() *memAttendanceRepo {
	return &memAttendanceRepo{records: map[string]*models.Attendance{}}
}

func (r *memAttendanceRepo) find(studentID, sessionID string) *models.Attendance {
	for _, rec := range r.records {
		if rec.StudentID == studentID && rec.SessionID == sessionID {
			return rec
		}
	}
	return nil
}

func (r *memAttendanceRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *memAttendanceRepo) FindByStudentAndSession(ctx context.Context, studentID, sessionID string) (*models.Attendance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.find(studentID, sessionID)
	if rec == nil {
		return nil, sql.ErrNoRows
	}
	clone := *rec
	return &clone, nil
}

func (r *memAttendanceRepo) Insert(ctx context.Context, record *models.Attendance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.raceOnInsert != nil {
		winner := r.raceOnInsert
		r.raceOnInsert = nil
		r.records[winner.ID] = winner
	}
	if r.find(record.StudentID, record.SessionID) != nil {
		return fmt.Errorf("insert attendance: %w", appErrors.ErrDuplicateRecord)
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	clone := *record
	r.records[record.ID] = &clone
	return nil
}

func (r *memAttendanceRepo) UpdateStatus(ctx context.Context, id string, status models.AttendanceStatus, updatedBy string, at time.Time) (*models.Attendance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	rec.Status = status
	rec.UpdatedBy = &updatedBy
	rec.UpdatedAt = at
	clone := *rec
	return &clone, nil
}

func (r *memAttendanceRepo) CountOtherStudentsFromIP(ctx context.Context, sessionID, studentID, ip string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	for _, rec := range r.records {
		if rec.SessionID == sessionID && rec.StudentID != studentID && !rec.IsKiosk && rec.IPAddress != nil && *rec.IPAddress == ip {
			seen[rec.StudentID] = true
		}
	}
	return len(seen), nil
}

func (r *memAttendanceRepo) CountByStatus(ctx context.Context, sessionID string) (*models.AttendanceStatusCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := &models.AttendanceStatusCounts{}
	for _, rec := range r.records {
		if rec.SessionID == sessionID {
			addCount(counts, rec.Status)
		}
	}
	return counts, nil
}

func (r *memAttendanceRepo) StudentCounts(ctx context.Context, studentID, courseID string) (*models.AttendanceStatusCounts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := &models.AttendanceStatusCounts{}
	for _, rec := range r.records {
		if rec.StudentID == studentID {
			addCount(counts, rec.Status)
		}
	}
	return counts, nil
}

func (r *memAttendanceRepo) CountHeldSessions(ctx context.Context, studentID, courseID string, asOf time.Time) (int, error) {
	return r.held, nil
}

func (r *memAttendanceRepo) List(ctx context.Context, filter models.AttendanceFilter) ([]models.AttendanceRecord, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.AttendanceRecord
	for _, rec := range r.records {
		if filter.SessionID != "" && rec.SessionID != filter.SessionID {
			continue
		}
		if filter.StudentID != "" && rec.StudentID != filter.StudentID {
			continue
		}
		out = append(out, models.AttendanceRecord{Attendance: *rec})
	}
	return out, len(out), nil
}

func (r *memAttendanceRepo) SessionRoster(ctx context.Context, sessionID string) ([]models.SessionRosterRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var rows []models.SessionRosterRow
	for _, rec := range r.records {
		if rec.SessionID != sessionID {
			continue
		}
		status := rec.Status
		method := rec.VerificationMethod
		confidence := rec.OverallConfidence
		markedAt := rec.MarkedAt
		rows = append(rows, models.SessionRosterRow{StudentID: rec.StudentID, RollNo: rec.StudentID, FullName: "Student " + rec.StudentID,
			Status: &status, VerificationMethod: &method, OverallConfidence: &confidence, MarkedAt: &markedAt})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].RollNo < rows[j].RollNo })
	return rows, nil
}

func addCount(counts *models.AttendanceStatusCounts, status models.AttendanceStatus) {
	switch status {
	case models.AttendanceStatusPresent:
		counts.Present++
	case models.AttendanceStatusLate:
		counts.Late++
	case models.AttendanceStatusAbsent:
		counts.Absent++
	case models.AttendanceStatusExcused:
		counts.Excused++
	}
}

type memAnomalyRepo struct {
	mu        sync.Mutex
	anomalies []*models.Anomaly
	createErr error
}

func (r *memAnomalyRepo) Create(ctx context.Context, anomaly *models.Anomaly) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if anomaly.ID == "" {
		anomaly.ID = uuid.NewString()
	}
	clone := *anomaly
	r.anomalies = append(r.anomalies, &clone)
	return nil
}

func (r *memAnomalyRepo) FindByID(ctx context.Context, id string) (*models.Anomaly, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.anomalies {
		if a.ID == id {
			clone := *a
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *memAnomalyRepo) MarkResolved(ctx context.Context, id string, kind models.ResolutionKind, resolvedBy string, notes *string, at time.Time) (*models.Anomaly, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.anomalies {
		if a.ID == id && !a.IsResolved {
			a.IsResolved = true
			a.ResolutionKind = &kind
			a.ResolvedBy = &resolvedBy
			a.ResolutionNotes = notes
			a.ResolvedAt = &at
			clone := *a
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (r *memAnomalyRepo) CountRecent(ctx context.Context, studentID, sessionID string, anomalyType models.AnomalyType, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, a := range r.anomalies {
		if a.AnomalyType != anomalyType || a.AttemptTime.Before(since) {
			continue
		}
		if a.StudentID == nil || *a.StudentID != studentID || a.SessionID == nil || *a.SessionID != sessionID {
			continue
		}
		count++
	}
	return count, nil
}

func (r *memAnomalyRepo) List(ctx context.Context, filter models.AnomalyFilter) ([]models.Anomaly, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Anomaly
	for _, a := range r.anomalies {
		if filter.AnomalyType != "" && a.AnomalyType != filter.AnomalyType {
			continue
		}
		out = append(out, *a)
	}
	return out, len(out), nil
}

func (r *memAnomalyRepo) Stats(ctx context.Context, since time.Time) (*models.AnomalyStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &models.AnomalyStats{ByType: map[string]int{}, BySeverity: map[string]int{}}
	for _, a := range r.anomalies {
		stats.Total++
		if a.IsResolved {
			stats.Resolved++
		} else {
			stats.Unresolved++
		}
		stats.ByType[string(a.AnomalyType)]++
		stats.BySeverity[string(a.Severity)]++
		if !a.AttemptTime.Before(since) {
			stats.Recent24h++
		}
	}
	return stats, nil
}

func (r *memAnomalyRepo) ofType(t models.AnomalyType) []*models.Anomaly {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Anomaly
	for _, a := range r.anomalies {
		if a.AnomalyType == t {
			out = append(out, a)
		}
	}
	return out
}

func (r *memAnomalyRepo) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.anomalies)
}

type memCacheRepo struct {
	mu      sync.Mutex
	values  map[string]interface{}
	deleted []string
}

func newMemCacheRepo() *memCacheRepo {
	return &memCacheRepo{values: map[string]interface{}{}}
}

func (r *memCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	switch d := dest.(type) {
	case *models.SessionSummary:
		*d = v.(models.SessionSummary)
	case *models.StudentAttendanceReport:
		*d = v.(models.StudentAttendanceReport)
	case *models.CourseAttendanceStats:
		*d = v.(models.CourseAttendanceStats)
	case *models.AttendanceTrends:
		*d = v.(models.AttendanceTrends)
	case *models.RiskReport:
		*d = v.(models.RiskReport)
	default:
		return fmt.Errorf("unsupported cache destination %T", dest)
	}
	return nil
}

func (r *memCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = value
	return nil
}

func (r *memCacheRepo) Delete(ctx context.Context, keys ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		delete(r.values, k)
		r.deleted = append(r.deleted, k)
	}
	return nil
}

func (r *memCacheRepo) DeleteByPattern(ctx context.Context, pattern string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, pattern)
	prefix := pattern
	if n := len(prefix); n > 0 && prefix[n-1] == '*' {
		prefix = prefix[:n-1]
	}
	for k := range r.values {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(r.values, k)
		}
	}
	return nil
}

// scriptedCodes returns the given codes in order, then repeats the last one.
type scriptedCodes struct {
	mu    sync.Mutex
	codes []string
	calls int
}

func (g *scriptedCodes) Generate() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if len(g.codes) == 0 {
		return "", fmt.Errorf("no codes scripted")
	}
	code := g.codes[0]
	if len(g.codes) > 1 {
		g.codes = g.codes[1:]
	}
	return code, nil
}
