package models

import (
	"strings"
	"time"
)

// AttendanceStatus represents the status for attendance records.
type AttendanceStatus string

const (
	AttendanceStatusPresent AttendanceStatus = "present"
	AttendanceStatusLate    AttendanceStatus = "late"
	AttendanceStatusAbsent  AttendanceStatus = "absent"
	AttendanceStatusExcused AttendanceStatus = "excused"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case AttendanceStatusPresent, AttendanceStatusLate, AttendanceStatusAbsent, AttendanceStatusExcused:
		return true
	default:
		return false
	}
}

// Attended reports whether the status counts towards attendance percentage.
func (s AttendanceStatus) Attended() bool {
	return s == AttendanceStatusPresent || s == AttendanceStatusLate
}

// ParseAttendanceStatus normalises user input into a status.
func ParseAttendanceStatus(raw string) (AttendanceStatus, bool) {
	status := AttendanceStatus(strings.ToLower(strings.TrimSpace(raw)))
	return status, status.Valid()
}

// VerificationMethod is the evidence channel used for an attempt.
type VerificationMethod string

const (
	VerificationMethodFaceQR      VerificationMethod = "face_qr"
	VerificationMethodFingerprint VerificationMethod = "fingerprint"
	VerificationMethodManual      VerificationMethod = "manual"
)

// Valid returns true when the method is a supported value.
func (m VerificationMethod) Valid() bool {
	switch m {
	case VerificationMethodFaceQR, VerificationMethodFingerprint, VerificationMethodManual:
		return true
	default:
		return false
	}
}

// Attendance is one committed verification outcome. At most one row exists per
// (student_id, session_id).
type Attendance struct {
	ID                 string             `db:"id" json:"id"`
	StudentID          string             `db:"student_id" json:"student_id"`
	SessionID          string             `db:"session_id" json:"session_id"`
	Status             AttendanceStatus   `db:"status" json:"status"`
	VerificationMethod VerificationMethod `db:"verification_method" json:"verification_method"`
	FaceConfidence     *float64           `db:"face_confidence" json:"face_confidence,omitempty"`
	FingerprintMatch   *bool              `db:"fingerprint_match" json:"fingerprint_match,omitempty"`
	QRScanned          *bool              `db:"qr_scanned" json:"qr_scanned,omitempty"`
	OverallConfidence  float64            `db:"overall_confidence" json:"overall_confidence"`
	MarkedAt           time.Time          `db:"marked_at" json:"marked_at"`
	IsKiosk            bool               `db:"is_kiosk" json:"is_kiosk"`
	DeviceInfo         *string            `db:"device_info" json:"device_info,omitempty"`
	IPAddress          *string            `db:"ip_address" json:"ip_address,omitempty"`
	MarkedBy           *string            `db:"marked_by" json:"marked_by,omitempty"`
	UpdatedBy          *string            `db:"updated_by" json:"updated_by,omitempty"`
	CreatedAt          time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time          `db:"updated_at" json:"updated_at"`
}

// AttendanceRecord extends the attendance row with student metadata.
type AttendanceRecord struct {
	Attendance
	StudentRollNo string `db:"student_roll_no" json:"student_roll_no"`
	StudentName   string `db:"student_name" json:"student_name"`
}

// AttendanceFilter scopes attendance listings.
type AttendanceFilter struct {
	SessionID string
	StudentID string
	CourseID  string
	Status    *AttendanceStatus
	Page      int
	PageSize  int
}

// AttendanceStatusCounts aggregates ledger rows per status.
type AttendanceStatusCounts struct {
	Present int `db:"present" json:"present"`
	Late    int `db:"late" json:"late"`
	Absent  int `db:"absent" json:"absent"`
	Excused int `db:"excused" json:"excused"`
}

// SessionSummary is the roll-up for one session.
type SessionSummary struct {
	SessionID      string  `json:"session_id"`
	TotalEnrolled  int     `json:"total_enrolled"`
	Present        int     `json:"present"`
	Late           int     `json:"late"`
	Absent         int     `json:"absent"`
	Excused        int     `json:"excused"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// StudentAttendanceReport summarises a student's attendance.
type StudentAttendanceReport struct {
	StudentID     string  `json:"student_id"`
	CourseID      string  `json:"course_id,omitempty"`
	TotalSessions int     `json:"total_sessions"`
	Present       int     `json:"present"`
	Late          int     `json:"late"`
	Excused       int     `json:"excused"`
	Absent        int     `json:"absent"`
	Attended      int     `json:"attended"`
	Percentage    float64 `json:"percentage"`
	RiskLevel     string  `json:"risk_level"`
}

// SessionRosterRow is one enrolled student with their mark, if any.
type SessionRosterRow struct {
	StudentID          string              `db:"student_id" json:"student_id"`
	RollNo             string              `db:"roll_no" json:"roll_no"`
	FullName           string              `db:"full_name" json:"full_name"`
	Status             *AttendanceStatus   `db:"status" json:"status,omitempty"`
	VerificationMethod *VerificationMethod `db:"verification_method" json:"verification_method,omitempty"`
	OverallConfidence  *float64            `db:"overall_confidence" json:"overall_confidence,omitempty"`
	MarkedAt           *time.Time          `db:"marked_at" json:"marked_at,omitempty"`
}
