package models

import "time"

// SessionAttendanceRate is one held session of a course with its attended count.
type SessionAttendanceRate struct {
	SessionID   string    `db:"session_id" json:"session_id"`
	SessionDate time.Time `db:"session_date" json:"session_date"`
	Attended    int       `db:"attended" json:"attended"`
}

// CourseStatsFilter scopes course analytics.
type CourseStatsFilter struct {
	CourseID string
	DateFrom *time.Time
	DateTo   *time.Time
}

// CourseAttendanceStats rolls a course's held sessions up against its enrollment.
type CourseAttendanceStats struct {
	CourseID          string  `json:"course_id"`
	TotalSessions     int     `json:"total_sessions"`
	TotalStudents     int     `json:"total_students"`
	AverageAttendance float64 `json:"average_attendance"`
	HighestAttendance float64 `json:"highest_attendance"`
	LowestAttendance  float64 `json:"lowest_attendance"`
}

// AttendanceTrendRow is the raw per-day aggregate behind a trend point.
type AttendanceTrendRow struct {
	Day      time.Time `db:"day"`
	Sessions int       `db:"sessions"`
	Attended int       `db:"attended"`
	Expected int       `db:"expected"`
}

// AttendanceTrendPoint is one day of the attendance trend.
type AttendanceTrendPoint struct {
	Date                 string  `json:"date"`
	TotalSessions        int     `json:"total_sessions"`
	TotalPresent         int     `json:"total_present"`
	Expected             int     `json:"expected"`
	AttendancePercentage float64 `json:"attendance_percentage"`
}

// AttendanceTrends is the daily series for a trailing window.
type AttendanceTrends struct {
	CourseID    string                 `json:"course_id,omitempty"`
	PeriodStart string                 `json:"period_start"`
	PeriodEnd   string                 `json:"period_end"`
	Trends      []AttendanceTrendPoint `json:"trends"`
}

// StudentStanding is a student's raw counts used to score risk.
type StudentStanding struct {
	StudentID string `db:"student_id"`
	RollNo    string `db:"roll_no"`
	FullName  string `db:"full_name"`
	Held      int    `db:"held"`
	AttendanceStatusCounts
}

// AtRiskStudent is a student report with identity for the risk roll-up.
type AtRiskStudent struct {
	StudentAttendanceReport
	RollNo   string `json:"roll_no"`
	FullName string `json:"full_name"`
}

// RiskReport lists students below the attendance threshold, lowest first.
type RiskReport struct {
	CourseID            string          `json:"course_id,omitempty"`
	ThresholdPercentage float64         `json:"threshold_percentage"`
	TotalAtRisk         int             `json:"total_at_risk"`
	Students            []AtRiskStudent `json:"students"`
}
