package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// SessionState is derived from the active flag and code presence.
type SessionState string

const (
	SessionStateScheduled SessionState = "scheduled"
	SessionStateActive    SessionState = "active"
	SessionStateClosed    SessionState = "closed"
)

// Session is one scheduled meeting of a course.
type Session struct {
	ID              string     `db:"id" json:"id"`
	CourseID        string     `db:"course_id" json:"course_id"`
	SessionDate     time.Time  `db:"session_date" json:"session_date"`
	StartTime       ClockTime  `db:"start_time" json:"start_time"`
	EndTime         ClockTime  `db:"end_time" json:"end_time"`
	RoomNo          *string    `db:"room_no" json:"room_no,omitempty"`
	Building        *string    `db:"building" json:"building,omitempty"`
	TimetableID     *string    `db:"timetable_id" json:"timetable_id,omitempty"`
	IsActive        bool       `db:"is_active" json:"is_active"`
	AttendanceCode  *string    `db:"attendance_code" json:"attendance_code,omitempty"`
	CreatedManually bool       `db:"created_manually" json:"created_manually"`
	ActivatedAt     *time.Time `db:"activated_at" json:"activated_at,omitempty"`
	DeactivatedAt   *time.Time `db:"deactivated_at" json:"deactivated_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// State reports where the session sits in its lifecycle.
func (s *Session) State() SessionState {
	switch {
	case s.IsActive:
		return SessionStateActive
	case s.ActivatedAt != nil || s.AttendanceCode != nil:
		return SessionStateClosed
	default:
		return SessionStateScheduled
	}
}

// StartsAt combines the session date with its start time in loc.
func (s *Session) StartsAt(loc *time.Location) (time.Time, error) {
	return combine(s.SessionDate, string(s.StartTime), loc)
}

// EndsAt combines the session date with its end time in loc.
func (s *Session) EndsAt(loc *time.Location) (time.Time, error) {
	return combine(s.SessionDate, string(s.EndTime), loc)
}

// ParseClock parses HH:MM or HH:MM:SS into an offset from midnight.
func ParseClock(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	layouts := []string{"15:04:05", "15:04"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", raw)
}

// ClockTime is a time of day held as HH:MM:SS. lib/pq decodes TIME columns into
// time.Time on the zero date, so Scan accepts that as well as textual values.
type ClockTime string

// Scan implements sql.Scanner.
func (c *ClockTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*c = ""
		return nil
	case time.Time:
		*c = ClockTime(v.Format("15:04:05"))
		return nil
	case []byte:
		return c.parse(string(v))
	case string:
		return c.parse(v)
	default:
		return fmt.Errorf("scan time of day: unsupported type %T", src)
	}
}

func (c *ClockTime) parse(raw string) error {
	offset, err := ParseClock(raw)
	if err != nil {
		return fmt.Errorf("scan time of day: %w", err)
	}
	*c = ClockTime(FormatClock(offset))
	return nil
}

// Value implements driver.Valuer.
func (c ClockTime) Value() (driver.Value, error) {
	if c == "" {
		return nil, nil
	}
	return string(c), nil
}

// FormatClock renders an offset from midnight as HH:MM:SS.
func FormatClock(d time.Duration) string {
	return time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Add(d).Format("15:04:05")
}

func combine(date time.Time, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	offset, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).Add(offset), nil
}

// SessionFilter scopes session listings.
type SessionFilter struct {
	CourseID  string
	DateFrom  *time.Time
	DateTo    *time.Time
	IsActive  *bool
	Page      int
	PageSize  int
	SortOrder string
}

// CreateSessionRequest schedules a session. Dates use YYYY-MM-DD and times HH:MM[:SS].
type CreateSessionRequest struct {
	CourseID    string  `json:"course_id" validate:"required"`
	SessionDate string  `json:"session_date" validate:"required"`
	StartTime   string  `json:"start_time" validate:"required"`
	EndTime     string  `json:"end_time" validate:"required"`
	RoomNo      *string `json:"room_no" validate:"omitempty,max=32"`
	Building    *string `json:"building" validate:"omitempty,max=64"`
	TimetableID *string `json:"timetable_id"`
}

// ActivationResult is returned when a session starts accepting attendance.
type ActivationResult struct {
	SessionID      string    `json:"session_id"`
	AttendanceCode string    `json:"attendance_code"`
	ActivatedAt    time.Time `json:"activated_at"`
}
