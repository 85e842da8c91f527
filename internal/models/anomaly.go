package models

import (
	"encoding/json"
	"time"
)

// AnomalyType classifies a suspicious or rejected attempt.
type AnomalyType string

const (
	AnomalyDuplicateAttendance AnomalyType = "duplicate_attendance"
	AnomalyFaceMismatch        AnomalyType = "face_mismatch"
	AnomalyLivenessFailed      AnomalyType = "liveness_failed"
	AnomalyProxySuspected      AnomalyType = "proxy_suspected"
	AnomalyMultipleAttempts    AnomalyType = "multiple_attempts"
	AnomalyTimeAnomaly         AnomalyType = "time_anomaly"
	AnomalyLocationMismatch    AnomalyType = "location_mismatch"
)

// Valid returns true when the type is a supported value.
func (t AnomalyType) Valid() bool {
	switch t {
	case AnomalyDuplicateAttendance, AnomalyFaceMismatch, AnomalyLivenessFailed, AnomalyProxySuspected,
		AnomalyMultipleAttempts, AnomalyTimeAnomaly, AnomalyLocationMismatch:
		return true
	default:
		return false
	}
}

// AnomalySeverity ranks anomalies for review.
type AnomalySeverity string

const (
	SeverityLow      AnomalySeverity = "low"
	SeverityMedium   AnomalySeverity = "medium"
	SeverityHigh     AnomalySeverity = "high"
	SeverityCritical AnomalySeverity = "critical"
)

// Valid returns true when the severity is a supported value.
func (s AnomalySeverity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// ResolutionKind distinguishes the two terminal review states.
type ResolutionKind string

const (
	ResolutionResolved  ResolutionKind = "resolved"
	ResolutionDismissed ResolutionKind = "dismissed"
)

// Anomaly is a flagged verification event awaiting staff review.
type Anomaly struct {
	ID              string          `db:"id" json:"id"`
	StudentID       *string         `db:"student_id" json:"student_id,omitempty"`
	SessionID       *string         `db:"session_id" json:"session_id,omitempty"`
	AnomalyType     AnomalyType     `db:"anomaly_type" json:"anomaly_type"`
	Severity        AnomalySeverity `db:"severity" json:"severity"`
	Reason          string          `db:"reason" json:"reason"`
	Details         json.RawMessage `db:"details" json:"details,omitempty"`
	IsResolved      bool            `db:"is_resolved" json:"is_resolved"`
	ResolutionKind  *ResolutionKind `db:"resolution_kind" json:"resolution_kind,omitempty"`
	ResolvedBy      *string         `db:"resolved_by" json:"resolved_by,omitempty"`
	ResolutionNotes *string         `db:"resolution_notes" json:"resolution_notes,omitempty"`
	ResolvedAt      *time.Time      `db:"resolved_at" json:"resolved_at,omitempty"`
	AttemptTime     time.Time       `db:"attempt_time" json:"attempt_time"`
	IPAddress       *string         `db:"ip_address" json:"ip_address,omitempty"`
	DeviceInfo      *string         `db:"device_info" json:"device_info,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// AnomalyFilter scopes anomaly listings.
type AnomalyFilter struct {
	StudentID   string
	SessionID   string
	AnomalyType AnomalyType
	Severity    AnomalySeverity
	IsResolved  *bool
	From        *time.Time
	To          *time.Time
	Page        int
	PageSize    int
}

// AnomalyStats aggregates the anomaly log for dashboards.
type AnomalyStats struct {
	Total      int            `json:"total"`
	Unresolved int            `json:"unresolved"`
	Resolved   int            `json:"resolved"`
	ByType     map[string]int `json:"by_type"`
	BySeverity map[string]int `json:"by_severity"`
	Recent24h  int            `json:"recent_24h"`
}
