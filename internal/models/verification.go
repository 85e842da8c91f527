package models

// VerificationCode is the outcome class of a verification attempt that reached
// the ledger stage. Structural failures are returned as errors instead.
type VerificationCode string

const (
	VerificationSuccess       VerificationCode = "SUCCESS"
	VerificationAlreadyMarked VerificationCode = "ALREADY_MARKED"
	VerificationFailed        VerificationCode = "VERIFICATION_FAILED"
)

// WebAuthnAssertion carries the platform-authenticator evidence for fingerprint attempts.
type WebAuthnAssertion struct {
	CredentialID string `json:"credential_id" validate:"required"`
	SignCount    int64  `json:"sign_count" validate:"gte=0"`
}

// VerificationInput is one raw attendance attempt.
type VerificationInput struct {
	SessionCode      string             `json:"session_code" validate:"omitempty,max=16"`
	SessionID        string             `json:"session_id"`
	StudentID        string             `json:"student_id"`
	QRPayload        string             `json:"qr_payload" validate:"omitempty,max=512"`
	Method           VerificationMethod `json:"method" validate:"required,oneof=face_qr fingerprint manual"`
	FaceConfidence   *float64           `json:"face_confidence" validate:"omitempty,gte=0,lte=100"`
	QRScanned        bool               `json:"qr_scanned"`
	FingerprintToken string             `json:"fingerprint_token"`
	WebAuthn         *WebAuthnAssertion `json:"webauthn"`
	Status           *AttendanceStatus  `json:"status" validate:"omitempty,oneof=present late absent excused"`
	IsKiosk          bool               `json:"is_kiosk"`
	DeviceInfo       string             `json:"device_info" validate:"omitempty,max=255"`
	IPAddress        string             `json:"-"`
	Caller           Caller             `json:"-"`
}

// VerificationOutcome is the engine's answer to an attempt.
type VerificationOutcome struct {
	Success       bool              `json:"success"`
	Code          VerificationCode  `json:"code"`
	Status        *AttendanceStatus `json:"status,omitempty"`
	Attendance    *Attendance       `json:"attendance,omitempty"`
	Student       *StudentSummary   `json:"student,omitempty"`
	Message       string            `json:"message"`
	AnomalyLogged bool              `json:"anomaly_logged"`
	AnomalyID     *string           `json:"anomaly_id,omitempty"`
}

// UpdateAttendanceStatusRequest overrides the status of an existing mark.
type UpdateAttendanceStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// ResolveAnomalyRequest closes an anomaly.
type ResolveAnomalyRequest struct {
	Notes string `json:"notes" validate:"omitempty,max=2000"`
}

// DismissAnomalyRequest closes an anomaly as a false positive.
type DismissAnomalyRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=2000"`
}

// AnomalyInput is what the engine records for a flagged attempt.
type AnomalyInput struct {
	StudentID  *string
	SessionID  *string
	Type       AnomalyType
	Severity   AnomalySeverity
	Reason     string
	Details    map[string]interface{}
	IPAddress  *string
	DeviceInfo *string
}
