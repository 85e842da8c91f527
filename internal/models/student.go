package models

// Student is the read model the verification engine needs from the student directory.
type Student struct {
	ID                   string  `db:"id" json:"id"`
	RollNo               string  `db:"roll_no" json:"roll_no"`
	CollegeID            string  `db:"college_id" json:"college_id"`
	FullName             string  `db:"full_name" json:"full_name"`
	FingerprintHash      *string `db:"fingerprint_hash" json:"-"`
	WebAuthnCredentialID *string `db:"webauthn_credential_id" json:"-"`
	WebAuthnSignCount    int64   `db:"webauthn_sign_count" json:"-"`
}

// StudentSummary is the subset of student fields returned to callers.
type StudentSummary struct {
	ID       string `json:"id"`
	RollNo   string `json:"roll_no"`
	FullName string `json:"full_name"`
}

// Summary strips biometric material from the student record.
func (s *Student) Summary() *StudentSummary {
	if s == nil {
		return nil
	}
	return &StudentSummary{ID: s.ID, RollNo: s.RollNo, FullName: s.FullName}
}
