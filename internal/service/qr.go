package service

import (
	"strconv"
	"strings"
	"time"

	appErrors "github.com/noah-isme/smartattend-api/pkg/errors"
)

const qrPrefix = "SMARTATTEND"

// QRPayload is the decoded content of a student ID card QR code:
// SMARTATTEND:<collegeId>:<rollNo>[:<issuedAtMillis>].
type QRPayload struct {
	CollegeID string
	RollNo    string
	IssuedAt  *time.Time
}

// ParseQRPayload decodes a student QR code.
func ParseQRPayload(raw string) (*QRPayload, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 3 || parts[0] != qrPrefix {
		return nil, appErrors.ErrInvalidQRFormat
	}
	payload := &QRPayload{
		CollegeID: strings.TrimSpace(parts[1]),
		RollNo:    strings.TrimSpace(parts[2]),
	}
	if payload.RollNo == "" {
		return nil, appErrors.Clone(appErrors.ErrInvalidQRFormat, "QR code carries no roll number")
	}
	if len(parts) > 3 {
		millis, err := strconv.ParseInt(strings.TrimSpace(parts[3]), 10, 64)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInvalidQRFormat.Code, appErrors.ErrInvalidQRFormat.Status, "QR timestamp is not numeric")
		}
		issued := time.UnixMilli(millis).UTC()
		payload.IssuedAt = &issued
	}
	return payload, nil
}
