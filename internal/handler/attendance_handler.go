package handler

import (
	"context"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/smartattend-api/internal/biometric"
	"github.com/noah-isme/smartattend-api/internal/models"
	"github.com/noah-isme/smartattend-api/internal/service"
	appErrors "github.com/noah-isme/smartattend-api/pkg/errors"
	"github.com/noah-isme/smartattend-api/pkg/logger"
	"github.com/noah-isme/smartattend-api/pkg/response"
)

type verificationService interface {
	Submit(ctx context.Context, input models.VerificationInput) (*models.VerificationOutcome, error)
	UpdateStatus(ctx context.Context, attendanceID string, req models.UpdateAttendanceStatusRequest, caller models.Caller) (*models.Attendance, error)
}

// verifyRequest is a verification attempt, optionally carrying the captured face
// image for the configured matcher to score.
type verifyRequest struct {
	models.VerificationInput
	FaceImage string `json:"face_image"`
}

// AttendanceHandler accepts verification attempts and status overrides.
type AttendanceHandler struct {
	verifier verificationService
	faces    biometric.FaceMatcher
	logger   *zap.Logger
}

const maxDeviceInfoRunes = 255

// NewAttendanceHandler constructs handler. Without a face matcher face_qr attempts are refused.
func NewAttendanceHandler(verifier verificationService, faces biometric.FaceMatcher, logger *zap.Logger) *AttendanceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceHandler{verifier: verifier, faces: faces, logger: logger}
}

// Verify godoc
// @Summary Submit a verification attempt
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body models.VerificationInput true "Attempt"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /attendance/verify [post]
func (h *AttendanceHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	input := req.VerificationInput
	if input.Method == models.VerificationMethodManual {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "use the manual entry endpoint"))
		return
	}
	// Face confidence is only ever produced by the matcher.
	if input.FaceConfidence != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "face_confidence cannot be supplied; send face_image"))
		return
	}
	if input.Method == models.VerificationMethodFaceQR {
		if strings.TrimSpace(req.FaceImage) == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "face_image is required"))
			return
		}
		confidence, err := h.scoreFace(c.Request.Context(), input, req.FaceImage)
		if err != nil {
			response.Error(c, err)
			return
		}
		input.FaceConfidence = &confidence
	}
	h.submit(c, input)
}

// Manual godoc
// @Summary Record attendance by hand
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body models.VerificationInput true "Manual entry"
// @Success 201 {object} response.Envelope
// @Router /attendance/manual [post]
func (h *AttendanceHandler) Manual(c *gin.Context) {
	var input models.VerificationInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	input.Method = models.VerificationMethodManual
	h.submit(c, input)
}

func (h *AttendanceHandler) submit(c *gin.Context, input models.VerificationInput) {
	input.Caller = callerFromContext(c)
	input.IPAddress = c.ClientIP()
	if input.DeviceInfo == "" {
		input.DeviceInfo = c.Request.UserAgent()
	}
	input.DeviceInfo = truncateRunes(input.DeviceInfo, maxDeviceInfoRunes)

	outcome, err := h.verifier.Submit(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, outcomeStatus(outcome.Code), outcome, nil)
}

func outcomeStatus(code models.VerificationCode) int {
	switch code {
	case models.VerificationSuccess:
		return http.StatusCreated
	case models.VerificationAlreadyMarked:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

// truncateRunes cuts s to at most n runes without splitting a multi-byte sequence.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// scoreFace asks the matcher to compare the captured image with the student's template.
func (h *AttendanceHandler) scoreFace(ctx context.Context, input models.VerificationInput, image string) (float64, error) {
	if h.faces == nil {
		return 0, appErrors.Clone(appErrors.ErrServiceUnavailable, "face matching is not configured")
	}
	req := biometric.MatchRequest{StudentID: strings.TrimSpace(input.StudentID), Image: image}
	if strings.TrimSpace(input.QRPayload) != "" {
		payload, err := service.ParseQRPayload(input.QRPayload)
		if err != nil {
			return 0, err
		}
		req.RollNo = payload.RollNo
	}
	result, err := h.faces.Match(ctx, req)
	if err != nil {
		logger.FromContext(ctx, h.logger).Warn("face match failed", zap.String("roll_no", req.RollNo), zap.Error(err))
		return 0, err
	}
	return result.Confidence, nil
}

// UpdateStatus godoc
// @Summary Override an attendance status
// @Tags Attendance
// @Accept json
// @Produce json
// @Param id path string true "Attendance ID"
// @Param payload body models.UpdateAttendanceStatusRequest true "Status"
// @Success 200 {object} response.Envelope
// @Router /attendance/{id}/status [patch]
func (h *AttendanceHandler) UpdateStatus(c *gin.Context) {
	var req models.UpdateAttendanceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	record, err := h.verifier.UpdateStatus(c.Request.Context(), c.Param("id"), req, callerFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}
