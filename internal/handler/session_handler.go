package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/smartattend-api/internal/models"
	appErrors "github.com/noah-isme/smartattend-api/pkg/errors"
	"github.com/noah-isme/smartattend-api/pkg/response"
)

type sessionService interface {
	Create(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	Activate(ctx context.Context, id string) (*models.ActivationResult, error)
	Deactivate(ctx context.Context, id string) (*models.Session, error)
	List(ctx context.Context, filter models.SessionFilter) ([]models.Session, *models.Pagination, error)
	ListActive(ctx context.Context, courseID string) ([]models.Session, error)
}

// SessionHandler exposes the session lifecycle.
type SessionHandler struct {
	sessions sessionService
}

// NewSessionHandler constructs handler.
func NewSessionHandler(sessions sessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// Create godoc
// @Summary Schedule a session
// @Tags Sessions
// @Accept json
// @Produce json
// @Param payload body models.CreateSessionRequest true "Session payload"
// @Success 201 {object} response.Envelope
// @Router /sessions [post]
func (h *SessionHandler) Create(c *gin.Context) {
	var req models.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return
	}
	session, err := h.sessions.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// List godoc
// @Summary List sessions
// @Tags Sessions
// @Produce json
// @Param course_id query string false "Course ID"
// @Param is_active query bool false "Active flag"
// @Param date_from query string false "YYYY-MM-DD"
// @Param date_to query string false "YYYY-MM-DD"
// @Success 200 {object} response.Envelope
// @Router /sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	isActive, err := optionalBoolQuery(c, "is_active")
	if err != nil {
		response.Error(c, err)
		return
	}
	from, err := optionalDateQuery(c, "date_from")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := optionalDateQuery(c, "date_to")
	if err != nil {
		response.Error(c, err)
		return
	}
	page, size := pageParams(c)
	sessions, pagination, err := h.sessions.List(c.Request.Context(), models.SessionFilter{
		CourseID:  c.Query("course_id"),
		IsActive:  isActive,
		DateFrom:  from,
		DateTo:    to,
		Page:      page,
		PageSize:  size,
		SortOrder: c.Query("sort"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, redactCodes(callerFromContext(c), sessions), pagination)
}

// Active godoc
// @Summary Sessions taking attendance today
// @Tags Sessions
// @Produce json
// @Param course_id query string false "Course ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/active [get]
func (h *SessionHandler) Active(c *gin.Context) {
	sessions, err := h.sessions.ListActive(c.Request.Context(), strings.TrimSpace(c.Query("course_id")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, redactCodes(callerFromContext(c), sessions), nil)
}

// Get godoc
// @Summary Get a session
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, redactCodes(callerFromContext(c), []models.Session{*session})[0], nil)
}

// Activate godoc
// @Summary Open a session for attendance
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/activate [post]
func (h *SessionHandler) Activate(c *gin.Context) {
	result, err := h.sessions.Activate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Deactivate godoc
// @Summary Stop accepting attendance
// @Tags Sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/deactivate [post]
func (h *SessionHandler) Deactivate(c *gin.Context) {
	session, err := h.sessions.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// redactCodes hides attendance codes from students; the code is read off the classroom display.
func redactCodes(caller models.Caller, sessions []models.Session) []models.Session {
	if caller.Role != models.RoleStudent {
		return sessions
	}
	out := make([]models.Session, len(sessions))
	for i, s := range sessions {
		s.AttendanceCode = nil
		out[i] = s
	}
	return out
}
