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

type anomalyService interface {
	List(ctx context.Context, filter models.AnomalyFilter) ([]models.Anomaly, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.Anomaly, error)
	Stats(ctx context.Context) (*models.AnomalyStats, error)
	Resolve(ctx context.Context, id, resolverID, notes string) (*models.Anomaly, error)
	Dismiss(ctx context.Context, id, resolverID, reason string) (*models.Anomaly, error)
}

// AnomalyHandler exposes the anomaly review queue.
type AnomalyHandler struct {
	anomalies anomalyService
}

// NewAnomalyHandler constructs handler.
func NewAnomalyHandler(anomalies anomalyService) *AnomalyHandler {
	return &AnomalyHandler{anomalies: anomalies}
}

// Get godoc
// @Summary Get an anomaly
// @Tags Anomalies
// @Produce json
// @Param id path string true "Anomaly ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /anomalies/{id} [get]
func (h *AnomalyHandler) Get(c *gin.Context) {
	anomaly, err := h.anomalies.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, anomaly, nil)
}

// List godoc
// @Summary List anomalies
// @Tags Anomalies
// @Produce json
// @Param type query string false "Anomaly type"
// @Param severity query string false "low|medium|high"
// @Param is_resolved query bool false "Resolution flag"
// @Success 200 {object} response.Envelope
// @Router /anomalies [get]
func (h *AnomalyHandler) List(c *gin.Context) {
	resolved, err := optionalBoolQuery(c, "is_resolved")
	if err != nil {
		response.Error(c, err)
		return
	}
	from, err := optionalDateQuery(c, "from")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := optionalDateQuery(c, "to")
	if err != nil {
		response.Error(c, err)
		return
	}
	page, size := pageParams(c)
	items, pagination, err := h.anomalies.List(c.Request.Context(), models.AnomalyFilter{
		StudentID:   strings.TrimSpace(c.Query("student_id")),
		SessionID:   strings.TrimSpace(c.Query("session_id")),
		AnomalyType: models.AnomalyType(strings.TrimSpace(c.Query("type"))),
		Severity:    models.AnomalySeverity(strings.ToLower(strings.TrimSpace(c.Query("severity")))),
		IsResolved:  resolved,
		From:        from,
		To:          to,
		Page:        page,
		PageSize:    size,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Stats godoc
// @Summary Anomaly totals
// @Tags Anomalies
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /anomalies/stats [get]
func (h *AnomalyHandler) Stats(c *gin.Context) {
	stats, err := h.anomalies.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Resolve godoc
// @Summary Resolve an anomaly
// @Tags Anomalies
// @Accept json
// @Produce json
// @Param id path string true "Anomaly ID"
// @Param payload body models.ResolveAnomalyRequest false "Notes"
// @Success 200 {object} response.Envelope
// @Router /anomalies/{id}/resolve [post]
func (h *AnomalyHandler) Resolve(c *gin.Context) {
	var req models.ResolveAnomalyRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	anomaly, err := h.anomalies.Resolve(c.Request.Context(), c.Param("id"), callerFromContext(c).UserID, req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, anomaly, nil)
}

// Dismiss godoc
// @Summary Dismiss an anomaly as a false positive
// @Tags Anomalies
// @Accept json
// @Produce json
// @Param id path string true "Anomaly ID"
// @Param payload body models.DismissAnomalyRequest false "Reason"
// @Success 200 {object} response.Envelope
// @Router /anomalies/{id}/dismiss [post]
func (h *AnomalyHandler) Dismiss(c *gin.Context) {
	var req models.DismissAnomalyRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	anomaly, err := h.anomalies.Dismiss(c.Request.Context(), c.Param("id"), callerFromContext(c).UserID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, anomaly, nil)
}

// bindOptionalJSON accepts an empty body.
func bindOptionalJSON(c *gin.Context, dest interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request body"))
		return false
	}
	return true
}
