package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/icrrus-api/internal/dto"
	"github.com/noah-isme/icrrus-api/internal/models"
	"github.com/noah-isme/icrrus-api/internal/service"
	appErrors "github.com/noah-isme/icrrus-api/pkg/errors"
	"github.com/noah-isme/icrrus-api/pkg/response"
)

type bookingService interface {
	Submit(ctx context.Context, actor models.Actor, req dto.SubmitBookingRequest) (*models.BookingRequest, error)
	Decide(ctx context.Context, id string, actor models.Actor, req dto.DecisionRequest) (*models.BookingRequest, error)
	Withdraw(ctx context.Context, id string, actor models.Actor) (*models.BookingRequest, error)
	Get(ctx context.Context, id string, actor models.Actor) (*models.BookingRequest, error)
	Detail(ctx context.Context, id string, actor models.Actor) (*dto.BookingDetail, error)
	History(ctx context.Context, id string, actor models.Actor) (*models.BookingRequest, []models.ApprovalRecord, error)
	List(ctx context.Context, actor models.Actor, query dto.BookingQuery) ([]dto.BookingSummary, int, error)
	AuditTrail(ctx context.Context, id string, actor models.Actor) ([]models.AuditLog, error)
}

type historyExporter interface {
	History(ctx context.Context, id string, actor models.Actor, format service.ExportFormat) (*service.ExportResult, error)
}

type artifactLinker interface {
	Link(actor models.Actor, ref string) (*dto.ArtifactResponse, error)
}

// BookingHandler exposes the booking request lifecycle.
type BookingHandler struct {
	bookings  bookingService
	exporter  historyExporter
	artifacts artifactLinker
}

// NewBookingHandler constructs the handler.
func NewBookingHandler(bookings bookingService, exporter historyExporter, artifacts artifactLinker) *BookingHandler {
	return &BookingHandler{bookings: bookings, exporter: exporter, artifacts: artifacts}
}

// Submit godoc
// @Summary Submit a booking request
// @Tags Bookings
// @Accept json
// @Produce json
// @Param payload body dto.SubmitBookingRequest true "Booking payload"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /bookings [post]
func (h *BookingHandler) Submit(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.SubmitBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid booking payload"))
		return
	}
	booking, err := h.bookings.Submit(c.Request.Context(), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, booking)
}

// List godoc
// @Summary List booking requests visible to the caller
// @Tags Bookings
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param templateId query string false "Workflow template"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} response.Envelope
// @Router /bookings [get]
func (h *BookingHandler) List(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	limit, offset, err := pageFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	query := dto.BookingQuery{
		TemplateID: models.TemplateID(strings.ToUpper(strings.TrimSpace(c.Query("templateId")))),
		Limit:      limit,
		Offset:     offset,
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := models.BookingStatus(strings.ToUpper(strings.TrimSpace(part)))
			switch status {
			case models.BookingStatusPending, models.BookingStatusApproved, models.BookingStatusRejected, models.BookingStatusWithdrawn:
				query.Status = append(query.Status, status)
			default:
				response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown status "+part))
				return
			}
		}
	}
	items, total, err := h.bookings.List(c.Request.Context(), actor, query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, &response.Pagination{Limit: limit, Offset: offset, TotalCount: total})
}

// Get godoc
// @Summary Booking request with timeline
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.Envelope
// @Router /bookings/{id} [get]
func (h *BookingHandler) Get(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	detail, err := h.bookings.Detail(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Decide godoc
// @Summary Approve or reject the current stage
// @Tags Bookings
// @Accept json
// @Produce json
// @Param id path string true "Booking ID"
// @Param payload body dto.DecisionRequest true "Decision"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /bookings/{id}/decision [post]
func (h *BookingHandler) Decide(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	req.Decision = models.Decision(strings.ToUpper(strings.TrimSpace(string(req.Decision))))
	booking, err := h.bookings.Decide(c.Request.Context(), c.Param("id"), actor, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// Withdraw godoc
// @Summary Withdraw a pending request
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.Envelope
// @Router /bookings/{id}/withdraw [post]
func (h *BookingHandler) Withdraw(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	booking, err := h.bookings.Withdraw(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, booking, nil)
}

// History godoc
// @Summary Approval records of a request
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.Envelope
// @Router /bookings/{id}/history [get]
func (h *BookingHandler) History(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	_, records, err := h.bookings.History(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// AuditTrail godoc
// @Summary Audit entries written for a request
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /bookings/{id}/audit [get]
func (h *BookingHandler) AuditTrail(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	logs, err := h.bookings.AuditTrail(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, nil)
}

// ExportHistory godoc
// @Summary Download the approval history as CSV or PDF
// @Tags Bookings
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Booking ID"
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /bookings/{id}/history/export [get]
func (h *BookingHandler) ExportHistory(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	format := service.ExportFormat(c.DefaultQuery("format", string(service.ExportFormatCSV)))
	result, err := h.exporter.History(c.Request.Context(), c.Param("id"), actor, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, result.Filename, result.ContentType, result.Body)
}

// Artifact godoc
// @Summary Signed link to the request's supporting document
// @Tags Bookings
// @Produce json
// @Param id path string true "Booking ID"
// @Success 200 {object} response.Envelope
// @Router /bookings/{id}/artifact [get]
func (h *BookingHandler) Artifact(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	booking, err := h.bookings.Get(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	if booking.ArtifactRef == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "request has no supporting document"))
		return
	}
	link, err := h.artifacts.Link(actor, *booking.ArtifactRef)
	if err != nil {
		response.Error(c, err)
		return
	}
	link.Kind = booking.ArtifactKind
	response.JSON(c, http.StatusOK, link, nil)
}
