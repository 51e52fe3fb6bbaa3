package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/icrrus-api/internal/dto"
	"github.com/noah-isme/icrrus-api/internal/models"
	"github.com/noah-isme/icrrus-api/pkg/response"
)

type badgeService interface {
	Badges(ctx context.Context, actor models.Actor) (*dto.BadgeResponse, error)
	Queue(ctx context.Context, actor models.Actor, limit, offset int) ([]dto.BookingSummary, int, error)
}

// ApprovalHandler serves approver badges and work queues.
type ApprovalHandler struct {
	badges badgeService
}

// NewApprovalHandler constructs the handler.
func NewApprovalHandler(badges badgeService) *ApprovalHandler {
	return &ApprovalHandler{badges: badges}
}

// Badges godoc
// @Summary Pending approval counts for the caller
// @Tags Approvals
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /approvals/badges [get]
func (h *ApprovalHandler) Badges(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	badge, err := h.badges.Badges(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, badge, nil)
}

// Queue godoc
// @Summary Requests awaiting the caller's decision, oldest first
// @Tags Approvals
// @Produce json
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} response.Envelope
// @Router /approvals/queue [get]
func (h *ApprovalHandler) Queue(c *gin.Context) {
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
	items, total, err := h.badges.Queue(c.Request.Context(), actor, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, &response.Pagination{Limit: limit, Offset: offset, TotalCount: total})
}
