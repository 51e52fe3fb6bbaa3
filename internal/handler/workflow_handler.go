package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/icrrus-api/internal/dto"
	"github.com/noah-isme/icrrus-api/internal/models"
	"github.com/noah-isme/icrrus-api/internal/workflow"
	appErrors "github.com/noah-isme/icrrus-api/pkg/errors"
	"github.com/noah-isme/icrrus-api/pkg/response"
)

// WorkflowHandler exposes the template catalog read-only.
type WorkflowHandler struct {
	catalog *workflow.Catalog
}

// NewWorkflowHandler constructs the handler.
func NewWorkflowHandler(catalog *workflow.Catalog) *WorkflowHandler {
	return &WorkflowHandler{catalog: catalog}
}

// Templates godoc
// @Summary List workflow templates
// @Tags Workflow
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /workflow/templates [get]
func (h *WorkflowHandler) Templates(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.catalog.Templates(), nil)
}

// Classify godoc
// @Summary Preview the workflow a request would follow
// @Tags Workflow
// @Accept json
// @Produce json
// @Param payload body dto.ClassifyRequest true "Requester and resource"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /workflow/classify [post]
func (h *WorkflowHandler) Classify(c *gin.Context) {
	var req dto.ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid classify payload"))
		return
	}
	category := models.RequesterCategory(strings.ToUpper(strings.TrimSpace(string(req.RequesterCategory))))
	if category == "" {
		if actor, err := actorFromContext(c); err == nil {
			category, _ = workflow.CategoryForRole(actor.Role)
		}
	}
	resource := models.ResourceType(strings.ToUpper(strings.TrimSpace(string(req.ResourceType))))
	id, err := workflow.Classify(category, resource)
	if err != nil {
		response.Error(c, err)
		return
	}
	tpl, err := h.catalog.Template(id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ClassifyResponse{TemplateID: id, Stages: tpl.Stages}, nil)
}
