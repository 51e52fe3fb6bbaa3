package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/icrrus-api/internal/dto"
	"github.com/noah-isme/icrrus-api/internal/models"
	appErrors "github.com/noah-isme/icrrus-api/pkg/errors"
	"github.com/noah-isme/icrrus-api/pkg/response"
	"github.com/noah-isme/icrrus-api/pkg/storage"
)

type artifactService interface {
	Upload(ctx context.Context, actor models.Actor, kind models.ArtifactKind, r io.Reader) (*dto.ArtifactResponse, error)
	Open(token string) (*os.File, storage.Grant, error)
}

// ArtifactHandler accepts supporting documents and serves signed downloads.
type ArtifactHandler struct {
	artifacts artifactService
	maxBytes  int64
}

// NewArtifactHandler constructs the handler. maxBytes bounds the multipart body.
func NewArtifactHandler(artifacts artifactService, maxBytes int64) *ArtifactHandler {
	return &ArtifactHandler{artifacts: artifacts, maxBytes: maxBytes}
}

// Upload godoc
// @Summary Upload an endorsement letter or letter of intent
// @Tags Artifacts
// @Accept multipart/form-data
// @Produce json
// @Param kind formData string true "ENDORSEMENT_LETTER or LETTER_OF_INTENT"
// @Param file formData file true "Document"
// @Success 201 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Router /artifacts [post]
func (h *ArtifactHandler) Upload(c *gin.Context) {
	actor, err := actorFromContext(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.maxBytes > 0 {
		// multipart framing needs headroom beyond the file itself
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+1<<20)
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, appErrors.ErrTooLarge)
			return
		}
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close()

	kind := models.ArtifactKind(strings.ToUpper(strings.TrimSpace(c.PostForm("kind"))))
	resp, err := h.artifacts.Upload(c.Request.Context(), actor, kind, src)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, resp)
}

// Download godoc
// @Summary Download a stored document through a signed link
// @Tags Artifacts
// @Produce application/octet-stream
// @Param token query string true "Signed token"
// @Success 200 {file} file
// @Router /artifacts/download [get]
func (h *ArtifactHandler) Download(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	file, grant, err := h.artifacts.Open(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat artifact"))
		return
	}
	contentType := "application/octet-stream"
	switch strings.ToLower(filepath.Ext(grant.Name)) {
	case ".pdf":
		contentType = "application/pdf"
	case ".png":
		contentType = "image/png"
	case ".jpg", ".jpeg":
		contentType = "image/jpeg"
	}
	c.Header("Content-Disposition", "attachment; filename=\""+filepath.Base(grant.Name)+"\"")
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), contentType, file, nil)
}
