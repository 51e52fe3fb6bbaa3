package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/icrrus-api/internal/middleware"
	"github.com/noah-isme/icrrus-api/internal/models"
	appErrors "github.com/noah-isme/icrrus-api/pkg/errors"
)

func actorFromContext(c *gin.Context) (models.Actor, error) {
	claims := middleware.Claims(c)
	if claims == nil {
		return models.Actor{}, appErrors.ErrUnauthorized
	}
	return claims.Actor(), nil
}

func pageFromQuery(c *gin.Context) (int, int, error) {
	limit, err := intQuery(c, "limit", 50)
	if err != nil {
		return 0, 0, err
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		return 0, 0, err
	}
	if limit < 1 || limit > 200 || offset < 0 {
		return 0, 0, appErrors.Clone(appErrors.ErrValidation, "limit must be 1-200 and offset non-negative")
	}
	return limit, offset, nil
}

func intQuery(c *gin.Context, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, appErrors.Clone(appErrors.ErrValidation, key+" must be an integer")
	}
	return v, nil
}
