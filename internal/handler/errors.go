package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"task-tracker/internal/service"
)

func writeDetail(c *gin.Context, status int, detail string) {
	c.Header("X-Content-Type-Options", "nosniff")
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

func writeValidation(c *gin.Context, verr *service.ValidationError) {
	c.AbortWithStatusJSON(http.StatusBadRequest, verr.Fields)
}

// respondError maps service errors onto HTTP responses. Anything it does not
// recognise is logged and reported as a 500.
func (h *Handler) respondError(c *gin.Context, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeValidation(c, verr)
	case errors.Is(err, service.ErrInvalidCredentials):
		writeDetail(c, http.StatusUnauthorized, "Invalid credentials.")
	case errors.Is(err, service.ErrTokenExpired):
		writeDetail(c, http.StatusUnauthorized, "Token is expired.")
	case errors.Is(err, service.ErrInvalidSignature), errors.Is(err, service.ErrTokenInvalid):
		writeDetail(c, http.StatusUnauthorized, "Token is invalid or expired.")
	case errors.Is(err, service.ErrTokenMissing):
		writeDetail(c, http.StatusBadRequest, "Refresh token required.")
	case errors.Is(err, service.ErrForbidden):
		writeDetail(c, http.StatusForbidden, "You do not have permission to perform this action.")
	case errors.Is(err, service.ErrNotFound):
		writeDetail(c, http.StatusNotFound, "Not found.")
	default:
		h.log.WithError(err).WithField("path", c.Request.URL.Path).Error("unexpected error")
		writeDetail(c, http.StatusInternalServerError, "internal server error")
	}
}

// badJSON reports a body that could not be decoded.
func badJSON(c *gin.Context, err error) {
	writeDetail(c, http.StatusBadRequest, "JSON parse error - "+err.Error())
}
