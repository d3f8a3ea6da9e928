package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"task-tracker/internal/service"
)

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if !readJSON(c, &req) {
		return
	}

	user, pair, err := h.identity.Register(c.Request.Context(), service.RegisterInput{
		Username:       req.Username,
		Email:          req.Email,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Password:       req.Password,
		Password2:      req.Password2,
		TelegramChatID: req.TelegramChatID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.log.WithField("user_id", user.ID).Info("user registered")
	c.JSON(http.StatusCreated, authResponse{Access: pair.Access, Refresh: pair.Refresh, User: toUserResponse(user)})
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if !readJSON(c, &req) {
		return
	}
	if req.Username == "" || req.Password == "" {
		writeDetail(c, http.StatusBadRequest, "Username and password required.")
		return
	}

	user, pair, err := h.identity.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, authResponse{Access: pair.Access, Refresh: pair.Refresh, User: toUserResponse(user)})
}

func (h *Handler) refresh(c *gin.Context) {
	var req refreshRequest
	if !readJSON(c, &req) {
		return
	}

	pair, err := h.tokens.Refresh(c.Request.Context(), req.Refresh)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"access": pair.Access, "refresh": pair.Refresh})
}

func (h *Handler) me(c *gin.Context) {
	c.JSON(http.StatusOK, toUserResponse(currentUser(c)))
}

func (h *Handler) logout(c *gin.Context) {
	var req refreshRequest
	if !readJSON(c, &req) {
		return
	}

	err := h.tokens.Revoke(c.Request.Context(), currentUser(c), req.Refresh)
	switch {
	case err == nil:
		c.Status(http.StatusResetContent)
	case errors.Is(err, service.ErrTokenMissing):
		writeDetail(c, http.StatusBadRequest, "Refresh token required.")
	case errors.Is(err, service.ErrTokenInvalid):
		writeDetail(c, http.StatusBadRequest, "Invalid token.")
	default:
		h.respondError(c, err)
	}
}
