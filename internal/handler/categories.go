package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"task-tracker/internal/service"
)

func (h *Handler) listCategories(c *gin.Context) {
	categories, err := h.categories.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	out := make([]categoryResponse, 0, len(categories))
	for i := range categories {
		out = append(out, toCategoryResponse(&categories[i]))
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) getCategory(c *gin.Context) {
	id, ok := readID(c)
	if !ok {
		return
	}

	category, err := h.categories.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCategoryResponse(category))
}

func (h *Handler) createCategory(c *gin.Context) {
	var req categoryRequest
	if !readJSON(c, &req) {
		return
	}

	category, err := h.categories.Create(c.Request.Context(), currentUser(c), service.CategoryInput(req))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCategoryResponse(category))
}

func (h *Handler) updateCategory(c *gin.Context) {
	id, ok := readID(c)
	if !ok {
		return
	}
	var req categoryRequest
	if !readJSON(c, &req) {
		return
	}

	category, err := h.categories.Update(c.Request.Context(), currentUser(c), id, service.CategoryInput(req))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCategoryResponse(category))
}

func (h *Handler) deleteCategory(c *gin.Context) {
	id, ok := readID(c)
	if !ok {
		return
	}

	if err := h.categories.Delete(c.Request.Context(), currentUser(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
