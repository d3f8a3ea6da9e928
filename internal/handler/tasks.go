package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) listTasks(c *gin.Context) {
	filter, err := readTaskFilter(c.Request.URL.Query())
	if err != nil {
		h.respondError(c, err)
		return
	}

	tasks, err := h.tasks.ListVisible(c.Request.Context(), currentUser(c), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskResponses(tasks))
}

func (h *Handler) superuserTasks(c *gin.Context) {
	tasks, err := h.tasks.ListAll(c.Request.Context(), currentUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskResponses(tasks))
}

func (h *Handler) createTask(c *gin.Context) {
	var req taskRequest
	if !readJSON(c, &req) {
		return
	}

	task, err := h.tasks.Create(c.Request.Context(), currentUser(c), req.fields())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toTaskResponse(task))
}

func (h *Handler) getTask(c *gin.Context) {
	id, ok := readID(c)
	if !ok {
		return
	}

	task, err := h.tasks.Get(c.Request.Context(), currentUser(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(task))
}

func (h *Handler) patchTask(c *gin.Context) {
	h.updateTask(c, true)
}

func (h *Handler) putTask(c *gin.Context) {
	h.updateTask(c, false)
}

func (h *Handler) updateTask(c *gin.Context, partial bool) {
	id, ok := readID(c)
	if !ok {
		return
	}
	var req taskRequest
	if !readJSON(c, &req) {
		return
	}

	task, err := h.tasks.Update(c.Request.Context(), currentUser(c), id, req.fields(), partial)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(task))
}

func (h *Handler) deleteTask(c *gin.Context) {
	id, ok := readID(c)
	if !ok {
		return
	}

	if err := h.tasks.Delete(c.Request.Context(), currentUser(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
