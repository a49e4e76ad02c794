package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskboard-live/backend/internal/boards"
	"github.com/taskboard-live/backend/internal/model"
)

// TaskHandler handles HTTP requests for task management.
type TaskHandler struct {
	manager *boards.Manager
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(manager *boards.Manager) *TaskHandler {
	return &TaskHandler{manager: manager}
}

// List handles GET /api/tasks?boardId=.
func (h *TaskHandler) List(c *gin.Context) {
	tasks, err := h.manager.ListTasks(c.Request.Context(), c.Query("boardId"))
	if err != nil {
		sendServiceError(c, err, "list tasks")
		return
	}
	if tasks == nil {
		tasks = []*model.Task{}
	}
	c.JSON(http.StatusOK, tasks)
}

// Get handles GET /api/tasks/:id.
func (h *TaskHandler) Get(c *gin.Context) {
	task, err := h.manager.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		sendServiceError(c, err, "get task")
		return
	}
	c.JSON(http.StatusOK, task)
}

// Create handles POST /api/tasks.
func (h *TaskHandler) Create(c *gin.Context) {
	var task model.Task
	if err := c.ShouldBindJSON(&task); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	created, err := h.manager.CreateTask(c.Request.Context(), &task)
	if err != nil {
		sendServiceError(c, err, "create task")
		return
	}
	c.JSON(http.StatusCreated, created)
}

// Update handles PUT /api/tasks/:id.
func (h *TaskHandler) Update(c *gin.Context) {
	var task model.Task
	if err := c.ShouldBindJSON(&task); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	updated, err := h.manager.UpdateTask(c.Request.Context(), c.Param("id"), &task)
	if err != nil {
		sendServiceError(c, err, "update task")
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Delete handles DELETE /api/tasks/:id.
func (h *TaskHandler) Delete(c *gin.Context) {
	if err := h.manager.DeleteTask(c.Request.Context(), c.Param("id")); err != nil {
		sendServiceError(c, err, "delete task")
		return
	}
	c.Status(http.StatusNoContent)
}

// Move handles POST and PATCH /api/tasks/:id/move and returns the board layout.
func (h *TaskHandler) Move(c *gin.Context) {
	var req boards.MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	board, err := h.manager.MoveTask(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		sendServiceError(c, err, "move task")
		return
	}
	c.JSON(http.StatusOK, board)
}

// RegisterRoutes registers the task handler routes on a Gin router group.
func (h *TaskHandler) RegisterRoutes(rg *gin.RouterGroup) {
	t := rg.Group("/tasks")
	{
		t.GET("", h.List)
		t.POST("", h.Create)
		t.GET("/:id", h.Get)
		t.PUT("/:id", h.Update)
		t.DELETE("/:id", h.Delete)
		t.POST("/:id/move", h.Move)
		t.PATCH("/:id/move", h.Move)
	}
}
