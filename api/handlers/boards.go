package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskboard-live/backend/internal/boards"
	"github.com/taskboard-live/backend/internal/model"
)

// BoardHandler handles HTTP requests for board management.
type BoardHandler struct {
	manager *boards.Manager
}

// NewBoardHandler creates a new BoardHandler.
func NewBoardHandler(manager *boards.Manager) *BoardHandler {
	return &BoardHandler{manager: manager}
}

// UpdateColumnsRequest is the body of PATCH /api/boards/:id/columns.
type UpdateColumnsRequest struct {
	Columns []model.Column `json:"columns" binding:"required"`
}

// List handles GET /api/boards.
func (h *BoardHandler) List(c *gin.Context) {
	list, err := h.manager.ListBoards(c.Request.Context())
	if err != nil {
		sendServiceError(c, err, "list boards")
		return
	}
	if list == nil {
		list = []*model.Board{}
	}
	c.JSON(http.StatusOK, list)
}

// Create handles POST /api/boards. Boards without columns get the default layout.
func (h *BoardHandler) Create(c *gin.Context) {
	var req model.CreateBoardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	board, err := h.manager.CreateBoard(c.Request.Context(), &req)
	if err != nil {
		sendServiceError(c, err, "create board")
		return
	}
	c.JSON(http.StatusCreated, board)
}

// Get handles GET /api/boards/:id.
func (h *BoardHandler) Get(c *gin.Context) {
	board, err := h.manager.GetBoard(c.Request.Context(), c.Param("id"))
	if err != nil {
		sendServiceError(c, err, "get board")
		return
	}
	c.JSON(http.StatusOK, board)
}

// Update handles PUT /api/boards/:id.
func (h *BoardHandler) Update(c *gin.Context) {
	var req model.UpdateBoardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	board, err := h.manager.UpdateBoard(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		sendServiceError(c, err, "update board")
		return
	}
	c.JSON(http.StatusOK, board)
}

// UpdateColumns handles PATCH /api/boards/:id/columns.
func (h *BoardHandler) UpdateColumns(c *gin.Context) {
	var req UpdateColumnsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	board, err := h.manager.UpdateColumns(c.Request.Context(), c.Param("id"), req.Columns)
	if err != nil {
		sendServiceError(c, err, "update columns")
		return
	}
	c.JSON(http.StatusOK, board)
}

// Delete handles DELETE /api/boards/:id. The board's tasks go with it.
func (h *BoardHandler) Delete(c *gin.Context) {
	if err := h.manager.DeleteBoard(c.Request.Context(), c.Param("id")); err != nil {
		sendServiceError(c, err, "delete board")
		return
	}
	c.Status(http.StatusNoContent)
}

// RegisterRoutes registers the board handler routes on a Gin router group.
func (h *BoardHandler) RegisterRoutes(rg *gin.RouterGroup) {
	b := rg.Group("/boards")
	{
		b.GET("", h.List)
		b.POST("", h.Create)
		b.GET("/:id", h.Get)
		b.PUT("/:id", h.Update)
		b.PATCH("/:id/columns", h.UpdateColumns)
		b.DELETE("/:id", h.Delete)
	}
}
