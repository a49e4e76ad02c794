// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/taskboard-live/backend/internal/model"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// validationErrors are the model errors reported as 400.
var validationErrors = []error{
	model.ErrTitleRequired,
	model.ErrNameRequired,
	model.ErrBoardIDRequired,
	model.ErrInvalidStatus,
	model.ErrInvalidPriority,
	model.ErrColumnIDRequired,
	model.ErrDuplicateColumn,
	model.ErrUnknownColumn,
	model.ErrTaskInManyColumns,
}

func isValidation(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// sendServiceError maps a service error to the response body. action names
// the failed operation in the INTERNAL_ERROR message.
func sendServiceError(c *gin.Context, err error, action string) {
	switch {
	case isValidation(err):
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, model.ErrBoardNotFound):
		sendError(c, http.StatusNotFound, "BOARD_NOT_FOUND", err.Error())
	case errors.Is(err, model.ErrTaskNotFound):
		sendError(c, http.StatusNotFound, "TASK_NOT_FOUND", err.Error())
	default:
		log.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to "+action+": "+err.Error())
	}
}
