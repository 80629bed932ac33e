package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error codes carried next to the human message.
const (
	CodeInvalid         = "invalid_request"
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
	CodeNotFound        = "not_found"
	CodeConflict        = "conflict"
	CodeLoadFailed      = "load_failed"
	CodeSaveFailed      = "save_failed"
	CodeUnavailable     = "unavailable"
)

// Body is the standard API response envelope. Internal error details never
// reach Error; they are logged by the handler instead.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// Accepted sends a 202 JSON response for work handed to the worker.
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Body{Success: true, Data: data})
}

// NoContent sends 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, msg string) {
	fail(c, http.StatusBadRequest, CodeInvalid, msg)
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, msg string) {
	fail(c, http.StatusUnauthorized, CodeUnauthenticated, msg)
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, msg string) {
	fail(c, http.StatusForbidden, CodeForbidden, msg)
}

// NotFound sends 404 "<what> not found".
func NotFound(c *gin.Context, what string) {
	fail(c, http.StatusNotFound, CodeNotFound, what+" not found")
}

// Conflict sends 409.
func Conflict(c *gin.Context, msg string) {
	fail(c, http.StatusConflict, CodeConflict, msg)
}

// LoadFailed sends 500 "could not load".
func LoadFailed(c *gin.Context) {
	fail(c, http.StatusInternalServerError, CodeLoadFailed, "could not load")
}

// SaveFailed sends 500 "could not save".
func SaveFailed(c *gin.Context) {
	fail(c, http.StatusInternalServerError, CodeSaveFailed, "could not save")
}

// ServiceUnavailable sends 503.
func ServiceUnavailable(c *gin.Context, msg string) {
	fail(c, http.StatusServiceUnavailable, CodeUnavailable, msg)
}

func fail(c *gin.Context, status int, code, msg string) {
	c.JSON(status, Body{Success: false, Code: code, Error: msg})
}
