package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type APIError struct {
	Message string   `json:"message"`
	Code    string   `json:"code,omitempty"`
	Details []string `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	// Server-side detail stays out of responses in release mode.
	if status >= http.StatusInternalServerError && gin.Mode() == gin.ReleaseMode {
		msg = "internal error"
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondValidationError carries the per-field findings of request
// validation alongside the summary message.
func RespondValidationError(c *gin.Context, details []string) {
	c.JSON(http.StatusBadRequest, ErrorEnvelope{
		Error: APIError{
			Message: "request validation failed",
			Code:    "validation_failed",
			Details: details,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}
