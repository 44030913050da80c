package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mini-oms/internal/domain"
	"mini-oms/internal/logging"
	"mini-oms/internal/service"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusFor(e *domain.Error) int {
	switch e.Kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindAuthorization:
		if e.Code == domain.ErrUnauthenticated.Code {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	var de *domain.Error
	switch {
	case errors.As(err, &de):
		c.JSON(statusFor(de), ErrorBody{Error: de.Code, Message: de.Message})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, ErrorBody{Error: "invalid_credentials", Message: err.Error()})
	case errors.Is(err, service.ErrEmailTaken):
		c.JSON(http.StatusConflict, ErrorBody{Error: "email_taken", Message: err.Error()})
	default:
		_ = c.Error(err)
		logging.From(c).Error("request failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorBody{Error: "internal", Message: "internal server error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorBody{Error: domain.ErrInvalidRequest.Code, Message: msg})
}
