package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/alumni-chat/internal/domain"
	"github.com/weiawesome/alumni-chat/pkg/log"
	"github.com/weiawesome/alumni-chat/pkg/response"
)

// errorCode maps a service error to its wire code and HTTP status.
func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, domain.ErrCodeBadRequest
	case errors.Is(err, domain.ErrAuthentication):
		return http.StatusUnauthorized, domain.ErrCodeUnauthorized
	case errors.Is(err, domain.ErrAuthorization):
		return http.StatusForbidden, domain.ErrCodeForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, domain.ErrCodeNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, domain.ErrCodeConflict
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, domain.ErrCodeInvalidState
	}
	return http.StatusInternalServerError, domain.ErrCodeInternalError
}

// writeError renders err through the standard envelope. Internal errors
// are logged and their detail hidden.
func writeError(c *gin.Context, err error, fallback string) {
	status, code := errorCode(err)
	if status == http.StatusInternalServerError {
		l := log.Ctx(c.Request.Context())
		l.Error().Err(err).Msg(fallback)
		response.InternalError(c, fallback)
		return
	}
	response.Error(c, status, code, err.Error())
}
