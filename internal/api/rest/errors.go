package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/codec"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/connection"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/modbus"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/types"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/watch"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondError maps domain errors onto status codes and error payloads.
func (s *Server) respondError(c *gin.Context, message string, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(message, zap.Error(err), zap.String("path", c.FullPath()))
	}
	c.JSON(status, types.NewErrorResponse(code, message, err.Error()))
}

func classify(err error) (int, string) {
	var exc *modbus.ExceptionError
	switch {
	case errors.Is(err, watch.ErrNotFound):
		return http.StatusNotFound, types.CodeNotFound
	case errors.Is(err, watch.ErrDuplicate):
		return http.StatusConflict, types.CodeConflict
	case errors.Is(err, watch.ErrEmptyName),
		errors.Is(err, watch.ErrInvalidType),
		errors.Is(err, watch.ErrUnresolved),
		errors.Is(err, codec.ErrInvalidInput),
		errors.Is(err, codec.ErrOutOfRange),
		errors.Is(err, codec.ErrUnsupported),
		errors.Is(err, connection.ErrOutOfRange):
		return http.StatusBadRequest, types.CodeBadRequest
	case errors.Is(err, codec.ErrConstantEdit):
		return http.StatusUnprocessableEntity, types.CodeEditRejected
	case errors.Is(err, connection.ErrNotConnected):
		return http.StatusConflict, types.CodeNotConnected
	case errors.As(err, &exc):
		return http.StatusBadGateway, types.CodeDeviceFailure
	default:
		return http.StatusInternalServerError, types.CodeInternal
	}
}

func badRequest(c *gin.Context, message string, err error) {
	c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, message, err.Error()))
}
