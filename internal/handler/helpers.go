package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/draftwire/draftwire/internal/pkg/errcode"
	appErr "github.com/draftwire/draftwire/internal/pkg/errors"
	"github.com/draftwire/draftwire/internal/pkg/response"
)

func getUserID(c *gin.Context) string {
	value, _ := c.Get("user_id")
	userID, _ := value.(string)
	return userID
}

func handleError(c *gin.Context, err error) {
	if err != nil {
		requestID, _ := c.Get("request_id")
		logutil.GetLogger(c.Request.Context()).Warn("request failed",
			zap.Any("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("user_id", getUserID(c)),
			zap.Error(err))
	}
	switch {
	case err == nil:
		return
	case err == appErr.ErrUnauthorized:
		response.Error(c, http.StatusUnauthorized, errcode.ErrUnauthorized, "unauthorized")
	case err == appErr.ErrForbidden:
		response.Error(c, http.StatusForbidden, errcode.ErrForbidden, "forbidden")
	case err == appErr.ErrNotFound:
		response.Error(c, http.StatusNotFound, errcode.ErrNotFound, "not found")
	case err == appErr.ErrInvalid:
		response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "invalid request")
	case err == appErr.ErrConflict:
		response.Error(c, http.StatusConflict, errcode.ErrConflict, "conflict")
	case appErr.IsUnavailable(err):
		response.Error(c, http.StatusServiceUnavailable, errcode.ErrUnavailable, "store unavailable, retry")
	default:
		response.Error(c, http.StatusInternalServerError, errcode.ErrInternal, "internal error")
	}
}
