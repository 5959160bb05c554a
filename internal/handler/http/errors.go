package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"collab-presence/internal/service"
)

func HandleServiceError(c *gin.Context, err error) {
	if errors.Is(err, service.ErrInvalidRoom) || errors.Is(err, service.ErrInvalidMember) {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
	} else if errors.Is(err, service.ErrRoomNotFound) {
		ErrorResponse(c, http.StatusNotFound, err.Error())
	} else {
		logrus.WithError(err).Error("Unhandled internal server error")
		ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
