package handler

import (
	"errors"
	"net/http"

	"auction-core/utils"

	"github.com/gin-gonic/gin"
)

// NotificationStreamer upgrades a request into a user's notification stream
type NotificationStreamer interface {
	ServeUser(w http.ResponseWriter, r *http.Request, userID string) error
}

type StreamHandler struct {
	streamer NotificationStreamer
}

func NewStreamHandler(streamer NotificationStreamer) *StreamHandler {
	return &StreamHandler{streamer: streamer}
}

// StreamNotificationsHandler handles GET /ws/users/:user_id
func (h *StreamHandler) StreamNotificationsHandler(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		utils.JSONError(c, http.StatusBadRequest, errors.New("empty user id"), "user id is required")
		return
	}

	// The upgrader has already answered the request when this fails.
	if err := h.streamer.ServeUser(c.Writer, c.Request, userID); err != nil {
		utils.Warn("StreamNotificationsHandler: stream ended", map[string]any{"user_id": userID, "error": err.Error()})
	}
}
