package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/storybook-backend/internal/platform/logger"
	"github.com/yungbote/storybook-backend/internal/realtime"
)

type RealtimeHandler struct {
	log *logger.Logger
	hub *realtime.Hub
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.Hub) *RealtimeHandler {
	return &RealtimeHandler{log: log.With("handler", "RealtimeHandler"), hub: hub}
}

// GET /api/events
//
// Streams the caller's job and domain events. Each connection subscribes to
// the owner channel only.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	owner, ok := requestOwner(c)
	if !ok {
		return
	}
	client := h.hub.NewClient(owner)
	h.hub.Subscribe(client, owner.String())
	h.log.Debug("event stream open", "owner_id", owner, "client_id", client.ID)
	defer func() {
		h.hub.Close(client)
		h.log.Debug("event stream closed", "owner_id", owner, "client_id", client.ID)
	}()
	h.hub.ServeHTTP(c.Writer, c.Request, client)
}
