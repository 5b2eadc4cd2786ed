package handlers

import (
	"github.com/labstack/echo/v5"

	"ticket-verify/realtime"
)

type WSHandler struct {
	hub *realtime.Hub
}

func NewWSHandler(hub *realtime.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// HandleWS upgrades the connection and hands it to the hub.
func (h *WSHandler) HandleWS(c echo.Context) error {
	return realtime.ServeWS(h.hub, c.Response(), c.Request())
}
