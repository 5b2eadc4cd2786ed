package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"ticket-verify/models"
	"ticket-verify/realtime"
	"ticket-verify/services"
)

type AdminHandler struct {
	verifier *services.VerificationService
	store    services.Store
	hub      *realtime.Hub
}

func NewAdminHandler(verifier *services.VerificationService, store services.Store, hub *realtime.Hub) *AdminHandler {
	return &AdminHandler{verifier: verifier, store: store, hub: hub}
}

// Stats returns ticket aggregates plus a live presence snapshot.
func (h *AdminHandler) Stats(c echo.Context) error {
	stats, err := h.verifier.Stats(c.Request().Context(), c.QueryParam("event_name"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Stats failed"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"tickets":  stats,
		"realtime": h.hub.SystemStats(),
	})
}

// Devices lists both live room presence and durable device registrations.
func (h *AdminHandler) Devices(c echo.Context) error {
	registered, err := h.store.ActiveDevices(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Device lookup failed"})
	}

	eventName := c.QueryParam("event_name")
	var live []models.Device
	if eventName != "" {
		live = h.hub.ActiveDevices(eventName)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"registered": registered,
		"live":       live,
	})
}

// EvictDevice force-disconnects one live device.
func (h *AdminHandler) EvictDevice(c echo.Context) error {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.Bind(&req)
	if req.Reason == "" {
		req.Reason = "disconnected by administrator"
	}

	if !h.hub.Evict(c.PathParam("deviceId"), req.Reason) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Device not connected"})
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Device disconnected"})
}

// Alert pushes an administrative message to every device in a room.
func (h *AdminHandler) Alert(c echo.Context) error {
	var req struct {
		EventName string `json:"event_name"`
		Message   string `json:"message"`
		Severity  string `json:"severity"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if req.EventName == "" || req.Message == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "event_name and message are required"})
	}

	h.hub.BroadcastAlert(req.EventName, models.SystemAlert{
		EventName: req.EventName,
		Message:   req.Message,
		Severity:  req.Severity,
		Timestamp: time.Now().UTC(),
	})
	return c.JSON(http.StatusAccepted, map[string]string{"message": "Alert broadcast"})
}
