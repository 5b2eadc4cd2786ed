package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/shopspring/decimal"

	"ticket-verify/internal/status"
	"ticket-verify/services"
)

type TicketHandler struct {
	tickets *services.TicketService
}

func NewTicketHandler(tickets *services.TicketService) *TicketHandler {
	return &TicketHandler{tickets: tickets}
}

// CreateTicket issues (or re-issues) a single ticket.
func (h *TicketHandler) CreateTicket(c echo.Context) error {
	var req struct {
		Email     string          `json:"email"`
		EventName string          `json:"event_name"`
		Value     decimal.Decimal `json:"value"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	ticket, err := h.tickets.IssueTicket(c.Request().Context(), req.Email, req.EventName, req.Value)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusCreated, ticket)
}

// CreateBatch issues tickets for many recipients of one event.
func (h *TicketHandler) CreateBatch(c echo.Context) error {
	var req struct {
		EventName    string                    `json:"event_name"`
		Recipients   []services.BatchRecipient `json:"recipients"`
		DefaultValue decimal.Decimal           `json:"default_value"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if req.EventName == "" || len(req.Recipients) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "event_name and recipients are required"})
	}

	result := h.tickets.IssueBatch(c.Request().Context(), req.EventName, req.Recipients, req.DefaultValue)
	return c.JSON(http.StatusOK, result)
}

// GetTicket returns the lifecycle state of one ticket.
func (h *TicketHandler) GetTicket(c echo.Context) error {
	ticket, err := h.tickets.LookupStatus(c.Request().Context(), c.PathParam("ticketId"))
	if err != nil {
		if errors.Is(err, status.ErrTicketNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Ticket not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Lookup failed"})
	}
	return c.JSON(http.StatusOK, ticket)
}

// MarkSent records payload delivery.
func (h *TicketHandler) MarkSent(c echo.Context) error {
	err := h.tickets.MarkSent(c.Request().Context(), c.PathParam("ticketId"))
	if err != nil {
		if errors.Is(err, status.ErrTicketNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Ticket not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Update failed"})
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Ticket marked as sent"})
}

// ListTickets lists tickets, optionally filtered by event.
func (h *TicketHandler) ListTickets(c echo.Context) error {
	tickets, err := h.tickets.ListTickets(c.Request().Context(), c.QueryParam("event_name"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "List failed"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"tickets": tickets,
		"count":   len(tickets),
	})
}
