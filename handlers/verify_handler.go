package handlers

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"ticket-verify/internal/status"
	"ticket-verify/services"
)

type VerifyHandler struct {
	verifier *services.VerificationService
}

func NewVerifyHandler(verifier *services.VerificationService) *VerifyHandler {
	return &VerifyHandler{verifier: verifier}
}

// Verify processes a scanned payload. The response body is always the full
// outcome; the HTTP status mirrors its error code.
func (h *VerifyHandler) Verify(c echo.Context) error {
	var req services.VerifyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if req.Email == "" || req.Data == "" || req.StaffEmail == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "email, data and staff_email are required"})
	}
	req.IPAddress = c.RealIP()
	req.UserAgent = c.Request().Header.Get("User-Agent")

	outcome := h.verifier.Verify(c.Request().Context(), req)
	return c.JSON(httpStatusFor(outcome.ErrorCode), outcome)
}

// VerifyCode processes the manual 6-digit code fallback.
func (h *VerifyHandler) VerifyCode(c echo.Context) error {
	var req services.CodeVerifyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if req.EventName == "" || req.Code == "" || req.StaffEmail == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "event_name, code and staff_email are required"})
	}
	req.IPAddress = c.RealIP()
	req.UserAgent = c.Request().Header.Get("User-Agent")

	outcome := h.verifier.VerifyByCode(c.Request().Context(), req)
	return c.JSON(httpStatusFor(outcome.ErrorCode), outcome)
}

func httpStatusFor(errorCode string) int {
	switch errorCode {
	case "":
		return http.StatusOK
	case status.CodeAlreadyUsed:
		return http.StatusConflict
	case status.CodeNotFound:
		return http.StatusNotFound
	case status.CodeDatabaseError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
