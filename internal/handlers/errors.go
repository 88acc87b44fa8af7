package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"chat-sync/internal/media"
	"chat-sync/internal/services"

	"github.com/gofiber/fiber/v2"
)

// statusFor maps service errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidUserID),
		errors.Is(err, services.ErrSelfConversation),
		errors.Is(err, services.ErrInvalidMessage),
		errors.Is(err, services.ErrInvalidExpiry),
		errors.Is(err, services.ErrMissingFields):
		return http.StatusBadRequest
	case errors.Is(err, media.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, services.ErrPeerNotFound),
		errors.Is(err, services.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrNotMessageOwner):
		return http.StatusForbidden
	case errors.Is(err, services.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrWriteFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// clientMessage is the error text shown to users; internal failures are not
// spelled out.
func clientMessage(err error) string {
	switch statusFor(err) {
	case http.StatusInternalServerError:
		return "internal error"
	case http.StatusServiceUnavailable:
		return "could not save, try again"
	default:
		return err.Error()
	}
}

func errorJSON(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request_failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(fiber.Map{"error": clientMessage(err)})
}
