package handlers

import (
	"chat-sync/internal/services"

	"github.com/gofiber/fiber/v2"
)

// GetProfileHandler returns the authenticated user's profile
func GetProfileHandler(users *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := users.Profile(c.Context(), currentUser(c))
		if err != nil {
			return errorJSON(c, err)
		}
		u.Online = Manager.IsUserOnline(u.ID)
		return c.JSON(u)
	}
}

// ListUsersHandler lists every other user with their online status.
func ListUsersHandler(users *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		self := currentUser(c)
		all, err := users.ListUsers(c.Context())
		if err != nil {
			return errorJSON(c, err)
		}

		resp := make([]fiber.Map, 0, len(all))
		for _, u := range all {
			if u.ID == self {
				continue
			}
			status := "offline"
			if Manager.IsUserOnline(u.ID) {
				status = "online"
			}
			resp = append(resp, fiber.Map{
				"id":     u.ID,
				"name":   u.Name,
				"status": status,
			})
		}

		return c.JSON(resp)
	}
}
