package handlers

import (
	"net/http"
	"strings"

	"chat-sync/internal/models"
	"chat-sync/internal/services"

	"github.com/gofiber/fiber/v2"
)

func RegisterHandler(users *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.RegisterRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
		}
		user, err := users.Register(c.Context(), req)
		if err != nil {
			return errorJSON(c, err)
		}
		return c.Status(http.StatusCreated).JSON(user)
	}
}

func LoginHandler(users *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.LoginRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
		}
		res, err := users.Login(c.Context(), req)
		if err != nil {
			return errorJSON(c, err)
		}
		return c.JSON(res)
	}
}

// AuthMiddleware verifies the JWT from the Authorization header, or from the
// access_token query parameter for WebSocket upgrades.
func AuthMiddleware(users *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Query("access_token")
		if token == "" {
			if h := c.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
				token = strings.TrimPrefix(h, "Bearer ")
			}
		}

		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Missing token")
		}

		claims, err := users.ValidateToken(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid token")
		}

		uid, ok := claims["user_id"].(string)
		if !ok || services.ValidUserID(uid) != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Invalid token claims")
		}
		c.Locals("user_id", uid)

		if name, ok := claims["name"].(string); ok {
			c.Locals("name", name)
		}

		return c.Next()
	}
}

func currentUser(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}
