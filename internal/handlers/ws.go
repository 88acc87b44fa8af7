package handlers

import (
	"chat-sync/internal/models"
	"chat-sync/internal/services"
	"chat-sync/internal/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// WebSocketHandler handles the websocket connection
func WebSocketHandler(chat *services.ChatService, users *services.UserService) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		// Retrieve user info from locals (set by middleware)
		userID, _ := c.Locals("user_id").(string)
		name, _ := c.Locals("name").(string)

		session := NewSession(uuid.NewString(), userID, name, utils.NewWSWriter(c), chat, users)
		if Manager.Register(session) {
			session.logger.Info("user_online")
		}

		defer func() {
			session.Close()
			if Manager.Unregister(session.ID) {
				session.logger.Info("user_offline")
			}
			c.Close()
		}()

		session.send(models.WSMessage{
			Event: "connected",
			Meta: map[string]any{
				"session_id": session.ID,
				"user_id":    userID,
				"name":       name,
			},
		})

		for {
			msgType, msg, err := c.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					session.logger.Warn("ws_read_failed", "error", err)
				}
				break
			}

			session.HandleMessage(msgType, msg)
		}
	})
}

// WSUpgradeMiddleware upgrades the connection to WebSocket
func WSUpgradeMiddleware(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		c.Locals("allowed", true)
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}
