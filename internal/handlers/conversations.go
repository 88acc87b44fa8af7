package handlers

import (
	"net/http"
	"time"

	"chat-sync/internal/models"
	"chat-sync/internal/services"

	"github.com/gofiber/fiber/v2"
)

// ListConversationsHandler returns the roster of the authenticated user,
// optionally narrowed with ?filter=unread.
func ListConversationsHandler(chat *services.ChatService, users *services.UserService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		entries, err := chat.Conversations(c.Context(), currentUser(c), users)
		if err != nil {
			return errorJSON(c, err)
		}
		entries = services.Filter(entries, models.ParseRosterFilter(c.Query("filter")))

		items := make([]models.RosterItem, 0, len(entries))
		for _, e := range entries {
			items = append(items, models.RosterItem{ConversationSummary: e, Online: Manager.IsUserOnline(e.PeerID)})
		}
		return c.JSON(items)
	}
}

// HistoryHandler returns the messages of one conversation as seen by the caller.
func HistoryHandler(chat *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		self := currentUser(c)
		msgs, err := chat.History(c.Context(), self, c.Params("peer"))
		if err != nil {
			return errorJSON(c, err)
		}
		now := time.Now()
		items := make([]models.MessageItem, 0, len(msgs))
		for _, m := range msgs {
			items = append(items, models.NewMessageItem(m, self, now))
		}
		return c.JSON(items)
	}
}

func SendMessageHandler(chat *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.SendMessageRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
		}
		in := services.SendInput{
			From:      currentUser(c),
			To:        c.Params("peer"),
			Content:   req.Text,
			ExpiresIn: time.Duration(req.ExpiresIn) * time.Second,
		}
		if req.ImageBase64 != "" {
			in.ImageBase64 = &req.ImageBase64
		}
		return send(c, chat, in)
	}
}

func send(c *fiber.Ctx, chat *services.ChatService, in services.SendInput) error {
	m, err := chat.Send(c.Context(), in)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(http.StatusCreated).JSON(models.SendMessageResponse{
		ID:              m.ID,
		ConversationKey: services.ConversationKey(m.SenderID, m.ReceiverID),
		Timestamp:       m.Timestamp,
		ExpiryTimestamp: m.ExpiryTimestamp,
	})
}

// NewMessageHandler sends to a recipient given by display name.
func NewMessageHandler(chat *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.NewMessageRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
		}
		m, err := chat.SendByName(c.Context(), currentUser(c), req.RecipientName, req.Text)
		if err != nil {
			return errorJSON(c, err)
		}
		return c.Status(http.StatusCreated).JSON(models.SendMessageResponse{
			ID:              m.ID,
			ConversationKey: services.ConversationKey(m.SenderID, m.ReceiverID),
			Timestamp:       m.Timestamp,
		})
	}
}

func EditMessageHandler(chat *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req models.EditMessageRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
		}
		if err := chat.Edit(c.Context(), currentUser(c), c.Params("peer"), c.Params("id"), req.Text, req.ImageBase64); err != nil {
			return errorJSON(c, err)
		}
		return c.SendStatus(http.StatusNoContent)
	}
}

func DeleteMessageHandler(chat *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := chat.DeleteMessage(c.Context(), currentUser(c), c.Params("peer"), c.Params("id")); err != nil {
			return errorJSON(c, err)
		}
		return c.SendStatus(http.StatusNoContent)
	}
}

// DeleteConversationHandler removes the conversation for both participants.
func DeleteConversationHandler(chat *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := chat.DeleteConversation(c.Context(), currentUser(c), c.Params("peer")); err != nil {
			return errorJSON(c, err)
		}
		return c.SendStatus(http.StatusNoContent)
	}
}
