package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"chat-sync/internal/media"
	"chat-sync/internal/services"

	"github.com/gofiber/fiber/v2"
)

// UploadImageHandler sends a picture message. It expects a multipart form with:
// - image: the picture file
// - text: optional caption
// - expires_in: optional self-destruct delay in seconds
//
// The picture is re-encoded as a JPEG and travels inline in the record.
func UploadImageHandler(chat *services.ChatService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fileHeader, err := c.FormFile("image")
		if err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "image file is required"})
		}

		var expiresIn int
		if v := c.FormValue("expires_in"); v != "" {
			expiresIn, err = strconv.Atoi(v)
			if err != nil {
				return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid expires_in"})
			}
		}

		f, err := fileHeader.Open()
		if err != nil {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "could not read image"})
		}
		defer f.Close()

		payload, err := media.Normalize(f)
		if err != nil {
			if errors.Is(err, media.ErrTooLarge) {
				return errorJSON(c, err)
			}
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "unsupported image"})
		}

		return send(c, chat, services.SendInput{
			From:        currentUser(c),
			To:          c.Params("peer"),
			Content:     c.FormValue("text"),
			ImageBase64: &payload,
			ExpiresIn:   time.Duration(expiresIn) * time.Second,
		})
	}
}
