package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/fathima-sithara/chatsync/internal/apperr"
)

func JSONSuccess(c *fiber.Ctx, status int, payload interface{}) error {
	return c.Status(status).JSON(fiber.Map{"status": "ok", "data": payload})
}

func JSONError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"status": "error", "message": msg})
}

// statusFor maps an error kind to its HTTP status.
func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return fiber.StatusBadRequest
	case apperr.KindAuthorization:
		return fiber.StatusForbidden
	case apperr.KindBusiness:
		return fiber.StatusConflict
	default:
		return fiber.StatusServiceUnavailable
	}
}

func appError(c *fiber.Ctx, err error) error {
	k := apperr.KindOf(err)
	return c.Status(statusFor(k)).JSON(fiber.Map{
		"status":  "error",
		"kind":    k,
		"message": apperr.UserMessage(err),
	})
}
