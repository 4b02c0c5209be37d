package httpapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/park285/chess-wager/internal/auth"
	"github.com/park285/chess-wager/internal/game"
	"github.com/park285/chess-wager/internal/guard"
	"github.com/park285/chess-wager/pkg/wagerdto"
)

func statusFor(k game.Kind) int {
	switch k {
	case game.KindNotFound:
		return fiber.StatusNotFound
	case game.KindUnauthorized:
		return fiber.StatusForbidden
	case game.KindInvalidState:
		return fiber.StatusConflict
	case game.KindInvalidMove:
		return fiber.StatusUnprocessableEntity
	case game.KindValidation:
		return fiber.StatusBadRequest
	case game.KindInsufficientFunds:
		return fiber.StatusPaymentRequired
	case game.KindInternal:
		return fiber.StatusInternalServerError
	default:
		return fiber.StatusInternalServerError
	}
}

func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return c.Status(fiber.StatusUnauthorized).JSON(wagerdto.ErrorResponse{
			Error:   "unauthorized",
			Message: "Missing or invalid credentials",
		})
	case errors.Is(err, guard.ErrLockTimeout):
		return c.Status(fiber.StatusServiceUnavailable).JSON(wagerdto.ErrorResponse{
			Error:   "busy",
			Message: "Game is busy, retry shortly",
		})
	case errors.As(err, &fe):
		kind := "http_error"
		if fe.Code == fiber.StatusNotFound {
			kind = game.KindNotFound.String()
		}
		return c.Status(fe.Code).JSON(wagerdto.ErrorResponse{Error: kind, Message: fe.Message})
	}
	k := game.KindOf(err)
	return c.Status(statusFor(k)).JSON(wagerdto.ErrorResponse{
		Error:   k.String(),
		Message: game.MessageOf(err),
	})
}

func badBody() error { return game.Validation("Invalid request body") }
