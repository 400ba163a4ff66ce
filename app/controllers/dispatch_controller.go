package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/softpaymoney/paygate/internal/pkg/dispatch"
)

// DispatchController receives settlement events from the processing
// role.
type DispatchController struct {
	service *dispatch.Service
}

func NewDispatchController(service *dispatch.Service) *DispatchController {
	return &DispatchController{service: service}
}

// HandleEvent accepts one settlement envelope on
// POST /external-interaction and runs the downstream sinks.
func (c *DispatchController) HandleEvent(ctx *fiber.Ctx) error {
	var envelope dispatch.Envelope
	if err := ctx.BodyParser(&envelope); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"ok":    false,
			"error": "request body is not a settlement envelope",
		})
	}

	if err := c.service.Dispatch(ctx.UserContext(), envelope); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"ok":    false,
			"error": err.Error(),
		})
	}
	return ctx.JSON(fiber.Map{"ok": true})
}
