package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/softpaymoney/paygate/internal/pkg/processing"
)

// HandlerController is the processing role's internal endpoint called
// by the ingress fan-out.
type HandlerController struct {
	service *processing.Service
}

func NewHandlerController(service *processing.Service) *HandlerController {
	return &HandlerController{service: service}
}

// HandleProcess settles one persisted incoming request on
// POST /handler. A failed settlement answers 422; the ingress side
// decides success by re-reading the request status, not this body.
func (c *HandlerController) HandleProcess(ctx *fiber.Ctx) error {
	var body struct {
		IncomingRequestID uint `json:"incomingRequestId"`
	}
	if err := ctx.BodyParser(&body); err != nil || body.IncomingRequestID == 0 {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"ok":    false,
			"error": "incomingRequestId is required",
		})
	}

	ack, err := c.service.Process(ctx.UserContext(), body.IncomingRequestID)
	if err != nil {
		return ctx.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"ok":    false,
			"error": err.Error(),
		})
	}

	response := fiber.Map{"ok": true}
	if ack != nil {
		response["ack"] = fiber.Map{
			"contentType": ack.ContentType,
			"body":        ack.Body,
		}
	}
	return ctx.JSON(response)
}
