package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/softpaymoney/paygate/app/models"
	"github.com/softpaymoney/paygate/internal/pkg/ingress"
	"github.com/softpaymoney/paygate/internal/pkg/pgerr"
)

// IngressController exposes the provider-facing callback endpoints.
type IngressController struct {
	service *ingress.Service
}

func NewIngressController(service *ingress.Service) *IngressController {
	return &IngressController{service: service}
}

// HandleGazpromPreparation answers the provider's pre-authorization
// check on GET /api/payment/gazprom/verify.
func (c *IngressController) HandleGazpromPreparation(ctx *fiber.Ctx) error {
	return c.process(ctx, models.PaymentSystemGazprom, models.DestinationPreparation)
}

// HandleGazpromCompletion answers the final settlement callback on
// GET /api/payment/gazprom.
func (c *IngressController) HandleGazpromCompletion(ctx *fiber.Ctx) error {
	return c.process(ctx, models.PaymentSystemGazprom, models.DestinationCompletion)
}

// HandleGeneric accepts callbacks addressed by route params, so a new
// provider needs no dedicated endpoint.
func (c *IngressController) HandleGeneric(ctx *fiber.Ctx) error {
	system := models.PaymentSystem(strings.ToUpper(ctx.Params("paymentSystem")))
	destination := models.HandlerDestination(strings.ToUpper(ctx.Params("handlerDestination")))
	return c.process(ctx, system, destination)
}

func (c *IngressController) process(ctx *fiber.Ctx, system models.PaymentSystem, destination models.HandlerDestination) error {
	payload := requestPayload(ctx)
	metadata := map[string]string{"canonicalUrl": canonicalURL(ctx)}

	status, ack, err := c.service.ProcessRequest(ctx.UserContext(), payload, system, destination, metadata)
	if err != nil {
		if errors.Is(err, pgerr.ErrDuplicateRequest) {
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if status != models.RequestStatusProcessed {
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "incoming request has not been processed",
		})
	}

	if ack != nil && ack.Body != "" {
		ctx.Set(fiber.HeaderContentType, ack.ContentType)
		return ctx.SendString(ack.Body)
	}
	return ctx.JSON(fiber.Map{"ok": true})
}

// requestPayload flattens query and form parameters into the payload
// persisted with the incoming request. Providers deliver callbacks as
// GET query strings or form posts, never JSON.
func requestPayload(ctx *fiber.Ctx) map[string]string {
	payload := map[string]string{}
	ctx.Context().QueryArgs().VisitAll(func(key, value []byte) {
		payload[string(key)] = string(value)
	})
	ctx.Context().PostArgs().VisitAll(func(key, value []byte) {
		payload[string(key)] = string(value)
	})
	return payload
}

// canonicalURL rebuilds the exact URL the provider signed: the full
// request URL with the signature parameter cut out, preserving the
// original parameter order.
func canonicalURL(ctx *fiber.Ctx) string {
	full := ctx.BaseURL() + ctx.OriginalURL()
	for _, sep := range []string{"&signature=", "?signature="} {
		start := strings.Index(full, sep)
		if start < 0 {
			continue
		}
		rest := full[start+len(sep):]
		if next := strings.IndexByte(rest, '&'); next >= 0 {
			// The parameter sits mid-query: keep the separator for
			// the one that follows.
			full = full[:start+1] + rest[next+1:]
		} else {
			full = full[:start]
		}
	}
	return full
}
