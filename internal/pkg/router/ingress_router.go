package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/softpaymoney/paygate/app/controllers"
)

// IngressRouter exposes the public provider callback endpoints.
type IngressRouter struct {
	controller *controllers.IngressController
}

func NewIngressRouter(controller *controllers.IngressController) *IngressRouter {
	return &IngressRouter{controller: controller}
}

func (r IngressRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api/payment", limiter.New(limiter.Config{Max: 120}))

	// Dedicated Gazprombank endpoints: the bank calls with GET and a
	// signed query string.
	api.Get("/gazprom/verify", r.controller.HandleGazpromPreparation)
	api.Get("/gazprom", r.controller.HandleGazpromCompletion)

	// Any other provider is addressed by route params.
	api.Get("/:paymentSystem/:handlerDestination", r.controller.HandleGeneric)
	api.Post("/:paymentSystem/:handlerDestination", r.controller.HandleGeneric)
}

// InstallIngressRouter wires the ingress role's routes.
func InstallIngressRouter(app *fiber.App, controller *controllers.IngressController) {
	setup(app, NewIngressRouter(controller))
}
