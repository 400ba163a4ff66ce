package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/softpaymoney/paygate/app/controllers"
)

// HandlerRouter exposes the processing role's internal endpoint. It
// carries no rate limiter: the only caller is the ingress fan-out.
type HandlerRouter struct {
	controller *controllers.HandlerController
}

func NewHandlerRouter(controller *controllers.HandlerController) *HandlerRouter {
	return &HandlerRouter{controller: controller}
}

func (r HandlerRouter) InstallRouter(app *fiber.App) {
	app.Post("/handler", r.controller.HandleProcess)
}

// InstallHandlerRouter wires the processing role's routes.
func InstallHandlerRouter(app *fiber.App, controller *controllers.HandlerController) {
	setup(app, NewHandlerRouter(controller))
}
