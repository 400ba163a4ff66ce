package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/softpaymoney/paygate/app/controllers"
)

// DispatchRouter exposes the dispatcher role's internal endpoint.
type DispatchRouter struct {
	controller *controllers.DispatchController
}

func NewDispatchRouter(controller *controllers.DispatchController) *DispatchRouter {
	return &DispatchRouter{controller: controller}
}

func (r DispatchRouter) InstallRouter(app *fiber.App) {
	app.Post("/external-interaction", r.controller.HandleEvent)
}

// InstallDispatchRouter wires the dispatcher role's routes.
func InstallDispatchRouter(app *fiber.App, controller *controllers.DispatchController) {
	setup(app, NewDispatchRouter(controller))
}
