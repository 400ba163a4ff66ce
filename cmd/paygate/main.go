package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/softpaymoney/paygate/app/controllers"
	"github.com/softpaymoney/paygate/internal/pkg/auditlog"
	"github.com/softpaymoney/paygate/internal/pkg/cache"
	"github.com/softpaymoney/paygate/internal/pkg/crm"
	"github.com/softpaymoney/paygate/internal/pkg/database"
	"github.com/softpaymoney/paygate/internal/pkg/dispatch"
	"github.com/softpaymoney/paygate/internal/pkg/docstore"
	"github.com/softpaymoney/paygate/internal/pkg/env"
	"github.com/softpaymoney/paygate/internal/pkg/ingress"
	"github.com/softpaymoney/paygate/internal/pkg/processing"
	"github.com/softpaymoney/paygate/internal/pkg/receipt"
	"github.com/softpaymoney/paygate/internal/pkg/registry"
	"github.com/softpaymoney/paygate/internal/pkg/router"
)

// The same binary runs all three roles; SERVER_TYPE selects one.
const (
	roleIngress  = "ingress"
	roleHandler  = "handler"
	roleDispatch = "dispatch"
)

func main() {
	env.SetupEnvFile()
	database.SetupDatabase()
	if err := docstore.SetupDocStore(); err != nil {
		log.Fatalf("cannot connect document store: %v", err)
	}

	role := env.GetEnv("SERVER_TYPE", roleIngress)
	switch role {
	case roleIngress:
		runIngress()
	case roleHandler:
		runHandler()
	case roleDispatch:
		runDispatch()
	default:
		log.Fatalf("unknown SERVER_TYPE %q", role)
	}
}

func newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: !env.IsDev(),
	})
	app.Use(recover.New(), logger.New())
	return app
}

func runIngress() {
	audit := auditlog.New(database.GetDB())
	ports := registry.New(database.GetDB())

	service := ingress.NewService(
		ingress.NewRepository(database.GetDB()),
		ports,
		audit,
		ingress.Config{
			HandlerHost:     env.GetEnv("HANDLER_HOST", "localhost"),
			HandlerBasePort: envInt("HANDLER_BASE_PORT", 3001),
			HandlerTimeout:  envDuration("HANDLER_TIMEOUT", 10*time.Second),
		},
	)

	app := newApp()
	router.InstallIngressRouter(app, controllers.NewIngressController(service))

	listenAndServe(app, env.GetEnv("APP_PORT", "3000"), nil)
}

func runHandler() {
	audit := auditlog.New(database.GetDB())

	var verifier *processing.SignatureVerifier
	skipSignature := env.GetEnv("GAZPROM_SKIP_SIGNATURE_CHECK", "false") == "true"
	if !skipSignature {
		var err error
		verifier, err = processing.LoadSignatureVerifier(env.GetEnv("GAZPROM_CERT_PATH", "certs/gazprom.pem"))
		if err != nil {
			log.Fatalf("cannot load signature certificate: %v", err)
		}
	}

	notifier := processing.NewHTTPNotifier(
		env.GetEnv("DISPATCH_URL", "http://localhost:3100/external-interaction"),
		envDuration("DISPATCH_TIMEOUT", 10*time.Second),
		audit,
	)

	service := processing.NewService(
		processing.NewRepository(database.GetDB()),
		docstore.GetStore(),
		verifier,
		notifier,
		audit,
		processing.Config{
			MerchantID:         env.GetEnv("GAZPROM_MERCHANT_ID", ""),
			SkipSignatureCheck: skipSignature,
		},
	)

	reg := registry.New(database.GetDB())
	port, err := reg.ClaimFreePort(envInt("HANDLER_BASE_PORT", 3001))
	if err != nil {
		log.Fatalf("cannot claim handler port: %v", err)
	}

	app := newApp()
	router.InstallHandlerRouter(app, controllers.NewHandlerController(service))

	listenAndServe(app, strconv.Itoa(port), func() {
		if err := reg.Deregister(port); err != nil {
			log.Errorf("cannot deregister port %d: %v", port, err)
		}
	})
}

func runDispatch() {
	cache.SetupCache()
	audit := auditlog.New(database.GetDB())
	docs := docstore.GetStore()

	retries := dispatch.NewRetryQueue(cache.GetClient(), envDuration("RETRY_POLL_INTERVAL", 30*time.Second))
	merchant := dispatch.NewMerchantWebhook(docs, audit, retries, envDuration("WEBHOOK_TIMEOUT", 15*time.Second))

	receiptClient := receipt.NewClient(receipt.Config{
		BaseURL:  env.GetEnv("RECEIPT_API_URL", ""),
		Login:    env.GetEnv("RECEIPT_LOGIN", ""),
		Password: env.GetEnv("RECEIPT_PASSWORD", ""),
		GroupID:  env.GetEnv("RECEIPT_GROUP_ID", ""),
		Timeout:  envDuration("RECEIPT_TIMEOUT", 15*time.Second),
	})
	crmClient := crm.NewClient(envDuration("CRM_TIMEOUT", 15*time.Second))

	service := dispatch.NewService(audit,
		merchant,
		receipt.NewExecutor(receiptClient, docs, audit),
		crm.NewExecutor(crmClient, docs, audit),
	)

	ctx, stop := context.WithCancel(context.Background())
	go retries.Run(ctx, merchant.Redeliver)

	app := newApp()
	router.InstallDispatchRouter(app, controllers.NewDispatchController(service))

	listenAndServe(app, env.GetEnv("APP_PORT", "3100"), stop)
}

// listenAndServe serves until SIGINT/SIGTERM, then shuts down
// gracefully and runs the cleanup hook.
func listenAndServe(app *fiber.App, port string, cleanup func()) {
	go func() {
		address := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", ""), port)
		if err := app.Listen(address); err != nil {
			log.Fatalf("server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Errorf("shutdown failed: %v", err)
	}
	if cleanup != nil {
		cleanup()
	}
}

func envInt(key string, def int) int {
	value, err := strconv.Atoi(env.GetEnv(key, strconv.Itoa(def)))
	if err != nil {
		return def
	}
	return value
}

func envDuration(key string, def time.Duration) time.Duration {
	value, err := time.ParseDuration(env.GetEnv(key, def.String()))
	if err != nil {
		return def
	}
	return value
}
