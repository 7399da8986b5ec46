package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/MarkusWeber/ShotVault/app/repository"
	"github.com/MarkusWeber/ShotVault/internal/pkg/cache"
	"github.com/MarkusWeber/ShotVault/internal/pkg/database"
	"github.com/MarkusWeber/ShotVault/internal/pkg/env"
	"github.com/MarkusWeber/ShotVault/internal/pkg/mail"
	"github.com/MarkusWeber/ShotVault/internal/pkg/payment"
	"github.com/MarkusWeber/ShotVault/internal/pkg/reconciler"
	"github.com/MarkusWeber/ShotVault/internal/pkg/router"
	"github.com/MarkusWeber/ShotVault/internal/pkg/subscription"
	"github.com/MarkusWeber/ShotVault/internal/pkg/usage"
)

func main() {
	app, rec := NewApplication()

	rec.Start()
	defer rec.Stop()

	// graceful shutdown on SIGINT/SIGTERM
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Println("Shutting down...")
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
	if err := app.Listen(addr); err != nil {
		log.Fatal(err)
	}
}

// NewApplication wires the API server and the background reconciler.
func NewApplication() (*fiber.App, *reconciler.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	repository.InitializeFactory(db)
	repos := repository.GetGlobalFactory().GetRepositories()

	locks := subscription.NewLockManager(repos.Subscription, subscription.LockTTLFromEnv())
	exec := subscription.NewExecutor(
		repos,
		locks,
		payment.NewClientFromEnv(),
		usage.NewSource(db),
		mail.NewNotifier(repos.User),
	)
	rec := reconciler.NewManager(exec, repos.Subscription)

	app := fiber.New(fiber.Config{
		AppName: "ShotVault Subscription Service",
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", monitor.New())

	// ROUTER
	router.InstallRouter(app)

	return app, rec
}
