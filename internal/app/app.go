package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"chat-sync/internal/config"
	"chat-sync/internal/db"
	"chat-sync/internal/handlers"
	"chat-sync/internal/logging"
	"chat-sync/internal/metrics"
	"chat-sync/internal/realtime"
	"chat-sync/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceName = "chat-sync"

func Run() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	log := logging.NewLogger(logging.Config{
		ServiceName: serviceName,
		Environment: cfg.Env,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(log)
	metrics.MustRegister(serviceName)

	store, closeStore, err := OpenStore(context.Background(), cfg, log)
	if err != nil {
		log.Error("open store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	users := services.NewUserService(store, cfg.JWTSecret, cfg.TokenTTL, cfg.StoreOpTimeout)
	chat := services.NewChatService(store, services.ChatOptions{
		OpTimeout:          cfg.StoreOpTimeout,
		SweepInterval:      cfg.SweepInterval,
		EphemeralDurations: cfg.EphemeralDurations,
		Directory:          users,
		Logger:             log,
	})

	app := NewServer(cfg, chat, users)

	go func() {
		log.Info("listening", "port", cfg.Port, "store", cfg.StoreBackend)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful Shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	<-c // Block until signal
	log.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warn("shutdown", "error", err)
	}
	log.Info("shutdown complete")
}

// OpenStore opens the configured realtime backend behind the retrying
// decorator. The returned func releases everything it opened.
func OpenStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (realtime.Store, func(), error) {
	var (
		tree    *realtime.Tree
		cleanup = func() {}
		err     error
	)

	switch cfg.StoreBackend {
	case "memory":
		tree = realtime.NewMemory(log)
	case "pebble":
		tree, err = realtime.OpenPebble(cfg.PebbleDir, log)
		if err != nil {
			return nil, nil, err
		}
	case "postgres":
		pool, err := db.Open(ctx, cfg.PostgresURL())
		if err != nil {
			return nil, nil, err
		}
		tree, err = realtime.NewPostgres(ctx, pool, log)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		cleanup = pool.Close
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	closeAll := func() {
		if err := tree.Close(); err != nil {
			log.Warn("close store", "error", err)
		}
		cleanup()
	}
	return realtime.NewRetrying(tree, cfg.WriteRetries, 100*time.Millisecond, log), closeAll, nil
}

// NewServer builds the HTTP and WebSocket gateway.
func NewServer(cfg *config.Config, chat *services.ChatService, users *services.UserService) *fiber.App {
	app := fiber.New(fiber.Config{AppName: serviceName})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{AllowOrigins: cfg.AllowOrigins}))
	app.Use(requestMetrics)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Routes
	api := app.Group("/api")

	// Public Routes
	api.Post("/register", handlers.RegisterHandler(users))
	api.Post("/login", handlers.LoginHandler(users))

	// Protected Routes
	protected := api.Group("/")
	protected.Use(handlers.AuthMiddleware(users))

	protected.Get("/profile", handlers.GetProfileHandler(users))
	protected.Get("/users", handlers.ListUsersHandler(users))

	protected.Get("/conversations", handlers.ListConversationsHandler(chat, users))
	protected.Delete("/conversations/:peer", handlers.DeleteConversationHandler(chat))
	protected.Get("/conversations/:peer/messages", handlers.HistoryHandler(chat))
	protected.Post("/conversations/:peer/messages", handlers.SendMessageHandler(chat))
	protected.Patch("/conversations/:peer/messages/:id", handlers.EditMessageHandler(chat))
	protected.Delete("/conversations/:peer/messages/:id", handlers.DeleteMessageHandler(chat))
	protected.Post("/conversations/:peer/images", handlers.UploadImageHandler(chat))
	protected.Post("/messages", handlers.NewMessageHandler(chat))

	// WebSocket Route
	// Note: Middleware order matters. WSUpgradeMiddleware rejects plain HTTP
	// before AuthMiddleware checks the token.
	app.Use("/ws", handlers.WSUpgradeMiddleware)
	app.Use("/ws", handlers.AuthMiddleware(users))
	app.Get("/ws", handlers.WebSocketHandler(chat, users))

	return app
}

func requestMetrics(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	status := c.Response().StatusCode()
	if fe, ok := err.(*fiber.Error); ok {
		status = fe.Code
	}
	path := c.Route().Path
	metrics.HTTPRequestsTotal.WithLabelValues(c.Method(), path, strconv.Itoa(status)).Inc()
	metrics.HTTPRequestDurationSeconds.WithLabelValues(c.Method(), path).Observe(time.Since(start).Seconds())
	return err
}
