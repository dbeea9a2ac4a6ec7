package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"helpdesk-bot/config"
	"helpdesk-bot/handlers"
	"helpdesk-bot/middleware"
	"helpdesk-bot/services"
	"helpdesk-bot/webhooks"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found")
	}

	// Initialize structured logger
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	slog.SetDefault(slog.New(logHandler))

	// Load configuration
	cfg := config.LoadConfig()

	// Initialize MongoDB
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := services.InitMongoDB(ctx, cfg.MongoURI)
	if err != nil {
		slog.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer db.Disconnect(context.Background())

	services.InitServices(db, cfg.DatabaseName)

	// Wire the inbound pipeline
	processor := services.NewEventProcessor(
		services.NewMongoStore(),
		services.NewGraphClient(),
		services.NewPassthroughMedia(),
		services.GetWebSocketManager(),
		services.NewPageResolver(),
		cfg.DefaultDispatchDelay,
	)

	assistant := services.NewAssistantClient(cfg.AssistantURL, cfg.AssistantTimeout)

	newScheduler := func(onFire func(key string)) services.Scheduler {
		if cfg.RedisAddr == "" {
			return services.NewMemoryScheduler(onFire)
		}
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		slog.Info("Using Redis-backed dispatch scheduler", "addr", cfg.RedisAddr)
		return services.NewRedisScheduler(rdb, onFire)
	}

	dispatcher := services.NewDispatcher(
		newScheduler,
		assistant,
		processor.ProcessAssistantReply,
		cfg.AssistantTimeout,
	)
	processor.SetDispatcher(dispatcher)
	services.InitPipeline(processor)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			slog.Error("Request error", "error", err, "status", code)
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Middleware
	app.Use(recover.New())

	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:5173, http://localhost:3000",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With",
		AllowCredentials: true,
	}))

	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${method} ${path}\n",
	}))

	// Register webhook routes
	webhooks.RegisterRoutes(app, cfg)

	auth := app.Group("/auth")
	auth.Post("/login", handlers.Login)
	auth.Post("/logout", handlers.Logout)
	auth.Get("/me", middleware.RequireAuth, handlers.Me)

	// Staff API (protected)
	api := app.Group("/api", middleware.RequireAuth)

	api.Get("/conversations", handlers.ListConversations)
	api.Get("/conversations/:conversationID", handlers.GetConversation)
	api.Get("/conversations/:conversationID/messages", handlers.ListConversationMessages)
	api.Post("/conversations/:conversationID/messages", handlers.SendStaffMessage)
	api.Post("/conversations/:conversationID/assign", handlers.AssignConversation)
	api.Post("/conversations/:conversationID/return-to-bot", handlers.ReturnToBot)
	api.Post("/conversations/:conversationID/read", handlers.MarkRead)
	api.Post("/conversations/:conversationID/unread", handlers.MarkUnread)
	api.Post("/conversations/:conversationID/close", handlers.CloseConversation)

	// WebSocket endpoint (requires authentication)
	api.Get("/ws", handlers.WebSocketUpgrade, websocket.New(handlers.HandleWebSocket))

	// Observability
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "helpdesk-bot",
		})
	})

	// Graceful shutdown: stop accepting requests, then drop pending dispatch
	// timers
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit

		slog.Info("Shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			slog.Error("Server shutdown failed", "error", err)
		}
		dispatcher.Shutdown()
	}()

	slog.Info("Server starting", "port", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		slog.Error("Server failed to start", "error", err)
		os.Exit(1)
	}
}
