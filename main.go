package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"ohtalk/server/internal/broker"
	"ohtalk/server/internal/chat"
	"ohtalk/server/internal/config"
	"ohtalk/server/internal/database"
	"ohtalk/server/internal/handlers"
	"ohtalk/server/internal/models"
	"ohtalk/server/internal/routes"
	"ohtalk/server/internal/store"
	"ohtalk/server/internal/store/memory"
	"ohtalk/server/internal/store/postgres"
	ws "ohtalk/server/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}

// run wires every component and blocks until a signal or a server error
func run() error {
	cfg, dotenv, err := config.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)
	if !dotenv {
		log.Debug("No .env file found")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()
	deps := map[string]handlers.Pinger{"store": st}

	// Fan-out: local hub, relayed through Redis when configured
	hub := ws.NewHub(log)
	go hub.Run(ctx)

	var publisher chat.Publisher = hub
	if cfg.RedisURL != "" {
		relay, err := broker.NewRedisRelay(ctx, cfg.RedisURL, cfg.RedisChannelPrefix, hub, log)
		if err != nil {
			return err
		}
		defer relay.Close()
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.Error("Relay stopped", "error", err)
			}
		}()
		publisher = relay
		deps["redis"] = relay
	}

	svc := chat.New(chat.Options{
		Store:     st,
		Publisher: publisher,
		Logger:    log,
		Limits: chat.Limits{
			MaxContentLength: cfg.MaxMessageLength,
			DefaultPageLimit: cfg.DefaultPageLimit,
			MaxPageLimit:     cfg.MaxPageLimit,
			PublishTimeout:   cfg.PublishTimeout,
		},
	})
	router := ws.NewRouter(hub, svc.Rooms, svc.Messages, publisher, log)

	app := fiber.New(fiber.Config{
		AppName:      "OhTalk Chat API v1.0",
		ErrorHandler: handlers.ErrorHandler(log),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.Origins(), ","),
		AllowCredentials: true,
	}))

	routes.SetupRoutes(ctx, app, handlers.New(svc, hub, router, deps, log), routes.Options{
		JWTSecret:       []byte(cfg.JWTSecret),
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
	})

	errChan := make(chan error, 1)
	go func() {
		log.Info("Server starting", "address", cfg.Address(), "store", cfg.StoreDriver, "relay", cfg.RedisURL != "")
		if err := app.Listen(cfg.Address()); err != nil {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	if err := app.ShutdownWithTimeout(cfg.ShutdownTimeout); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("Server stopped cleanly")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store.Store, error) {
	if cfg.StoreDriver == config.DriverMemory {
		mem := memory.New()
		for id, name := range cfg.Users() {
			mem.PutUser(models.User{ID: id, Username: name})
		}
		log.Warn("Using in-memory store, data is lost on restart", "seededUsers", len(cfg.Users()))
		return mem, nil
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL, database.Options{MaxConns: int32(cfg.DBMaxConns)}, log)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return postgres.New(pool), nil
}
