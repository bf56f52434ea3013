package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chathistory/config"
	"chathistory/controllers"
	"chathistory/routes"
	"chathistory/services"
	"chathistory/telemetry"
)

const version = "1.0.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logFile.Close()

	if cfg.TelemetryEnabled {
		shutdown, err := telemetry.InitTelemetry(ctx, cfg.LogDir, version)
		if err != nil {
			logger.Error("failed to initialize telemetry", "error", err)
			os.Exit(1)
		}
		defer shutdown()
	}

	db, err := services.OpenDatabase(cfg)
	if err != nil {
		logger.Error("failed to open database", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if services.CheckDatabase(ctx, db, logger) && cfg.AutoCreateTable {
		if err := services.EnsureSchema(ctx, db, cfg.DBDriver); err != nil {
			logger.Error("failed to create schema", "error", err)
			os.Exit(1)
		}
	}

	opts := []services.Option{
		services.WithInsertMode(cfg.InsertMode),
		services.WithMaxListLimit(cfg.MaxListLimit),
		services.WithLogger(logger),
	}
	if cfg.MirrorEnabled() {
		client, err := services.NewDynamoDBClient(ctx, cfg.DynamoEndpoint, cfg.DynamoRegion)
		if err != nil {
			logger.Error("failed to create dynamodb client", "error", err)
			os.Exit(1)
		}
		mirror := services.NewDynamoMirror(client, cfg.DynamoTable, logger)
		if err := mirror.EnsureTable(ctx); err != nil {
			logger.Warn("mirror table unavailable", "error", err)
		}
		opts = append(opts, services.WithMirror(mirror))
	}

	svc, err := services.NewChatHistoryService(db, cfg.DBDriver, opts...)
	if err != nil {
		logger.Error("failed to create chat history service", "error", err)
		os.Exit(1)
	}

	router := routes.SetupRouter(controllers.NewChatHistoryController(svc), logger, cfg.CORSAllowOrigin)

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			"addr", cfg.ServerAddr,
			"driver", cfg.DBDriver,
			"insert_mode", cfg.InsertMode,
			"mirror", cfg.MirrorEnabled(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
}
