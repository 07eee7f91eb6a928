package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/satriahrh/arunika/streamer/adapters"
	"github.com/satriahrh/arunika/streamer/adapters/mongo"
	"github.com/satriahrh/arunika/streamer/domain/repositories"
	"github.com/satriahrh/arunika/streamer/internal/api"
	"github.com/satriahrh/arunika/streamer/internal/auth"
	"github.com/satriahrh/arunika/streamer/internal/backend"
	"github.com/satriahrh/arunika/streamer/internal/config"
	"github.com/satriahrh/arunika/streamer/internal/logging"
	"github.com/satriahrh/arunika/streamer/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger is configured from the environment too
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	parentLogger := logging.NewLogger(cfg.LogLevel, cfg.LogDevelopment)
	defer parentLogger.Sync()

	log := parentLogger.Named("main")
	log.Info("starting",
		zap.String("backend", cfg.Recognizer.Backend),
		zap.String("min_log_level", parentLogger.Level().String()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	factory, err := backend.New(cfg.Recognizer, parentLogger)
	if err != nil {
		log.Fatal("failed to create recognition backend", zap.Error(err))
	}

	transcripts, closeStore, err := newTranscriptRepository(ctx, cfg, parentLogger)
	if err != nil {
		log.Fatal("failed to create transcript store", zap.Error(err))
	}
	defer closeStore()

	devices := adapters.NewMemoryDeviceRepository()
	if err := devices.Seed(ctx, cfg.Devices); err != nil {
		log.Fatal("failed to seed devices", zap.Error(err))
	}
	log.Info("devices registered", zap.Int("count", len(cfg.Devices)))

	issuer, err := auth.NewTokenIssuer(cfg.JWTSecret, auth.DefaultDeviceTokenTTL)
	if err != nil {
		log.Fatal("failed to create token issuer", zap.Error(err))
	}

	hub := websocket.NewHub(factory, transcripts, cfg.Recognizer, parentLogger.Named("websocket"))
	cleanup := websocket.NewSessionCleanupService(hub, cfg.IdleTimeout, 0, parentLogger.Named("cleanup"))

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.NewHandler(hub, devices, transcripts, issuer, parentLogger.Named("api")).InitRoutes(e)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		return cleanup.Run(gctx)
	})

	g.Go(func() error {
		log.Info("server started", zap.String("port", cfg.Port))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		log.Info("server is shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-shutdownSignal:
		log.Info("received signal, shutting down")
	case <-gctx.Done():
		log.Info("context done, shutting down")
	}
	cancel()

	if err := g.Wait(); err != nil {
		log.Error("error group error", zap.Error(err))
	}

	log.Info("server exited")
}

// newTranscriptRepository stores transcripts in MongoDB when MONGODB_URI is set, in memory otherwise
func newTranscriptRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repositories.TranscriptRepository, func(), error) {
	if cfg.MongoURI == "" {
		logger.Warn("MONGODB_URI not set, transcripts are kept in memory")
		return adapters.NewMemoryTranscriptRepository(), func() {}, nil
	}

	client, err := mongo.NewClient(ctx, cfg.MongoURI, cfg.MongoDatabase, logger.Named("mongo"))
	if err != nil {
		return nil, nil, err
	}

	repo := mongo.NewTranscriptRepository(client.Database)
	if err := repo.EnsureIndexes(ctx); err != nil {
		logger.Warn("failed to create transcript indexes", zap.Error(err))
	}

	closeStore := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			logger.Warn("failed to close mongo client", zap.Error(err))
		}
	}
	return repo, closeStore, nil
}
