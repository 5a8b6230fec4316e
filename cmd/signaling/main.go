package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/telecare-signaling/config"
	"github.com/mossy-p/telecare-signaling/internal/calls"
	"github.com/mossy-p/telecare-signaling/internal/directory"
	"github.com/mossy-p/telecare-signaling/internal/feed"
	"github.com/mossy-p/telecare-signaling/internal/handlers"
	"github.com/mossy-p/telecare-signaling/internal/notifications"
	"github.com/mossy-p/telecare-signaling/internal/redis"
	"github.com/mossy-p/telecare-signaling/internal/retention"
	"github.com/mossy-p/telecare-signaling/internal/store"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setupLogger(cfg)

	ctx := context.Background()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("Failed to open store")
	}
	defer st.Close()

	dir, closeDir, err := openDirectory(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to directory database")
	}
	defer closeDir()

	broker := feed.NewBroker(st, cfg.Stream.Block, cfg.Stream.Batch)
	notes := notifications.NewService(st, broker, cfg.Retention.NotificationTTL, cfg.Retention.NotificationMaxLen)
	manager := calls.NewManager(st, dir,
		calls.WithMedia(calls.NewMedia(cfg.Calling)),
		calls.WithNotifier(notes),
		calls.WithStaleAfter(cfg.Calling.StaleAfter),
		calls.WithSignalTTL(cfg.Retention.SignalTTL),
	)
	relay := calls.NewRelay(manager, broker)

	// Configure timed tasks
	sweeper, err := retention.NewSweeper(manager, cfg.Retention.SweepSchedule)
	if err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Retention.SweepSchedule).Msg("Invalid sweep schedule")
	}
	sweeper.Start()

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	h := handlers.New(manager, relay, notes, handlers.Options{
		JWTSecret:  cfg.JWTSecret,
		Production: cfg.IsProduction(),
		KeepAlive:  cfg.Stream.KeepAlive,
	})
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(h, broker, cfg.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("store", cfg.StoreDriver).Msg("Starting signaling server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down signaling server")
	sweeper.Stop()

	// Open push streams keep their connections busy, so Shutdown may time out.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Graceful shutdown timed out, closing open streams")
		_ = server.Close()
	}
}

func setupLogger(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "redis":
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		log.Info().Str("host", cfg.Redis.Host).Msg("Redis connection established")
		return store.NewRedis(client), nil
	case "memory", "":
		log.Warn().Msg("Using in-memory store, state is lost on restart")
		return store.NewMemory(), nil
	}
	return nil, errors.New("unknown store driver " + cfg.StoreDriver)
}

func openDirectory(cfg *config.Config) (directory.Directory, func(), error) {
	if cfg.Database.DSN == "" {
		log.Warn().Msg("No directory database configured, participant names will be placeholders")
		return directory.NewStatic(), func() {}, nil
	}
	db, err := directory.Open(cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	return db, func() { _ = db.Close() }, nil
}
