package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chxlky/taskboard/api"
	"github.com/chxlky/taskboard/database"
	"github.com/chxlky/taskboard/integrations"
	"github.com/chxlky/taskboard/internal/avatars"
	"github.com/chxlky/taskboard/internal/board"
	"github.com/chxlky/taskboard/internal/config"
	"github.com/chxlky/taskboard/internal/events"
	"github.com/chxlky/taskboard/internal/metrics"
	"github.com/chxlky/taskboard/internal/session"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	levelStr := strings.ToLower(os.Getenv("LOG_LEVEL"))
	if levelStr == "" {
		levelStr = "debug"
	}
	level, err := zapcore.ParseLevel(levelStr)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      true,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, _ := logConfig.Build()
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	cfg, err := config.Load("")
	if err != nil {
		zap.L().Fatal("Error loading config", zap.Error(err))
	}

	db := database.Init(cfg.Database.Path)
	sqlDB, _ := db.DB()
	store := database.NewStore(db)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		zap.L().Fatal("Failed to connect to Redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	cancelPing()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	bus := events.NewBus(rdb)
	opts, err := cfg.BoardOptions()
	if err != nil {
		zap.L().Fatal("Invalid board settings", zap.Error(err))
	}
	opts.Metrics = m
	opts.Logger = logger
	boards := board.NewRegistry(store, store, events.NewBoardNotifier(bus), opts)

	apiHandler := &api.Handler{
		Store:    store,
		Boards:   boards,
		Auth:     session.NewAuthenticator(store),
		Sessions: session.NewProvider(rdb, cfg.Auth.JWTSecret, cfg.Auth.SessionTTL),
		Bus:      bus,
		Metrics:  m,
	}

	avatarStore, err := avatars.NewStore(cfg.Avatars.Dir, cfg.Avatars.MaxBytes)
	if err != nil {
		zap.L().Fatal("Failed to prepare avatar storage", zap.Error(err))
	}
	apiHandler.Avatars = avatarStore

	if cfg.Gemini.APIKey != "" {
		gen, err := integrations.NewDescriptionGenerator(context.Background(), cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			zap.L().Fatal("Failed to initialise Gemini client", zap.Error(err))
		}
		apiHandler.Generator = gen
	} else {
		zap.L().Warn("gemini.api_key is not set; description generation is disabled")
	}

	if cfg.Trello.APIKey != "" && cfg.Trello.APIToken != "" {
		apiHandler.Trello = integrations.NewTrelloClient(cfg.Trello.APIKey, cfg.Trello.APIToken)
	}

	if cfg.Google.Calendar.Enabled {
		credentials, err := cfg.ServiceAccountJSON()
		if err != nil {
			zap.L().Fatal("Invalid Google service account", zap.Error(err))
		}
		calClient, err := integrations.NewCalendarClient(context.Background(), credentials, cfg.Google.Calendar.CalendarID)
		if err != nil {
			zap.L().Fatal("Failed to initialise Google Calendar client", zap.Error(err))
		}
		zap.L().Info("Successfully authenticated with Google Calendar API.")
		apiHandler.Calendar = integrations.NewCalendarSync(calClient, store, cfg.Workers)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	apiHandler.Register(router)

	// Cancelled on shutdown so open event streams return.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     router,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelBase)

	zap.L().Info("Starting server", zap.String("port", cfg.Server.Port))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("Server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	var once sync.Once

	cleanup := func(reason string) {
		zap.L().Info("Shutdown initiated", zap.String("reason", reason))

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		zap.L().Info("Shutting down HTTP server...")
		if err := srv.Shutdown(ctx); err != nil {
			zap.L().Error("Error shutting down server", zap.Error(err))
		} else {
			zap.L().Info("HTTP server shut down gracefully.")
		}

		zap.L().Info("Waiting for in-flight moves...")
		boards.Close()
		apiHandler.Calendar.Close()

		if err := rdb.Close(); err != nil {
			zap.L().Error("Error closing Redis client", zap.Error(err))
		}
		if sqlDB != nil {
			if err := sqlDB.Close(); err != nil {
				zap.L().Error("Error closing database", zap.Error(err))
			} else {
				zap.L().Info("Database connection closed.")
			}
		}
		close(done)
	}

	go func() {
		sig := <-sigCh
		once.Do(func() {
			cleanup(sig.String())
		})

		// if a second signal is caught, exit immediately
		go func() {
			<-sigCh
			zap.L().Info("Second interrupt signal received. Exiting immediately.")
			os.Exit(1)
		}()
	}()

	<-done
	zap.L().Info("Exiting...")
}
