package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"footyai/internal/app"
	"footyai/internal/archive"
	"footyai/internal/chat"
	"footyai/internal/config"
	"footyai/internal/events"
	"footyai/internal/ratelimit"
	"footyai/internal/server"
	"footyai/internal/util"
	"footyai/pkg/ai"
	"footyai/pkg/queue"
	"footyai/pkg/storage"
	"footyai/pkg/store"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := util.InitLogger(cfg.LogLevel)

	users, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		util.Fatal("failed to init store", "err", err)
	}

	sessionTTL := time.Duration(cfg.SessionTTLHours) * time.Hour
	var sessions store.SessionStore
	if cfg.JWTSecret != "" {
		revoker := store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword)
		sessions, err = store.NewJWTSessionStore([]byte(cfg.JWTSecret), sessionTTL, users, revoker)
		if err != nil {
			util.Fatal("failed to init jwt sessions", "err", err)
		}
	} else {
		sessions = store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, sessionTTL)
	}

	aiClient, err := ai.NewClient(cfg.GeminiAPIKey)
	if err != nil {
		util.Fatal("failed to init gemini client", "err", err)
	}
	predictor := ai.NewPredictor(aiClient, cfg.GenerationModel)
	newAI := func() *ai.ChatSession {
		return ai.NewChatSession(aiClient, cfg.GenerationModel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var archiver chat.Archiver
	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		minioStore, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			util.Fatal("failed to init object store", "err", err)
		}
		objects = minioStore
		archiveQueue, err := queue.NewArchiveQueue(queue.ArchiveQueueConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			util.Fatal("failed to init archive queue", "err", err)
		}
		archiver = archive.NewEnqueuer(archiveQueue)
		worker := archive.NewWorker(archiveQueue, users, objects, cfg.ArchiveConcurrency)
		go func() {
			if err := worker.Run(ctx); err != nil && err != context.Canceled {
				logger.Error("archive worker stopped", "err", err)
			}
		}()
	} else {
		slog.Info("transcript archival disabled, minioEndpoint not set")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.AMQPURL != "" {
		publisher, err = events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			util.Fatal("failed to init event publisher", "err", err)
		}
		defer publisher.Close()
	}

	limiter, err := ratelimit.NewFixedWindow(
		redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}),
		"footyai:ratelimit:chat",
		cfg.ChatRateLimit,
		time.Duration(cfg.ChatRateWindowSecs)*time.Second,
	)
	if err != nil {
		util.Fatal("failed to init rate limiter", "err", err)
	}

	appCore := app.New(users, sessions, predictor, publisher, archiver, objects, newAI)
	httpServer := server.New(server.Config{App: appCore, Limiter: limiter})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: chat streams stay open for as long as the
		// model keeps producing deltas.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			util.Fatal("server error", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
}
