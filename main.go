package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"thinkchat/internal/api"
	"thinkchat/internal/config"
	"thinkchat/internal/logging"
	"thinkchat/internal/service/ai"
	"thinkchat/internal/service/conversation"
	"thinkchat/internal/session"
	"thinkchat/internal/worker"
)

func main() {
	cfgPath := os.Getenv("THINKCHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.Init(cfg.Log)
	if err != nil {
		log.Fatalf("init logging: %v", err)
	}
	logger.Info("starting",
		"provider", cfg.Model.Provider,
		"base_url", cfg.Model.BaseURL,
		"default_model", cfg.Model.DefaultModel,
	)

	client := ai.NewClient(cfg.Model)
	dispatcher := worker.NewDispatcher(client, worker.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Second,
	})
	defer dispatcher.Stop()

	idle := time.Duration(cfg.BasicConfig.SessionIdleMinutes) * time.Minute
	sessions := session.NewManager(conversation.NewFactory(cfg, dispatcher), idle)

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	sessions.StartSweeper(sweepCtx, time.Duration(cfg.BasicConfig.SweepIntervalMins)*time.Minute)

	handlers := api.NewHandler(sessions, cfg)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), logging.GinLogger(logger))
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	logger.Info("listening", "addr", addr)
	if err := router.Run(addr); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
