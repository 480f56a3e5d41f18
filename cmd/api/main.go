package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"calld/internal/audit"
	"calld/internal/auth"
	"calld/internal/bus"
	"calld/internal/calls"
	"calld/internal/config"
	"calld/internal/dialecho"
	"calld/internal/directory"
	"calld/internal/httpapi"
	"calld/internal/statecache"
	"calld/internal/telephony/amid"
	"calld/internal/telephony/asterisk"
	"calld/internal/telephony/phoned"
	"calld/pkg/logger"
	"calld/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	backend, err := asterisk.Connect(asterisk.Options{
		Application:  cfg.ARI.Application,
		URL:          cfg.ARI.URL,
		WebsocketURL: cfg.ARI.WebsocketURL,
		Username:     cfg.ARI.Username,
		Password:     cfg.ARI.Password,
	})
	if err != nil {
		log.Error("ari init failed", "err", err)
		os.Exit(1)
	}
	defer backend.Close()

	var states statecache.Reader = statecache.NewGlobalVarReader(backend)
	if cfg.Calls.StateCache == config.StateCacheRedis {
		states = statecache.NewRedisReader(rdb)
	}

	svc := calls.NewService(calls.Deps{
		Backend:   backend,
		Actions:   amid.NewClient(cfg.AMID.URL, cfg.AMID.Token, cfg.HTTPClientTimeout),
		Devices:   phoned.NewClient(cfg.Phoned.URL, cfg.Phoned.Token, cfg.HTTPClientTimeout),
		Directory: directory.NewPostgresStore(db),
		States:    states,
		Echoes:    dialecho.NewManager(),
		Notifier:  bus.NewPublisher(rdb, cfg.Bus.NotifyPrefix),
	}, calls.Options{
		Application:      cfg.ARI.Application,
		MasterTenantUUID: cfg.Calls.MasterTenantUUID,
		DialEchoTimeout:  cfg.Calls.DialEchoTimeout,
		RecordingPath:    cfg.Calls.RecordingPath,
	})
	defer svc.Close()

	consumer := bus.NewConsumer(rdb, cfg.Bus.EventsChannel, calls.NewEventHandler(svc).Handlers(), log)
	go func() {
		if err := consumer.Run(rootCtx); err != nil {
			log.Error("bus consumer failed", "err", err)
			stop()
		}
	}()

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, httpapi.Handlers{
		Calls: svc,
		Audit: audit.NewService(audit.NewPostgresRepo(db)),
	}, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("calld listening", "addr", srv.Addr, "env", cfg.App.Env, "application", cfg.ARI.Application)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
