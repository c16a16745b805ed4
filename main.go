package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lobbybroker/internal/banstore"
	"lobbybroker/internal/broker"
	"lobbybroker/internal/config"
	"lobbybroker/internal/database/db_client"
	"lobbybroker/internal/eventarchive"
	"lobbybroker/internal/http/http_server"
	"lobbybroker/internal/redis/redis_client"
	"lobbybroker/internal/ws"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Redis: persisted ban list
	var redisClient *redis.Client
	redisClient, err = redis_client.NewRedisClient(cfg.RedisHost, int(cfg.RedisPort))
	if err != nil {
		Log.Fatal("Failed to create Redis client", zap.Error(err))
	}
	defer redisClient.Close()

	banStore := banstore.New(redisClient)
	bans, err := banStore.Load(ctx)
	if err != nil {
		Log.Fatal("Failed to load ban list", zap.Error(err))
	}

	// 4. Postgres: event archive
	pgDb, err := db_client.Open(cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDb)
	if err != nil {
		Log.Fatal("pg-open", zap.Error(err))
	}
	defer pgDb.Close()

	// 5. The broker core
	brk := broker.New(broker.Options{
		AuthGrace:   cfg.AuthGrace,
		IdleWindow:  cfg.IdleWindow,
		ServerSlots: cfg.ServerSlots,
		MaxEvents:   cfg.MaxEvents,
		NicknameMax: cfg.NicknameMax,
		Bans:        bans,
		BanSink:     banStore,
		Archive:     eventarchive.New(pgDb),
		Logger:      Log,
	})
	defer brk.Shutdown()

	// 6. WebSocket transport + liveness sweeper
	wsSrv := ws.NewWsServer(brk, cfg.SweepInterval)

	// 7. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, wsSrv, brk)
	go func() {
		<-ctx.Done()
		_ = httpServer.Dispose()
	}()
	if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		Log.Fatal("Failed to start HTTP server", zap.Error(err))
	}
}
