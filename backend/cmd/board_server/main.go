package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"collabboard/backend/config"
	"collabboard/backend/internal/agent"
	"collabboard/backend/internal/cache"
	"collabboard/backend/internal/events"
	"collabboard/backend/internal/httpapi/handlers"
	"collabboard/backend/internal/httpapi/middleware"
	"collabboard/backend/internal/limiter"
	"collabboard/backend/internal/logging"
	"collabboard/backend/internal/room"
	"collabboard/backend/internal/store"
	"collabboard/backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("init logger failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	g, gctx := errgroup.WithContext(ctx)
	var registryOpts []room.Option
	registryOpts = append(registryOpts, room.WithLogger(logger))

	// Redis presence mirror
	var presence cache.PresenceCache
	if len(cfg.Redis.Addrs) > 0 {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		presence = cache.NewRedisPresence(rdb)
		mirror := cache.NewPresenceMirror(presence, cache.MirrorOptions{TTL: cfg.Redis.PresenceTTL}, logger.Named("presence"))
		registryOpts = append(registryOpts, room.WithPresenceObserver(mirror))
		g.Go(func() error {
			mirror.Run(gctx)
			return nil
		})
		logger.Info("presence mirror enabled", zap.Strings("addrs", cfg.Redis.Addrs))
	}

	// Kafka action stream
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := events.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		dispatcher := events.NewKafkaDispatcher(producer, cfg.Kafka.Topic,
			limiter.NewSemaphoreControl(cfg.Kafka.InFlight),
			events.KafkaDispatcherOptions{
				QueueSize:   cfg.Kafka.QueueSize,
				Workers:     cfg.Kafka.Workers,
				MaxRetry:    cfg.Kafka.MaxRetry,
				BaseBackoff: cfg.Kafka.BaseBackoff,
				MaxBackoff:  cfg.Kafka.MaxBackoff,
			}, logger.Named("kafka"))
		defer func() {
			dispatcher.Close()
			_ = producer.Close()
		}()
		registryOpts = append(registryOpts, room.WithActionObserver(dispatcher))
		logger.Info("action stream enabled", zap.String("topic", cfg.Kafka.Topic))
	}

	// MySQL snapshots and board hub
	var (
		repo      store.BoardRepository
		snapshots *store.SnapshotStore
	)
	if cfg.Mysql.DSN != "" {
		db, gdb, err := store.OpenMySQL(ctx, cfg.Mysql.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := store.Migrate(ctx, db, gdb); err != nil {
			return err
		}
		repo = store.NewBoardRepository(gdb)
		snapshots = store.NewSnapshotStore(db)
		registryOpts = append(registryOpts, room.WithSnapshotLoader(snapshots))
	}

	registry := room.NewRegistry(registryOpts...)

	boardDeps := handlers.BoardDeps{Repo: repo, Rooms: registry, Presence: presence, Logger: logger}
	if snapshots != nil {
		snapshotter := store.NewSnapshotter(registry, snapshots, cfg.Snapshot.Interval, nil, logger.Named("snapshot"))
		boardDeps.Snapshotter = snapshotter
		boardDeps.Purger = snapshots
		g.Go(func() error {
			snapshotter.Run(gctx)
			return nil
		})
	}

	var completer agent.Completer
	if cfg.Agent.APIKey != "" {
		completer = agent.NewAnthropic(&http.Client{Timeout: cfg.Agent.Timeout}, cfg.Agent.APIKey, cfg.Agent.BaseURL)
	} else {
		logger.Info("AI agent disabled, no API key")
	}
	boardAgent := agent.New(completer, registry, agent.Options{
		Model:     cfg.Agent.Model,
		MaxTokens: cfg.Agent.MaxTokens,
		Logger:    logger.Named("agent"),
	})

	wsOpts := ws.DefaultOptions()
	wsOpts.ReadBufferSize = cfg.WS.ReadBufferSize
	wsOpts.WriteBufferSize = cfg.WS.WriteBufferSize
	wsOpts.SendQueue = cfg.WS.SendQueue
	wsOpts.MaxMessageSize = cfg.WS.MaxMessageSize
	wsOpts.PingInterval = cfg.WS.PingInterval
	wsOpts.PongWait = cfg.WS.PongWait
	wsOpts.WriteWait = cfg.WS.WriteWait
	wsOpts.JoinTimeout = cfg.WS.JoinTimeout
	wsOpts.AllowedOrigins = cfg.WS.AllowedOrigins
	manager := ws.NewManager(registry, limiter.NewSemaphoreControl(cfg.WS.MaxConnections), wsOpts, logger.Named("ws"))

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.DevUserHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/ws/:boardId", manager.WebSocketConnect)

	api := r.Group("/api")
	api.GET("/health", handlers.Health(registry))
	api.POST("/ai", handlers.NewAgentHandler(boardAgent, logger.Named("agent")).Handle)

	boards := handlers.NewBoardHandler(boardDeps)
	middleware.WarnDevIdentity(cfg.Auth.JWTSecret, logger)
	hub := api.Group("/boards", middleware.Identity(cfg.Auth.JWTSecret))
	hub.GET("", boards.List)
	hub.POST("", boards.Create)
	hub.POST("/join", boards.Join)
	hub.DELETE("/:id", boards.Delete)
	hub.GET("/:id/members", boards.Members)
	hub.POST("/:id/snapshot", boards.Snapshot)
	hub.POST("/:id/resync", boards.Resync)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Running.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		// hijacked websocket connections are not closed by Shutdown
		manager.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
