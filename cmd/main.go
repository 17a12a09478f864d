package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/weiawesome/alumni-chat/internal/cache"
	"github.com/weiawesome/alumni-chat/internal/config"
	"github.com/weiawesome/alumni-chat/internal/domain"
	"github.com/weiawesome/alumni-chat/internal/gateway"
	chatgrpc "github.com/weiawesome/alumni-chat/internal/grpc"
	"github.com/weiawesome/alumni-chat/internal/handler"
	"github.com/weiawesome/alumni-chat/internal/hub"
	"github.com/weiawesome/alumni-chat/internal/kafka"
	"github.com/weiawesome/alumni-chat/internal/metrics"
	"github.com/weiawesome/alumni-chat/internal/notify"
	"github.com/weiawesome/alumni-chat/internal/presence"
	"github.com/weiawesome/alumni-chat/internal/repository"
	"github.com/weiawesome/alumni-chat/internal/service"
	"github.com/weiawesome/alumni-chat/internal/store"
	"github.com/weiawesome/alumni-chat/internal/typing"
	"github.com/weiawesome/alumni-chat/pkg/database"
	pkgjwt "github.com/weiawesome/alumni-chat/pkg/jwt"
	pkglog "github.com/weiawesome/alumni-chat/pkg/log"
	"github.com/weiawesome/alumni-chat/pkg/middleware"
	"github.com/weiawesome/alumni-chat/pkg/pubsub"
	"github.com/weiawesome/alumni-chat/pkg/storage"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// 2. Initialize structured logger; level follows the config file
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty,
		ServiceName: "alumni-chat",
	})
	logger := pkglog.L()
	if cfg.Watch(func(next *config.Config) {
		lvl := pkglog.SetLevel(next.Log.Level)
		logger.Info().Str("level", lvl.String()).Msg("config reloaded")
	}) {
		logger.Info().Msg("watching config file for changes")
	}

	if cfg.Auth.JWTSecret == "" {
		logger.Fatal().Msg("auth.jwt_secret (JWT_SECRET) is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Init DB (GORM, auto-migrate connection graph and messages)
	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to get underlying sql.DB")
	}
	defer sqlDB.Close()

	if err := database.AutoMigrate(db, &domain.ConnectionModel{}, &domain.MembershipModel{}, &domain.MessageModel{}); err != nil {
		logger.Fatal().Err(err).Msg("failed to auto-migrate")
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database migration completed")

	// 4. Conversation store
	var messageRepo repository.MessageRepository
	switch cfg.MessageStore.Driver {
	case "cassandra":
		cr, err := repository.NewCassandraMessageRepository(cfg.Cassandra)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to cassandra")
		}
		if err := cr.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to ensure cassandra schema")
		}
		messageRepo = cr
		logger.Info().Strs("hosts", cfg.Cassandra.Hosts).Msg("cassandra message store ready")
	case "gorm", "":
		messageRepo = repository.NewGormMessageRepository(db)
	default:
		logger.Fatal().Str("driver", cfg.MessageStore.Driver).Msg("unsupported message store driver")
	}
	defer messageRepo.Close()
	connRepo := repository.NewGormConnectionRepository(db)

	// 5. Redis, only when a component is configured to use it
	var redisClient *redis.Client
	if cfg.Presence.Store == "redis" || cfg.Chat.PeerCache == "redis" || cfg.Auth.RevocationStore == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			pingCancel()
			logger.Fatal().Err(err).Str("addr", cfg.Redis.Address).Msg("failed to connect to redis")
		}
		pingCancel()
		defer redisClient.Close()
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}

	// 6. Stores: presence counts, revocations, peer cache
	var presenceStore store.PresenceStore
	if cfg.Presence.Store == "redis" {
		rs, err := store.NewRedisPresenceStore(redisClient, store.RedisPresenceConfig{
			KeyPrefix:         cfg.Presence.KeyPrefix,
			InstanceID:        cfg.InstanceID,
			HeartbeatInterval: cfg.Presence.HeartbeatInterval,
			InstanceTTL:       cfg.Presence.InstanceTTL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create redis presence store")
		}
		if err := rs.StartHeartbeat(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to start presence heartbeat")
		}
		presenceStore = rs
	} else {
		presenceStore = store.NewMemoryPresenceStore()
	}
	defer presenceStore.Close()

	var revocations store.RevocationStore
	if cfg.Auth.RevocationStore == "redis" {
		revocations = store.NewRedisRevocationStore(redisClient, cfg.Auth.RevocationKey)
	} else {
		revocations = store.NewMemoryRevocationStore()
	}

	var peerCache cache.PeerCache = cache.NoopPeerCache{}
	if cfg.Chat.PeerCache == "redis" {
		peerCache = cache.NewRedisPeerCache(redisClient, "")
	}

	// 7. Credential validation
	jwtManager, err := pkgjwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTTL,
		pkgjwt.WithRevocationChecker(revocations),
		pkgjwt.WithLeeway(cfg.Auth.Leeway),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create jwt manager")
	}
	authMiddleware := middleware.NewAuthMiddleware(jwtManager)

	// 8. Event bus and domain event producer
	bus, err := pubsub.NewPubSub(cfg.PubSub)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.PubSub.Driver).Msg("failed to create pubsub")
	}
	defer bus.Close()

	var producer kafka.EventProducer = kafka.NoopProducer{}
	if cfg.Kafka.Brokers != "" {
		kp, err := kafka.NewConfluentProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Partitions)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to create kafka producer, domain events disabled")
		} else {
			producer = kp
			logger.Info().Str("topic", cfg.Kafka.Topic).Msg("kafka domain event producer started")
		}
	} else {
		logger.Warn().Msg("KAFKA_BROKERS not configured; domain events disabled")
	}
	defer producer.Close()

	// 9. Attachments
	objectStore, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("failed to create attachment storage")
	}

	// 10. Live channel, presence, typing and services
	h := hub.NewHub(cfg.WebSocket)
	gw := gateway.New(h, jwtManager, bus, cfg.InstanceID, cfg.WebSocket)

	bridge := notify.NewBridge(gw, producer)
	connSvc := service.NewConnectionService(connRepo, peerCache, bridge, cfg.Chat.PeerCacheTTL)
	tracker := presence.NewTracker(presenceStore, connSvc, gw)
	h.SetObserver(tracker)

	typingTracker := typing.NewTracker(gw, cfg.Typing.Timeout)
	defer typingTracker.Close()

	chatSvc := service.NewChatService(messageRepo, connSvc, tracker, typingTracker, gw, producer, cfg.Chat)
	attachmentSvc := service.NewAttachmentService(objectStore, cfg.Attachments.MaxSize, cfg.Attachments.URLExpiry)

	go h.Run(ctx)
	go func() {
		if err := gw.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("gateway event loop stopped")
		}
	}()

	// 11. Setup Gin router + HTTP server
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger, "/health", "/metrics"))
	r.Use(metrics.GinMiddleware())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handler.NewHandler(connSvc, chatSvc, attachmentSvc, tracker, authMiddleware, cfg.Attachments.MaxSize).RegisterRoutes(r)
	handler.NewWSHandler(gw, chatSvc, tracker, cfg.WebSocket).RegisterRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logger.Info().Str("addr", addr).Str(pkglog.FieldInstanceID, cfg.InstanceID).Msg("alumni-chat starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// 12. Standalone metrics listener
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled && cfg.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Address, Handler: pkglog.HTTPMiddleware(logger)(mux)}
		go func() {
			logger.Info().Str("addr", cfg.Metrics.Address).Msg("metrics server listening")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	// 13. gRPC health
	grpcSrv := chatgrpc.NewServer(logger)
	if err := grpcSrv.Start(fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)); err != nil {
		logger.Fatal().Err(err).Msg("failed to start grpc server")
	}

	// 14. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutdown signal received")

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		// 1. stop accepting probes and new requests
		grpcSrv.Stop()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP server forced to shutdown")
		}
		if metricsSrv != nil {
			metricsSrv.Shutdown(shutdownCtx)
		}

		// 2. cancel() closes live sessions (hub.Run) and the bus subscription
		cancel()
		h.Shutdown()
	}()

	select {
	case <-shutdownDone:
		logger.Info().Msg("alumni-chat stopped")
	case <-time.After(timeout):
		logger.Warn().Dur("timeout", timeout).Msg("shutdown timed out")
	}
}
