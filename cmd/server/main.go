package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	jwtpkg "tourney/backend/internal/auth/jwt"
	"tourney/backend/internal/bridge"
	"tourney/backend/internal/cache"
	"tourney/backend/internal/config"
	"tourney/backend/internal/domain"
	"tourney/backend/internal/health"
	"tourney/backend/internal/logger"
	"tourney/backend/internal/monitoring"
	"tourney/backend/internal/outbound"
	"tourney/backend/internal/pool"
	"tourney/backend/internal/service"
	"tourney/backend/internal/smtp"
	"tourney/backend/internal/storage/factory"
	"tourney/backend/internal/storage/filesystem"
	"tourney/backend/internal/storage/hybrid"
	"tourney/backend/internal/storage/redis"
	httptransport "tourney/backend/internal/transport/http"
	"tourney/backend/internal/websocket"
)

const (
	localAliasCacheSize = 10000
	localAliasCacheTTL  = 10 * time.Minute
	archiveCleanupEvery = 24 * time.Hour
)

// main 启动同时包含 HTTP 管理接口与 SMTP 监听器的网关服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	log, err := logger.NewLogger(logger.FromConfig(cfg.Log, "tourney-gateway"))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	log.Info("starting tourney mail gateway",
		zap.String("mail_domain", cfg.Mailbox.Domain),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	baseStore, err := factory.Open(cfg.Database, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer baseStore.Close()

	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(baseStore, log)

	// 别名缓存：配置了 Redis 时使用 Redis，并通过 Redis 频道跨实例分发新邮件事件
	var (
		aliasCache hybrid.AliasCache
		redisCache *redis.Cache
	)
	if cfg.Redis.Address != "" {
		redisClient, err := redis.New(&cfg.Redis, log)
		if err != nil {
			log.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
		healthChecker.AddReadinessCheck("redis", health.PingerFunc(redisClient.Ping))
		redisCache = redis.NewCache(redisClient, 0)
		aliasCache = redisCache
	} else {
		local := cache.NewLocalCache(localAliasCacheSize, localAliasCacheTTL)
		defer local.Stop()
		aliasCache = hybrid.NewLocalAliasCache(local)
		log.Info("redis not configured, using in-process alias cache")
	}
	store := hybrid.NewStore(baseStore, aliasCache, log)

	var archive *filesystem.Store
	if cfg.Storage.Path != "" {
		archive, err = filesystem.NewStore(cfg.Storage.Path)
		if err != nil {
			log.Warn("failed to initialize raw archive, continuing without it", zap.Error(err))
			archive = nil
		} else {
			log.Info("raw archive initialized", zap.String("path", cfg.Storage.Path))
		}
	}

	jwtManager := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry)
	wsHub := websocket.NewHub(cfg.CORS.AllowedOrigins, jwtManager, log)

	// 服务层
	aliasService := service.NewAliasService(store, cfg.Mailbox.Domain, log)
	ingestService := service.NewIngestService(store, aliasService, metrics, log)
	conversationService := service.NewConversationService(store, aliasService, log)
	sender := outbound.NewSender(cfg.Outbound, cfg.SMTP.Domain, log)
	dispatchService := service.NewDispatchService(store, aliasService, sender, metrics, log)
	webhookService := service.NewWebhookService(ingestService, store, cfg.Webhook.Token, metrics, log)

	autoReplyWorkers := pool.NewWorkerPool(cfg.AutoReply.Workers, cfg.AutoReply.QueueSize, log)
	autoReplyService := service.NewAutoReplyService(store, dispatchService, aliasService, autoReplyWorkers, cfg.AutoReply, metrics, log)
	ingestService.SetAutoReplier(autoReplyService)

	var notifier service.Notifier = wsHub
	if redisCache != nil {
		notifier = service.NotifierFunc(func(ctx context.Context, event domain.MailEvent) {
			if err := redisCache.PublishNewMail(ctx, event); err != nil {
				log.Warn("publish new mail event failed, delivering locally", zap.Error(err))
				wsHub.NotifyNewMail(ctx, event)
			}
		})
	}
	ingestService.SetNotifier(notifier)
	dispatchService.SetNotifier(notifier)

	if archive != nil {
		ingestService.SetArchiver(archive)
		webhookService.SetArchiver(archive)
	}

	smtpServer := smtp.NewServer(cfg.SMTP, aliasService, ingestService, metrics, log)

	var smtpTester httptransport.SMTPTester
	if cfg.Bridge.Enabled {
		smtpTester = bridge.New(cfg.Bridge, cfg.SMTP.BindAddr, cfg.SMTP.Domain, log)
	}

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:              cfg,
		AliasService:        aliasService,
		ConversationService: conversationService,
		DispatchService:     dispatchService,
		WebhookService:      webhookService,
		Bridge:              smtpTester,
		JWTManager:          jwtManager,
		WebSocketHub:        wsHub,
		Health:              healthChecker,
		Metrics:             metrics,
		Logger:              log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	autoReplyWorkers.Start(groupCtx)

	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting SMTP listener",
			zap.String("address", cfg.SMTP.BindAddr),
			zap.String("domain", cfg.SMTP.Domain),
		)
		if err := smtpServer.ListenAndServe(); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
			log.Error("SMTP listener error", zap.Error(err))
			return err
		}
		return nil
	})

	group.Go(func() error {
		log.Info("starting WebSocket hub")
		wsHub.Run(groupCtx)
		return nil
	})

	if redisCache != nil {
		group.Go(func() error {
			log.Info("subscribing to new mail events")
			err := redisCache.SubscribeNewMail(groupCtx, func(event domain.MailEvent) {
				wsHub.NotifyNewMail(groupCtx, event)
			})
			if err != nil && groupCtx.Err() == nil {
				// 订阅中断只影响实时推送
				log.Error("new mail subscription stopped", zap.Error(err))
			}
			return nil
		})
	}

	if archive != nil && cfg.Storage.RetentionDays > 0 {
		group.Go(func() error {
			ticker := time.NewTicker(archiveCleanupEvery)
			defer ticker.Stop()

			log.Info("starting raw archive cleanup task",
				zap.Duration("interval", archiveCleanupEvery),
				zap.Int("retention_days", cfg.Storage.RetentionDays))

			for {
				select {
				case <-groupCtx.Done():
					log.Info("archive cleanup task stopped")
					return nil
				case <-ticker.C:
					count, err := archive.CleanupExpired(cfg.Storage.RetentionDays)
					if err != nil {
						log.Error("failed to cleanup raw archive", zap.Error(err))
					} else if count > 0 {
						log.Info("expired archive files removed", zap.Int("count", count))
					}
				}
			}
		})
	}

	// 优雅关闭
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := smtpServer.Close(); err != nil {
			log.Warn("SMTP listener close warning", zap.Error(err))
		}
		autoReplyWorkers.Stop()

		log.Info("servers stopped")
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
