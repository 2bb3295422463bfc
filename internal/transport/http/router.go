// Package httptransport 暴露赛事邮件网关的管理接口与 webhook 入口。
package httptransport

import (
	"context"
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	jwtpkg "tourney/backend/internal/auth/jwt"
	"tourney/backend/internal/bridge"
	"tourney/backend/internal/config"
	"tourney/backend/internal/health"
	"tourney/backend/internal/middleware"
	"tourney/backend/internal/monitoring"
	"tourney/backend/internal/service"
	"tourney/backend/internal/websocket"
)

// SMTPTester 驱动本地 SMTP 监听器完成一次测试投递
type SMTPTester interface {
	Send(ctx context.Context, req bridge.Request) (*bridge.Result, error)
}

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	aliases       *service.AliasService
	conversations *service.ConversationService
	dispatch      *service.DispatchService
	webhook       *service.WebhookService
	bridge        SMTPTester
	health        *health.HealthChecker
	log           *zap.Logger
}

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config              *config.Config
	AliasService        *service.AliasService
	ConversationService *service.ConversationService
	DispatchService     *service.DispatchService
	WebhookService      *service.WebhookService
	Bridge              SMTPTester // 为 nil 时不注册调试路由
	JWTManager          *jwtpkg.Manager
	WebSocketHub        *websocket.Hub // 为 nil 时不注册实时推送
	Health              *health.HealthChecker
	Metrics             *monitoring.Metrics
	Logger              *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetrics()
	}

	router := gin.New()
	mon := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)
	router.Use(mon.PanicRecovery())
	router.Use(mon.HTTPMetrics())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(gincors.New(corsConfig(deps.Config.CORS.AllowedOrigins)))

	handler := &Handler{
		aliases:       deps.AliasService,
		conversations: deps.ConversationService,
		dispatch:      deps.DispatchService,
		webhook:       deps.WebhookService,
		bridge:        deps.Bridge,
		health:        deps.Health,
		log:           deps.Logger.Named("http"),
	}
	jwtAuth := middleware.NewJWTAuth(deps.JWTManager, deps.Logger)

	// 健康检查与指标
	router.GET("/health", handler.healthSummary)
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveHandler()))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyHandler()))
	}
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))

	v1 := router.Group("/v1")
	{
		// ========== Webhook（共享令牌，不走 JWT） ==========
		v1.POST("/webhooks/inbound/:provider",
			middleware.BodySizeLimit(middleware.WebhookBodyLimit),
			handler.inboundWebhook)

		api := v1.Group("", middleware.BodySizeLimit(middleware.DefaultBodyLimit), jwtAuth.RequireAuth())

		// ========== Team Routes ==========
		teams := api.Group("/teams/:teamId", jwtAuth.RequireTeamAccess("teamId"))
		{
			teams.POST("/alias", handler.ensureAlias)
			teams.GET("/alias", handler.getAlias)
			teams.GET("/conversations", handler.listConversations)
			teams.POST("/messages", handler.sendMessage)
		}

		api.GET("/conversations/:id", handler.openConversation)

		// ========== Admin Routes ==========
		admin := api.Group("", jwtAuth.RequireAdmin())
		{
			admin.GET("/aliases", handler.listAliases)
			admin.PATCH("/aliases/:id", handler.toggleAlias)
			admin.GET("/webhooks/logs", handler.listWebhookLogs)
			if deps.Bridge != nil {
				admin.POST("/debug/smtp-test", handler.smtpTest)
			}
		}

		// ========== WebSocket Routes ==========
		// 浏览器无法携带 Authorization 头，鉴权在处理器内完成
		if deps.WebSocketHub != nil {
			v1.GET("/ws/teams/:teamId", websocket.HandleWebSocket(deps.WebSocketHub))
		}
	}

	return router
}

func corsConfig(origins []string) gincors.Config {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cfg := gincors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Webhook-Token"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range origins {
		if origin == "*" {
			cfg.AllowCredentials = false
			break
		}
	}
	return cfg
}

func (h *Handler) healthSummary(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	results, ok := h.health.CheckHealth(c.Request.Context())
	status := http.StatusOK
	state := "ok"
	if !ok {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": results})
}
