// Package health 提供存活与就绪探针。
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

const checkTimeout = 3 * time.Second

// Pinger 是可探测的依赖，如数据库或 Redis
type Pinger interface {
	Health(ctx context.Context) error
}

// PingerFunc 把函数适配为 Pinger
type PingerFunc func(ctx context.Context) error

// Health 实现 Pinger
func (f PingerFunc) Health(ctx context.Context) error { return f(ctx) }

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	logger *zap.Logger
	checks map[string]Pinger
}

// NewHealthChecker 创建健康检查器。store 为就绪检查的必选依赖。
func NewHealthChecker(store Pinger, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		logger: logger.Named("health"),
		checks: map[string]Pinger{},
	}
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(10000))
	hc.AddReadinessCheck("database", store)
	return hc
}

// AddReadinessCheck 添加就绪检查，如 Redis 或 SMTP 监听器
func (hc *HealthChecker) AddReadinessCheck(name string, p Pinger) {
	hc.checks[name] = p
	hc.health.AddReadinessCheck(name, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		err := p.Health(ctx)
		if err != nil {
			hc.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
		}
		return err
	})
}

// LiveHandler 存活探针
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// ReadyHandler 就绪探针
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}

// CheckHealth 执行全部就绪检查并返回逐项结果
func (hc *HealthChecker) CheckHealth(ctx context.Context) (map[string]string, bool) {
	results := make(map[string]string, len(hc.checks)+1)
	healthy := true
	for name, p := range hc.checks {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := p.Health(cctx)
		cancel()
		if err != nil {
			results[name] = "ERROR: " + err.Error()
			healthy = false
			continue
		}
		results[name] = "OK"
	}
	results["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return results, healthy
}
