package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tourney/backend/internal/domain"
	"tourney/backend/internal/mailparse"
	"tourney/backend/internal/monitoring"
	"tourney/backend/internal/storage"
)

const fallbackLogTimeout = 5 * time.Second

// Ingester 入库入口
type Ingester interface {
	Ingest(ctx context.Context, source string, email *domain.InboundEmail) (*domain.IngestResult, error)
}

// WebhookService 处理第三方邮件服务商的入站 webhook。
// 每次投递无论成败都写入一条 WebhookLog。
type WebhookService struct {
	ingester Ingester
	logs     storage.WebhookLogRepository
	archive  Archiver
	metrics  *monitoring.Metrics
	token    string
	log      *zap.Logger
	now      func() time.Time
}

// NewWebhookService 创建 webhook 服务。token 为空时不校验令牌。
func NewWebhookService(ingester Ingester, logs storage.WebhookLogRepository, token string, metrics *monitoring.Metrics, log *zap.Logger) *WebhookService {
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	return &WebhookService{
		ingester: ingester,
		logs:     logs,
		metrics:  metrics,
		token:    token,
		log:      log.Named("webhook"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetArchiver 设置载荷归档（可选）
func (s *WebhookService) SetArchiver(a Archiver) {
	s.archive = a
}

// VerifyToken 校验 webhook 令牌
func (s *WebhookService) VerifyToken(token string) bool {
	if s.token == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) == 1
}

// HandleInbound 解析并入库一次 webhook 投递。
//
// 审计日志在 defer 中写入，处理过程 panic 时同样会记录；
// 首次写入失败后用独立的上下文重试一次。
func (s *WebhookService) HandleInbound(ctx context.Context, provider string, body []byte) (result *domain.IngestResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordPanic()
			s.log.Error("webhook processing panicked", zap.String("provider", provider), zap.Any("panic", r))
			result = nil
			err = fmt.Errorf("%w: webhook processing panicked: %v", domain.ErrPersistence, r)
		}
		s.audit(ctx, provider, body, err)
		s.metrics.WebhookDelivery(provider, err == nil)
	}()

	s.archivePayload(provider, body)

	email, err := mailparse.DecodeWebhook(body)
	if err != nil {
		return nil, err
	}
	return s.ingester.Ingest(ctx, SourceWebhook, email)
}

// ListLogs 返回最近的审计记录
func (s *WebhookService) ListLogs(ctx context.Context, limit int) ([]domain.WebhookLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	logs, err := s.logs.ListWebhookLogs(ctx, limit)
	if err != nil {
		return nil, domain.Persistence("list webhook logs", err)
	}
	return logs, nil
}

func (s *WebhookService) audit(ctx context.Context, provider string, body []byte, procErr error) {
	entry := &domain.WebhookLog{
		Provider:  provider,
		Direction: domain.WebhookInbound,
		Payload:   string(body),
		Success:   procErr == nil,
		Timestamp: s.now(),
	}
	if procErr != nil {
		entry.Error = procErr.Error()
	}

	err := s.logs.AppendWebhookLog(ctx, entry)
	if err == nil {
		return
	}
	s.log.Warn("webhook log write failed, retrying", zap.String("provider", provider), zap.Error(err))

	// 请求上下文可能已取消
	retryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fallbackLogTimeout)
	defer cancel()
	entry.ID = 0
	if err = s.logs.AppendWebhookLog(retryCtx, entry); err == nil {
		return
	}

	s.log.Error("webhook log fallback write failed",
		zap.String("provider", provider),
		zap.Bool("success", entry.Success),
		zap.String("processing_error", entry.Error),
		zap.Int("payload_bytes", len(body)),
		zap.Error(err),
	)
}

func (s *WebhookService) archivePayload(provider string, body []byte) {
	if s.archive == nil {
		return
	}
	if _, err := s.archive.SaveWebhookPayload(provider, body); err != nil {
		s.log.Warn("archive webhook payload failed", zap.String("provider", provider), zap.Error(err))
	}
}
