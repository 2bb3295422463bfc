package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"tourney/backend/internal/config"
	"tourney/backend/internal/domain"
	"tourney/backend/internal/monitoring"
	"tourney/backend/internal/pool"
	"tourney/backend/internal/storage"
)

const autoReplyTimeout = 30 * time.Second

// placeholder 匹配 {{name}}，名称两侧允许空白
var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Substitute 用 vars 替换文本中的 {{name}} 占位符。
// 不存在的键原样保留，不报错。
func Substitute(text string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		if v, ok := vars[key]; ok {
			return v
		}
		return m
	})
}

// Dispatcher 发送自动回复
type Dispatcher interface {
	Send(ctx context.Context, req domain.OutboundEmail) (*domain.DispatchResult, error)
}

// AutoReplyService 在收到邮件后按模板自动回复。
// 回复在工作池中异步执行，失败只记录日志。
type AutoReplyService struct {
	templates  storage.TemplateRepository
	dispatcher Dispatcher
	aliases    *AliasService
	workers    *pool.WorkerPool
	cfg        config.AutoReplyConfig
	metrics    *monitoring.Metrics
	log        *zap.Logger
}

// NewAutoReplyService 创建自动回复服务。workers 由调用方启动与停止，为 nil 时同步执行。
func NewAutoReplyService(
	templates storage.TemplateRepository,
	dispatcher Dispatcher,
	aliases *AliasService,
	workers *pool.WorkerPool,
	cfg config.AutoReplyConfig,
	metrics *monitoring.Metrics,
	log *zap.Logger,
) *AutoReplyService {
	if cfg.TemplateKey == "" {
		cfg.TemplateKey = domain.TemplateAutoReply
	}
	if log == nil {
		log = zap.NewNop()
	}
	if metrics == nil {
		metrics = monitoring.NewMetrics()
	}
	return &AutoReplyService{
		templates:  templates,
		dispatcher: dispatcher,
		aliases:    aliases,
		workers:    workers,
		cfg:        cfg,
		metrics:    metrics,
		log:        log.Named("autoreply"),
	}
}

// Schedule 安排一次自动回复，不阻塞调用方。
func (s *AutoReplyService) Schedule(alias *domain.MailboxAlias, msg *domain.Message, email *domain.InboundEmail) {
	if !s.cfg.Enabled {
		return
	}
	if reason := s.suppressReason(email, msg); reason != "" {
		s.metrics.AutoReply("suppressed")
		s.log.Debug("auto-reply suppressed", zap.String("conversation_id", msg.ConversationID), zap.String("reason", reason))
		return
	}

	vars := map[string]string{
		"senderName":      domain.DisplayName(email.From),
		"teamName":        alias.AliasLabel,
		"originalSubject": email.Subject,
		"tournamentName":  s.cfg.TournamentName,
	}
	task := func() {
		ctx, cancel := context.WithTimeout(context.Background(), autoReplyTimeout)
		defer cancel()
		if err := s.Reply(ctx, alias, msg, vars); err != nil {
			s.metrics.AutoReply("failure")
			s.log.Warn("auto-reply failed",
				zap.String("team_id", alias.TeamID),
				zap.String("conversation_id", msg.ConversationID),
				zap.Error(err),
			)
		}
	}

	if s.workers == nil {
		task()
		return
	}
	if !s.workers.TrySubmit(task) {
		s.metrics.AutoReply("dropped")
		s.log.Warn("auto-reply queue full, job dropped", zap.String("conversation_id", msg.ConversationID))
	}
}

// Reply 渲染模板并回复到邮件所在会话。模板不存在时什么也不做。
func (s *AutoReplyService) Reply(ctx context.Context, alias *domain.MailboxAlias, msg *domain.Message, vars map[string]string) error {
	tpl, err := s.templates.GetTemplate(ctx, s.cfg.TemplateKey)
	if errors.Is(err, domain.ErrNotFound) {
		s.metrics.AutoReply("skipped")
		return nil
	}
	if err != nil {
		return domain.Persistence("get template", err)
	}

	_, err = s.dispatcher.Send(ctx, domain.OutboundEmail{
		TeamID:         alias.TeamID,
		ConversationID: msg.ConversationID,
		Subject:        Substitute(tpl.Subject, vars),
		Text:           Substitute(tpl.BodyText, vars),
		HTML:           Substitute(tpl.BodyHTML, vars),
		Headers:        map[string]string{"Auto-Submitted": "auto-replied"},
		FixedSubject:   true,
	})
	if err != nil {
		return err
	}
	s.metrics.AutoReply("sent")
	return nil
}

// suppressReason 返回不应自动回复的原因，空串表示可以回复
func (s *AutoReplyService) suppressReason(email *domain.InboundEmail, msg *domain.Message) string {
	if v := strings.ToLower(strings.TrimSpace(email.Header("auto-submitted"))); v != "" && v != "no" {
		return "auto-submitted"
	}
	switch strings.ToLower(strings.TrimSpace(email.Header("precedence"))) {
	case "bulk", "junk", "list":
		return "precedence"
	}
	if msg.FromAddress == "" {
		return "no sender"
	}
	if s.aliases != nil && s.aliases.IsOwnAddress(context.Background(), msg.FromAddress) {
		return "own alias"
	}
	return ""
}
