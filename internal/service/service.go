// Package service 实现邮件网关的业务逻辑：别名解析、入库与会话归并、
// 外发、自动回复以及 webhook 审计。
package service

import (
	"context"

	"tourney/backend/internal/domain"
)

// 入库来源，用于指标与日志
const (
	SourceSMTP    = "smtp"
	SourceWebhook = "webhook"
)

// MailTransport 外发邮件传输层，每封只尝试一次。
type MailTransport interface {
	Send(ctx context.Context, mail *domain.OutgoingMail) error
}

// Notifier 接收新邮件事件，失败不影响入库。
type Notifier interface {
	NotifyNewMail(ctx context.Context, event domain.MailEvent)
}

// Archiver 保存原始邮件与 webhook 载荷。
type Archiver interface {
	SaveRaw(aliasID, messageID string, raw []byte) (string, error)
	SaveWebhookPayload(provider string, payload []byte) (string, error)
}

// AutoReplier 在入库成功后安排自动回复，不得阻塞调用方。
type AutoReplier interface {
	Schedule(alias *domain.MailboxAlias, msg *domain.Message, email *domain.InboundEmail)
}

// NotifierFunc 把普通函数适配为 Notifier。
type NotifierFunc func(ctx context.Context, event domain.MailEvent)

// NotifyNewMail 调用 f
func (f NotifierFunc) NotifyNewMail(ctx context.Context, event domain.MailEvent) {
	f(ctx, event)
}

// Notifiers 依次通知多个接收方
type Notifiers []Notifier

// NotifyNewMail 广播事件
func (n Notifiers) NotifyNewMail(ctx context.Context, event domain.MailEvent) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.NotifyNewMail(ctx, event)
		}
	}
}
