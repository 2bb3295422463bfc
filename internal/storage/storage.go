package storage

import (
	"context"
	"errors"

	"tourney/backend/internal/domain"
)

var (
	// ErrAliasExists 地址或队伍已存在别名
	ErrAliasExists = errors.New("alias already exists")
)

// AliasRepository 定义队伍邮箱别名的存取操作。
type AliasRepository interface {
	// CreateAlias 插入新别名，地址或队伍冲突时返回 ErrAliasExists。
	CreateAlias(ctx context.Context, alias *domain.MailboxAlias) error
	GetAlias(ctx context.Context, id string) (*domain.MailboxAlias, error)
	GetAliasByAddress(ctx context.Context, address string) (*domain.MailboxAlias, error)
	GetAliasByTeamID(ctx context.Context, teamID string) (*domain.MailboxAlias, error)
	SetAliasActive(ctx context.Context, id string, active bool) error
	ListAliases(ctx context.Context) ([]domain.MailboxAlias, error)
}

// ConversationRepository 定义会话与邮件的存取操作。
//
// 会话的 LastMessageAt 与 UnreadCount 只由存储层在写入邮件的同一事务内维护，
// 并发追加不会丢失计数。
type ConversationRepository interface {
	// CreateConversation 在一个事务内创建会话及其第一封邮件。
	CreateConversation(ctx context.Context, conv *domain.Conversation, first *domain.Message) error
	// AppendMessage 追加邮件并原子更新会话的最后时间与未读数。
	// 同一别名下 ExternalMessageID 重复时返回 domain.ErrDuplicateMessage。
	AppendMessage(ctx context.Context, msg *domain.Message) error
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	// ListConversations 按 LastMessageAt 倒序返回别名下的会话。
	ListConversations(ctx context.Context, aliasID string) ([]domain.Conversation, error)
	// ListMessages 按 CreatedAt 正序返回会话内的邮件。
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
	// MarkConversationRead 标记全部收到的邮件为已读并将未读数归零，可重复调用。
	MarkConversationRead(ctx context.Context, conversationID string) error
	// FindMessageByExternalID 在别名的全部会话中查找外部 Message-ID。
	FindMessageByExternalID(ctx context.Context, aliasID, externalID string) (*domain.Message, error)
	LastMessage(ctx context.Context, conversationID string) (*domain.Message, error)
}

// TemplateRepository 定义模板存取操作。
type TemplateRepository interface {
	GetTemplate(ctx context.Context, key string) (*domain.Template, error)
	SaveTemplate(ctx context.Context, tpl *domain.Template) error
}

// WebhookLogRepository 定义 webhook 审计日志的存取操作。
type WebhookLogRepository interface {
	AppendWebhookLog(ctx context.Context, entry *domain.WebhookLog) error
	ListWebhookLogs(ctx context.Context, limit int) ([]domain.WebhookLog, error)
}

// Store 聚合全部仓储接口。
type Store interface {
	AliasRepository
	ConversationRepository
	TemplateRepository
	WebhookLogRepository
	Close() error
	Health(ctx context.Context) error
}
