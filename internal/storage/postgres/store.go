package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tourney/backend/internal/domain"
	"tourney/backend/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store 基于 GORM 的存储实现（PostgreSQL / MySQL）
type Store struct {
	db     *gorm.DB
	client *Client
}

// NewStore 使用 pgx 连接池创建 PostgreSQL 存储实例
func NewStore(client *Client) (*Store, error) {
	store, err := NewStoreWithDialector(client.Dialector())
	if err != nil {
		return nil, err
	}
	store.client = client
	return store, nil
}

// NewMySQLStore 创建 MySQL 存储实例
func NewMySQLStore(dsn string) (*Store, error) {
	return NewStoreWithDialector(mysql.Open(dsn))
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector) (*Store, error) {
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // 静默模式
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		TranslateError: true,
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &Store{db: db}

	// 自动迁移数据库表
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.MailboxAlias{},
		&domain.Conversation{},
		&domain.Message{},
		&domain.Template{},
		&domain.WebhookLog{},
	)
}

// Close 关闭连接
func (s *Store) Close() error {
	if s.client != nil {
		s.client.Close()
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库健康状态
func (s *Store) Health(ctx context.Context) error {
	if s.client != nil {
		return s.client.Ping(ctx)
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func wrapNotFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, what)
	}
	return err
}

// ========== Alias Repository ==========

// CreateAlias 插入新别名
func (s *Store) CreateAlias(ctx context.Context, alias *domain.MailboxAlias) error {
	alias.EmailAddress = strings.ToLower(alias.EmailAddress)
	if alias.CreatedAt.IsZero() {
		alias.CreatedAt = time.Now().UTC()
	}
	// Select 显式包含 Active，否则 false 会被 default:true 覆盖
	err := s.db.WithContext(ctx).Select("*").Create(alias).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return storage.ErrAliasExists
	}
	return err
}

// GetAlias 根据 ID 获取别名
func (s *Store) GetAlias(ctx context.Context, id string) (*domain.MailboxAlias, error) {
	var alias domain.MailboxAlias
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&alias).Error; err != nil {
		return nil, wrapNotFound(err, "alias "+id)
	}
	return &alias, nil
}

// GetAliasByAddress 根据地址获取别名
func (s *Store) GetAliasByAddress(ctx context.Context, address string) (*domain.MailboxAlias, error) {
	var alias domain.MailboxAlias
	address = strings.ToLower(address)
	if err := s.db.WithContext(ctx).Where("email_address = ?", address).First(&alias).Error; err != nil {
		return nil, wrapNotFound(err, "alias "+address)
	}
	return &alias, nil
}

// GetAliasByTeamID 根据队伍获取别名
func (s *Store) GetAliasByTeamID(ctx context.Context, teamID string) (*domain.MailboxAlias, error) {
	var alias domain.MailboxAlias
	if err := s.db.WithContext(ctx).Where("team_id = ?", teamID).First(&alias).Error; err != nil {
		return nil, wrapNotFound(err, "alias for team "+teamID)
	}
	return &alias, nil
}

// SetAliasActive 切换别名启用状态
func (s *Store) SetAliasActive(ctx context.Context, id string, active bool) error {
	result := s.db.WithContext(ctx).Model(&domain.MailboxAlias{}).Where("id = ?", id).Update("active", active)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	// MySQL 对未变化的行返回 0，需再查一次是否存在
	var exists int64
	if err := s.db.WithContext(ctx).Model(&domain.MailboxAlias{}).Where("id = ?", id).Count(&exists).Error; err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("%w: alias %s", domain.ErrNotFound, id)
	}
	return nil
}

// ListAliases 返回全部别名
func (s *Store) ListAliases(ctx context.Context) ([]domain.MailboxAlias, error) {
	var aliases []domain.MailboxAlias
	err := s.db.WithContext(ctx).Order("email_address").Find(&aliases).Error
	return aliases, err
}

// ========== Conversation Repository ==========

// CreateConversation 在事务内创建会话及第一封邮件
func (s *Store) CreateConversation(ctx context.Context, conv *domain.Conversation, first *domain.Message) error {
	if first.CreatedAt.IsZero() {
		first.CreatedAt = time.Now().UTC()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = first.CreatedAt
	}
	first.ConversationID = conv.ID
	first.MailboxAliasID = conv.MailboxAliasID
	conv.LastMessageAt = first.CreatedAt
	conv.UnreadCount = 0
	if !first.Read {
		conv.UnreadCount = 1
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		return createMessage(tx, first)
	})
}

// AppendMessage 追加邮件并原子更新会话计数
func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	unread := 0
	if !msg.Read {
		unread = 1
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := createMessage(tx, msg); err != nil {
			return err
		}
		result := tx.Model(&domain.Conversation{}).Where("id = ?", msg.ConversationID).Updates(map[string]any{
			"unread_count":    gorm.Expr("unread_count + ?", unread),
			"last_message_at": gorm.Expr("CASE WHEN last_message_at < ? THEN ? ELSE last_message_at END", msg.CreatedAt, msg.CreatedAt),
		})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: conversation %s", domain.ErrNotFound, msg.ConversationID)
		}
		return nil
	})
}

func createMessage(tx *gorm.DB, msg *domain.Message) error {
	if msg.MailboxAliasID == "" {
		var conv domain.Conversation
		if err := tx.Select("mailbox_alias_id").Where("id = ?", msg.ConversationID).First(&conv).Error; err != nil {
			return wrapNotFound(err, "conversation "+msg.ConversationID)
		}
		msg.MailboxAliasID = conv.MailboxAliasID
	}
	err := tx.Select("*").Create(msg).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateMessage, msg.ExternalMessageID)
	}
	return err
}

// GetConversation 根据 ID 获取会话
func (s *Store) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var conv domain.Conversation
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&conv).Error; err != nil {
		return nil, wrapNotFound(err, "conversation "+id)
	}
	return &conv, nil
}

// ListConversations 按最后邮件时间倒序列出会话
func (s *Store) ListConversations(ctx context.Context, aliasID string) ([]domain.Conversation, error) {
	var convs []domain.Conversation
	err := s.db.WithContext(ctx).Where("mailbox_alias_id = ?", aliasID).Order("last_message_at DESC").Find(&convs).Error
	return convs, err
}

// ListMessages 按创建时间正序列出邮件
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var msgs []domain.Message
	err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("created_at ASC").Find(&msgs).Error
	return msgs, err
}

// MarkConversationRead 标记会话全部已读
func (s *Store) MarkConversationRead(ctx context.Context, conversationID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.Message{}).
			Where("conversation_id = ? AND direction = ? AND is_read = ?", conversationID, domain.DirectionIncoming, false).
			Update("is_read", true).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Conversation{}).Where("id = ?", conversationID).Update("unread_count", 0).Error
	})
}

// FindMessageByExternalID 在别名的全部会话中查找邮件
func (s *Store) FindMessageByExternalID(ctx context.Context, aliasID, externalID string) (*domain.Message, error) {
	var msg domain.Message
	err := s.db.WithContext(ctx).
		Where("mailbox_alias_id = ? AND external_message_id = ?", aliasID, externalID).
		First(&msg).Error
	if err != nil {
		return nil, wrapNotFound(err, "message "+externalID)
	}
	return &msg, nil
}

// LastMessage 返回会话最新的邮件
func (s *Store) LastMessage(ctx context.Context, conversationID string) (*domain.Message, error) {
	var msg domain.Message
	err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).Order("created_at DESC").First(&msg).Error
	if err != nil {
		return nil, wrapNotFound(err, "last message of "+conversationID)
	}
	return &msg, nil
}

// ========== Template / Webhook ==========

// GetTemplate 根据键名获取模板
func (s *Store) GetTemplate(ctx context.Context, key string) (*domain.Template, error) {
	var tpl domain.Template
	if err := s.db.WithContext(ctx).Where("template_key = ?", key).First(&tpl).Error; err != nil {
		return nil, wrapNotFound(err, "template "+key)
	}
	return &tpl, nil
}

// SaveTemplate 新建或覆盖模板
func (s *Store) SaveTemplate(ctx context.Context, tpl *domain.Template) error {
	return s.db.WithContext(ctx).Save(tpl).Error
}

// AppendWebhookLog 追加一条审计记录
func (s *Store) AppendWebhookLog(ctx context.Context, entry *domain.WebhookLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(entry).Error
}

// ListWebhookLogs 按时间倒序返回审计记录
func (s *Store) ListWebhookLogs(ctx context.Context, limit int) ([]domain.WebhookLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var logs []domain.WebhookLog
	err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&logs).Error
	return logs, err
}
