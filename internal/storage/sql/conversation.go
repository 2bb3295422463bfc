package sql

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"tourney/backend/internal/domain"
)

const (
	conversationColumns = `id, mailbox_alias_id, subject, created_at, last_message_at, unread_count`
	messageColumns      = `id, conversation_id, mailbox_alias_id, external_message_id, in_reply_to, from_address, to_address, subject,
		COALESCE(body_text, '') AS body_text, COALESCE(body_html, '') AS body_html, direction, is_read, created_at,
		COALESCE(raw_payload, '') AS raw_payload`
)

// CreateConversation 在一个事务内创建会话和第一封邮件
func (s *Store) CreateConversation(ctx context.Context, conv *domain.Conversation, first *domain.Message) error {
	if first.CreatedAt.IsZero() {
		first.CreatedAt = s.now()
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

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?, ?)`),
		conv.ID, conv.MailboxAliasID, conv.Subject, conv.CreatedAt, conv.LastMessageAt, conv.UnreadCount)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	if err := s.insertMessage(ctx, tx, first); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendMessage 追加邮件并在同一事务内更新会话计数
func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.insertMessage(ctx, tx, msg); err != nil {
		return err
	}

	unread := 0
	if !msg.Read {
		unread = 1
	}
	// 计数用自增表达式，时间取较大值，避免并发写入丢失更新
	res, err := tx.ExecContext(ctx, s.q(`UPDATE conversations
		SET unread_count = unread_count + ?,
			last_message_at = CASE WHEN last_message_at < ? THEN ? ELSE last_message_at END
		WHERE id = ?`),
		unread, msg.CreatedAt, msg.CreatedAt, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: conversation %s", domain.ErrNotFound, msg.ConversationID)
	}
	return tx.Commit()
}

func (s *Store) insertMessage(ctx context.Context, tx *sqlx.Tx, msg *domain.Message) error {
	if msg.MailboxAliasID == "" {
		err := tx.GetContext(ctx, &msg.MailboxAliasID,
			s.q(`SELECT mailbox_alias_id FROM conversations WHERE id = ?`), msg.ConversationID)
		if err != nil {
			return notFound(err, "conversation "+msg.ConversationID)
		}
	}
	_, err := tx.ExecContext(ctx, s.q(`INSERT INTO messages (
			id, conversation_id, mailbox_alias_id, external_message_id, in_reply_to, from_address, to_address, subject,
			body_text, body_html, direction, is_read, created_at, raw_payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		msg.ID, msg.ConversationID, msg.MailboxAliasID, msg.ExternalMessageID, msg.InReplyTo, msg.FromAddress, msg.ToAddress, msg.Subject,
		msg.BodyText, msg.BodyHTML, msg.Direction, msg.Read, msg.CreatedAt, msg.RawPayload)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateMessage, msg.ExternalMessageID)
	}
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetConversation 根据 ID 获取会话
func (s *Store) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := s.db.GetContext(ctx, &conv, s.q(`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`), id)
	if err != nil {
		return nil, notFound(err, "conversation "+id)
	}
	return &conv, nil
}

// ListConversations 按最后邮件时间倒序列出会话
func (s *Store) ListConversations(ctx context.Context, aliasID string) ([]domain.Conversation, error) {
	convs := []domain.Conversation{}
	err := s.db.SelectContext(ctx, &convs, s.q(`SELECT `+conversationColumns+` FROM conversations
		WHERE mailbox_alias_id = ? ORDER BY last_message_at DESC`), aliasID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// ListMessages 按创建时间正序列出会话邮件
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	msgs := []domain.Message{}
	err := s.db.SelectContext(ctx, &msgs, s.q(`SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? ORDER BY created_at ASC`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// MarkConversationRead 标记会话全部已读
func (s *Store) MarkConversationRead(ctx context.Context, conversationID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.q(`UPDATE messages SET is_read = ? WHERE conversation_id = ? AND direction = ? AND is_read = ?`),
		true, conversationID, domain.DirectionIncoming, false); err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`UPDATE conversations SET unread_count = 0 WHERE id = ?`), conversationID); err != nil {
		return fmt.Errorf("reset unread count: %w", err)
	}
	return tx.Commit()
}

// FindMessageByExternalID 在别名的全部会话中查找邮件
func (s *Store) FindMessageByExternalID(ctx context.Context, aliasID, externalID string) (*domain.Message, error) {
	var msg domain.Message
	err := s.db.GetContext(ctx, &msg, s.q(`SELECT `+messageColumns+` FROM messages
		WHERE mailbox_alias_id = ? AND external_message_id = ?`), aliasID, externalID)
	if err != nil {
		return nil, notFound(err, "message "+externalID)
	}
	return &msg, nil
}

// LastMessage 返回会话最新的一封邮件
func (s *Store) LastMessage(ctx context.Context, conversationID string) (*domain.Message, error) {
	var msg domain.Message
	err := s.db.GetContext(ctx, &msg, s.q(`SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? ORDER BY created_at DESC LIMIT 1`), conversationID)
	if err != nil {
		return nil, notFound(err, "last message of "+conversationID)
	}
	return &msg, nil
}
