package sql

import (
	"context"
	"fmt"

	"tourney/backend/internal/domain"
)

// GetTemplate 根据键名获取模板
func (s *Store) GetTemplate(ctx context.Context, key string) (*domain.Template, error) {
	var tpl domain.Template
	err := s.db.GetContext(ctx, &tpl, s.q(`SELECT template_key, subject,
		COALESCE(body_html, '') AS body_html, COALESCE(body_text, '') AS body_text
		FROM email_templates WHERE template_key = ?`), key)
	if err != nil {
		return nil, notFound(err, "template "+key)
	}
	return &tpl, nil
}

// SaveTemplate 新建或覆盖模板
func (s *Store) SaveTemplate(ctx context.Context, tpl *domain.Template) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM email_templates WHERE template_key = ?`), tpl.Key); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO email_templates (template_key, subject, body_html, body_text) VALUES (?, ?, ?, ?)`),
		tpl.Key, tpl.Subject, tpl.BodyHTML, tpl.BodyText); err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return tx.Commit()
}

// AppendWebhookLog 追加一条 webhook 审计记录
func (s *Store) AppendWebhookLog(ctx context.Context, entry *domain.WebhookLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO webhook_logs (provider, direction, payload, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		entry.Provider, entry.Direction, entry.Payload, entry.Success, entry.Error, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("insert webhook log: %w", err)
	}
	return nil
}

// ListWebhookLogs 按时间倒序返回最近的审计记录
func (s *Store) ListWebhookLogs(ctx context.Context, limit int) ([]domain.WebhookLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	logs := []domain.WebhookLog{}
	err := s.db.SelectContext(ctx, &logs, s.q(`SELECT id, provider, direction, COALESCE(payload, '') AS payload, success,
		COALESCE(error, '') AS error, created_at
		FROM webhook_logs ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook logs: %w", err)
	}
	return logs, nil
}
