package sql

import (
	"fmt"
	"strings"
)

// dialect 各数据库 DDL 差异
type dialect struct {
	timestamp string
	serialPK  string
}

var dialects = map[string]dialect{
	"sqlite":   {timestamp: "DATETIME", serialPK: "INTEGER PRIMARY KEY AUTOINCREMENT"},
	"mysql":    {timestamp: "DATETIME(6)", serialPK: "BIGINT AUTO_INCREMENT PRIMARY KEY"},
	"postgres": {timestamp: "TIMESTAMPTZ", serialPK: "BIGSERIAL PRIMARY KEY"},
}

type migration struct {
	version int
	stmts   []string
}

// migrations 按版本顺序执行，{ts} 与 {serial} 由方言替换
var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS mailbox_aliases (
				id VARCHAR(36) PRIMARY KEY,
				team_id VARCHAR(64) NOT NULL UNIQUE,
				email_address VARCHAR(255) NOT NULL UNIQUE,
				alias_label VARCHAR(255) NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at {ts} NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS conversations (
				id VARCHAR(36) PRIMARY KEY,
				mailbox_alias_id VARCHAR(36) NOT NULL,
				subject VARCHAR(500) NOT NULL DEFAULT '',
				created_at {ts} NOT NULL,
				last_message_at {ts} NOT NULL,
				unread_count INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX idx_conversations_alias ON conversations (mailbox_alias_id, last_message_at)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id VARCHAR(36) PRIMARY KEY,
				conversation_id VARCHAR(36) NOT NULL REFERENCES conversations(id),
				external_message_id VARCHAR(255) NOT NULL,
				in_reply_to VARCHAR(255) NOT NULL DEFAULT '',
				from_address VARCHAR(255) NOT NULL DEFAULT '',
				to_address VARCHAR(255) NOT NULL DEFAULT '',
				subject VARCHAR(500) NOT NULL DEFAULT '',
				body_text TEXT,
				body_html TEXT,
				direction VARCHAR(16) NOT NULL,
				is_read BOOLEAN NOT NULL DEFAULT FALSE,
				created_at {ts} NOT NULL,
				raw_payload TEXT,
				UNIQUE (conversation_id, external_message_id)
			)`,
			`CREATE INDEX idx_messages_external ON messages (external_message_id)`,
		},
	},
	{
		version: 2,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS email_templates (
				template_key VARCHAR(64) PRIMARY KEY,
				subject VARCHAR(500) NOT NULL DEFAULT '',
				body_html TEXT,
				body_text TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS webhook_logs (
				id {serial},
				provider VARCHAR(64) NOT NULL,
				direction VARCHAR(16) NOT NULL,
				payload TEXT,
				success BOOLEAN NOT NULL,
				error TEXT,
				created_at {ts} NOT NULL
			)`,
		},
	},
	{
		// 同一别名下外部 Message-ID 唯一，跨会话的并发重复投递由索引拦截
		version: 3,
		stmts: []string{
			`ALTER TABLE messages ADD COLUMN mailbox_alias_id VARCHAR(36) NOT NULL DEFAULT ''`,
			`UPDATE messages SET mailbox_alias_id = COALESCE(
				(SELECT c.mailbox_alias_id FROM conversations c WHERE c.id = messages.conversation_id), '')`,
			`CREATE UNIQUE INDEX idx_messages_alias_external ON messages (mailbox_alias_id, external_message_id)`,
		},
	},
}

// migrate 读取当前版本并依次执行未应用的迁移
func (s *Store) migrate() error {
	d, ok := dialects[s.driverName]
	if !ok {
		return fmt.Errorf("no dialect for driver %s", s.driverName)
	}

	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	if err := s.db.Get(&current, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	replacer := strings.NewReplacer("{ts}", d.timestamp, "{serial}", d.serialPK)
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.Beginx()
		if err != nil {
			return err
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(replacer.Replace(stmt)); err != nil {
				tx.Rollback()
				return fmt.Errorf("applying migration v%d: %w", m.version, err)
			}
		}
		if _, err := tx.Exec(s.q("INSERT INTO schema_version (version) VALUES (?)"), m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// SchemaVersion 返回已应用的最高迁移版本
func (s *Store) SchemaVersion() (int, error) {
	var v int
	err := s.db.Get(&v, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	return v, err
}
