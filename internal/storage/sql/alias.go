package sql

import (
	"context"
	"fmt"
	"strings"

	"tourney/backend/internal/domain"
	"tourney/backend/internal/storage"
)

const aliasColumns = `id, team_id, email_address, alias_label, active, created_at`

// CreateAlias 插入新别名
func (s *Store) CreateAlias(ctx context.Context, alias *domain.MailboxAlias) error {
	if alias.CreatedAt.IsZero() {
		alias.CreatedAt = s.now()
	}
	alias.EmailAddress = strings.ToLower(alias.EmailAddress)

	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO mailbox_aliases (`+aliasColumns+`) VALUES (?, ?, ?, ?, ?, ?)`),
		alias.ID, alias.TeamID, alias.EmailAddress, alias.AliasLabel, alias.Active, alias.CreatedAt)
	if isUniqueViolation(err) {
		return storage.ErrAliasExists
	}
	if err != nil {
		return fmt.Errorf("insert alias: %w", err)
	}
	return nil
}

// GetAlias 根据 ID 获取别名
func (s *Store) GetAlias(ctx context.Context, id string) (*domain.MailboxAlias, error) {
	return s.getAlias(ctx, "id", id)
}

// GetAliasByAddress 根据地址获取别名（不区分大小写）
func (s *Store) GetAliasByAddress(ctx context.Context, address string) (*domain.MailboxAlias, error) {
	return s.getAlias(ctx, "email_address", strings.ToLower(address))
}

// GetAliasByTeamID 根据队伍 ID 获取别名
func (s *Store) GetAliasByTeamID(ctx context.Context, teamID string) (*domain.MailboxAlias, error) {
	return s.getAlias(ctx, "team_id", teamID)
}

func (s *Store) getAlias(ctx context.Context, column, value string) (*domain.MailboxAlias, error) {
	var alias domain.MailboxAlias
	err := s.db.GetContext(ctx, &alias, s.q(`SELECT `+aliasColumns+` FROM mailbox_aliases WHERE `+column+` = ?`), value)
	if err != nil {
		return nil, notFound(err, "alias "+value)
	}
	return &alias, nil
}

// SetAliasActive 切换别名启用状态
func (s *Store) SetAliasActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE mailbox_aliases SET active = ? WHERE id = ?`), active, id)
	if err != nil {
		return fmt.Errorf("update alias: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	// MySQL 对未变化的行返回 0，需再查一次是否存在
	var exists int
	if err := s.db.GetContext(ctx, &exists, s.q(`SELECT COUNT(*) FROM mailbox_aliases WHERE id = ?`), id); err != nil {
		return fmt.Errorf("lookup alias: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: alias %s", domain.ErrNotFound, id)
	}
	return nil
}

// ListAliases 返回全部别名
func (s *Store) ListAliases(ctx context.Context) ([]domain.MailboxAlias, error) {
	aliases := []domain.MailboxAlias{}
	if err := s.db.SelectContext(ctx, &aliases, `SELECT `+aliasColumns+` FROM mailbox_aliases ORDER BY email_address`); err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	return aliases, nil
}
