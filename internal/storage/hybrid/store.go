package hybrid

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"tourney/backend/internal/domain"
	"tourney/backend/internal/storage"
)

// AliasCache 别名查找缓存。未命中返回 false，写入失败不影响主存储。
type AliasCache interface {
	GetAliasByAddress(ctx context.Context, address string) (*domain.MailboxAlias, bool)
	GetAliasByTeamID(ctx context.Context, teamID string) (*domain.MailboxAlias, bool)
	PutAlias(ctx context.Context, alias *domain.MailboxAlias) error
	InvalidateAlias(ctx context.Context, alias *domain.MailboxAlias) error
}

// Store 混合存储实现：数据库为准，别名查找先走缓存（Redis 或本地内存）
type Store struct {
	storage.Store
	cache AliasCache
	log   *zap.Logger
}

// NewStore 创建混合存储实例
func NewStore(base storage.Store, cache AliasCache, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{Store: base, cache: cache, log: log}
}

// CreateAlias 写入数据库后预热缓存
func (s *Store) CreateAlias(ctx context.Context, alias *domain.MailboxAlias) error {
	if err := s.Store.CreateAlias(ctx, alias); err != nil {
		return err
	}
	s.put(ctx, alias)
	return nil
}

// GetAliasByAddress 先查缓存，未命中再查数据库并回填
func (s *Store) GetAliasByAddress(ctx context.Context, address string) (*domain.MailboxAlias, error) {
	address = strings.ToLower(address)
	if alias, ok := s.cache.GetAliasByAddress(ctx, address); ok {
		return alias, nil
	}
	alias, err := s.Store.GetAliasByAddress(ctx, address)
	if err != nil {
		return nil, err
	}
	s.put(ctx, alias)
	return alias, nil
}

// GetAliasByTeamID 先查缓存，未命中再查数据库并回填
func (s *Store) GetAliasByTeamID(ctx context.Context, teamID string) (*domain.MailboxAlias, error) {
	if alias, ok := s.cache.GetAliasByTeamID(ctx, teamID); ok {
		return alias, nil
	}
	alias, err := s.Store.GetAliasByTeamID(ctx, teamID)
	if err != nil {
		return nil, err
	}
	s.put(ctx, alias)
	return alias, nil
}

// SetAliasActive 更新数据库并清除缓存
func (s *Store) SetAliasActive(ctx context.Context, id string, active bool) error {
	alias, err := s.Store.GetAlias(ctx, id)
	if err != nil {
		return err
	}
	if err := s.Store.SetAliasActive(ctx, id, active); err != nil {
		return err
	}
	if err := s.cache.InvalidateAlias(ctx, alias); err != nil {
		s.log.Warn("failed to invalidate alias cache", zap.String("alias", alias.EmailAddress), zap.Error(err))
	}
	return nil
}

func (s *Store) put(ctx context.Context, alias *domain.MailboxAlias) {
	if err := s.cache.PutAlias(ctx, alias); err != nil {
		s.log.Warn("failed to cache alias", zap.String("alias", alias.EmailAddress), zap.Error(err))
	}
}
