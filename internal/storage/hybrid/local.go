package hybrid

import (
	"context"
	"strings"
	"time"

	"tourney/backend/internal/cache"
	"tourney/backend/internal/domain"
)

// LocalAliasCache 基于进程内 LocalCache 的别名缓存，未配置 Redis 时使用
type LocalAliasCache struct {
	cache *cache.LocalCache
}

// NewLocalAliasCache 创建本地别名缓存
func NewLocalAliasCache(c *cache.LocalCache) *LocalAliasCache {
	return &LocalAliasCache{cache: c}
}

func (l *LocalAliasCache) get(key string) (*domain.MailboxAlias, bool) {
	v, ok := l.cache.Get(key)
	if !ok {
		return nil, false
	}
	// 返回副本，调用方修改不影响缓存
	alias := *v.(*domain.MailboxAlias)
	return &alias, true
}

// GetAliasByAddress 按地址读取
func (l *LocalAliasCache) GetAliasByAddress(_ context.Context, address string) (*domain.MailboxAlias, bool) {
	return l.get("addr:" + strings.ToLower(address))
}

// GetAliasByTeamID 按队伍读取
func (l *LocalAliasCache) GetAliasByTeamID(_ context.Context, teamID string) (*domain.MailboxAlias, bool) {
	return l.get("team:" + teamID)
}

// PutAlias 写入缓存
func (l *LocalAliasCache) PutAlias(_ context.Context, alias *domain.MailboxAlias) error {
	cp := *alias
	l.cache.Set("addr:"+strings.ToLower(alias.EmailAddress), &cp, 10*time.Minute)
	l.cache.Set("team:"+alias.TeamID, &cp, 10*time.Minute)
	return nil
}

// InvalidateAlias 删除缓存
func (l *LocalAliasCache) InvalidateAlias(_ context.Context, alias *domain.MailboxAlias) error {
	l.cache.Delete("addr:" + strings.ToLower(alias.EmailAddress))
	l.cache.Delete("team:" + alias.TeamID)
	return nil
}
