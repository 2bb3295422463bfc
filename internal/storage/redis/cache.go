package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"

	"tourney/backend/internal/domain"
)

// DefaultAliasTTL 别名缓存的默认过期时间
const DefaultAliasTTL = 24 * time.Hour

// Cache Redis 缓存实现：别名查找缓存和新邮件通知
type Cache struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewCache 基于已连接的客户端创建缓存
func NewCache(client *Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultAliasTTL
	}
	return &Cache{client: client.Client(), ttl: ttl}
}

func aliasAddressKey(address string) string {
	return "alias:addr:" + strings.ToLower(address)
}

func aliasTeamKey(teamID string) string {
	return "alias:team:" + teamID
}

func newMailChannel(teamID string) string {
	return "newmail:" + teamID
}

// ========== 别名缓存 ==========

// getAlias 按地址或队伍读取缓存的别名，未命中返回 false
func (c *Cache) getAlias(ctx context.Context, key string) (*domain.MailboxAlias, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var alias domain.MailboxAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return nil, false
	}
	return &alias, true
}

// GetAliasByAddress 读取地址对应的缓存别名
func (c *Cache) GetAliasByAddress(ctx context.Context, address string) (*domain.MailboxAlias, bool) {
	return c.getAlias(ctx, aliasAddressKey(address))
}

// GetAliasByTeamID 读取队伍对应的缓存别名
func (c *Cache) GetAliasByTeamID(ctx context.Context, teamID string) (*domain.MailboxAlias, bool) {
	return c.getAlias(ctx, aliasTeamKey(teamID))
}

// PutAlias 同时按地址和队伍缓存别名
func (c *Cache) PutAlias(ctx context.Context, alias *domain.MailboxAlias) error {
	data, err := json.Marshal(alias)
	if err != nil {
		return err
	}
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, aliasAddressKey(alias.EmailAddress), data, c.ttl)
	pipe.Set(ctx, aliasTeamKey(alias.TeamID), data, c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// InvalidateAlias 删除别名的全部缓存键
func (c *Cache) InvalidateAlias(ctx context.Context, alias *domain.MailboxAlias) error {
	return c.client.Del(ctx, aliasAddressKey(alias.EmailAddress), aliasTeamKey(alias.TeamID)).Err()
}

// ========== 新邮件通知 ==========

// PublishNewMail 向队伍频道发布新邮件事件
func (c *Cache) PublishNewMail(ctx context.Context, event domain.MailEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, newMailChannel(event.TeamID), data).Err()
}

// SubscribeNewMail 订阅全部队伍的新邮件事件，ctx 结束后关闭订阅
func (c *Cache) SubscribeNewMail(ctx context.Context, handle func(domain.MailEvent)) error {
	sub := c.client.PSubscribe(ctx, newMailChannel("*"))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe new mail: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("new mail subscription closed")
			}
			var event domain.MailEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			handle(event)
		}
	}
}
