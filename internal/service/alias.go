package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"tourney/backend/internal/domain"
	"tourney/backend/internal/storage"
)

// AliasService 管理队伍邮箱别名。
type AliasService struct {
	repo   storage.AliasRepository
	domain string
	log    *zap.Logger
}

// NewAliasService 创建别名业务服务。mailDomain 是全部别名共用的域名。
func NewAliasService(repo storage.AliasRepository, mailDomain string, log *zap.Logger) *AliasService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AliasService{
		repo:   repo,
		domain: strings.ToLower(strings.TrimSpace(mailDomain)),
		log:    log.Named("alias"),
	}
}

// Domain 返回别名域名
func (s *AliasService) Domain() string {
	return s.domain
}

// Ensure 返回队伍的别名，不存在时按队伍名称派生并创建。可重复调用。
//
// 派生地址已被其他队伍占用时改用 slug-<teamID>@domain。
func (s *AliasService) Ensure(ctx context.Context, teamID, teamName string) (*domain.MailboxAlias, error) {
	teamID = strings.TrimSpace(teamID)
	if teamID == "" {
		return nil, domain.Errorf(domain.ErrValidation, "missing team id")
	}

	if alias, err := s.repo.GetAliasByTeamID(ctx, teamID); err == nil {
		return alias, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Persistence("get alias by team", err)
	}

	slug := Slug(teamName)
	if slug == "" {
		slug = "team-" + Slug(teamID)
	}
	candidates := []string{
		slug + "@" + s.domain,
		fmt.Sprintf("%s-%s@%s", slug, Slug(teamID), s.domain),
	}

	for _, address := range candidates {
		alias := &domain.MailboxAlias{
			ID:           uuid.NewString(),
			TeamID:       teamID,
			EmailAddress: address,
			AliasLabel:   strings.TrimSpace(teamName),
			Active:       true,
		}
		err := s.repo.CreateAlias(ctx, alias)
		if err == nil {
			s.log.Info("mailbox alias created", zap.String("team_id", teamID), zap.String("address", address))
			return alias, nil
		}
		if !errors.Is(err, storage.ErrAliasExists) {
			return nil, domain.Persistence("create alias", err)
		}
		// 并发请求可能已为同一队伍创建
		if existing, err := s.repo.GetAliasByTeamID(ctx, teamID); err == nil {
			return existing, nil
		}
	}

	return nil, domain.Errorf(domain.ErrValidation, "no free address for team %s", teamID)
}

// SetActive 切换别名启用状态。停用的别名不再接收邮件。
func (s *AliasService) SetActive(ctx context.Context, aliasID string, active bool) (*domain.MailboxAlias, error) {
	if err := s.repo.SetAliasActive(ctx, aliasID, active); err != nil {
		return nil, domain.Persistence("set alias active", err)
	}
	alias, err := s.repo.GetAlias(ctx, aliasID)
	if err != nil {
		return nil, domain.Persistence("get alias", err)
	}
	s.log.Info("mailbox alias toggled", zap.String("alias_id", aliasID), zap.Bool("active", active))
	return alias, nil
}

// Resolve 把收件地址解析为启用中的别名。
// 地址未知或别名已停用时返回 ErrUnknownRecipient。
func (s *AliasService) Resolve(ctx context.Context, address string) (*domain.MailboxAlias, error) {
	addr := domain.NormalizeAddress(address)
	if addr == "" {
		return nil, domain.Errorf(domain.ErrUnknownRecipient, "empty address")
	}

	alias, err := s.repo.GetAliasByAddress(ctx, addr)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Errorf(domain.ErrUnknownRecipient, "%s", addr)
	}
	if err != nil {
		return nil, domain.Persistence("resolve alias", err)
	}
	if !alias.Active {
		return nil, domain.Errorf(domain.ErrUnknownRecipient, "%s is inactive", addr)
	}
	return alias, nil
}

// IsOwnAddress 判断地址是否属于任一队伍别名（不论是否启用）
func (s *AliasService) IsOwnAddress(ctx context.Context, address string) bool {
	addr := domain.NormalizeAddress(address)
	if addr == "" {
		return false
	}
	if domain.DomainOf(addr) == s.domain {
		return true
	}
	_, err := s.repo.GetAliasByAddress(ctx, addr)
	return err == nil
}

// Get 按 ID 获取别名
func (s *AliasService) Get(ctx context.Context, aliasID string) (*domain.MailboxAlias, error) {
	alias, err := s.repo.GetAlias(ctx, aliasID)
	if err != nil {
		return nil, domain.Persistence("get alias", err)
	}
	return alias, nil
}

// GetByTeam 获取队伍的别名
func (s *AliasService) GetByTeam(ctx context.Context, teamID string) (*domain.MailboxAlias, error) {
	alias, err := s.repo.GetAliasByTeamID(ctx, teamID)
	if err != nil {
		return nil, domain.Persistence("get alias by team", err)
	}
	return alias, nil
}

// List 列出全部别名
func (s *AliasService) List(ctx context.Context) ([]domain.MailboxAlias, error) {
	aliases, err := s.repo.ListAliases(ctx)
	if err != nil {
		return nil, domain.Persistence("list aliases", err)
	}
	return aliases, nil
}

// umlauts 按德语习惯转写，其余变音符号直接去掉
var umlauts = strings.NewReplacer(
	"ä", "ae", "ö", "oe", "ü", "ue",
	"Ä", "ae", "Ö", "oe", "Ü", "ue",
	"ß", "ss", "ẞ", "ss",
)

// Slug 把队伍名称转换为地址本地部分：小写，仅保留 [a-z0-9]，其余连续字符折叠为 "-"。
func Slug(name string) string {
	name = umlauts.Replace(strings.TrimSpace(name))

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, name)
	if err == nil {
		name = stripped
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.Trim(b.String(), "-")
}
