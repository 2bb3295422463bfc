// Package jwt 签发与校验管理接口的访问令牌。
package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken 无效的令牌
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken 令牌已过期
	ErrExpiredToken = errors.New("token expired")
)

const (
	// RoleAdmin 赛事管理员，可访问全部队伍
	RoleAdmin = "admin"
	// RoleTeam 队伍成员，只能访问 TeamID 对应的队伍
	RoleTeam = "team"
)

// Claims JWT 自定义声明
type Claims struct {
	Role   string `json:"role"`
	TeamID string `json:"team_id,omitempty"`
	jwt.RegisteredClaims
}

// CanAccessTeam 判断令牌持有者能否访问指定队伍
func (c *Claims) CanAccessTeam(teamID string) bool {
	return c.Role == RoleAdmin || (c.Role == RoleTeam && c.TeamID != "" && c.TeamID == teamID)
}

// Manager JWT 管理器
type Manager struct {
	secret []byte
	issuer string
	expiry time.Duration
	now    func() time.Time
}

// NewManager 创建 JWT 管理器
func NewManager(secret, issuer string, expiry time.Duration) *Manager {
	if expiry <= 0 {
		expiry = 12 * time.Hour
	}
	return &Manager{
		secret: []byte(secret),
		issuer: issuer,
		expiry: expiry,
		now:    time.Now,
	}
}

// Issue 签发令牌。role 为 RoleTeam 时必须给出 teamID。
func (m *Manager) Issue(subject, role, teamID string) (string, time.Time, error) {
	switch role {
	case RoleAdmin:
		teamID = ""
	case RoleTeam:
		if teamID == "" {
			return "", time.Time{}, fmt.Errorf("team token requires a team id")
		}
	default:
		return "", time.Time{}, fmt.Errorf("unknown role %q", role)
	}

	now := m.now()
	expiresAt := now.Add(m.expiry)
	claims := Claims{
		Role:   role,
		TeamID: teamID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken 验证令牌并返回声明
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithTimeFunc(m.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Role != RoleAdmin && claims.Role != RoleTeam {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
