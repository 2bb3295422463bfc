package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tourney/backend/internal/auth/jwt"
)

// ContextClaims 是 gin.Context 中保存令牌声明的键
const ContextClaims = "claims"

// JWTAuth JWT认证中间件
type JWTAuth struct {
	jwtManager *jwt.Manager
	log        *zap.Logger
}

// NewJWTAuth 创建JWT认证中间件
func NewJWTAuth(jwtManager *jwt.Manager, log *zap.Logger) *JWTAuth {
	if log == nil {
		log = zap.NewNop()
	}
	return &JWTAuth{
		jwtManager: jwtManager,
		log:        log.Named("auth"),
	}
}

// RequireAuth 要求JWT认证
func (ja *JWTAuth) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractBearer(c)
		if token == "" {
			abort(c, http.StatusUnauthorized, "需要登录认证")
			return
		}

		claims, err := ja.jwtManager.ValidateToken(token)
		if err != nil {
			ja.log.Warn("invalid token",
				zap.String("error", err.Error()),
				zap.String("ip", c.ClientIP()),
			)
			msg := "无效的访问令牌"
			if errors.Is(err, jwt.ErrExpiredToken) {
				msg = "访问令牌已过期"
			}
			abort(c, http.StatusUnauthorized, msg)
			return
		}

		c.Set(ContextClaims, claims)
		c.Next()
	}
}

// RequireTeamAccess 要求令牌能访问路径参数 param 指定的队伍。须放在 RequireAuth 之后。
func (ja *JWTAuth) RequireTeamAccess(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFrom(c)
		if claims == nil || !claims.CanAccessTeam(c.Param(param)) {
			abort(c, http.StatusForbidden, "权限不足")
			return
		}
		c.Next()
	}
}

// RequireAdmin 要求管理员令牌。须放在 RequireAuth 之后。
func (ja *JWTAuth) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := ClaimsFrom(c)
		if claims == nil || claims.Role != jwt.RoleAdmin {
			abort(c, http.StatusForbidden, "权限不足")
			return
		}
		c.Next()
	}
}

// ClaimsFrom 取出 RequireAuth 写入的声明，未认证时返回 nil
func ClaimsFrom(c *gin.Context) *jwt.Claims {
	v, ok := c.Get(ContextClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(*jwt.Claims)
	return claims
}

// ExtractBearer 从 Authorization 头或 token 查询参数提取令牌。
// 浏览器 WebSocket 无法设置请求头，只能走查询参数。
func ExtractBearer(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return c.Query("token")
}

func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"code": status, "msg": msg})
}
