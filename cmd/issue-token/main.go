package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	jwtpkg "tourney/backend/internal/auth/jwt"
	"tourney/backend/internal/config"
)

// main 为管理员或队伍签发访问令牌。
//
// 用法:
//
//	go run ./cmd/issue-token -subject ops -role admin
//	go run ./cmd/issue-token -subject captain -role team -team 7 -expiry 72h
func main() {
	subject := flag.String("subject", "", "令牌主体，例如操作员名称")
	role := flag.String("role", jwtpkg.RoleTeam, "角色: admin 或 team")
	teamID := flag.String("team", "", "队伍 ID（role=team 时必填）")
	expiry := flag.Duration("expiry", 0, "有效期，默认使用 jwt.access_expiry")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "错误: -subject 不能为空")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: 无法加载配置: %v\n", err)
		os.Exit(1)
	}

	ttl := cfg.JWT.AccessExpiry
	if *expiry > 0 {
		ttl = *expiry
	}
	manager := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, ttl)

	token, expiresAt, err := manager.Issue(*subject, *role, *teamID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: 签发失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "role=%s team=%s expires=%s\n", *role, *teamID, expiresAt.Format(time.RFC3339))
	fmt.Println(token)
}
