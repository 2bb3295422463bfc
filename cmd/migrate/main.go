package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"tourney/backend/internal/config"
	"tourney/backend/internal/domain"
	"tourney/backend/internal/logger"
	"tourney/backend/internal/storage/factory"
)

// 默认的自动回复模板，占位符由自动回复服务替换
var defaultAutoReply = domain.Template{
	Key:     domain.TemplateAutoReply,
	Subject: "Eingangsbestätigung: {{originalSubject}}",
	BodyText: "Hallo {{senderName}},\n\n" +
		"vielen Dank für Ihre Nachricht an {{teamName}}. " +
		"Wir melden uns so schnell wie möglich.\n\n" +
		"Sportliche Grüße\n{{teamName}} / {{tournamentName}}\n",
	BodyHTML: "<p>Hallo {{senderName}},</p>" +
		"<p>vielen Dank für Ihre Nachricht an {{teamName}}. Wir melden uns so schnell wie möglich.</p>" +
		"<p>Sportliche Grüße<br>{{teamName}} / {{tournamentName}}</p>",
}

// main 建表并写入默认模板。已有模板默认保留，-force 时覆盖。
func main() {
	force := flag.Bool("force", false, "覆盖已存在的自动回复模板")
	skipSeed := flag.Bool("skip-seed", false, "只执行迁移，不写入模板")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("错误: 无法加载配置: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewDevelopmentLogger("migrate")
	defer log.Sync()

	// 打开存储时自动执行迁移
	store, err := factory.Open(cfg.Database, log)
	if err != nil {
		log.Fatal("migration failed", zap.String("type", cfg.Database.Type), zap.Error(err))
	}
	defer store.Close()
	log.Info("schema is up to date", zap.String("type", cfg.Database.Type), zap.String("driver", cfg.Database.Driver))

	if *skipSeed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key := cfg.AutoReply.TemplateKey
	if key == "" {
		key = domain.TemplateAutoReply
	}
	_, err = store.GetTemplate(ctx, key)
	switch {
	case err == nil && !*force:
		log.Info("template already exists, skipping", zap.String("key", key))
		return
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		log.Fatal("failed to read template", zap.String("key", key), zap.Error(err))
	}

	tpl := defaultAutoReply
	tpl.Key = key
	if err := store.SaveTemplate(ctx, &tpl); err != nil {
		log.Fatal("failed to save template", zap.String("key", key), zap.Error(err))
	}
	log.Info("template saved", zap.String("key", key))
}
