package filesystem

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"tourney/backend/internal/domain"
)

// Store 原始邮件归档：保存 SMTP 原文和 webhook 载荷，只追加，不参与业务读取
type Store struct {
	basePath      string
	platformUtils *PlatformUtils
	now           func() time.Time
}

// NewStore 创建归档存储实例
func NewStore(basePath string) (*Store, error) {
	platformUtils := NewPlatformUtils()

	if err := platformUtils.ValidatePath(basePath); err != nil {
		return nil, fmt.Errorf("invalid base path: %w", err)
	}

	normalizedPath := platformUtils.NormalizePath(basePath)
	if err := os.MkdirAll(normalizedPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Store{
		basePath:      normalizedPath,
		platformUtils: platformUtils,
		now:           time.Now,
	}, nil
}

// ========== 邮件原文 ==========

// SaveRaw 保存邮件原文，返回相对路径
// 格式: {base}/mails/{aliasID}/{YYYY-MM-DD}/{messageID}/raw.eml
func (s *Store) SaveRaw(aliasID, messageID string, raw []byte) (string, error) {
	dir := s.messagePath(aliasID, s.now().Format("2006-01-02"), messageID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create message directory: %w", err)
	}

	rawFile := filepath.Join(dir, "raw.eml")
	if err := os.WriteFile(rawFile, raw, 0644); err != nil {
		return "", fmt.Errorf("failed to write raw message: %w", err)
	}

	return s.rel(rawFile), nil
}

// SaveMetadata 在原文旁保存邮件元数据
func (s *Store) SaveMetadata(aliasID string, msg *domain.Message) error {
	dir := s.messagePath(aliasID, msg.CreatedAt.Format("2006-01-02"), msg.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create message directory: %w", err)
	}
	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "metadata.json"), data, 0644)
}

// GetRaw 读取邮件原文，按日期目录倒序查找
func (s *Store) GetRaw(aliasID, messageID string) ([]byte, error) {
	aliasPath := filepath.Join(s.basePath, "mails", s.platformUtils.SanitizeName(aliasID))
	dateDirs, err := os.ReadDir(aliasPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: raw message %s", domain.ErrNotFound, messageID)
		}
		return nil, err
	}

	for i := len(dateDirs) - 1; i >= 0; i-- {
		rawFile := filepath.Join(aliasPath, dateDirs[i].Name(), s.platformUtils.SanitizeName(messageID), "raw.eml")
		content, err := os.ReadFile(rawFile)
		if err == nil {
			return content, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read raw message: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: raw message %s", domain.ErrNotFound, messageID)
}

// ========== Webhook 载荷 ==========

// SaveWebhookPayload 保存一次 webhook 请求体，返回相对路径
// 格式: {base}/webhooks/{provider}/{YYYY-MM-DD}/{unixnano}.json
func (s *Store) SaveWebhookPayload(provider string, payload []byte) (string, error) {
	now := s.now()
	dir := filepath.Join(s.basePath, "webhooks", s.platformUtils.SanitizeName(provider), now.Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create webhook directory: %w", err)
	}
	file := filepath.Join(dir, fmt.Sprintf("%d.json", now.UnixNano()))
	if err := os.WriteFile(file, payload, 0644); err != nil {
		return "", fmt.Errorf("failed to write webhook payload: %w", err)
	}
	return s.rel(file), nil
}

// ========== 清理与统计 ==========

// CleanupExpired 删除早于保留天数的日期目录，返回删除的目录数
func (s *Store) CleanupExpired(retentionDays int) (int, error) {
	cutoff := s.now().AddDate(0, 0, -retentionDays).Format("2006-01-02")
	count := 0

	for _, root := range []string{"mails", "webhooks"} {
		parents, err := os.ReadDir(filepath.Join(s.basePath, root))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return count, err
		}
		for _, parent := range parents {
			if !parent.IsDir() {
				continue
			}
			parentPath := filepath.Join(s.basePath, root, parent.Name())
			dateDirs, err := os.ReadDir(parentPath)
			if err != nil {
				continue
			}
			for _, dateDir := range dateDirs {
				// 日期目录名可直接按字典序比较
				if dateDir.IsDir() && dateDir.Name() < cutoff {
					if err := os.RemoveAll(filepath.Join(parentPath, dateDir.Name())); err == nil {
						count++
					}
				}
			}
			if entries, _ := os.ReadDir(parentPath); len(entries) == 0 {
				os.Remove(parentPath)
			}
		}
	}

	return count, nil
}

// Stats 归档统计信息
type Stats struct {
	TotalSizeBytes int64  `json:"totalSizeBytes"`
	MessageCount   int    `json:"messageCount"`
	WebhookCount   int    `json:"webhookCount"`
	BasePath       string `json:"basePath"`
}

// GetStorageStats 获取归档统计信息
func (s *Store) GetStorageStats() (*Stats, error) {
	stats := &Stats{BasePath: s.basePath}

	err := filepath.WalkDir(s.basePath, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		stats.TotalSizeBytes += info.Size()
		switch {
		case filepath.Ext(path) == ".eml":
			stats.MessageCount++
		case filepath.Ext(path) == ".json" && d.Name() != "metadata.json":
			stats.WebhookCount++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// ========== 辅助方法 ==========

func (s *Store) messagePath(aliasID, day, messageID string) string {
	return filepath.Join(s.basePath, "mails",
		s.platformUtils.SanitizeName(aliasID), day, s.platformUtils.SanitizeName(messageID))
}

func (s *Store) rel(path string) string {
	relPath, err := filepath.Rel(s.basePath, path)
	if err != nil {
		return path
	}
	return relPath
}
