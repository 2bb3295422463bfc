package filesystem

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"unicode"
)

// PlatformUtils 平台兼容性工具
type PlatformUtils struct{}

// NewPlatformUtils 创建平台工具实例
func NewPlatformUtils() *PlatformUtils {
	return &PlatformUtils{}
}

// SanitizeName 清理目录或文件名，确保跨平台兼容。
// Message-ID 一类的值会带尖括号和 @，同样在这里处理。
func (p *PlatformUtils) SanitizeName(name string) string {
	name = filepath.Base(name)

	for _, char := range p.getInvalidChars() {
		name = strings.ReplaceAll(name, char, "_")
	}

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if len(name) > 200 {
		name = name[:200]
	}

	name = strings.Trim(name, " .")
	if name == "" {
		name = "unnamed"
	}
	return name
}

// getInvalidChars 获取当前平台不允许的字符
func (p *PlatformUtils) getInvalidChars() []string {
	switch runtime.GOOS {
	case "darwin", "linux":
		return []string{"/", "\x00", "<", ">"}
	default:
		return []string{"<", ">", ":", "\"", "|", "?", "*", "\\", "/", "\x00"}
	}
}

// ValidatePath 验证路径是否安全
func (p *PlatformUtils) ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	if len(path) > 2000 {
		return fmt.Errorf("path too long: %d characters", len(path))
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("path traversal detected: %s", path)
	}
	return nil
}

// NormalizePath 转换为清理过的绝对路径
func (p *PlatformUtils) NormalizePath(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return filepath.Clean(absPath)
}
