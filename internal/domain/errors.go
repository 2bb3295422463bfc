package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation 缺少必要字段，在任何写入之前拒绝。
	ErrValidation = errors.New("validation error")
	// ErrUnknownRecipient 收件地址没有对应的队伍邮箱。
	ErrUnknownRecipient = errors.New("unknown recipient")
	// ErrTransport 外发投递失败。
	ErrTransport = errors.New("transport error")
	// ErrProtocol SMTP 命令序列错误。
	ErrProtocol = errors.New("protocol error")
	// ErrPersistence 存储不可用。
	ErrPersistence = errors.New("persistence error")
	// ErrNotFound 记录不存在。
	ErrNotFound = errors.New("not found")
	// ErrDuplicateMessage 同一别名下 externalMessageId 重复。
	ErrDuplicateMessage = errors.New("duplicate message")
)

// Errorf 用分类错误包装一条说明。
func Errorf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Persistence 把存储层错误归类为 ErrPersistence，NotFound 与 Duplicate 原样返回。
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateMessage) || errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}
