// Package mailparse 把 SMTP DATA 原文或 webhook 载荷规整为统一的入站邮件记录。
//
// 原文解析是刻意简化的：头部扫描到第一个空行为止，正文不做 MIME 解码，
// 正文中出现 '<' 即同时视为 HTML。
package mailparse

import (
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message/charset"
	"golang.org/x/text/encoding/simplifiedchinese"

	"tourney/backend/internal/domain"
)

func init() {
	// go-message 默认不认识 gbk，国内邮箱常用
	charset.RegisterEncoding("gbk", simplifiedchinese.GBK)
}

// wordDecoder 解码 =?charset?Q?...?= 形式的头部
var wordDecoder = &mime.WordDecoder{
	CharsetReader: func(label string, r io.Reader) (io.Reader, error) {
		return charset.Reader(label, r)
	},
}

// recipientHeaders 按优先级排列，先出现者生效
var recipientHeaders = map[string]bool{"to": true, "delivered-to": true}

// Decode 解析原始邮件文本。缺少 to/from 不在这里报错，由调用方校验。
func Decode(raw string) *domain.InboundEmail {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	email := &domain.InboundEmail{
		Headers: make(map[string]string),
		Raw:     raw,
	}

	bodyStart := len(lines)
	lastKey := ""
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			bodyStart = i + 1
			break
		}
		// 折行续接到上一个头部
		if (line[0] == ' ' || line[0] == '\t') && lastKey != "" {
			email.Headers[lastKey] += " " + strings.TrimSpace(line)
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			lastKey = ""
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if _, seen := email.Headers[key]; seen {
			lastKey = ""
			continue
		}
		email.Headers[key] = value
		lastKey = key
	}

	for i := 0; i < bodyStart && i < len(lines); i++ {
		key, _, ok := strings.Cut(lines[i], ":")
		if ok && recipientHeaders[strings.ToLower(strings.TrimSpace(key))] {
			email.To = email.Headers[strings.ToLower(strings.TrimSpace(key))]
			break
		}
	}
	email.From = email.Headers["from"]
	email.Subject = DecodeHeader(email.Headers["subject"])
	email.MessageID = email.Headers["message-id"]
	email.InReplyTo = email.Headers["in-reply-to"]

	if bodyStart < len(lines) {
		body := strings.Join(lines[bodyStart:], "\n")
		email.Text = strings.Trim(body, "\r\n")
	}
	if strings.Contains(email.Text, "<") {
		email.HTML = email.Text
	}

	return email
}

// DecodeHeader 解码 RFC 2047 编码词，失败时返回原文
func DecodeHeader(value string) string {
	if !strings.Contains(value, "=?") {
		return value
	}
	decoded, err := wordDecoder.DecodeHeader(value)
	if err != nil {
		return value
	}
	return decoded
}
