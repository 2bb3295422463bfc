package domain

import (
	"net/mail"
	"strings"
)

// 地址长度限制（RFC 5321）
const (
	MaxEmailLength     = 254
	MaxLocalPartLength = 64
	MaxDomainLength    = 253
)

// NormalizeAddress 把 "Name <a@b>"、"<a@b>" 等形式规整为小写裸地址。
// 无法解析时退化为去掉尖括号后的原文。
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if parsed, err := mail.ParseAddress(addr); err == nil {
		return strings.ToLower(parsed.Address)
	}
	if i := strings.LastIndex(addr, "<"); i >= 0 {
		addr = addr[i+1:]
		// 丢弃 ">" 之后的尾随文本
		if j := strings.IndexByte(addr, '>'); j >= 0 {
			addr = addr[:j]
		}
	}
	addr = strings.Trim(addr, "<> \t")
	return strings.ToLower(addr)
}

// SplitAddressList 拆分逗号分隔的地址列表并逐个规整。
func SplitAddressList(value string) []string {
	if list, err := mail.ParseAddressList(value); err == nil {
		out := make([]string, 0, len(list))
		for _, a := range list {
			out = append(out, strings.ToLower(a.Address))
		}
		return out
	}
	out := make([]string, 0, 1)
	for _, part := range strings.Split(value, ",") {
		if n := NormalizeAddress(part); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// DisplayName 返回发件人的显示名称，缺省时取地址本地部分。
func DisplayName(addr string) string {
	if parsed, err := mail.ParseAddress(strings.TrimSpace(addr)); err == nil && parsed.Name != "" {
		return parsed.Name
	}
	local, _, _ := strings.Cut(NormalizeAddress(addr), "@")
	return local
}

// DomainOf 返回地址的域名部分。
func DomainOf(addr string) string {
	_, domain, ok := strings.Cut(NormalizeAddress(addr), "@")
	if !ok {
		return ""
	}
	return domain
}

// ValidateEmail 检查地址是否为可投递的裸地址。
func ValidateEmail(email string) bool {
	if email == "" || len(email) > MaxEmailLength {
		return false
	}

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}

	localPart := parts[0]
	domain := parts[1]
	if localPart == "" || len(localPart) > MaxLocalPartLength {
		return false
	}

	for _, r := range localPart {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' || r == '+') {
			return false
		}
	}

	if !ValidateDomain(domain) {
		return false
	}

	_, err := mail.ParseAddress(email)
	return err == nil
}

// ValidateDomain 检查域名格式。
func ValidateDomain(domain string) bool {
	if domain == "" || len(domain) > MaxDomainLength {
		return false
	}

	// 必须包含点
	if !strings.Contains(domain, ".") {
		return false
	}

	labels := strings.Split(domain, ".")
	for _, label := range labels {
		if label == "" || len(label) > 63 {
			return false
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		// 只允许字母、数字和破折号
		for _, r := range label {
			if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-') {
				return false
			}
		}
	}

	return true
}
