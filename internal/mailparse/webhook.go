package mailparse

import (
	"strings"

	"github.com/goccy/go-json"

	"tourney/backend/internal/domain"
)

// WebhookPayload 是入站邮件 webhook 的 JSON 结构（Postmark 风格）。
// Text/HTML 兼容只提供小写字段的通用转发器。
type WebhookPayload struct {
	To                string          `json:"To"`
	From              string          `json:"From"`
	Subject           string          `json:"Subject"`
	TextBody          string          `json:"TextBody"`
	HtmlBody          string          `json:"HtmlBody"`
	Text              string          `json:"text"`
	HTML              string          `json:"html"`
	MessageID         string          `json:"MessageID"`
	OriginalRecipient string          `json:"OriginalRecipient"`
	Headers           json.RawMessage `json:"Headers"`
	Attachments       json.RawMessage `json:"Attachments"`
}

type headerPair struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

// DecodeWebhook 把 webhook 请求体转换为入站邮件记录。
// 解析失败返回 ErrValidation；to/from 缺失同样留给调用方校验。
func DecodeWebhook(body []byte) (*domain.InboundEmail, error) {
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, domain.Errorf(domain.ErrValidation, "invalid webhook payload: %v", err)
	}

	headers, err := decodeHeaders(p.Headers)
	if err != nil {
		return nil, domain.Errorf(domain.ErrValidation, "invalid webhook headers: %v", err)
	}

	email := &domain.InboundEmail{
		To:        firstNonEmpty(p.To, p.OriginalRecipient, headers["to"]),
		From:      firstNonEmpty(p.From, headers["from"]),
		Subject:   DecodeHeader(firstNonEmpty(p.Subject, headers["subject"])),
		Text:      firstNonEmpty(p.TextBody, p.Text),
		HTML:      firstNonEmpty(p.HtmlBody, p.HTML),
		MessageID: firstNonEmpty(p.MessageID, headers["message-id"]),
		InReplyTo: headers["in-reply-to"],
		Headers:   headers,
		Raw:       string(body),
	}
	return email, nil
}

// decodeHeaders 同时接受 [{"Name":..,"Value":..}] 与 {"Name": "Value"} 两种形式
func decodeHeaders(raw json.RawMessage) (map[string]string, error) {
	headers := make(map[string]string)
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return headers, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var pairs []headerPair
		if err := json.Unmarshal(raw, &pairs); err != nil {
			return nil, err
		}
		for _, h := range pairs {
			key := strings.ToLower(strings.TrimSpace(h.Name))
			if _, seen := headers[key]; !seen && key != "" {
				headers[key] = strings.TrimSpace(h.Value)
			}
		}
		return headers, nil
	}

	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	for k, v := range m {
		headers[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return headers, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
