package domain

import "strings"

// InboundEmail 是 SMTP 与 webhook 两条入口解析后的统一邮件记录。
type InboundEmail struct {
	To        string
	From      string
	Subject   string
	Text      string
	HTML      string
	MessageID string
	InReplyTo string
	// Headers 保存小写键名的原始头部，首个值生效。
	Headers map[string]string
	Raw     string
}

// Header 按不区分大小写的键名读取头部。
func (e *InboundEmail) Header(key string) string {
	if e.Headers == nil {
		return ""
	}
	return e.Headers[strings.ToLower(key)]
}

// Validate 检查入库前必须存在的字段。
func (e *InboundEmail) Validate() error {
	if strings.TrimSpace(e.To) == "" {
		return Errorf(ErrValidation, "missing recipient")
	}
	if strings.TrimSpace(e.From) == "" {
		return Errorf(ErrValidation, "missing sender")
	}
	return nil
}

// IngestResult 是一次入库的结果。
type IngestResult struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Created        bool   `json:"created"`
	Duplicate      bool   `json:"duplicate,omitempty"`
}

// OutboundEmail 是发件请求。
type OutboundEmail struct {
	TeamID         string `json:"teamId"`
	ToAddress      string `json:"toAddress"`
	Subject        string `json:"subject"`
	Text           string `json:"text"`
	HTML           string `json:"html"`
	InReplyTo      string `json:"inReplyTo,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	// Headers 为额外写入的头部，例如 Auto-Submitted。
	Headers map[string]string `json:"-"`
	// FixedSubject 为 true 时回复以调用方主题（自动回复模板）为准，否则取会话主题；两者都只补一次 "Re: "。
	FixedSubject bool `json:"-"`
}

// DispatchResult 是一次发件的结果。
type DispatchResult struct {
	MessageID         string `json:"messageId"`
	ExternalMessageID string `json:"externalMessageId"`
	ConversationID    string `json:"conversationId"`
}

// OutgoingMail 是交给邮件传输层的一封待发邮件，MessageID 由调用方预先生成。
type OutgoingMail struct {
	From      string
	FromName  string
	To        string
	Subject   string
	Text      string
	HTML      string
	MessageID string
	InReplyTo string
	// References 按时间顺序排列
	References []string
	Headers    map[string]string
}
