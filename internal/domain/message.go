package domain

import "time"

// Direction 表示邮件方向。
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Message 表示会话中的一封邮件。除 Read 外写入后不再修改。
// MailboxAliasID 冗余自所属会话，同一别名下 ExternalMessageID 唯一。
type Message struct {
	ID                string    `json:"id" db:"id" gorm:"primaryKey;type:varchar(36)"`
	ConversationID    string    `json:"conversationId" db:"conversation_id" gorm:"type:varchar(36);index;not null"`
	MailboxAliasID    string    `json:"-" db:"mailbox_alias_id" gorm:"type:varchar(36);uniqueIndex:idx_alias_external;not null;default:''"`
	ExternalMessageID string    `json:"externalMessageId" db:"external_message_id" gorm:"type:varchar(255);uniqueIndex:idx_alias_external;index"`
	InReplyTo         string    `json:"inReplyTo,omitempty" db:"in_reply_to" gorm:"type:varchar(255)"`
	FromAddress       string    `json:"fromAddress" db:"from_address" gorm:"type:varchar(255)"`
	ToAddress         string    `json:"toAddress" db:"to_address" gorm:"type:varchar(255)"`
	Subject           string    `json:"subject" db:"subject" gorm:"type:varchar(500)"`
	BodyText          string    `json:"bodyText" db:"body_text" gorm:"type:text"`
	BodyHTML          string    `json:"bodyHtml,omitempty" db:"body_html" gorm:"type:text"`
	Direction         Direction `json:"direction" db:"direction" gorm:"type:varchar(16);not null"`
	Read              bool      `json:"read" db:"is_read" gorm:"column:is_read;default:false"`
	CreatedAt         time.Time `json:"createdAt" db:"created_at" gorm:"index"`
	RawPayload        string    `json:"-" db:"raw_payload" gorm:"type:text"`
}

// TableName 固定 gorm 表名。
func (Message) TableName() string { return "messages" }

// Counterparty 返回会话另一方的地址：收到的邮件取发件人，发出的邮件取收件人。
func (m *Message) Counterparty() string {
	if m.Direction == DirectionOutgoing {
		return m.ToAddress
	}
	return m.FromAddress
}

// MailEvent 是新邮件写入后推送给队伍的实时事件。
type MailEvent struct {
	TeamID         string    `json:"teamId"`
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	Direction      Direction `json:"direction"`
	Subject        string    `json:"subject"`
	From           string    `json:"from"`
}
