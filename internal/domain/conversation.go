package domain

import "time"

// DefaultSubject 是收到无主题邮件时使用的会话主题。
const DefaultSubject = "Neue Nachricht"

// Conversation 表示某个队伍邮箱下的一条会话线程。
type Conversation struct {
	ID             string    `json:"id" db:"id" gorm:"primaryKey;type:varchar(36)"`
	MailboxAliasID string    `json:"mailboxAliasId" db:"mailbox_alias_id" gorm:"type:varchar(36);index;not null"`
	Subject        string    `json:"subject" db:"subject" gorm:"type:varchar(500)"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
	LastMessageAt  time.Time `json:"lastMessageAt" db:"last_message_at" gorm:"index"`
	UnreadCount    int       `json:"unreadCount" db:"unread_count" gorm:"default:0"`
}

// TableName 固定 gorm 表名。
func (Conversation) TableName() string { return "conversations" }

// ConversationThread 是会话及其按时间排序的全部邮件。
type ConversationThread struct {
	Conversation *Conversation `json:"conversation"`
	Messages     []Message     `json:"messages"`
}
