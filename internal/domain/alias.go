package domain

import "time"

// MailboxAlias 表示一支队伍的收件地址。
// 地址由队伍名称确定性地派生，创建后只允许切换 Active。
type MailboxAlias struct {
	ID           string    `json:"id" db:"id" gorm:"primaryKey;type:varchar(36)"`
	TeamID       string    `json:"teamId" db:"team_id" gorm:"type:varchar(64);uniqueIndex;not null"`
	EmailAddress string    `json:"emailAddress" db:"email_address" gorm:"type:varchar(255);uniqueIndex;not null"`
	AliasLabel   string    `json:"aliasLabel" db:"alias_label" gorm:"type:varchar(255)"`
	Active       bool      `json:"active" db:"active" gorm:"default:true"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// TableName 固定 gorm 表名，与 sqlx 迁移保持一致。
func (MailboxAlias) TableName() string { return "mailbox_aliases" }
