package domain

import "time"

// WebhookDirection 标识 webhook 审计记录的方向。
type WebhookDirection string

const (
	WebhookInbound  WebhookDirection = "inbound"
	WebhookOutbound WebhookDirection = "outbound"
)

// WebhookLog 是第三方邮件 webhook 的只追加审计记录。
type WebhookLog struct {
	ID        int64            `json:"id" db:"id" gorm:"primaryKey;autoIncrement"`
	Provider  string           `json:"provider" db:"provider" gorm:"type:varchar(64);index"`
	Direction WebhookDirection `json:"direction" db:"direction" gorm:"type:varchar(16)"`
	Payload   string           `json:"payload" db:"payload" gorm:"type:text"`
	Success   bool             `json:"success" db:"success"`
	Error     string           `json:"error,omitempty" db:"error" gorm:"type:text"`
	Timestamp time.Time        `json:"timestamp" db:"created_at" gorm:"column:created_at;index"`
}

// TableName 固定 gorm 表名。
func (WebhookLog) TableName() string { return "webhook_logs" }
