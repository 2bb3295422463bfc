package domain

// TemplateAutoReply 是自动回复模板的键名。
const TemplateAutoReply = "auto_reply"

// Template 表示一个可替换变量的邮件模板，运行时只读。
type Template struct {
	Key      string `json:"key" db:"template_key" gorm:"column:template_key;primaryKey;type:varchar(64)"`
	Subject  string `json:"subject" db:"subject" gorm:"type:varchar(500)"`
	BodyHTML string `json:"bodyHtml" db:"body_html" gorm:"type:text"`
	BodyText string `json:"bodyText" db:"body_text" gorm:"type:text"`
}

// TableName 固定 gorm 表名。
func (Template) TableName() string { return "email_templates" }
