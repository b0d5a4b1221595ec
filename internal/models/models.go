package models

import "time"

// User 只保存展示所需字段，凭证存储不在本服务内。
type User struct {
	ID        string `gorm:"primaryKey;size:64"`
	Username  string `gorm:"index;size:64;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message 一经写入不再修改；ID 为自增序列，天然按创建顺序排列。
type Message struct {
	ID              uint      `gorm:"primaryKey"`
	SenderUserID    string    `gorm:"size:64;not null;index:idx_msg_pair,priority:1"`
	RecipientUserID string    `gorm:"size:64;not null;index:idx_msg_pair,priority:2"`
	Text            string    `gorm:"type:text;not null"`
	CreatedAt       time.Time `gorm:"index"`
}
