package model

import "time"

// User is an account that owns or is assigned tasks.
type User struct {
	ID             uint   `gorm:"primaryKey"`
	Username       string `gorm:"size:150;uniqueIndex;not null"`
	Email          string `gorm:"size:254"`
	PasswordHash   string `gorm:"not null"`
	FirstName      string `gorm:"size:150"`
	LastName       string `gorm:"size:150"`
	IsSuperuser    bool   `gorm:"default:false"`
	TelegramChatID *int64 `gorm:"index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
