package model

import "time"

// OutstandingToken records every refresh token that was handed out.
type OutstandingToken struct {
	ID        uint      `gorm:"primaryKey"`
	JTI       string    `gorm:"column:jti;size:36;uniqueIndex;not null"`
	UserID    uint      `gorm:"index;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	CreatedAt time.Time
}

// BlacklistedToken marks a refresh token as consumed or revoked.
// The unique jti index is what makes rotation single-use.
type BlacklistedToken struct {
	ID            uint      `gorm:"primaryKey"`
	JTI           string    `gorm:"column:jti;size:36;uniqueIndex;not null"`
	UserID        uint      `gorm:"index;not null"`
	ExpiresAt     time.Time `gorm:"index;not null"`
	BlacklistedAt time.Time
}
