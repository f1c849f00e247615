package models

import (
	"time"

	"fwstore/internal/domain"

	"gorm.io/gorm"
)

type User struct {
	ID                  uint           `gorm:"primaryKey" json:"id"`
	Username            string         `gorm:"uniqueIndex;size:64;not null" json:"username"`
	Email               string         `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash        string         `gorm:"size:255;not null" json:"-"`
	Role                string         `gorm:"size:20;not null;default:'USER';index" json:"role"` // USER | ADMIN
	EmailVerifiedAt     *time.Time     `json:"email_verified_at"`
	VerificationCode    *string        `gorm:"uniqueIndex;size:64" json:"-"` // nil once verified (avoids duplicate '' on unique index)
	VerificationExpires *time.Time     `json:"-"`
	ResetToken          *string        `gorm:"uniqueIndex;size:64" json:"-"`
	ResetExpires        *time.Time     `json:"-"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) IsAdmin() bool    { return u.Role == domain.RoleAdmin }
func (u *User) IsVerified() bool { return u.EmailVerifiedAt != nil }
