package models

import "time"

// DownloadToken grants one release of a paid firmware. ActivePaymentID is set while the token is
// its payment's current token; the unique index keeps at most one current token per payment.
type DownloadToken struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Token           string     `gorm:"size:64;uniqueIndex;not null" json:"token"`
	FirmwareID      uint       `gorm:"not null;index" json:"firmware_id"`
	PaymentID       uint       `gorm:"not null;index" json:"payment_id"`
	UserID          uint       `gorm:"not null;index" json:"user_id"`
	ActivePaymentID *uint      `gorm:"uniqueIndex" json:"-"`
	ExpiresAt       time.Time  `gorm:"not null" json:"expires_at"`
	Used            bool       `gorm:"not null;default:false" json:"used"`
	UsedAt          *time.Time `json:"used_at"`
	DownloadCount   int        `gorm:"not null;default:0" json:"download_count"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (DownloadToken) TableName() string {
	return "download_tokens"
}

// Valid reports whether the token can still be redeemed at t.
func (d *DownloadToken) Valid(t time.Time) bool {
	return !d.Used && !t.After(d.ExpiresAt)
}
