package models

import (
	"time"

	"fwstore/internal/domain"

	"gorm.io/datatypes"
)

// Payment is one STK push attempt. A pending row without a CheckoutRequestID was never
// accepted by the gateway.
type Payment struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	Reference         string         `gorm:"size:64;uniqueIndex;not null" json:"reference"`
	UserID            uint           `gorm:"not null;index:idx_payment_user_fw" json:"user_id"`
	FirmwareID        uint           `gorm:"not null;index:idx_payment_user_fw" json:"firmware_id"`
	Amount            int64          `gorm:"not null" json:"amount"`
	PhoneNumber       string         `gorm:"size:20;not null" json:"phone_number"`
	CheckoutRequestID *string        `gorm:"size:128;uniqueIndex" json:"-"`
	MerchantRequestID string         `gorm:"size:128" json:"-"`
	Status            string         `gorm:"size:20;not null;index" json:"status"` // pending, completed, failed
	FailureReason     *string        `gorm:"size:255" json:"failure_reason,omitempty"`
	ReceiptNumber     *string        `gorm:"size:64" json:"receipt_number,omitempty"`
	PaidAmount        *int64         `json:"paid_amount,omitempty"`
	CallbackMetadata  datatypes.JSON `json:"-"`
	Withdrawn         bool           `gorm:"not null;default:false;index" json:"withdrawn"`
	WithdrawalID      *uint          `gorm:"index" json:"withdrawal_id,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	CompletedAt       *time.Time     `json:"completed_at"`

	User     *User     `gorm:"foreignKey:UserID" json:"-"`
	Firmware *Firmware `gorm:"foreignKey:FirmwareID" json:"firmware,omitempty"`
}

func (Payment) TableName() string {
	return "payments"
}

func (p *Payment) IsCompleted() bool { return p.Status == domain.StatusCompleted }
func (p *Payment) IsTerminal() bool  { return p.Status != domain.StatusPending }

// Sent reports whether the gateway accepted the STK push.
func (p *Payment) Sent() bool { return p.CheckoutRequestID != nil && *p.CheckoutRequestID != "" }
