package models

import (
	"time"

	"gorm.io/datatypes"
)

// Withdrawal is a B2C payout of collected funds. Payments are claimed only once the gateway
// confirms the payout.
type Withdrawal struct {
	ID                       uint           `gorm:"primaryKey" json:"id"`
	AdminID                  uint           `gorm:"not null;index" json:"admin_id"`
	Amount                   int64          `gorm:"not null" json:"amount"`
	PhoneNumber              string         `gorm:"size:20;not null" json:"phone_number"`
	Status                   string         `gorm:"size:20;not null;index" json:"status"` // pending, completed, failed
	ConversationID           *string        `gorm:"size:128;uniqueIndex" json:"conversation_id,omitempty"`
	OriginatorConversationID string         `gorm:"size:128" json:"originator_conversation_id,omitempty"`
	TransactionID            string         `gorm:"size:64" json:"transaction_id,omitempty"`
	FailureReason            *string        `gorm:"size:255" json:"failure_reason,omitempty"`
	ResultPayload            datatypes.JSON `json:"-"`
	ClaimedAmount            int64          `gorm:"not null;default:0" json:"claimed_amount"`
	CreatedAt                time.Time      `json:"created_at"`
	UpdatedAt                time.Time      `json:"updated_at"`
	CompletedAt              *time.Time     `json:"completed_at"`

	Admin *User `gorm:"foreignKey:AdminID" json:"-"`
}

func (Withdrawal) TableName() string {
	return "withdrawals"
}
