package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSubmitted PaymentStatus = "submitted"
	PaymentStatusConfirmed PaymentStatus = "confirmed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusTimeout   PaymentStatus = "timeout"
)

// PaymentRecord is the persisted history of one payment attempt. The user
// operation itself is never stored.
type PaymentRecord struct {
	ID              uuid.UUID     `gorm:"primaryKey;type:uuid;default:gen_random_uuid()" json:"id"`
	AccountAddress  string        `gorm:"type:varchar(42);not null;index" json:"accountAddress"`
	Recipient       string        `gorm:"type:varchar(42);not null" json:"recipient"`
	TokenAddress    string        `gorm:"type:varchar(42);not null" json:"tokenAddress"`
	Amount          string        `gorm:"type:varchar(78);not null" json:"amount"`
	Mode            PaymentMode   `gorm:"not null" json:"mode"`
	ChainID         int64         `gorm:"not null" json:"chainId"`
	Status          PaymentStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	UserOpHash      *string       `gorm:"type:varchar(66)" json:"userOpHash,omitempty"`
	TransactionHash *string       `gorm:"type:varchar(66)" json:"transactionHash,omitempty"`
	ErrorCode       *string       `gorm:"type:varchar(32)" json:"errorCode,omitempty"`
	ErrorMessage    *string       `gorm:"type:text" json:"errorMessage,omitempty"`
	CreatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"createdAt"`
	UpdatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updatedAt"`
}

func (PaymentRecord) TableName() string {
	return "payments"
}

// IsTerminal reports whether the record will not change any more. Timed out
// payments may still be confirmed by reconciliation.
func (r *PaymentRecord) IsTerminal() bool {
	return r.Status == PaymentStatusConfirmed || r.Status == PaymentStatusFailed
}

// PaymentUpdate lists the record fields changed by one status transition. Nil
// fields are left as they are.
type PaymentUpdate struct {
	Status          PaymentStatus
	UserOpHash      *common.Hash
	TransactionHash *common.Hash
	ErrorCode       *string
	ErrorMessage    *string
}
