package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentTransactionType classifies a financial movement.
type PaymentTransactionType string

const (
	TransactionTypeReceiving PaymentTransactionType = "RECEIVING"
	TransactionTypeReferral  PaymentTransactionType = "REFERRAL"
	TransactionTypeRefunded  PaymentTransactionType = "REFUNDED"
)

// PaymentTransaction is an append-only financial movement record.
type PaymentTransaction struct {
	ID        uint                   `gorm:"primaryKey" json:"id"`
	UserID    string                 `gorm:"type:varchar(24);not null;index" json:"user_id"`
	ProductID string                 `gorm:"type:varchar(24);not null" json:"product_id"`
	OrderID   string                 `gorm:"type:varchar(24);not null;index" json:"order_id"`
	Amount    decimal.Decimal        `gorm:"type:decimal(12,2);not null" json:"amount"`
	Pan       string                 `gorm:"type:varchar(20)" json:"pan,omitempty"`
	Type      PaymentTransactionType `gorm:"type:varchar(20);not null" json:"type"`
	CreatedAt time.Time              `gorm:"autoCreateTime" json:"created_at"`
}
