package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the settlement state of a ledger order.
type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "CREATED"
	OrderStatusProcess   OrderStatus = "PROCESS"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusRefunded  OrderStatus = "REFUNDED"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
)

// Order is the denormalized ledger mirror of a settled document-store
// order. Written exactly once when a callback completes and never
// updated afterward; the document store keeps the mutable entity.
type Order struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	DocOrderID    string          `gorm:"type:varchar(24);not null;index" json:"doc_order_id"`
	DocProductID  string          `gorm:"type:varchar(24);not null" json:"doc_product_id"`
	PaymentID     string          `gorm:"type:varchar(64);not null;index" json:"payment_id"`
	PaymentSystem PaymentSystem   `gorm:"type:varchar(20);not null" json:"payment_system"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Status        OrderStatus     `gorm:"type:varchar(20);not null" json:"status"`
	PaidAt        *time.Time      `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
