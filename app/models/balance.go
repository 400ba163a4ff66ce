package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency is the internal currency tag carried over from the
// document store's balance records.
type Currency string

const (
	CurrencyRub  Currency = "MONEY"
	CurrencyUsd  Currency = "DOLLAR"
	CurrencyUsdt Currency = "CRYPTO"
)

// Balance is the per (user, currency) running balance. Created lazily
// on the first settlement for that pair; the numeric value is adjusted
// out-of-band through BalanceUpdateQueue entries.
type Balance struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	DocBalanceID     string          `gorm:"type:varchar(24);not null" json:"doc_balance_id"`
	UserID           string          `gorm:"type:varchar(24);not null;uniqueIndex:ux_balances_user_currency,priority:1" json:"user_id"`
	CurrencyType     Currency        `gorm:"type:varchar(20);not null;uniqueIndex:ux_balances_user_currency,priority:2" json:"currency_type"`
	Value            decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"value"`
	VerificationHash string          `gorm:"type:varchar(128)" json:"verification_hash"`
	CardID           string          `gorm:"type:varchar(24)" json:"card_id,omitempty"`
	WithdrawalAt     *time.Time      `gorm:"type:timestamp;default:null" json:"withdrawal_at,omitempty"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// BalanceUpdateOperation is the direction of a deferred balance change.
type BalanceUpdateOperation string

const (
	BalanceOperationIncrement BalanceUpdateOperation = "INCREMENT"
	BalanceOperationDecrement BalanceUpdateOperation = "DECREMENT"
)

// BalanceUpdateQueue defers balance mutation out of the settlement
// transaction; entries are drained by a batch recomputation job.
type BalanceUpdateQueue struct {
	ID        uint                   `gorm:"primaryKey" json:"id"`
	BalanceID uint                   `gorm:"not null;index" json:"balance_id"`
	Amount    decimal.Decimal        `gorm:"type:decimal(12,2);not null" json:"amount"`
	Operation BalanceUpdateOperation `gorm:"type:varchar(20);not null" json:"operation"`
	CreatedAt time.Time              `gorm:"autoCreateTime" json:"created_at"`
}
