package models

import "time"

// IncomingRequestStatus is the lifecycle state of a provider callback.
type IncomingRequestStatus string

const (
	RequestStatusReceived  IncomingRequestStatus = "RECEIVED"
	RequestStatusProcessed IncomingRequestStatus = "PROCESSED"
	RequestStatusFailed    IncomingRequestStatus = "FAILED"
)

// IsTerminal reports whether no further status transition is allowed.
func (s IncomingRequestStatus) IsTerminal() bool {
	return s == RequestStatusProcessed || s == RequestStatusFailed
}

// PaymentSystem identifies the upstream payment provider.
type PaymentSystem string

const (
	PaymentSystemGazprom PaymentSystem = "GAZPROM"
	PaymentSystemTinkoff PaymentSystem = "TINKOFF"
)

// HandlerDestination distinguishes the two phases of a provider's
// callback flow: the pre-authorization check and the final settlement.
type HandlerDestination string

const (
	DestinationPreparation HandlerDestination = "PREPARATION"
	DestinationCompletion  HandlerDestination = "COMPLETION"
)

// IncomingRequest stores one provider callback with its raw payload.
// Created by the ingress role before any processing; only the
// processing role moves it to a terminal status.
type IncomingRequest struct {
	ID                 uint                  `gorm:"primaryKey" json:"id"`
	Payload            string                `gorm:"type:json;not null" json:"payload"`
	Metadata           string                `gorm:"type:json" json:"metadata"`
	Status             IncomingRequestStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	PaymentSystem      PaymentSystem         `gorm:"type:varchar(20);not null" json:"payment_system"`
	HandlerDestination HandlerDestination    `gorm:"type:varchar(20);not null;index" json:"handler_destination"`
	CreatedAt          time.Time             `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}
