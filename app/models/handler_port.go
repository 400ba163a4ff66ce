package models

import "time"

// HandlerPort is an ephemeral service-registry row: one per running
// processing instance, holding its bound TCP port. Inserted at startup
// and removed on graceful shutdown. A crashed instance leaves a stale
// row behind; the ingress fan-out tolerates that by trying the next
// candidate.
type HandlerPort struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Value     int       `gorm:"not null;uniqueIndex" json:"value"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
