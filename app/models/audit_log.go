package models

import "time"

// AuditLog is a structured diagnostic record keyed by a closed
// taxonomy of event types (see internal/pkg/auditlog). Append-only.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Type      string    `gorm:"type:varchar(64);not null;index" json:"type"`
	Payload   string    `gorm:"type:json;not null" json:"payload"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
