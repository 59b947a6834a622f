// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// ProcessedUpdate records a webhook update identifier that has been claimed
// for processing. The unique index on UpdateID makes redelivered webhook
// payloads detectable before the pipeline runs, so the same update can never
// produce two expense rows.
//
// Status distinguishes a claim still in flight from a terminal outcome; rows
// expire so the table stays bounded (Telegram stops redelivering long before
// the TTL elapses).
type ProcessedUpdate struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UpdateID  int64     `gorm:"type:INTEGER NOT NULL;uniqueIndex:ux_processed_update_id"`
	UserID    string    `gorm:"type:TEXT NOT NULL"`
	Status    string    `gorm:"type:TEXT NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (ProcessedUpdate) TableName() string { return "processed_updates" }

// ProcessedUpdate status values.
const (
	UpdateStatusInFlight = "in_flight"
	UpdateStatusDone     = "done"
)
