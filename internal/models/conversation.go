package models

import "time"

// Conversation categories, inferred from the shape of the external id.
const (
	CategoryChat   = "chat"
	CategoryNews   = "news"
	CategoryStatus = "status"
)

// Conversation is one normalized message thread with an external
// counterparty. ExternalID is derived deterministically from the platform
// and the sender/group identity, so re-deriving it from a later message
// resolves to the same row.
type Conversation struct {
	ID            string  `gorm:"primaryKey;size:36"`
	OwnerUserID   string  `gorm:"size:36;not null;index"`
	AgentID       string  `gorm:"size:36;index"`
	Platform      string  `gorm:"size:16;not null"`
	ExternalID    string  `gorm:"size:256;not null;uniqueIndex"`
	Title         string  `gorm:"size:256"`
	IsGroup       bool    `gorm:"default:false"`
	Category      string  `gorm:"size:16;default:chat"`
	ContactID     *string `gorm:"size:36;index"`
	LastMessageAt time.Time
	UnreadCount   int `gorm:"default:0"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
