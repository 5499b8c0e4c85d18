package models

import "time"

// PlatformAccount statuses.
const (
	StatusDisconnected = "disconnected"
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusQRPending    = "qr_pending"
	StatusError        = "error"
)

// PlatformAccount is a credentialed or session-backed connection to one
// external platform, owned by one tenant and optionally one agent. At most
// one account exists per (agent, platform) pair.
type PlatformAccount struct {
	ID                   string  `gorm:"primaryKey;size:36"`
	OwnerUserID          string  `gorm:"size:36;not null;index"`
	AgentID              *string `gorm:"size:36;index:idx_agent_platform,unique"`
	Platform             string  `gorm:"size:16;not null;index:idx_agent_platform,unique"`
	EncryptedCredentials *string `gorm:"type:text"`
	Status               string  `gorm:"size:16;default:disconnected;index"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
