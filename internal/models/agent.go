package models

import "time"

// Agent is a tenant-defined persona that may own multiple platform accounts.
// Accounts whose agent row has been deleted are removed by the startup
// orphan sweep.
type Agent struct {
	ID          string `gorm:"primaryKey;size:36"`
	OwnerUserID string `gorm:"size:36;not null;index"`
	Name        string `gorm:"size:128;not null"`
	Active      bool   `gorm:"default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
