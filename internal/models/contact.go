package models

import "time"

// Contact identifier types.
const (
	IdentifierPhone      = "phone"
	IdentifierEmail      = "email"
	IdentifierPlatformID = "platform-id"
)

// Contact is a person (or group counterpart) known to one tenant.
type Contact struct {
	ID          string `gorm:"primaryKey;size:36"`
	OwnerUserID string `gorm:"size:36;not null;index"`
	DisplayName string `gorm:"size:128;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Identifiers []ContactIdentifier `gorm:"foreignKey:ContactID"`
}

// ContactIdentifier links a platform-level identity (phone number, email
// address, raw platform id) to a Contact. (IdentifierValue, OwnerUserID)
// resolves to at most one contact.
type ContactIdentifier struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	ContactID       string `gorm:"size:36;not null;index"`
	OwnerUserID     string `gorm:"size:36;not null;index:idx_identifier_owner,unique"`
	IdentifierType  string `gorm:"size:16;not null"`
	IdentifierValue string `gorm:"size:256;not null;index:idx_identifier_owner,unique"`
	Platform        string `gorm:"size:16"`
	IsPrimary       bool   `gorm:"default:false"`
	CreatedAt       time.Time
}
