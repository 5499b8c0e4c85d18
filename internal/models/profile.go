package models

import "time"

// WhatsAppProfile is the linked profile record provisioned alongside a
// whatsapp PlatformAccount. Creation is best-effort: a profile insert
// failure never fails account creation.
type WhatsAppProfile struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	AccountID   string `gorm:"size:36;not null;uniqueIndex"`
	OwnerUserID string `gorm:"size:36;not null;index"`
	DisplayName string `gorm:"size:128"`
	Phone       string `gorm:"size:32"`
	CreatedAt   time.Time
}
