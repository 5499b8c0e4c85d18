package models

import "time"

// Message directions.
const (
	DirectionIncoming = "incoming"
	DirectionOutgoing = "outgoing"
)

// Message statuses.
const (
	MessageReceived = "received"
	MessageSent     = "sent"
	MessageFailed   = "failed"
)

// Message is one persisted message within a Conversation. ExternalID holds
// the platform's own message id when the platform supplies one.
type Message struct {
	ID             string  `gorm:"primaryKey;size:36"`
	ConversationID string  `gorm:"size:36;not null;index"`
	Direction      string  `gorm:"size:16;default:incoming"`
	ContentType    string  `gorm:"size:32;default:text"`
	Content        string  `gorm:"type:text"`
	MediaURL       string  `gorm:"size:512"`
	MediaMimeType  string  `gorm:"size:64"`
	ExternalID     *string `gorm:"size:256;index"`
	SenderID       string  `gorm:"size:256"`
	SenderName     string  `gorm:"size:128"`
	Metadata       string  `gorm:"type:text"`
	Status         string  `gorm:"size:16;default:received"`
	CreatedAt      time.Time
}
