package platform

import (
	"context"
	"time"
)

// EventType classifies events emitted by a client.
type EventType string

// Event types emitted by client variants.
const (
	EventMessage      EventType = "message"
	EventStatusChange EventType = "status_change"
	EventError        EventType = "error"
	EventQR           EventType = "qr"
)

// Event is one item on a client's typed event stream. Exactly the fields
// matching Type are populated.
type Event struct {
	Type      EventType
	Message   *InboundMessage // EventMessage
	Status    string          // EventStatusChange: new status
	OldStatus string          // EventStatusChange: previous status
	Err       string          // EventError
	QR        string          // EventQR: QR payload for interactive auth
	Timestamp time.Time
}

// InboundMessage is a raw message received from a platform, before the
// router normalizes it into the conversation store.
type InboundMessage struct {
	ExternalID    string // platform's own message id, if any
	From          string // platform-level sender or group identity
	SenderName    string
	SenderPhone   string
	SenderEmail   string
	IsGroup       bool
	GroupSubject  string
	Text          string
	HTML          string
	ContentType   string // defaults to "text" downstream when empty
	MediaURL      string
	MediaMimeType string
	Timestamp     time.Time
	Metadata      map[string]string
}

// ConnectOptions modifies a connect attempt.
type ConnectOptions struct {
	// AutoReconnect is set during startup reconciliation; variants may use
	// it to prefer resuming a stored session over interactive auth.
	AutoReconnect bool
}

// Media describes an outbound media payload.
type Media struct {
	Type     string // image, video, audio, document
	URL      string
	Data     []byte
	MimeType string
	Caption  string
}

// SendOptions modifies an outbound send.
type SendOptions struct {
	Media    *Media
	Metadata map[string]string
}

// SendResult reports the outcome of a dispatched send.
type SendResult struct {
	ExternalID string // platform's id for the sent message
	Timestamp  time.Time
}

// Client is the contract every platform variant implements. Clients own a
// single live connection; the orchestrator holds at most one per account.
//
// Events returns the client's typed event stream. Per-client emission order
// is preserved; the channel is closed when the client disconnects for good.
type Client interface {
	Platform() Platform
	Connect(ctx context.Context, opts ConnectOptions) error
	Disconnect(ctx context.Context, graceful bool) error
	SendMessage(ctx context.Context, to, content string, opts SendOptions) (*SendResult, error)
	Events() <-chan Event
}

// MediaSender is an optional interface for variants that can send media.
type MediaSender interface {
	SendMedia(ctx context.Context, to string, media Media, opts SendOptions) (*SendResult, error)
}

// TypingSender is an optional interface for variants that can surface a
// typing indicator (or chat action) to the counterparty.
type TypingSender interface {
	SendTyping(ctx context.Context, to string, duration time.Duration) error
}
