package platform

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockClient implements Client, MediaSender, and TypingSender for testing.
// It records sent messages and allows simulating inbound events.
type MockClient struct {
	mu        sync.Mutex
	platform  Platform
	connected bool
	closed    bool
	events    chan Event
	sent      []MockSend
	typing    []string

	// ConnectErr, when set, is returned by Connect.
	ConnectErr error
	// DisconnectBlocks, when set, makes Disconnect block until the context
	// is cancelled (for graceful-shutdown ceiling tests).
	DisconnectBlocks bool
}

// MockSend records one outbound send.
type MockSend struct {
	To      string
	Content string
	Media   *Media
}

// NewMockClient creates a MockClient for the given platform with a buffered
// event channel.
func NewMockClient(p Platform) *MockClient {
	return &MockClient{
		platform: p,
		events:   make(chan Event, 100),
	}
}

// Platform returns the variant this mock impersonates.
func (m *MockClient) Platform() Platform {
	return m.platform
}

// Connect marks the client as connected, or returns ConnectErr if set.
func (m *MockClient) Connect(ctx context.Context, opts ConnectOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock client: already closed")
	}
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.connected = true
	return nil
}

// Disconnect marks the client as disconnected and closes the event channel.
// When DisconnectBlocks is set it waits for ctx cancellation instead.
func (m *MockClient) Disconnect(ctx context.Context, graceful bool) error {
	m.mu.Lock()
	blocks := m.DisconnectBlocks
	m.mu.Unlock()
	if blocks {
		<-ctx.Done()
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.events)
	return nil
}

// SendMessage records the outbound message.
func (m *MockClient) SendMessage(ctx context.Context, to, content string, opts SendOptions) (*SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock client: not connected")
	}
	m.sent = append(m.sent, MockSend{To: to, Content: content, Media: opts.Media})
	return &SendResult{
		ExternalID: fmt.Sprintf("mock-%d", len(m.sent)),
		Timestamp:  time.Now(),
	}, nil
}

// SendMedia records a media send (implements MediaSender).
func (m *MockClient) SendMedia(ctx context.Context, to string, media Media, opts SendOptions) (*SendResult, error) {
	return m.SendMessage(ctx, to, media.Caption, SendOptions{Media: &media})
}

// SendTyping records a typing indicator (implements TypingSender).
func (m *MockClient) SendTyping(ctx context.Context, to string, duration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing = append(m.typing, to)
	return nil
}

// Events returns the simulated event channel.
func (m *MockClient) Events() <-chan Event {
	return m.events
}

// --- Test helpers ---

// SimulateMessage emits a message event as if it came from the platform.
func (m *MockClient) SimulateMessage(msg InboundMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	m.events <- Event{Type: EventMessage, Message: &msg, Timestamp: msg.Timestamp}
}

// SimulateStatus emits a status_change event.
func (m *MockClient) SimulateStatus(newStatus, oldStatus string) {
	m.events <- Event{Type: EventStatusChange, Status: newStatus, OldStatus: oldStatus, Timestamp: time.Now()}
}

// SimulateQR emits a qr event.
func (m *MockClient) SimulateQR(data string) {
	m.events <- Event{Type: EventQR, QR: data, Timestamp: time.Now()}
}

// SimulateError emits an error event.
func (m *MockClient) SimulateError(msg string) {
	m.events <- Event{Type: EventError, Err: msg, Timestamp: time.Now()}
}

// Sent returns a copy of all recorded sends.
func (m *MockClient) Sent() []MockSend {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockSend, len(m.sent))
	copy(out, m.sent)
	return out
}

// LastSent returns the most recent send, or false if none.
func (m *MockClient) LastSent() (MockSend, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return MockSend{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// TypingTargets returns every recipient a typing indicator was sent to.
func (m *MockClient) TypingTargets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.typing))
	copy(out, m.typing)
	return out
}

// Connected reports the current connection state.
func (m *MockClient) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}
