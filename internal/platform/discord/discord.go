// Package discord implements the platform client contract for Discord using
// the Gateway WebSocket.
package discord

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/switchboard/internal/platform"
)

// eventBuffer is the capacity of the client's event channel.
const eventBuffer = 100

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	AddHandler(handler interface{}) func()
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSend(channelID, content, options...)
}
func (r *realSession) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	return r.s.ChannelTyping(channelID, options...)
}
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}

// Client implements platform.Client (and TypingSender) for Discord.
type Client struct {
	sess      session
	botToken  string
	botUserID string

	mu            sync.Mutex
	connected     bool
	closed        bool
	events        chan platform.Event
	removeHandler func()
}

// ClientOpts holds parameters for creating a Discord Client.
type ClientOpts struct {
	BotToken string
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	return &Client{
		sess:     opts.Session,
		botToken: opts.BotToken,
		events:   make(chan platform.Event, eventBuffer),
	}, nil
}

// Builder adapts New to the factory contract. Credentials carry the
// "bot_token" key.
func Builder() platform.Builder {
	return func(cfg platform.ClientConfig) (platform.Client, error) {
		return New(ClientOpts{BotToken: cfg.Credentials["bot_token"]})
	}
}

// Platform returns the discord variant tag.
func (c *Client) Platform() platform.Platform {
	return platform.Discord
}

// Events returns the client's event stream.
func (c *Client) Events() <-chan platform.Event {
	return c.events
}

// Connect establishes the Discord Gateway WebSocket connection and wires
// the message handler.
func (c *Client) Connect(ctx context.Context, opts platform.ConnectOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("discord: client already closed")
	}
	if c.connected {
		return nil
	}

	// Create real session if not injected (production path).
	if c.sess == nil {
		dg, err := discordgo.New("Bot " + c.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
		c.sess = &realSession{s: dg}
	}

	// Ready handler captures the bot user id for self-message filtering.
	c.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		c.mu.Lock()
		c.botUserID = r.User.ID
		c.mu.Unlock()
		log.Printf("discord: connected as %s (ID: %s)", r.User.Username, r.User.ID)
	})

	c.removeHandler = c.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		c.handleMessage(m)
	})

	if err := c.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	c.connected = true
	c.emitLocked(platform.Event{
		Type: platform.EventStatusChange, Status: "connected", OldStatus: "connecting",
		Timestamp: time.Now(),
	})
	return nil
}

// handleMessage translates one gateway message into a platform event.
func (c *Client) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	c.mu.Lock()
	self := c.botUserID
	c.mu.Unlock()
	if m.Author.Bot || m.Author.ID == self {
		return
	}

	c.emit(platform.Event{
		Type: platform.EventMessage,
		Message: &platform.InboundMessage{
			ExternalID: m.ID,
			From:       m.ChannelID,
			SenderName: m.Author.Username,
			Text:       m.Content,
			Timestamp:  m.Timestamp,
			Metadata:   map[string]string{"user_id": m.Author.ID},
		},
		Timestamp: time.Now(),
	})
}

// SendMessage delivers a message to a Discord channel.
func (c *Client) SendMessage(ctx context.Context, to, content string, opts platform.SendOptions) (*platform.SendResult, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, fmt.Errorf("discord: not connected")
	}
	sess := c.sess
	c.mu.Unlock()

	msg, err := sess.ChannelMessageSend(to, content)
	if err != nil {
		return nil, fmt.Errorf("discord: send message: %w", err)
	}
	return &platform.SendResult{ExternalID: msg.ID, Timestamp: time.Now()}, nil
}

// SendTyping triggers the channel typing indicator (implements TypingSender).
// Discord's indicator expires on its own; duration is advisory only.
func (c *Client) SendTyping(ctx context.Context, to string, duration time.Duration) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return fmt.Errorf("discord: not connected")
	}
	sess := c.sess
	c.mu.Unlock()
	if err := sess.ChannelTyping(to); err != nil {
		return fmt.Errorf("discord: channel typing: %w", err)
	}
	return nil
}

// Disconnect closes the gateway session and the event stream.
func (c *Client) Disconnect(ctx context.Context, graceful bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.connected = false
	if c.removeHandler != nil {
		c.removeHandler()
	}
	close(c.events)
	if c.sess != nil {
		if err := c.sess.Close(); err != nil {
			return fmt.Errorf("discord: close gateway: %w", err)
		}
	}
	return nil
}

// emit pushes an event unless the client has been closed. A full buffer
// drops the event rather than blocking the SDK's callback goroutine.
func (c *Client) emit(ev platform.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitLocked(ev)
}

func (c *Client) emitLocked(ev platform.Event) {
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		log.Printf("discord: event buffer full, dropping %s", ev.Type)
	}
}
