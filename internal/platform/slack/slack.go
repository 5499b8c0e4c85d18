// Package slack implements the platform client contract for Slack using
// Socket Mode.
package slack

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/switchboard/internal/platform"
)

// eventBuffer is the capacity of the client's event channel.
const eventBuffer = 100

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	GetUserInfo(userID string) (*slackapi.User, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	RunContext(ctx context.Context) error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) RunContext(ctx context.Context) error { return r.client.RunContext(ctx) }
func (r *realSocketClient) EventsChan() chan socketmode.Event    { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Client implements platform.Client for Slack Socket Mode.
type Client struct {
	api       slackClient
	socket    socketClient
	appToken  string
	botToken  string
	botUserID string

	mu        sync.Mutex
	connected bool
	closed    bool
	events    chan platform.Event
	cancel    context.CancelFunc
}

// ClientOpts holds parameters for creating a Slack Client.
type ClientOpts struct {
	AppToken string // xapp-... Slack app-level token for Socket Mode
	BotToken string // xoxb-... Slack bot token
	// For testing: inject mock clients instead of the real Slack API.
	API    slackClient
	Socket socketClient
}

// New creates a Slack Client.
func New(opts ClientOpts) (*Client, error) {
	if opts.API == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	return &Client{
		api:      opts.API,
		socket:   opts.Socket,
		appToken: opts.AppToken,
		botToken: opts.BotToken,
		events:   make(chan platform.Event, eventBuffer),
	}, nil
}

// Builder adapts New to the factory contract. Credentials carry the
// "bot_token" and "app_token" keys.
func Builder() platform.Builder {
	return func(cfg platform.ClientConfig) (platform.Client, error) {
		return New(ClientOpts{
			AppToken: cfg.Credentials["app_token"],
			BotToken: cfg.Credentials["bot_token"],
		})
	}
}

// Platform returns the slack variant tag.
func (c *Client) Platform() platform.Platform {
	return platform.Slack
}

// Events returns the client's event stream.
func (c *Client) Events() <-chan platform.Event {
	return c.events
}

// Connect establishes the Socket Mode WebSocket connection and starts the
// event pump.
func (c *Client) Connect(ctx context.Context, opts platform.ConnectOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("slack: client already closed")
	}
	if c.connected {
		return nil
	}

	// Create real clients if not injected (production path).
	if c.api == nil {
		api := slackapi.New(c.botToken, slackapi.OptionAppLevelToken(c.appToken))
		c.api = api
		c.socket = &realSocketClient{client: socketmode.New(api)}
	}

	auth, err := c.api.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	c.botUserID = auth.UserID

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	go func() {
		if err := c.socket.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			log.Printf("slack: socket run: %v", err)
			c.emit(platform.Event{Type: platform.EventError, Err: err.Error(), Timestamp: time.Now()})
		}
	}()
	go c.pump(runCtx)

	c.connected = true
	c.emitLocked(platform.Event{
		Type: platform.EventStatusChange, Status: "connected", OldStatus: "connecting",
		Timestamp: time.Now(),
	})
	return nil
}

// pump converts Socket Mode events into platform events.
func (c *Client) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.socket.EventsChan():
			if !ok {
				return
			}
			c.handleSocketEvent(ev)
		}
	}
}

// handleSocketEvent filters and translates one Socket Mode event.
func (c *Client) handleSocketEvent(ev socketmode.Event) {
	if ev.Type != socketmode.EventTypeEventsAPI {
		return
	}
	apiEvent, ok := ev.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	if ev.Request != nil {
		c.socket.Ack(*ev.Request)
	}

	inner, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	// Filter our own messages and non-user noise.
	if inner.User == "" || inner.User == c.botUserID || inner.BotID != "" {
		return
	}

	senderName := inner.User
	if user, err := c.api.GetUserInfo(inner.User); err == nil && user.RealName != "" {
		senderName = user.RealName
	}

	c.emit(platform.Event{
		Type: platform.EventMessage,
		Message: &platform.InboundMessage{
			ExternalID: inner.TimeStamp,
			From:       inner.Channel,
			SenderName: senderName,
			Text:       inner.Text,
			Timestamp:  time.Now(),
			Metadata:   map[string]string{"user_id": inner.User},
		},
		Timestamp: time.Now(),
	})
}

// SendMessage posts a message to a Slack channel.
func (c *Client) SendMessage(ctx context.Context, to, content string, opts platform.SendOptions) (*platform.SendResult, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, fmt.Errorf("slack: not connected")
	}
	api := c.api
	c.mu.Unlock()

	_, ts, err := api.PostMessage(to, slackapi.MsgOptionText(content, false))
	if err != nil {
		return nil, fmt.Errorf("slack: post message: %w", err)
	}
	return &platform.SendResult{ExternalID: ts, Timestamp: time.Now()}, nil
}

// Disconnect stops the event pump and closes the event stream.
func (c *Client) Disconnect(ctx context.Context, graceful bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.connected = false
	if c.cancel != nil {
		c.cancel()
	}
	close(c.events)
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
		log.Printf("slack: event buffer full, dropping %s", ev.Type)
	}
}
