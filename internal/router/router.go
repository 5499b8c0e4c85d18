// Package router turns raw inbound platform messages into persisted,
// broadcast conversation updates, and application-level send requests into
// platform dispatches.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/switchboard/internal/broadcast"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/orchestrator"
	"github.com/zulandar/switchboard/internal/platform"
	"gorm.io/gorm"
)

// Sentinel errors surfaced by router operations.
var (
	ErrConversationNotFound = errors.New("router: conversation not found")
	ErrNoPlatformAccount    = errors.New("router: no platform account")
)

// HandlerFunc is a per-platform callback invoked after a message has been
// persisted and broadcast.
type HandlerFunc func(ctx context.Context, msg *models.Message, conv *models.Conversation, contact *models.Contact)

// UnifiedProcessor is the optional enhanced processing collaborator. Any
// error from Process triggers fallback to the baseline pipeline.
type UnifiedProcessor interface {
	Process(ctx context.Context, ev orchestrator.Event) error
}

// Router subscribes to orchestrator events and routes them into the
// conversation store and out to live subscribers.
type Router struct {
	db          *gorm.DB
	orch        *orchestrator.Orchestrator
	broadcaster broadcast.Broadcaster
	unified     UnifiedProcessor
	out         io.Writer

	mu       sync.Mutex
	handlers map[platform.Platform]HandlerFunc
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	DB           *gorm.DB
	Orchestrator *orchestrator.Orchestrator
	Broadcaster  broadcast.Broadcaster
	Unified      UnifiedProcessor // optional enhanced processing path
	Out          io.Writer        // defaults to os.Stdout
}

// New creates a Router.
func New(opts RouterOpts) (*Router, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("router: db is required")
	}
	if opts.Orchestrator == nil {
		return nil, fmt.Errorf("router: orchestrator is required")
	}
	if opts.Broadcaster == nil {
		return nil, fmt.Errorf("router: broadcaster is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Router{
		db:          opts.DB,
		orch:        opts.Orchestrator,
		broadcaster: opts.Broadcaster,
		unified:     opts.Unified,
		out:         out,
		handlers:    make(map[platform.Platform]HandlerFunc),
	}, nil
}

// RegisterHandler installs the per-platform callback. At most one handler
// per platform; a second registration replaces the first.
func (r *Router) RegisterHandler(p platform.Platform, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[p] = fn
}

// Run pumps orchestrator events until ctx is cancelled. Message events go
// through the processing pipeline; qr and status_change events are
// forwarded verbatim to the broadcaster scoped by agent id.
func (r *Router) Run(ctx context.Context) {
	events := r.orch.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			r.dispatch(ctx, ev)
		}
	}
}

// dispatch routes one orchestrator event.
func (r *Router) dispatch(ctx context.Context, ev orchestrator.Event) {
	switch ev.Type {
	case platform.EventMessage:
		if err := r.HandleIncoming(ctx, ev); err != nil {
			log.Printf("router: handle incoming from %s: %v", ev.AccountID, err)
		}
	case platform.EventQR:
		r.broadcaster.Broadcast("qr", map[string]any{
			"accountId": ev.AccountID,
			"qr":        ev.QR,
		}, ev.AgentID)
	case platform.EventStatusChange:
		r.broadcaster.Broadcast("status_change", map[string]any{
			"accountId": ev.AccountID,
			"status":    ev.Status,
			"oldStatus": ev.OldStatus,
		}, ev.AgentID)
	case platform.EventError:
		log.Printf("router: client error on %s: %s", ev.AccountID, ev.Err)
	}
}

// HandleIncoming processes one inbound message event. The enhanced path is
// attempted first when a unified processor is configured; any failure there
// falls back to the baseline pipeline. Only a baseline failure propagates.
func (r *Router) HandleIncoming(ctx context.Context, ev orchestrator.Event) error {
	if ev.Message == nil {
		return fmt.Errorf("router: event has no message")
	}
	if r.unified != nil {
		err := r.unified.Process(ctx, ev)
		if err == nil {
			return nil
		}
		log.Printf("router: unified processing failed, falling back: %v", err)
	}
	return r.baseline(ctx, ev)
}

// baseline is the fallback pipeline: resolve conversation, resolve contact,
// persist message, update aggregates, broadcast, invoke platform handler.
func (r *Router) baseline(ctx context.Context, ev orchestrator.Event) error {
	msg := ev.Message

	conv, err := r.resolveConversation(ctx, ev)
	if err != nil {
		return err
	}

	contact, err := r.resolveContact(ctx, ev, conv)
	if err != nil {
		return err
	}

	record := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Direction:      models.DirectionIncoming,
		ContentType:    contentTypeOf(msg),
		Content:        contentOf(msg),
		MediaURL:       msg.MediaURL,
		MediaMimeType:  msg.MediaMimeType,
		SenderID:       msg.From,
		SenderName:     msg.SenderName,
		Status:         models.MessageReceived,
		CreatedAt:      time.Now(),
	}
	if msg.ExternalID != "" {
		ext := msg.ExternalID
		record.ExternalID = &ext
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("router: persist message: %w", err)
	}

	now := time.Now()
	if err := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conv.ID).
		Updates(map[string]interface{}{
			"last_message_at": now,
			"unread_count":    gorm.Expr("unread_count + 1"),
		}).Error; err != nil {
		return fmt.Errorf("router: update conversation aggregate: %w", err)
	}
	conv.LastMessageAt = now
	conv.UnreadCount++

	r.broadcaster.Broadcast("message:new", map[string]any{
		"message":      &record,
		"conversation": conv,
		"contact":      contact,
	}, conv.AgentID)

	r.mu.Lock()
	handler := r.handlers[ev.Platform]
	r.mu.Unlock()
	if handler != nil {
		handler(ctx, &record, conv, contact)
	}
	return nil
}

// resolveConversation looks up the conversation by derived external id,
// creating it from the owning account when absent.
func (r *Router) resolveConversation(ctx context.Context, ev orchestrator.Event) (*models.Conversation, error) {
	msg := ev.Message
	externalID := DeriveExternalID(ev.Platform, msg.From, msg.IsGroup)

	var conv models.Conversation
	err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("router: lookup conversation: %w", err)
	}

	var account models.PlatformAccount
	if err := r.db.WithContext(ctx).First(&account, "id = ?", ev.AccountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", orchestrator.ErrAccountNotFound, ev.AccountID)
		}
		return nil, fmt.Errorf("router: load account %s: %w", ev.AccountID, err)
	}

	agentID := ""
	if account.AgentID != nil {
		agentID = *account.AgentID
	}
	conv = models.Conversation{
		ID:          uuid.NewString(),
		OwnerUserID: account.OwnerUserID,
		AgentID:     agentID,
		Platform:    string(ev.Platform),
		ExternalID:  externalID,
		Title:       conversationTitle(msg),
		IsGroup:     msg.IsGroup,
		Category:    InferCategory(externalID),
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, fmt.Errorf("router: create conversation: %w", err)
	}
	fmt.Fprintf(r.out, "router: new conversation %s (%s)\n", externalID, conv.Category)
	return &conv, nil
}

// resolveContact finds or creates the Contact for the message's sender and
// links it to the conversation. Returns nil without error when the message
// carries no usable sender identity.
func (r *Router) resolveContact(ctx context.Context, ev orchestrator.Event, conv *models.Conversation) (*models.Contact, error) {
	msg := ev.Message
	if msg.From == "" {
		return nil, nil
	}

	identifierType := models.IdentifierPhone
	if ev.Platform == platform.Email {
		identifierType = models.IdentifierEmail
	}
	value := firstNonEmpty(msg.SenderEmail, msg.SenderPhone, msg.From)
	if value == "" {
		return nil, nil
	}

	var ident models.ContactIdentifier
	err := r.db.WithContext(ctx).
		Where("identifier_value = ? AND owner_user_id = ?", value, conv.OwnerUserID).
		First(&ident).Error
	if err == nil {
		var contact models.Contact
		if err := r.db.WithContext(ctx).First(&contact, "id = ?", ident.ContactID).Error; err != nil {
			return nil, fmt.Errorf("router: load contact %s: %w", ident.ContactID, err)
		}
		if conv.ContactID == nil {
			if err := r.linkContact(ctx, conv, contact.ID); err != nil {
				return nil, err
			}
		}
		return &contact, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("router: lookup contact identifier: %w", err)
	}

	displayName := msg.SenderName
	if displayName == "" {
		displayName = value
	}
	contact := models.Contact{
		ID:          uuid.NewString(),
		OwnerUserID: conv.OwnerUserID,
		DisplayName: displayName,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&contact).Error; err != nil {
		return nil, fmt.Errorf("router: create contact: %w", err)
	}
	ident = models.ContactIdentifier{
		ContactID:       contact.ID,
		OwnerUserID:     conv.OwnerUserID,
		IdentifierType:  identifierType,
		IdentifierValue: value,
		Platform:        string(ev.Platform),
		IsPrimary:       true,
		CreatedAt:       time.Now(),
	}
	if err := r.db.WithContext(ctx).Create(&ident).Error; err != nil {
		return nil, fmt.Errorf("router: create contact identifier: %w", err)
	}
	if err := r.linkContact(ctx, conv, contact.ID); err != nil {
		return nil, err
	}
	return &contact, nil
}

// linkContact backfills the conversation's contact reference.
func (r *Router) linkContact(ctx context.Context, conv *models.Conversation, contactID string) error {
	if err := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conv.ID).Update("contact_id", contactID).Error; err != nil {
		return fmt.Errorf("router: link contact: %w", err)
	}
	conv.ContactID = &contactID
	return nil
}

// MarkRead resets a conversation's unread counter.
func (r *Router) MarkRead(ctx context.Context, conversationID string) error {
	result := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).Update("unread_count", 0)
	if result.Error != nil {
		return fmt.Errorf("router: mark read %s: %w", conversationID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
	}
	return nil
}

// DeriveExternalID builds the deterministic conversation key for a sender.
func DeriveExternalID(p platform.Platform, from string, isGroup bool) string {
	if p == platform.Email {
		return "email:" + from
	}
	if isGroup {
		return fmt.Sprintf("%s-group:%s", p, from)
	}
	return fmt.Sprintf("%s:%s", p, from)
}

// InferCategory classifies a conversation from the shape of its external id.
func InferCategory(externalID string) string {
	if strings.Contains(externalID, "@newsletter") {
		return models.CategoryNews
	}
	if strings.Contains(externalID, "@broadcast") {
		return models.CategoryStatus
	}
	return models.CategoryChat
}

// conversationTitle picks the thread title: group name when grouped, else
// sender display name, else the raw sender id.
func conversationTitle(msg *platform.InboundMessage) string {
	if msg.IsGroup && msg.GroupSubject != "" {
		return msg.GroupSubject
	}
	if msg.SenderName != "" {
		return msg.SenderName
	}
	return msg.From
}

// contentOf picks the message body from the first present field.
func contentOf(msg *platform.InboundMessage) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.HTML
}

// contentTypeOf defaults the content type to text.
func contentTypeOf(msg *platform.InboundMessage) string {
	if msg.ContentType != "" {
		return msg.ContentType
	}
	return "text"
}

// firstNonEmpty returns the first non-empty string.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
