package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/platform"
	"gorm.io/gorm"
)

// ReplyOptions modifies an outbound reply.
type ReplyOptions struct {
	ContentType string          // defaults to "text"
	Media       *platform.Media // dispatched via the media capability when set
}

// SendReply dispatches an outbound message on an existing conversation
// through the orchestrator and persists the outgoing record. The recipient
// is recovered by stripping the platform prefix from the conversation's
// external id.
func (r *Router) SendReply(ctx context.Context, conversationID, content string, opts ReplyOptions) (*models.Message, error) {
	var conv models.Conversation
	if err := r.db.WithContext(ctx).First(&conv, "id = ?", conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
		}
		return nil, fmt.Errorf("router: load conversation %s: %w", conversationID, err)
	}

	var account models.PlatformAccount
	err := r.db.WithContext(ctx).
		Where("agent_id = ? AND platform = ?", conv.AgentID, conv.Platform).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: agent %s platform %s", ErrNoPlatformAccount, conv.AgentID, conv.Platform)
		}
		return nil, fmt.Errorf("router: load account for %s: %w", conversationID, err)
	}

	recipient := RecipientOf(conv.ExternalID)

	result, err := r.orch.SendMessage(ctx, account.ID, recipient, content, platform.SendOptions{Media: opts.Media})
	if err != nil {
		return nil, err
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "text"
	}
	record := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Direction:      models.DirectionOutgoing,
		ContentType:    contentType,
		Content:        content,
		SenderName:     "You",
		Status:         models.MessageSent,
		CreatedAt:      time.Now(),
	}
	if opts.Media != nil {
		record.MediaURL = opts.Media.URL
		record.MediaMimeType = opts.Media.MimeType
	}
	if result != nil && result.ExternalID != "" {
		ext := result.ExternalID
		record.ExternalID = &ext
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("router: persist outgoing message: %w", err)
	}

	now := time.Now()
	if err := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conv.ID).Update("last_message_at", now).Error; err != nil {
		return nil, fmt.Errorf("router: touch conversation: %w", err)
	}
	conv.LastMessageAt = now

	r.broadcaster.Broadcast("message:new", map[string]any{
		"message":      &record,
		"conversation": &conv,
		"role":         "user",
		"isFromAI":     false,
		"senderName":   "You",
	}, conv.AgentID)

	return &record, nil
}

// RecipientOf strips the platform prefix from a conversation external id,
// leaving the platform-level recipient address.
func RecipientOf(externalID string) string {
	if i := strings.Index(externalID, ":"); i >= 0 {
		return externalID[i+1:]
	}
	return externalID
}
