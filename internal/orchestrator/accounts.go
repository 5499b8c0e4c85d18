package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/platform"
	"gorm.io/gorm"
)

// CreateAccountOpts holds parameters for provisioning a platform account.
type CreateAccountOpts struct {
	OwnerUserID string
	AgentID     *string
	Platform    platform.Platform
	Credentials map[string]string // optional; encrypted at rest
}

// CreateAccount provisions a platform account. Creation is idempotent, not
// additive: when an account already exists for the (agent, platform) pair
// the existing row is returned. For whatsapp accounts a linked profile
// record is provisioned best-effort.
func (o *Orchestrator) CreateAccount(ctx context.Context, opts CreateAccountOpts) (*models.PlatformAccount, error) {
	if opts.OwnerUserID == "" {
		return nil, fmt.Errorf("orchestrator: owner user id is required")
	}
	if !platform.Known(opts.Platform) {
		return nil, fmt.Errorf("%w: %s", platform.ErrUnsupported, opts.Platform)
	}

	if opts.AgentID != nil {
		var existing models.PlatformAccount
		err := o.db.WithContext(ctx).
			Where("agent_id = ? AND platform = ?", *opts.AgentID, string(opts.Platform)).
			First(&existing).Error
		if err == nil {
			return &existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("orchestrator: lookup account: %w", err)
		}
	}

	account := models.PlatformAccount{
		ID:          uuid.NewString(),
		OwnerUserID: opts.OwnerUserID,
		AgentID:     opts.AgentID,
		Platform:    string(opts.Platform),
		Status:      models.StatusDisconnected,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if len(opts.Credentials) > 0 {
		token, err := o.encryptCredentials(opts.Credentials)
		if err != nil {
			return nil, err
		}
		account.EncryptedCredentials = &token
	}

	if err := o.db.WithContext(ctx).Create(&account).Error; err != nil {
		return nil, fmt.Errorf("orchestrator: create account: %w", err)
	}

	// Linked profile for whatsapp accounts. Best-effort: a profile failure
	// never fails account creation.
	if opts.Platform == platform.WhatsApp {
		profile := models.WhatsAppProfile{
			AccountID:   account.ID,
			OwnerUserID: account.OwnerUserID,
			Phone:       opts.Credentials["phone"],
			CreatedAt:   time.Now(),
		}
		if err := o.db.WithContext(ctx).Create(&profile).Error; err != nil {
			log.Printf("orchestrator: create whatsapp profile for %s: %v", account.ID, err)
		}
	}

	fmt.Fprintf(o.out, "orchestrator: created %s account %s\n", account.Platform, account.ID)
	return &account, nil
}

// UpdateCredentials re-encrypts and persists new credentials for an
// account. It does not reconnect the account.
func (o *Orchestrator) UpdateCredentials(ctx context.Context, accountID string, credentials map[string]string) error {
	var account models.PlatformAccount
	if err := o.db.WithContext(ctx).First(&account, "id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
		}
		return fmt.Errorf("orchestrator: load account %s: %w", accountID, err)
	}

	token, err := o.encryptCredentials(credentials)
	if err != nil {
		return err
	}
	if err := o.db.WithContext(ctx).Model(&account).
		Updates(map[string]interface{}{"encrypted_credentials": token, "updated_at": time.Now()}).Error; err != nil {
		return fmt.Errorf("orchestrator: update credentials %s: %w", accountID, err)
	}
	return nil
}

// encryptCredentials marshals and encrypts a credential map.
func (o *Orchestrator) encryptCredentials(credentials map[string]string) (string, error) {
	data, err := json.Marshal(credentials)
	if err != nil {
		return "", fmt.Errorf("orchestrator: marshal credentials: %w", err)
	}
	token, err := o.vault.Encrypt(string(data))
	if err != nil {
		return "", fmt.Errorf("orchestrator: encrypt credentials: %w", err)
	}
	return token, nil
}
