package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Agent{},
		&models.PlatformAccount{},
		&models.WhatsAppProfile{},
		&models.Conversation{},
		&models.Contact{},
		&models.ContactIdentifier{},
		&models.Message{},
	}
}

// AutoMigrate creates or updates all Switchboard tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedAgents upserts Agent rows declared in configuration. Existing agents
// keep their id; name and active flag are refreshed.
func SeedAgents(db *gorm.DB, ownerUserID string, agents []config.AgentConfig) error {
	for _, ac := range agents {
		id := ac.ID
		if id == "" {
			id = uuid.NewString()
		}
		agent := models.Agent{
			ID:          id,
			OwnerUserID: ownerUserID,
			Name:        ac.Name,
			Active:      true,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "active", "updated_at"}),
		}).Create(&agent)
		if result.Error != nil {
			return fmt.Errorf("db: seed agent %q: %w", ac.Name, result.Error)
		}
	}
	return nil
}
