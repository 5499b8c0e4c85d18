package db

import (
	"testing"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func TestAutoMigrate(t *testing.T) {
	gdb := openTestDB(t)

	for _, m := range AllModels() {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("missing table for %T", m)
		}
	}
}

func TestSeedAgents(t *testing.T) {
	gdb := openTestDB(t)

	agents := []config.AgentConfig{
		{ID: "agent-1", Name: "Morph"},
		{Name: "Backup"},
	}
	if err := SeedAgents(gdb, "morph", agents); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var count int64
	gdb.Model(&models.Agent{}).Count(&count)
	if count != 2 {
		t.Fatalf("agent count = %d, want 2", count)
	}

	var fixed models.Agent
	if err := gdb.First(&fixed, "id = ?", "agent-1").Error; err != nil {
		t.Fatalf("load agent-1: %v", err)
	}
	if fixed.Name != "Morph" || !fixed.Active || fixed.OwnerUserID != "morph" {
		t.Errorf("agent-1 = %+v", fixed)
	}

	// Reseeding with a renamed agent updates in place rather than duplicating.
	agents[0].Name = "Morph v2"
	if err := SeedAgents(gdb, "morph", agents[:1]); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	gdb.Model(&models.Agent{}).Count(&count)
	if count != 2 {
		t.Fatalf("agent count after reseed = %d, want 2", count)
	}
	if err := gdb.First(&fixed, "id = ?", "agent-1").Error; err != nil {
		t.Fatal(err)
	}
	if fixed.Name != "Morph v2" {
		t.Errorf("agent-1 name after reseed = %q", fixed.Name)
	}
}

func TestDSN(t *testing.T) {
	got := DSN("db.internal", 3307, "sb", "hunter2", "switchboard_morph")
	want := "sb:hunter2@tcp(db.internal:3307)/switchboard_morph?parseTime=true&charset=utf8mb4"
	if got != want {
		t.Errorf("dsn = %q, want %q", got, want)
	}

	// Empty password omits the colon.
	got = DSN("127.0.0.1", 3306, "root", "", "switchboard_morph")
	want = "root@tcp(127.0.0.1:3306)/switchboard_morph?parseTime=true&charset=utf8mb4"
	if got != want {
		t.Errorf("dsn = %q, want %q", got, want)
	}
}
