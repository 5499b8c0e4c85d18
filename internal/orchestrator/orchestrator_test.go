package orchestrator

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/platform"
	"github.com/zulandar/switchboard/internal/vault"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testKeyHex = "6368616e676520746869732070617373776f726420746f206120736563726574"

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func newTestOrchestrator(t *testing.T, gdb *gorm.DB, factory platform.Factory) *Orchestrator {
	t.Helper()
	v, err := vault.New(vault.VaultOpts{KeyHex: testKeyHex})
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	o, err := New(OrchestratorOpts{
		DB:              gdb,
		Vault:           v,
		Factory:         factory,
		SessionDir:      t.TempDir(),
		GracefulTimeout: 200 * time.Millisecond,
		Out:             io.Discard,
	})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	return o
}

func seedAgent(t *testing.T, gdb *gorm.DB, id string) {
	t.Helper()
	agent := models.Agent{ID: id, OwnerUserID: "morph", Name: "Agent " + id, Active: true}
	if err := gdb.Create(&agent).Error; err != nil {
		t.Fatalf("seed agent: %v", err)
	}
}

func strptr(s string) *string { return &s }

func TestCreateAccount_Idempotent(t *testing.T) {
	gdb := openTestDB(t)
	o := newTestOrchestrator(t, gdb, platform.NewMockFactory())
	seedAgent(t, gdb, "agent-1")
	ctx := context.Background()

	first, err := o.CreateAccount(ctx, CreateAccountOpts{
		OwnerUserID: "morph",
		AgentID:     strptr("agent-1"),
		Platform:    platform.Slack,
		Credentials: map[string]string{"bot_token": "xoxb-1", "app_token": "xapp-1"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Status != models.StatusDisconnected {
		t.Errorf("status = %q", first.Status)
	}
	if first.EncryptedCredentials == nil {
		t.Fatal("expected encrypted credentials")
	}
	if *first.EncryptedCredentials == "xoxb-1" {
		t.Error("credentials stored in plaintext")
	}

	second, err := o.CreateAccount(ctx, CreateAccountOpts{
		OwnerUserID: "morph",
		AgentID:     strptr("agent-1"),
		Platform:    platform.Slack,
	})
	if err != nil {
		t.Fatalf("repeat create: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected same account, got %s and %s", first.ID, second.ID)
	}

	var count int64
	gdb.Model(&models.PlatformAccount{}).Count(&count)
	if count != 1 {
		t.Errorf("account rows = %d, want 1", count)
	}
}

func TestCreateAccount_WhatsAppProfile(t *testing.T) {
	gdb := openTestDB(t)
	o := newTestOrchestrator(t, gdb, platform.NewMockFactory())
	seedAgent(t, gdb, "agent-1")

	account, err := o.CreateAccount(context.Background(), CreateAccountOpts{
		OwnerUserID: "morph",
		AgentID:     strptr("agent-1"),
		Platform:    platform.WhatsApp,
		Credentials: map[string]string{"phone": "628123456789"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	var profile models.WhatsAppProfile
	if err := gdb.First(&profile, "account_id = ?", account.ID).Error; err != nil {
		t.Fatalf("load profile: %v", err)
	}
	if profile.Phone != "628123456789" || profile.OwnerUserID != "morph" {
		t.Errorf("profile = %+v", profile)
	}
}

func TestCreateAccount_Validation(t *testing.T) {
	gdb := openTestDB(t)
	o := newTestOrchestrator(t, gdb, platform.NewMockFactory())
	ctx := context.Background()

	if _, err := o.CreateAccount(ctx, CreateAccountOpts{Platform: platform.Slack}); err == nil {
		t.Error("expected error for missing owner")
	}
	_, err := o.CreateAccount(ctx, CreateAccountOpts{OwnerUserID: "morph", Platform: "carrier-pigeon"})
	if !errors.Is(err, platform.ErrUnsupported) {
		t.Errorf("got %v, want ErrUnsupported", err)
	}
}

func TestUpdateCredentials(t *testing.T) {
	gdb := openTestDB(t)
	o := newTestOrchestrator(t, gdb, platform.NewMockFactory())
	seedAgent(t, gdb, "agent-1")
	ctx := context.Background()

	account, err := o.CreateAccount(ctx, CreateAccountOpts{
		OwnerUserID: "morph",
		AgentID:     strptr("agent-1"),
		Platform:    platform.Slack,
		Credentials: map[string]string{"bot_token": "old"},
	})
	if err != nil {
		t.Fatal(err)
	}
	before := *account.EncryptedCredentials

	if err := o.UpdateCredentials(ctx, account.ID, map[string]string{"bot_token": "new"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	var reloaded models.PlatformAccount
	if err := gdb.First(&reloaded, "id = ?", account.ID).Error; err != nil {
		t.Fatal(err)
	}
	if reloaded.EncryptedCredentials == nil || *reloaded.EncryptedCredentials == before {
		t.Error("expected credentials to be replaced")
	}

	if err := o.UpdateCredentials(ctx, "nope", nil); !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("got %v, want ErrAccountNotFound", err)
	}
}

func TestConnect_RequiresCredentials(t *testing.T) {
	gdb := openTestDB(t)
	o := newTestOrchestrator(t, gdb, platform.NewMockFactory())
	seedAgent(t, gdb, "agent-1")
	ctx := context.Background()

	account, err := o.CreateAccount(ctx, CreateAccountOpts{
		OwnerUserID: "morph",
		AgentID:     strptr("agent-1"),
		Platform:    platform.Slack,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Connect(ctx, account.ID, platform.ConnectOptions{}); !errors.Is(err, ErrCredentialsRequired) {
		t.Errorf("got %v, want ErrCredentialsRequired", err)
	}
}

func TestConnect_UnknownAccount(t *testing.T) {
	gdb := openTestDB(t)
	o := newTestOrchestrator(t, gdb, platform.NewMockFactory())

	err := o.Connect(context.Background(), "missing", platform.ConnectOptions{})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Errorf("got %v, want ErrAccountNotFound", err)
	}
}

func TestConnect_Success(t *testing.T) {
	gdb := openTestDB(t)
	factory := platform.NewMockFactory()
	o := newTestOrchestrator(t, gdb, factory)
	seedAgent(t, gdb, "agent-1")
	ctx := context.Background()

	account, err := o.CreateAccount(ctx, CreateAccountOpts{
		OwnerUserID: "morph",
		AgentID:     strptr("agent-1"),
		Platform:    platform.Slack,
		Credentials: map[string]string{"bot_token": "xoxb-1", "app_token": "xapp-1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Connect(ctx, account.ID, platform.ConnectOptions{}); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if o.AccountStatus(account.ID) != models.StatusConnected {
		t.Errorf("in-memory status = %q", o.AccountStatus(account.ID))
	}
	var reloaded models.PlatformAccount
	gdb.First(&reloaded, "id = ?", account.ID)
	if reloaded.Status != models.StatusConnected {
		t.Errorf("persisted status = %q", reloaded.Status)
	}

	client, ok := factory.ClientFor(account.ID)
	if !ok || !client.Connected() {
		t.Fatal("expected a live connected client")
	}
	if got := o.ConnectedAccounts(); len(got) != 1 || got[0] != account.ID {
		t.Errorf("connected accounts = %v", got)
	}
	if clients := o.AgentClients("agent-1"); len(clients) != 1 {
		t.Errorf("agent clients = %v", clients)
	}
}

func TestConnect_FailureRollsBack(t *testing.T) {
	gdb := openTestDB(t)
	factory := platform.NewMockFactory()
	o := newTestOrchestrator(t, gdb, factory)
	seedAgent(t, gdb, "agent-1")
	ctx := context.Background()

	account, err := o.CreateAccount(ctx, CreateAccountOpts{
		OwnerUserID: "morph",
		AgentID:     strptr("agent-1"),
		Platform:    platform.Slack,
		Credentials: map[string]string{"bot_token": "bad"},
	})
	if err != nil {
		t.Fatal(err)
	}

	failing := platform.NewMockClient(platform.Slack)
	failing.ConnectErr = errors.New("auth failed")
	factory.Preset(account.ID, failing)

	if err := o.Connect(ctx, account.ID, platform.ConnectOptions{}); err == nil {
		t.Fatal("expected connect failure")
	}
	if _, ok := o.ClientFor(account.ID); ok {
		t.Error("failed connect left a registered client")
	}
	if o.AccountStatus(account.ID) != models.StatusDisconnected {
		t.Errorf("in-memory status = %q", o.AccountStatus(account.ID))
	}
	var reloaded models.PlatformAccount
	gdb.First(&reloaded, "id = ?", account.ID)
	if reloaded.Status != models.StatusError {
		t.Errorf("persisted status = %q, want error", reloaded.Status)
	}
}

func TestConnect_ForcedReconnect(t *testing.T) {
	gdb := openTestDB(t)
	factory := platform.NewMockFactory()
	o := newTestOrchestrator(t, gdb, factory)
	seedAgent(t, gdb, "agent-1")
	ctx := context.Background()

	account, err := o.CreateAccount(ctx, CreateAccountOpts{
		OwnerUserID: "morph",
		AgentID:     strptr("agent-1"),
		Platform:    platform.Slack,
		Credentials: map[string]string{"bot_token": "xoxb-1"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := o.Connect(ctx, account.ID, platform.ConnectOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := o.Connect(ctx, account.ID, platform.ConnectOptions{}); err != nil {
		t.Fatalf("forced reconnect: %v", err)
	}

	if factory.CreatedCount() != 2 {
		t.Fatalf("created clients = %d, want 2", factory.CreatedCount())
	}
	created := factory.Created()
	if created[0].Connected() {
		t.Error("first client should have been disconnected")
	}
	live, ok := o.ClientFor(account.ID)
	if !ok || live != created[1] {
		t.Error("expected the second client to be registered")
	}
	if !created[1].Connected() {
		t.Error("second client should be connected")
	}
}

func TestDisconnect(t *testing.T) {
	gdb := openTestDB(t)
	factory := platform.NewMockFactory()
	o := newTestOrchestrator(t, gdb, factory)
	seedAgent(t, gdb, "agent-1")
	ctx := context.Background()

	// Disconnecting an unconnected account is a no-op.
	if err := o.Disconnect(ctx, "unknown"); err != nil {
		t.Errorf("disconnect no-op: %v", err)
	}

	account, err := o.CreateAccount(ctx, CreateAccountOpts{
		OwnerUserID: "morph",
		AgentID:     strptr("agent-1"),
		Platform:    platform.Slack,
		Credentials: map[string]string{"bot_token": "xoxb-1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Connect(ctx, account.ID, platform.ConnectOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := o.Disconnect(ctx, account.ID); err != nil {
		t.Fatalf("disconnect: %v", err)
	}

	if _, ok := o.ClientFor(account.ID); ok {
		t.Error("client still registered after disconnect")
	}
	if o.AccountStatus(account.ID) != models.StatusDisconnected {
		t.Errorf("status = %q", o.AccountStatus(account.ID))
	}
	var reloaded models.PlatformAccount
	gdb.First(&reloaded, "id = ?", account.ID)
	if reloaded.Status != models.StatusDisconnected {
		t.Errorf("persisted status = %q", reloaded.Status)
	}
	if clients := o.AgentClients("agent-1"); len(clients) != 0 {
		t.Errorf("agent clients = %v", clients)
	}
}

func TestDisconnectAll_GracefulCeiling(t *testing.T) {
	gdb := openTestDB(t)
	factory := platform.NewMockFactory()
	o := newTestOrchestrator(t, gdb, factory)
	seedAgent(t, gdb, "agent-1")
	seedAgent(t, gdb, "agent-2")
	ctx := context.Background()

	quick, err := o.CreateAccount(ctx, CreateAccountOpts{
		OwnerUserID: "morph",
		AgentID:     strptr("agent-1"),
		Platform:    platform.Slack,
		Credentials: map[string]string{"bot_token": "a"},
	})
	if err != nil {
		t.Fatal(err)
	}
	stuck, err := o.CreateAccount(ctx, CreateAccountOpts{
		OwnerUserID: "morph",
		AgentID:     strptr("agent-2"),
		Platform:    platform.Discord,
		Credentials: map[string]string{"bot_token": "b"},
	})
	if err != nil {
		t.Fatal(err)
	}

	blocking := platform.NewMockClient(platform.Discord)
	blocking.DisconnectBlocks = true
	factory.Preset(stuck.ID, blocking)

	if err := o.Connect(ctx, quick.ID, platform.ConnectOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := o.Connect(ctx, stuck.ID, platform.ConnectOptions{}); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	o.DisconnectAll(ctx, true)
	elapsed := time.Since(start)

	// The stuck client must not hold shutdown past the ceiling.
	if elapsed > 2*time.Second {
		t.Errorf("graceful shutdown took %v", elapsed)
	}
	if _, ok := o.ClientFor(quick.ID); ok {
		t.Error("registry not cleared")
	}
	if got := o.ConnectedAccounts(); len(got) != 0 {
		t.Errorf("connected accounts after shutdown = %v", got)
	}
}

func TestSendMessage(t *testing.T) {
	gdb := openTestDB(t)
	factory := platform.NewMockFactory()
	o := newTestOrchestrator(t, gdb, factory)
	seedAgent(t, gdb, "agent-1")
	ctx := context.Background()

	if _, err := o.SendMessage(ctx, "nope", "u1", "hi", platform.SendOptions{}); !errors.Is(err, ErrAccountNotConnected) {
		t.Errorf("got %v, want ErrAccountNotConnected", err)
	}

	account, err := o.CreateAccount(ctx, CreateAccountOpts{
		OwnerUserID: "morph",
		AgentID:     strptr("agent-1"),
		Platform:    platform.Slack,
		Credentials: map[string]string{"bot_token": "xoxb-1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Connect(ctx, account.ID, platform.ConnectOptions{}); err != nil {
		t.Fatal(err)
	}

	res, err := o.SendMessage(ctx, account.ID, "C123", "hello", platform.SendOptions{})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.ExternalID == "" {
		t.Error("expected an external id")
	}

	media := &platform.Media{Type: "image", URL: "https://example.com/a.png", Caption: "pic"}
	if _, err := o.SendMessage(ctx, account.ID, "C123", "", platform.SendOptions{Media: media}); err != nil {
		t.Fatalf("send media: %v", err)
	}

	client, _ := factory.ClientFor(account.ID)
	sent := client.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent = %d, want 2", len(sent))
	}
	if sent[1].Media == nil || sent[1].Media.Type != "image" {
		t.Errorf("media send = %+v", sent[1])
	}
}

func TestSendTyping(t *testing.T) {
	gdb := openTestDB(t)
	factory := platform.NewMockFactory()
	o := newTestOrchestrator(t, gdb, factory)
	seedAgent(t, gdb, "agent-1")
	ctx := context.Background()

	// No client registered: silent no-op.
	o.SendTyping(ctx, "nope", "u1", time.Second)

	account, err := o.CreateAccount(ctx, CreateAccountOpts{
		OwnerUserID: "morph",
		AgentID:     strptr("agent-1"),
		Platform:    platform.Discord,
		Credentials: map[string]string{"bot_token": "b"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Connect(ctx, account.ID, platform.ConnectOptions{}); err != nil {
		t.Fatal(err)
	}
	o.SendTyping(ctx, account.ID, "C123", time.Second)

	client, _ := factory.ClientFor(account.ID)
	if got := client.TypingTargets(); len(got) != 1 || got[0] != "C123" {
		t.Errorf("typing targets = %v", got)
	}
}

func TestEventForwarding(t *testing.T) {
	gdb := openTestDB(t)
	factory := platform.NewMockFactory()
	o := newTestOrchestrator(t, gdb, factory)
	seedAgent(t, gdb, "agent-1")
	ctx := context.Background()

	account, err := o.CreateAccount(ctx, CreateAccountOpts{
		OwnerUserID: "morph",
		AgentID:     strptr("agent-1"),
		Platform:    platform.Slack,
		Credentials: map[string]string{"bot_token": "xoxb-1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Connect(ctx, account.ID, platform.ConnectOptions{}); err != nil {
		t.Fatal(err)
	}

	client, _ := factory.ClientFor(account.ID)
	client.SimulateMessage(platform.InboundMessage{From: "U123", Text: "hello"})

	select {
	case ev := <-o.Events():
		if ev.AccountID != account.ID || ev.AgentID != "agent-1" || ev.Platform != platform.Slack {
			t.Errorf("annotation = %+v", ev)
		}
		if ev.Type != platform.EventMessage || ev.Message.Text != "hello" {
			t.Errorf("event = %+v", ev.Event)
		}
	case <-time.After(time.Second):
		t.Fatal("no event forwarded")
	}

	client.SimulateStatus(models.StatusQRPending, models.StatusConnected)
	select {
	case ev := <-o.Events():
		if ev.Type != platform.EventStatusChange {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no status event forwarded")
	}
	if o.AccountStatus(account.ID) != models.StatusQRPending {
		t.Errorf("status after event = %q", o.AccountStatus(account.ID))
	}
	var reloaded models.PlatformAccount
	gdb.First(&reloaded, "id = ?", account.ID)
	if reloaded.Status != models.StatusQRPending {
		t.Errorf("persisted status = %q", reloaded.Status)
	}
}

func TestReconcileAccounts(t *testing.T) {
	gdb := openTestDB(t)
	factory := platform.NewMockFactory()
	o := newTestOrchestrator(t, gdb, factory)
	seedAgent(t, gdb, "agent-1")
	ctx := context.Background()

	// Eligible: credential-based, disconnected, has credentials.
	eligible, err := o.CreateAccount(ctx, CreateAccountOpts{
		OwnerUserID: "morph",
		AgentID:     strptr("agent-1"),
		Platform:    platform.Slack,
		Credentials: map[string]string{"bot_token": "xoxb-1"},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Skipped: credential-based, no credentials stored.
	bare, err := o.CreateAccount(ctx, CreateAccountOpts{
		OwnerUserID: "morph",
		AgentID:     strptr("agent-1"),
		Platform:    platform.Discord,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Skipped: session-based, no session artifact on disk.
	wa, err := o.CreateAccount(ctx, CreateAccountOpts{
		OwnerUserID: "morph",
		AgentID:     strptr("agent-1"),
		Platform:    platform.WhatsApp,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Orphan: bound to an agent that no longer exists. Created directly to
	// bypass the agent seeding.
	orphan := models.PlatformAccount{
		ID: "orphan-1", OwnerUserID: "morph", AgentID: strptr("gone"),
		Platform: string(platform.Slack), Status: models.StatusDisconnected,
	}
	if err := gdb.Create(&orphan).Error; err != nil {
		t.Fatal(err)
	}

	// Stale status from a crashed process.
	if err := gdb.Model(&models.PlatformAccount{}).
		Where("id = ?", bare.ID).Update("status", models.StatusError).Error; err != nil {
		t.Fatal(err)
	}

	report, err := o.ReconcileAccounts(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Orphaned != 1 {
		t.Errorf("orphaned = %d, want 1", report.Orphaned)
	}
	if report.Reconnected != 1 {
		t.Errorf("reconnected = %d, want 1", report.Reconnected)
	}
	if report.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", report.Skipped)
	}
	if report.Failed != 0 {
		t.Errorf("failed = %d, want 0", report.Failed)
	}

	if err := gdb.First(&models.PlatformAccount{}, "id = ?", "orphan-1").Error; !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("orphan sweep: got %v, want ErrRecordNotFound", err)
	}

	var reloaded models.PlatformAccount
	gdb.First(&reloaded, "id = ?", bare.ID)
	if reloaded.Status != models.StatusDisconnected {
		t.Errorf("stale status reset: got %q", reloaded.Status)
	}

	if _, ok := o.ClientFor(eligible.ID); !ok {
		t.Error("eligible account not reconnected")
	}
	if _, ok := o.ClientFor(wa.ID); ok {
		t.Error("session-based account without artifact was connected")
	}
}

func TestReconcileAccounts_SessionArtifact(t *testing.T) {
	gdb := openTestDB(t)
	factory := platform.NewMockFactory()
	o := newTestOrchestrator(t, gdb, factory)
	seedAgent(t, gdb, "agent-1")
	ctx := context.Background()

	wa, err := o.CreateAccount(ctx, CreateAccountOpts{
		OwnerUserID: "morph",
		AgentID:     strptr("agent-1"),
		Platform:    platform.WhatsApp,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(o.sessionDir, wa.ID), 0o755); err != nil {
		t.Fatal(err)
	}

	report, err := o.ReconcileAccounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if report.Reconnected != 1 {
		t.Errorf("reconnected = %d, want 1", report.Reconnected)
	}
	if _, ok := o.ClientFor(wa.ID); !ok {
		t.Error("session-based account with artifact was not connected")
	}
}

func TestReconcileAccounts_FailureCounted(t *testing.T) {
	gdb := openTestDB(t)
	factory := platform.NewMockFactory()
	o := newTestOrchestrator(t, gdb, factory)
	seedAgent(t, gdb, "agent-1")
	ctx := context.Background()

	account, err := o.CreateAccount(ctx, CreateAccountOpts{
		OwnerUserID: "morph",
		AgentID:     strptr("agent-1"),
		Platform:    platform.Slack,
		Credentials: map[string]string{"bot_token": "bad"},
	})
	if err != nil {
		t.Fatal(err)
	}
	failing := platform.NewMockClient(platform.Slack)
	failing.ConnectErr = errors.New("auth failed")
	factory.Preset(account.ID, failing)

	report, err := o.ReconcileAccounts(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Failed != 1 || report.Reconnected != 0 {
		t.Errorf("report = %+v", report)
	}
}
