// Package orchestrator owns the live platform clients: one per account,
// registered in a process-wide registry, with lifecycle operations, startup
// reconciliation, and event fan-out to the message router.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/platform"
	"github.com/zulandar/switchboard/internal/vault"
	"gorm.io/gorm"
)

// Sentinel errors surfaced by orchestrator operations.
var (
	ErrAccountNotFound     = errors.New("orchestrator: account not found")
	ErrCredentialsRequired = errors.New("orchestrator: credentials required")
	ErrAccountNotConnected = errors.New("orchestrator: account not connected")
)

// DefaultGracefulTimeout is the ceiling a graceful DisconnectAll waits for
// the whole batch before abandoning stragglers.
const DefaultGracefulTimeout = 10 * time.Second

// eventBuffer is the capacity of the fan-out channel.
const eventBuffer = 256

// Event is a client event annotated with the owning account, agent, and
// platform.
type Event struct {
	platform.Event
	AccountID string
	AgentID   string
	Platform  platform.Platform
}

// Orchestrator is the process-wide connection registry. Construct one
// instance with New and pass it by reference to dependents.
type Orchestrator struct {
	db              *gorm.DB
	vault           *vault.Vault
	factory         platform.Factory
	sessionDir      string
	gracefulTimeout time.Duration
	out             io.Writer

	mu       sync.Mutex
	clients  map[string]platform.Client // accountID → live client
	agents   map[string][]string        // agentID → accountIDs with live clients
	statuses map[string]string          // accountID → in-memory status
	locks    map[string]*sync.Mutex     // accountID → connect/disconnect serialization

	events chan Event
}

// OrchestratorOpts holds parameters for creating an Orchestrator.
type OrchestratorOpts struct {
	DB              *gorm.DB
	Vault           *vault.Vault
	Factory         platform.Factory
	SessionDir      string        // root of per-account session directories
	GracefulTimeout time.Duration // defaults to DefaultGracefulTimeout
	Out             io.Writer     // defaults to os.Stdout
}

// New creates an Orchestrator.
func New(opts OrchestratorOpts) (*Orchestrator, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("orchestrator: db is required")
	}
	if opts.Vault == nil {
		return nil, fmt.Errorf("orchestrator: vault is required")
	}
	if opts.Factory == nil {
		return nil, fmt.Errorf("orchestrator: factory is required")
	}
	timeout := opts.GracefulTimeout
	if timeout <= 0 {
		timeout = DefaultGracefulTimeout
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Orchestrator{
		db:              opts.DB,
		vault:           opts.Vault,
		factory:         opts.Factory,
		sessionDir:      opts.SessionDir,
		gracefulTimeout: timeout,
		out:             out,
		clients:         make(map[string]platform.Client),
		agents:          make(map[string][]string),
		statuses:        make(map[string]string),
		locks:           make(map[string]*sync.Mutex),
		events:          make(chan Event, eventBuffer),
	}, nil
}

// Events returns the orchestrator's fan-out channel. Events from one client
// arrive in emission order; there is no ordering guarantee across clients.
// The channel is never closed; consumers exit via their own context.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// lockFor returns the per-account mutex, creating it on first use. Connect
// and Disconnect for the same account are serialized through it, so an
// overlapping Connect observes a fully settled forced disconnect.
func (o *Orchestrator) lockFor(accountID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[accountID] = l
	}
	return l
}

// Connect loads the account, constructs its platform client, and connects
// it. If a client is already registered for the account it is fully
// disconnected first (forced reconnect). The client is registered and event
// forwarding is wired before the underlying connect is awaited, so
// interactive-auth side channels can find the in-flight client. A connect
// failure rolls back the registration and is returned to the caller.
func (o *Orchestrator) Connect(ctx context.Context, accountID string, opts platform.ConnectOptions) error {
	l := o.lockFor(accountID)
	l.Lock()
	defer l.Unlock()

	var account models.PlatformAccount
	if err := o.db.First(&account, "id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
		}
		return fmt.Errorf("orchestrator: load account %s: %w", accountID, err)
	}

	// Forced reconnect: drop the existing client first.
	if _, ok := o.clientFor(accountID); ok {
		if err := o.disconnect(ctx, accountID); err != nil {
			log.Printf("orchestrator: forced disconnect %s: %v", accountID, err)
		}
	}

	p := platform.Platform(account.Platform)
	caps, err := platform.Describe(p)
	if err != nil {
		return err
	}

	cfg := platform.ClientConfig{
		AccountID:  accountID,
		SessionDir: o.accountSessionDir(accountID),
	}
	if account.AgentID != nil {
		cfg.AgentID = *account.AgentID
	}
	if caps.RequiresCredentials {
		if account.EncryptedCredentials == nil {
			return fmt.Errorf("%w: %s account %s", ErrCredentialsRequired, account.Platform, accountID)
		}
		creds, err := o.decryptCredentials(*account.EncryptedCredentials)
		if err != nil {
			return err
		}
		cfg.Credentials = creds
	}

	client, err := o.factory.Create(p, cfg)
	if err != nil {
		return err
	}

	o.setPersistedStatus(accountID, models.StatusConnecting)

	// Register before awaiting connect.
	agentID := cfg.AgentID
	o.register(accountID, agentID, client)
	go o.forward(client, accountID, agentID, p)

	if err := client.Connect(ctx, opts); err != nil {
		o.unregister(accountID)
		bctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if derr := client.Disconnect(bctx, false); derr != nil {
			log.Printf("orchestrator: cleanup disconnect %s: %v", accountID, derr)
		}
		cancel()
		o.setPersistedStatus(accountID, models.StatusError)
		return fmt.Errorf("orchestrator: connect %s: %w", accountID, err)
	}

	o.setStatus(accountID, models.StatusConnected)
	o.setPersistedStatus(accountID, models.StatusConnected)
	fmt.Fprintf(o.out, "orchestrator: connected %s (%s)\n", accountID, account.Platform)
	return nil
}

// Disconnect disconnects and unregisters the account's client. No-op when
// no client is registered.
func (o *Orchestrator) Disconnect(ctx context.Context, accountID string) error {
	l := o.lockFor(accountID)
	l.Lock()
	defer l.Unlock()
	return o.disconnect(ctx, accountID)
}

// disconnect does the actual work; the caller holds the per-account lock.
// The registry entry is removed before the client's disconnect is awaited.
func (o *Orchestrator) disconnect(ctx context.Context, accountID string) error {
	o.mu.Lock()
	client, ok := o.clients[accountID]
	if !ok {
		o.mu.Unlock()
		return nil
	}
	delete(o.clients, accountID)
	delete(o.statuses, accountID)
	o.removeFromAgentsLocked(accountID)
	o.mu.Unlock()

	o.setPersistedStatus(accountID, models.StatusDisconnected)
	if err := client.Disconnect(ctx, false); err != nil {
		return fmt.Errorf("orchestrator: disconnect %s: %w", accountID, err)
	}
	fmt.Fprintf(o.out, "orchestrator: disconnected %s\n", accountID)
	return nil
}

// DisconnectAll disconnects every registered client concurrently. In
// graceful mode the batch races a fixed ceiling; clients still pending when
// it fires are abandoned. The registry is cleared unconditionally.
func (o *Orchestrator) DisconnectAll(ctx context.Context, graceful bool) {
	o.mu.Lock()
	snapshot := make(map[string]platform.Client, len(o.clients))
	for id, c := range o.clients {
		snapshot[id] = c
	}
	o.clients = make(map[string]platform.Client)
	o.agents = make(map[string][]string)
	o.statuses = make(map[string]string)
	o.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}

	dctx := ctx
	var cancel context.CancelFunc
	if graceful {
		dctx, cancel = context.WithTimeout(ctx, o.gracefulTimeout)
		defer cancel()
	}

	var wg sync.WaitGroup
	for id, client := range snapshot {
		wg.Add(1)
		go func(id string, c platform.Client) {
			defer wg.Done()
			if err := c.Disconnect(dctx, graceful); err != nil {
				log.Printf("orchestrator: disconnect %s: %v", id, err)
			}
			o.setPersistedStatus(id, models.StatusDisconnected)
		}(id, client)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	if graceful {
		select {
		case <-done:
		case <-time.After(o.gracefulTimeout):
			fmt.Fprintf(o.out, "orchestrator: graceful shutdown ceiling hit, abandoning stragglers\n")
		}
		return
	}
	<-done
}

// SendMessage dispatches an outbound message through the account's live
// client, using the media capability when the options carry media. Fails
// with ErrAccountNotConnected when no client is registered.
func (o *Orchestrator) SendMessage(ctx context.Context, accountID, to, content string, opts platform.SendOptions) (*platform.SendResult, error) {
	client, ok := o.clientFor(accountID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotConnected, accountID)
	}
	if opts.Media != nil {
		if ms, ok := client.(platform.MediaSender); ok {
			res, err := ms.SendMedia(ctx, to, *opts.Media, opts)
			if err != nil {
				return nil, fmt.Errorf("orchestrator: send media via %s: %w", accountID, err)
			}
			return res, nil
		}
	}
	res, err := client.SendMessage(ctx, to, content, opts)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: send via %s: %w", accountID, err)
	}
	return res, nil
}

// SendTyping surfaces a typing indicator through the account's client.
// Silently no-ops when the account has no live client or the variant does
// not support typing.
func (o *Orchestrator) SendTyping(ctx context.Context, accountID, to string, duration time.Duration) {
	client, ok := o.clientFor(accountID)
	if !ok {
		return
	}
	ts, ok := client.(platform.TypingSender)
	if !ok {
		return
	}
	if err := ts.SendTyping(ctx, to, duration); err != nil {
		log.Printf("orchestrator: send typing %s: %v", accountID, err)
	}
}

// ClientFor returns the live client for an account, if any.
func (o *Orchestrator) ClientFor(accountID string) (platform.Client, bool) {
	return o.clientFor(accountID)
}

// AgentClients returns the live clients for every account of an agent.
func (o *Orchestrator) AgentClients(agentID string) map[string]platform.Client {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]platform.Client)
	for _, id := range o.agents[agentID] {
		if c, ok := o.clients[id]; ok {
			out[id] = c
		}
	}
	return out
}

// AccountStatus returns the in-memory status of an account's live client,
// or disconnected when none is registered. Persisted status is not
// consulted.
func (o *Orchestrator) AccountStatus(accountID string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.statuses[accountID]; ok {
		return s
	}
	return models.StatusDisconnected
}

// ConnectedAccounts returns the ids of every account whose live client is
// currently connected.
func (o *Orchestrator) ConnectedAccounts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []string
	for id, s := range o.statuses {
		if s == models.StatusConnected {
			out = append(out, id)
		}
	}
	return out
}

// --- registry internals ---

func (o *Orchestrator) clientFor(accountID string) (platform.Client, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.clients[accountID]
	return c, ok
}

func (o *Orchestrator) register(accountID, agentID string, client platform.Client) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.clients[accountID] = client
	o.statuses[accountID] = models.StatusConnecting
	if agentID != "" {
		o.agents[agentID] = append(o.agents[agentID], accountID)
	}
}

func (o *Orchestrator) unregister(accountID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.clients, accountID)
	delete(o.statuses, accountID)
	o.removeFromAgentsLocked(accountID)
}

// removeFromAgentsLocked removes the account id from every agent's list.
// Caller holds o.mu.
func (o *Orchestrator) removeFromAgentsLocked(accountID string) {
	for agentID, ids := range o.agents {
		kept := ids[:0]
		for _, id := range ids {
			if id != accountID {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			delete(o.agents, agentID)
		} else {
			o.agents[agentID] = kept
		}
	}
}

func (o *Orchestrator) setStatus(accountID, status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.clients[accountID]; ok {
		o.statuses[accountID] = status
	}
}

// setPersistedStatus updates the account row's status. Best-effort: a
// persistence failure here never fails the lifecycle operation.
func (o *Orchestrator) setPersistedStatus(accountID, status string) {
	if err := o.db.Model(&models.PlatformAccount{}).
		Where("id = ?", accountID).Update("status", status).Error; err != nil {
		log.Printf("orchestrator: persist status %s=%s: %v", accountID, status, err)
	}
}

// forward copies one client's events onto the orchestrator channel,
// annotated with account and agent ids. Per-client order is preserved. The
// goroutine exits when the client closes its event stream.
func (o *Orchestrator) forward(client platform.Client, accountID, agentID string, p platform.Platform) {
	for ev := range client.Events() {
		if ev.Type == platform.EventStatusChange {
			o.setStatus(accountID, ev.Status)
			o.setPersistedStatus(accountID, ev.Status)
		}
		o.events <- Event{Event: ev, AccountID: accountID, AgentID: agentID, Platform: p}
	}
}

// decryptCredentials decrypts and unmarshals a stored credential blob.
func (o *Orchestrator) decryptCredentials(token string) (map[string]string, error) {
	plaintext, err := o.vault.Decrypt(token)
	if err != nil {
		return nil, err
	}
	var creds map[string]string
	if err := json.Unmarshal([]byte(plaintext), &creds); err != nil {
		return nil, fmt.Errorf("orchestrator: unmarshal credentials: %w", err)
	}
	return creds, nil
}

// accountSessionDir returns the per-account session directory, or empty
// when no session root is configured.
func (o *Orchestrator) accountSessionDir(accountID string) string {
	if o.sessionDir == "" {
		return ""
	}
	return filepath.Join(o.sessionDir, accountID)
}
