package platform

import "sync"

// MockFactory implements Factory for testing. It hands out MockClients and
// remembers them by account id so tests can drive their event streams.
type MockFactory struct {
	mu      sync.Mutex
	clients map[string]*MockClient
	preset  map[string]*MockClient
	created []*MockClient
	// CreateErr, when set, is returned by Create.
	CreateErr error
}

// NewMockFactory creates an empty MockFactory.
func NewMockFactory() *MockFactory {
	return &MockFactory{
		clients: make(map[string]*MockClient),
		preset:  make(map[string]*MockClient),
	}
}

// Preset installs a pre-configured client to hand out for an account id
// (for example one with ConnectErr or DisconnectBlocks set).
func (f *MockFactory) Preset(accountID string, client *MockClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preset[accountID] = client
}

// Create returns the preset client for the account, or a fresh MockClient.
func (f *MockFactory) Create(p Platform, cfg ClientConfig) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	client, ok := f.preset[cfg.AccountID]
	if !ok {
		client = NewMockClient(p)
	}
	f.clients[cfg.AccountID] = client
	f.created = append(f.created, client)
	return client, nil
}

// ClientFor returns the most recently created client for an account.
func (f *MockFactory) ClientFor(accountID string) (*MockClient, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.clients[accountID]
	return c, ok
}

// CreatedCount returns how many clients have been created.
func (f *MockFactory) CreatedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

// Created returns every client handed out, in creation order.
func (f *MockFactory) Created() []*MockClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*MockClient, len(f.created))
	copy(out, f.created)
	return out
}
