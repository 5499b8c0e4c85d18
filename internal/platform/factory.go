package platform

import (
	"fmt"
	"sync"
)

// ClientConfig carries everything a builder needs to construct a client for
// one account.
type ClientConfig struct {
	AccountID   string
	AgentID     string
	Credentials map[string]string // decrypted; nil for session-based variants
	SessionDir  string            // per-account session directory, if session-based
}

// Builder constructs a client for one account.
type Builder func(cfg ClientConfig) (Client, error)

// Factory creates platform clients. The orchestrator resolves a client
// variant through a Factory exactly once per connect.
type Factory interface {
	Create(p Platform, cfg ClientConfig) (Client, error)
}

// Registry is a Factory backed by a builder map. Variants implemented
// outside this repository register themselves at wiring time.
type Registry struct {
	mu       sync.RWMutex
	builders map[Platform]Builder
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[Platform]Builder)}
}

// Register installs a builder for a platform, replacing any previous one.
func (r *Registry) Register(p Platform, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[p] = b
}

// Create builds a client for the platform, or ErrUnsupported when no
// builder is registered.
func (r *Registry) Create(p Platform, cfg ClientConfig) (Client, error) {
	r.mu.RLock()
	b, ok := r.builders[p]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, p)
	}
	client, err := b(cfg)
	if err != nil {
		return nil, fmt.Errorf("platform: create %s client: %w", p, err)
	}
	return client, nil
}
