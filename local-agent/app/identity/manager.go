package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fernandofuc/tistis-platform-sub007/syncproto"
)

// ErrNotRegistered is returned when an update needs an identity file that
// has not been written yet
var ErrNotRegistered = errors.New("agent identity not registered")

// Identity is what the agent remembers about its cloud registration
type Identity struct {
	AgentID         string                `json:"agent_id"`
	TenantID        string                `json:"tenant_id"`
	IntegrationID   string                `json:"integration_id"`
	AgentInstanceID string                `json:"agent_instance_id,omitempty"`
	Status          syncproto.AgentStatus `json:"status"`
	SyncConfig      *syncproto.SyncConfig `json:"sync_config,omitempty"`
	RegisteredAt    *time.Time            `json:"registered_at,omitempty"`
}

// Manager persists the identity as a JSON document next to the agent data
type Manager struct {
	path string
	mu   sync.Mutex
}

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Load returns the stored identity, or nil when the agent never registered
func (m *Manager) Load() (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read()
}

// Save replaces the stored identity
func (m *Manager) Save(ident *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.write(ident)
}

// UpdateSyncConfig stores the config most recently pushed by the cloud
func (m *Manager) UpdateSyncConfig(cfg syncproto.SyncConfig) error {
	return m.mutate(func(ident *Identity) { ident.SyncConfig = &cfg })
}

func (m *Manager) mutate(apply func(*Identity)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ident, err := m.read()
	if err != nil {
		return err
	}
	if ident == nil {
		return ErrNotRegistered
	}
	apply(ident)
	return m.write(ident)
}

func (m *Manager) read() (*Identity, error) {
	raw, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read identity %s: %w", m.path, err)
	}

	ident := new(Identity)
	if err := json.Unmarshal(raw, ident); err != nil {
		return nil, fmt.Errorf("decode identity %s: %w", m.path, err)
	}
	return ident, nil
}

// write goes through a temp file so a crash never leaves half a document
func (m *Manager) write(ident *Identity) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	raw, err := json.MarshalIndent(ident, "", "  ")
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("replace identity: %w", err)
	}
	return nil
}
