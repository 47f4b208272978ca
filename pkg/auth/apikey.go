// Package auth guards the ingest endpoint with API keys.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Permissions understood by the ingest endpoint
const (
	PermissionIngest = "ingest"
	PermissionHealth = "health"
)

var (
	ErrMissingKey = errors.New("missing API key")
	ErrInvalidKey = errors.New("invalid API key")
	ErrExpiredKey = errors.New("API key has expired")
)

// APIKey represents an API key with its permissions
type APIKey struct {
	ID          string     `json:"id" yaml:"id"`
	Secret      string     `json:"-" yaml:"secret"`
	Permissions []string   `json:"permissions" yaml:"permissions"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Name        string     `json:"name" yaml:"name"`
}

// IsExpired checks if the API key has expired
func (k *APIKey) IsExpired() bool {
	return k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt)
}

// HasPermission checks if the API key has a specific permission
func (k *APIKey) HasPermission(permission string) bool {
	return slices.Contains(k.Permissions, permission)
}

// KeyConfig is the configuration form of an API key
type KeyConfig struct {
	ID          string   `yaml:"id"`
	Secret      string   `yaml:"secret"`
	Permissions []string `yaml:"permissions"`
	ExpiresAt   string   `yaml:"expires_at,omitempty"` // RFC3339
	Name        string   `yaml:"name"`
}

// Manager holds API keys
type Manager struct {
	keys map[string]*APIKey // key ID -> API key
	mu   sync.RWMutex
}

// NewManager creates a new API key manager
func NewManager() *Manager {
	return &Manager{keys: make(map[string]*APIKey)}
}

// AddKey adds or replaces an API key
func (m *Manager) AddKey(key *APIKey) error {
	if key.ID == "" {
		return errors.New("API key ID cannot be empty")
	}
	if key.Secret == "" {
		return errors.New("API key secret cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key.ID] = key
	return nil
}

// RemoveKey removes an API key
func (m *Manager) RemoveKey(keyID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, keyID)
}

// Len returns the number of keys
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys)
}

// Validate returns the key owning secret. Every stored secret is compared in
// constant time.
func (m *Manager) Validate(secret string) (*APIKey, error) {
	if secret == "" {
		return nil, ErrMissingKey
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *APIKey
	for _, key := range m.keys {
		if subtle.ConstantTimeCompare([]byte(key.Secret), []byte(secret)) == 1 {
			found = key
		}
	}
	switch {
	case found == nil:
		return nil, ErrInvalidKey
	case found.IsExpired():
		return nil, ErrExpiredKey
	}
	return found, nil
}

// LoadKeys adds configured keys
func (m *Manager) LoadKeys(configs []KeyConfig) error {
	for _, cfg := range configs {
		var expiresAt *time.Time
		if cfg.ExpiresAt != "" {
			t, err := time.Parse(time.RFC3339, cfg.ExpiresAt)
			if err != nil {
				return fmt.Errorf("invalid expiration time for key %s: %w", cfg.ID, err)
			}
			expiresAt = &t
		}

		key := &APIKey{
			ID:          cfg.ID,
			Secret:      cfg.Secret,
			Permissions: slices.Clone(cfg.Permissions),
			ExpiresAt:   expiresAt,
			Name:        cfg.Name,
		}
		if err := m.AddKey(key); err != nil {
			return fmt.Errorf("failed to add key %s: %w", cfg.ID, err)
		}
	}
	return nil
}

// GenerateAPIKey generates a new API key with a random secret
func GenerateAPIKey(name string, permissions []string, expiresAt *time.Time) (*APIKey, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate random secret: %w", err)
	}
	id := make([]byte, 8)
	if _, err := rand.Read(id); err != nil {
		return nil, fmt.Errorf("failed to generate random ID: %w", err)
	}

	return &APIKey{
		ID:          hex.EncodeToString(id),
		Secret:      hex.EncodeToString(secret),
		Permissions: slices.Clone(permissions),
		ExpiresAt:   expiresAt,
		Name:        name,
	}, nil
}
