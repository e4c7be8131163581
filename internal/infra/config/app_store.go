package config

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/coachpo/arbwatch/internal/domain/schema"
)

// AppConfigStore holds the canonical configuration and persists changes via a callback.
type AppConfigStore struct {
	mu      sync.RWMutex
	cfg     AppConfig
	persist func(AppConfig) error
}

// NewAppConfigStore constructs a configuration store seeded with the supplied snapshot.
func NewAppConfigStore(initial AppConfig, persist func(AppConfig) error) (*AppConfigStore, error) {
	clone := initial.Clone()
	if err := clone.normalise(); err != nil {
		return nil, err
	}
	if err := clone.Validate(); err != nil {
		return nil, err
	}
	return &AppConfigStore{cfg: clone, persist: persist}, nil
}

// FilePersister returns a persist callback writing YAML to path.
func FilePersister(path string) func(AppConfig) error {
	return func(cfg AppConfig) error { return Save(path, cfg) }
}

// Snapshot returns a deep copy of the current configuration.
func (s *AppConfigStore) Snapshot() AppConfig {
	if s == nil {
		return DefaultAppConfig()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Scope returns a copy of the scope with id.
func (s *AppConfigStore) Scope(id string) (ScopeConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc := s.cfg.Scope(id)
	if sc == nil {
		return ScopeConfig{}, false
	}
	return sc.Clone(), true
}

// SetScope inserts or replaces one scope and returns its normalised form.
func (s *AppConfigStore) SetScope(scope ScopeConfig) (ScopeConfig, error) {
	normalized := scope.Clone()
	normalized.Normalise()
	if err := normalized.Validate(); err != nil {
		return ScopeConfig{}, err
	}
	err := s.update(func(cfg *AppConfig) {
		if existing := cfg.Scope(normalized.ID); existing != nil {
			*existing = normalized
			return
		}
		cfg.Scopes = append(cfg.Scopes, normalized)
	})
	if err != nil {
		return ScopeConfig{}, err
	}
	return normalized.Clone(), nil
}

// SetActiveScope records which scope is active.
func (s *AppConfigStore) SetActiveScope(id string) error {
	if _, ok := s.Scope(id); !ok {
		return fmt.Errorf("scope %q is not configured", id)
	}
	return s.update(func(cfg *AppConfig) { cfg.ActiveScope = id })
}

// Replace swaps the entire configuration snapshot.
func (s *AppConfigStore) Replace(cfg AppConfig) error {
	return s.update(func(current *AppConfig) { *current = cfg.Clone() })
}

func (s *AppConfigStore) update(mutate func(*AppConfig)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := s.cfg.Clone()
	mutate(&updated)
	if err := updated.normalise(); err != nil {
		return err
	}
	if err := updated.Validate(); err != nil {
		return err
	}
	if reflect.DeepEqual(s.cfg, updated) {
		return nil
	}
	if s.persist != nil {
		if err := s.persist(updated.Clone()); err != nil {
			return err
		}
	}
	s.cfg = updated
	return nil
}

// Credentials returns a copy of the configured credential references.
func (s *AppConfigStore) Credentials() []schema.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]schema.Credential(nil), s.cfg.Credentials...)
}
