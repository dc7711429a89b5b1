// Package store provides session persistence interfaces and implementations.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ashureev/ledgerchat/internal/config"
	"github.com/ashureev/ledgerchat/internal/domain"
)

// SessionStore persists chat sessions so they survive eviction from memory
// and process restarts.
type SessionStore interface {
	// Load returns the session for key, or nil, nil when none is stored.
	Load(ctx context.Context, key string) (*domain.Session, error)

	// Save creates or replaces the stored session.
	Save(ctx context.Context, s *domain.Session) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend connection.
	Close() error
}

// New opens the backend selected by cfg. The memory backend has no store
// and returns nil, nil: sessions then live only in the registry.
func New(cfg *config.Config) (SessionStore, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		return nil, nil
	case config.StoreSQLite:
		s, err := NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.StoreRedis:
		s, err := NewRedis(context.Background(), cfg.Redis)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func encodeSession(s *domain.Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.Key, err)
	}
	return data, nil
}

func decodeSession(key string, data []byte) (*domain.Session, error) {
	var s domain.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", key, err)
	}
	if s.Key == "" {
		s.Key = key
	}
	return &s, nil
}
