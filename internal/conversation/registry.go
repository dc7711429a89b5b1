// Package conversation owns the per-session conversational state: the
// session registry, the per-session turn queue, bounded history and
// reference resolution.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/ledgerchat/internal/domain"
)

// DefaultHistoryWindow is the number of messages kept per session.
const DefaultHistoryWindow = 50

// Store is the optional persistence collaborator. Load returns nil, nil for
// unknown keys.
type Store interface {
	Load(ctx context.Context, key string) (*domain.Session, error)
	Save(ctx context.Context, s *domain.Session) error
}

// entry is the registry's slot for one key. turn holds a single token;
// goroutines blocked receiving from it are served in the order they
// arrived, which gives each session a FIFO turn queue.
type entry struct {
	session  *domain.Session
	turn     chan struct{}
	refs     int
	lastUsed time.Time
}

// Registry is the only structure shared across sessions. Each session is
// mutated by at most one turn at a time, in arrival order.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry

	store  Store
	window int
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithStore persists sessions after every turn and reloads them on first use.
func WithStore(s Store) Option {
	return func(r *Registry) { r.store = s }
}

// WithHistoryWindow sets the number of retained messages.
func WithHistoryWindow(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.window = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		window:  DefaultHistoryWindow,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Window returns the history retention window.
func (r *Registry) Window() int {
	return r.window
}

// Now returns the registry clock's current time.
func (r *Registry) Now() time.Time {
	return r.now()
}

func (r *Registry) acquire(key string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{turn: make(chan struct{}, 1)}
		e.turn <- struct{}{}
		r.entries[key] = e
	}
	e.refs++
	return e
}

func (r *Registry) release(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	e.lastUsed = r.now()
}

// Do runs fn as the next turn of the session for key, creating the session
// (or reloading it from the store) on first use. Turns for the same key run
// one at a time in arrival order; turns for different keys run concurrently.
// owner binds a wallet address to a session that has none yet.
func (r *Registry) Do(ctx context.Context, key, owner string, fn func(*domain.Session) error) error {
	if key == "" {
		return fmt.Errorf("%w: empty session key", domain.ErrInvariant)
	}
	e := r.acquire(key)
	defer r.release(e)

	select {
	case <-e.turn:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { e.turn <- struct{}{} }()

	if e.session == nil {
		s, err := r.load(ctx, key)
		if err != nil {
			return err
		}
		if s == nil {
			s = domain.NewSession(key, owner, r.now())
			r.logger.Info("session created", "session_key", key)
		}
		e.session = s
	}
	if e.session.Owner == "" && owner != "" {
		e.session.Owner = owner
	}

	err := fn(e.session)
	e.session.UpdatedAt = r.now()
	r.persist(ctx, e.session)
	return err
}

// GetOrCreate returns a snapshot of the session for key, creating it if
// needed. The snapshot is a copy; mutate sessions only through Do.
func (r *Registry) GetOrCreate(ctx context.Context, key, owner string) (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := r.Do(ctx, key, owner, func(s *domain.Session) error {
		snap = s.Snapshot()
		return nil
	})
	return snap, err
}

// Peek returns a snapshot of an existing session without creating one.
func (r *Registry) Peek(ctx context.Context, key string) (domain.Snapshot, error) {
	if !r.exists(ctx, key) {
		return domain.Snapshot{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, key)
	}
	return r.GetOrCreate(ctx, key, "")
}

// Clear discards the context and pending action of an existing session.
func (r *Registry) Clear(ctx context.Context, key string) error {
	if !r.exists(ctx, key) {
		return fmt.Errorf("%w: %s", domain.ErrSessionNotFound, key)
	}
	return r.Do(ctx, key, "", func(s *domain.Session) error {
		s.Reset(r.now())
		r.logger.Info("session cleared", "session_key", key)
		return nil
	})
}

// Evict drops an idle session from memory after persisting it. It reports
// false when the session is in use or unknown.
func (r *Registry) Evict(ctx context.Context, key string) bool {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok || e.refs > 0 {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, key)
	r.mu.Unlock()

	if e.session != nil {
		r.persist(ctx, e.session)
	}
	r.logger.Debug("session evicted", "session_key", key)
	return true
}

// Len returns the number of sessions held in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// idle returns the keys of unused sessions last touched before cutoff.
func (r *Registry) idle(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []string
	for key, e := range r.entries {
		if e.refs == 0 && e.lastUsed.Before(cutoff) {
			keys = append(keys, key)
		}
	}
	return keys
}

func (r *Registry) exists(ctx context.Context, key string) bool {
	r.mu.Lock()
	_, ok := r.entries[key]
	r.mu.Unlock()
	if ok {
		return true
	}
	s, err := r.load(ctx, key)
	return err == nil && s != nil
}

func (r *Registry) load(ctx context.Context, key string) (*domain.Session, error) {
	if r.store == nil {
		return nil, nil
	}
	s, err := r.store.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", key, err)
	}
	return s, nil
}

func (r *Registry) persist(ctx context.Context, s *domain.Session) {
	if r.store == nil {
		return
	}
	if err := r.store.Save(context.WithoutCancel(ctx), s); err != nil {
		r.logger.Warn("failed to persist session", "session_key", s.Key, "error", err)
	}
}
