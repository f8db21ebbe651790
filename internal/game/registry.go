package game

import (
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Registry hosts independent sessions keyed by an opaque handle. Sessions
// never share state with each other.
type Registry struct {
	opts    Options
	idleTTL time.Duration
	log     *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	cron     *cron.Cron
}

// NewRegistry uses opts as the template for every session it starts. Each
// session gets its own random source unless opts.Rand is set, which only
// tests should do.
func NewRegistry(opts Options, idleTTL time.Duration) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts.Logger = logger
	return &Registry{
		opts:     opts,
		idleTTL:  idleTTL,
		log:      logger,
		sessions: make(map[string]*Session),
	}
}

// Start creates a session for displayName and returns it.
func (r *Registry) Start(displayName string) (*Session, error) {
	opts := r.opts
	if opts.Rand == nil {
		opts.Rand = mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
	}
	handle := uuid.NewString()
	s, err := NewSession(handle, displayName, opts)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[handle] = s
	count := len(r.sessions)
	r.mu.Unlock()

	r.log.Info("session started", "session", handle, "player", s.player.ID, "sessions", count)
	return s, nil
}

// Catalog is the coin list every session in this registry trades.
func (r *Registry) Catalog() []Asset {
	if len(r.opts.Catalog) == 0 {
		return DefaultCatalog()
	}
	return slices.Clone(r.opts.Catalog)
}

func (r *Registry) Get(handle string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[handle]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, handle)
	}
	return s, nil
}

func (r *Registry) Remove(handle string) error {
	r.mu.Lock()
	s, ok := r.sessions[handle]
	delete(r.sessions, handle)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, handle)
	}
	s.Close()
	r.log.Info("session removed", "session", handle)
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep closes sessions nobody has touched for the idle TTL and nobody is
// streaming. It returns how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	if r.idleTTL <= 0 {
		return 0
	}
	r.mu.Lock()
	var stale []*Session
	for handle, s := range r.sessions {
		lastSeen, streaming := s.idleSince()
		if streaming || now.Sub(lastSeen) < r.idleTTL {
			continue
		}
		delete(r.sessions, handle)
		stale = append(stale, s)
	}
	r.mu.Unlock()

	for _, s := range stale {
		s.Close()
	}
	return len(stale)
}

// StartSweeper schedules Sweep on a cron schedule such as "@every 1m".
func (r *Registry) StartSweeper(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if n := r.Sweep(time.Now()); n > 0 {
			r.log.Info("idle sessions swept", "removed", n, "remaining", r.Len())
		}
	}); err != nil {
		return fmt.Errorf("register session sweep: %w", err)
	}
	r.mu.Lock()
	r.cron = c
	r.mu.Unlock()
	c.Start()
	r.log.Info("session sweeper started", "schedule", schedule, "idle_ttl", r.idleTTL.String())
	return nil
}

// Close stops the sweeper and every session.
func (r *Registry) Close() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	for _, s := range sessions {
		s.Close()
	}
}
