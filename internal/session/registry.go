// Package session tracks the caption pipelines of connected pages.
//
// Every browser tab that talks to the daemon gets a [Session]: one
// [pipeline.Orchestrator] with its own store and playback clock, bound to a
// [Page] that carries messages to and from the tab. The [Registry] creates
// sessions, looks them up by id, and evicts the ones whose page has gone
// quiet.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/captionflow/internal/observe"
	"github.com/MrWong99/captionflow/internal/pipeline"
	"github.com/MrWong99/captionflow/internal/playback"
	"github.com/MrWong99/captionflow/internal/store"
)

// DefaultIdleTimeout is how long a session may go without page activity
// before it is evicted.
const DefaultIdleTimeout = 10 * time.Minute

// ErrNotFound is returned when no session exists for an id.
var ErrNotFound = errors.New("session: not found")

// Builder returns the pipeline configuration for a new session on the named
// platform. The registry fills in the platform media id query, the source,
// the surface, the clock and the store.
type Builder func(platform string) (pipeline.Config, error)

// Session is one running pipeline instance.
type Session struct {
	ID        string
	Platform  string
	CreatedAt time.Time

	Page         *Page
	Clock        *playback.Feed
	Store        *store.Store
	Orchestrator *pipeline.Orchestrator

	lastSeen atomic.Int64
	cancel   context.CancelFunc
	done     chan struct{}
}

// Touch marks the session as active now.
func (s *Session) Touch() { s.lastSeen.Store(time.Now().UnixNano()) }

// LastSeen returns the time of the last [Session.Touch].
func (s *Session) LastSeen() time.Time { return time.Unix(0, s.lastSeen.Load()) }

// Done is closed once the session's pipeline has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Option is a functional option for configuring a [Registry].
type Option func(*Registry)

// WithIdleTimeout sets the eviction threshold. Zero or negative disables
// eviction.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.idleTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Registry) {
		if m != nil {
			r.metrics = m
		}
	}
}

// Registry owns all sessions. All methods are safe for concurrent use.
type Registry struct {
	build       Builder
	idleTimeout time.Duration
	logger      *slog.Logger
	metrics     *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry that assembles pipelines with build.
func NewRegistry(build Builder, opts ...Option) *Registry {
	r := &Registry{
		build:       build,
		idleTimeout: DefaultIdleTimeout,
		logger:      slog.Default(),
		metrics:     observe.DefaultMetrics(),
		sessions:    make(map[string]*Session),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Create starts a new session for platform with the page currently showing
// mediaID (which may be empty).
func (r *Registry) Create(platform, mediaID string) (*Session, error) {
	id := uuid.NewString()
	logger := r.logger.With("session_id", id, "platform", platform)

	cfg, err := r.build(platform)
	if err != nil {
		return nil, fmt.Errorf("session: build pipeline: %w", err)
	}

	page := newPage(mediaID, logger)
	s := &Session{
		ID:        id,
		Platform:  platform,
		CreatedAt: time.Now().UTC(),
		Page:      page,
		Clock:     playback.NewFeed(),
		Store:     store.New(id),
		done:      make(chan struct{}),
	}
	cfg.Platform.MediaID = page.MediaID
	cfg.Source = page
	cfg.Surface = page
	cfg.Clock = s.Clock
	cfg.Store = s.Store

	orch, err := pipeline.New(cfg, pipeline.WithLogger(logger), pipeline.WithMetrics(r.metrics))
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	s.Orchestrator = orch
	s.Touch()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	r.metrics.ActiveSessions.Add(ctx, 1)

	go func() {
		defer close(s.done)
		if err := orch.Run(ctx); err != nil {
			logger.Error("session: pipeline stopped", "err", err)
		}
	}()

	logger.Info("session started", "media_id", mediaID)
	return s, nil
}

// Get returns the session with id, or [ErrNotFound].
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close stops the session with id and waits for its pipeline to exit.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	r.stop(s, "closed")
	return nil
}

// CloseAll stops every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range all {
		r.stop(s, "shutdown")
	}
}

// Run evicts idle sessions until ctx is cancelled, then closes all of them.
func (r *Registry) Run(ctx context.Context) {
	defer r.CloseAll()
	if r.idleTimeout <= 0 {
		<-ctx.Done()
		return
	}

	interval := max(r.idleTimeout/4, 10*time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.evict(now)
		}
	}
}

func (r *Registry) evict(now time.Time) {
	var idle []*Session
	r.mu.Lock()
	for id, s := range r.sessions {
		if now.Sub(s.LastSeen()) >= r.idleTimeout {
			idle = append(idle, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, s := range idle {
		r.stop(s, "idle")
	}
}

func (r *Registry) stop(s *Session, reason string) {
	s.cancel()
	<-s.done
	s.Page.close()
	r.metrics.ActiveSessions.Add(context.Background(), -1)
	r.logger.Info("session stopped", "session_id", s.ID, "reason", reason)
}
