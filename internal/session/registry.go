package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/npezzotti/go-chatserver/internal/stats"
	"github.com/npezzotti/go-chatserver/internal/types"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned by Get for an unknown or expired token.
var ErrNotFound = errors.New("session not found")

const sweepInterval = time.Minute

// Registry issues and tracks sessions. Expired sessions are removed by a
// background sweeper; Get also rejects them eagerly so a token cannot be
// used in the window between expiry and the next sweep.
type Registry struct {
	ttl   time.Duration
	log   *zerolog.Logger
	stats stats.StatsProvider

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(ttl time.Duration, logger *zerolog.Logger, sp stats.StatsProvider) *Registry {
	return &Registry{
		ttl:      ttl,
		log:      logger,
		stats:    sp,
		sessions: make(map[string]*Session),
	}
}

// Create issues a fresh session for user and returns it with its token set.
func (r *Registry) Create(user types.User) (*Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	s := &Session{
		Token:     token,
		User:      user,
		expiresAt: time.Now().Add(r.ttl),
	}

	r.mu.Lock()
	r.sessions[token] = s
	r.mu.Unlock()

	r.stats.Incr(stats.ActiveSessions)
	r.log.Debug().Str("user", user.Username).Msg("session created")
	return s, nil
}

// Get resolves a token to a live session. Expired tokens are rejected here
// as well so the sweep interval never extends a session's effective life.
func (r *Registry) Get(token string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[token]
	r.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if s.expired(time.Now()) {
		r.Remove(token)
		return nil, ErrNotFound
	}

	return s, nil
}

func (r *Registry) Remove(token string) {
	r.mu.Lock()
	_, ok := r.sessions[token]
	if ok {
		delete(r.sessions, token)
	}
	r.mu.Unlock()

	if ok {
		r.stats.Decr(stats.ActiveSessions)
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Run sweeps expired sessions until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	now := time.Now()

	r.mu.Lock()
	var expired []string
	for token, s := range r.sessions {
		if s.expired(now) {
			expired = append(expired, token)
		}
	}
	for _, token := range expired {
		delete(r.sessions, token)
	}
	r.mu.Unlock()

	for range expired {
		r.stats.Decr(stats.ActiveSessions)
	}
	if len(expired) > 0 {
		r.log.Debug().Int("count", len(expired)).Msg("swept expired sessions")
	}
}
