package database

import (
	"context"
	"sync"
)

type scopeKey struct{}

// scope identifies one unit of work. Its pointer is the registry key.
type scope struct{ _ byte }

// Registry hands out one Session per scope: a request, a task, the shell.
// Contexts without a scope share the registry's default scope.
type Registry struct {
	engine *Engine

	mu       sync.Mutex
	sessions map[*scope]*Session
	fallback *scope
}

// NewRegistry returns a registry of sessions over e.
func NewRegistry(e *Engine) *Registry {
	return &Registry{
		engine:   e,
		sessions: make(map[*scope]*Session),
		fallback: &scope{},
	}
}

// NewScope returns a context carrying a fresh scope.
func NewScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, scopeKey{}, &scope{})
}

// HasScope reports whether ctx carries a scope.
func HasScope(ctx context.Context) bool {
	_, ok := ctx.Value(scopeKey{}).(*scope)
	return ok
}

func (r *Registry) scopeOf(ctx context.Context) *scope {
	if sc, ok := ctx.Value(scopeKey{}).(*scope); ok {
		return sc
	}
	return r.fallback
}

// Engine returns the engine sessions are created on.
func (r *Registry) Engine() *Engine { return r.engine }

// Session returns the session of ctx's scope, creating it on first use.
func (r *Registry) Session(ctx context.Context) *Session {
	sc := r.scopeOf(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sc]
	if !ok {
		s = r.engine.NewSession()
		r.sessions[sc] = s
	}
	return s
}

// Lookup returns the session of ctx's scope without creating one.
func (r *Registry) Lookup(ctx context.Context) (*Session, bool) {
	sc := r.scopeOf(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sc]
	return s, ok
}

// Remove closes the session of ctx's scope, rolling back whatever was not
// committed, and forgets it.
func (r *Registry) Remove(ctx context.Context) error {
	sc := r.scopeOf(ctx)
	r.mu.Lock()
	s, ok := r.sessions[sc]
	delete(r.sessions, sc)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return s.Close()
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close removes every session.
func (r *Registry) Close() error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[*scope]*Session)
	r.mu.Unlock()

	var first error
	for _, s := range sessions {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
