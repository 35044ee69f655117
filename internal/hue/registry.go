package hue

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry shares initialized sessions between consumers of the same bridge.
// Its lock is the outermost of the session locks.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*registryEntry
}

type registryEntry struct {
	session *Session
	refs    int
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*registryEntry)}
}

func registryKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Lookup returns the initialized session for address.
func (r *Registry) Lookup(address string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[registryKey(address)]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Acquire returns the shared session for opts.Address, creating and
// initializing one when none is registered. Every successful Acquire must be
// paired with Release.
func (r *Registry) Acquire(ctx context.Context, opts Options, transport Transport, publisher Publisher) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.sessions[registryKey(opts.Address)]; ok {
		e.refs++
		return e.session, nil
	}

	s := NewSession(opts, transport, publisher, r)
	if err := s.initialize(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Release drops one reference and uninitializes the session on the last one.
func (r *Registry) Release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[registryKey(s.Address())]
	if !ok || e.session != s {
		return
	}
	e.refs--
	if e.refs > 0 {
		return
	}
	s.uninitialize()
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// registerLocked expects r.mu to be held.
func (r *Registry) registerLocked(s *Session) {
	key := registryKey(s.Address())
	if e, ok := r.sessions[key]; ok {
		if e.session != s {
			log.Warn().Str("bridge", key).Msg("Replacing registered session for bridge")
			e.session = s
			e.refs = 1
		}
		return
	}
	r.sessions[key] = &registryEntry{session: s, refs: 1}
}

// unregisterLocked expects r.mu to be held.
func (r *Registry) unregisterLocked(s *Session) {
	key := registryKey(s.Address())
	if e, ok := r.sessions[key]; ok && e.session == s {
		delete(r.sessions, key)
	}
}
