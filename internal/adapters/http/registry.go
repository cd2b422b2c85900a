package web

import (
	"sync"
	"time"

	"studiobook/internal/application/orchestrators"
)

// idleExpiry is how long an untouched checkout stays resumable. The
// backend holds nothing for an open checkout, so expiry only reclaims
// memory; an expired id simply reads as gone.
const idleExpiry = 30 * time.Minute

type registryEntry struct {
	session  *orchestrators.Session
	lastSeen time.Time
}

// Registry is the in-memory index of live checkout sessions, keyed by
// session id.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
}

// NewRegistry creates a registry and starts its expiry sweep.
func NewRegistry() *Registry {
	reg := &Registry{entries: make(map[string]*registryEntry)}
	go func() {
		for {
			time.Sleep(time.Minute)
			reg.sweep()
		}
	}()
	return reg
}

// Put indexes a freshly opened session under its own id.
func (reg *Registry) Put(s *orchestrators.Session) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.entries[s.ID()] = &registryEntry{session: s, lastSeen: time.Now()}
}

// Get returns the session for an id and refreshes its idle timer.
// POST: Returns false for unknown or expired ids
func (reg *Registry) Get(id string) (*orchestrators.Session, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	e, ok := reg.entries[id]
	if !ok {
		return nil, false
	}
	if time.Since(e.lastSeen) > idleExpiry {
		delete(reg.entries, id)
		return nil, false
	}
	e.lastSeen = time.Now()
	return e.session, true
}

// Delete removes a session from the index.
func (reg *Registry) Delete(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.entries, id)
}

// sweep drops idle entries and finished sessions that were never re-read.
func (reg *Registry) sweep() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for id, e := range reg.entries {
		if time.Since(e.lastSeen) > idleExpiry {
			delete(reg.entries, id)
		}
	}
}
