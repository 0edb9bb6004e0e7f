package ws

import (
	"sync"

	"github.com/tronbyt/server/internal/logging"
)

// Registry enforces the one-session-per-device invariant. Registering a
// session for a device that already has one cancels the prior session and
// waits for its loops to finish before installing the new one, so two
// sessions never race on the same device's frame stream or cursor.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register installs the session, superseding any active one
func (r *Registry) Register(s *Session) {
	for {
		r.mu.Lock()
		old, ok := r.sessions[s.deviceID]
		if !ok {
			r.sessions[s.deviceID] = s
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()

		logging.InfoWithComponent(logging.ComponentWS, "Superseding active session", "device", s.deviceID)
		old.cancel()
		<-old.done
		// The old session unregisters itself during teardown; retry the
		// install
	}
}

// Unregister removes the session only if it is still the registered one, so
// a superseded session tearing down late cannot evict its replacement.
func (r *Registry) Unregister(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.deviceID] == s {
		delete(r.sessions, s.deviceID)
	}
}

// Active returns the registered session for a device, or nil
func (r *Registry) Active(deviceID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[deviceID]
}

// Count returns the number of active sessions
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
