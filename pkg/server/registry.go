package server

import (
	"log"
	"sync"

	"github.com/chatwire/chatwire/pkg/protocol"
)

// Registry maps logical identities to live sessions and enforces a
// single active session per identity.
type Registry interface {
	// Register installs a session for an identity. If a session is
	// already registered the old one is evicted, notified best-effort
	// and closed; it is returned for observability.
	Register(userID string, sess *Session) (evicted *Session)

	// Lookup returns the live session for an identity, if any
	Lookup(userID string) (*Session, bool)

	// Unregister removes the identity's entry, but only if it still
	// points at the given session. A stale connection closing late must
	// not remove a newer login's entry.
	Unregister(userID string, sess *Session)

	// Online returns the identities with a live session
	Online() []string
}

// MemoryRegistry is the in-process Registry implementation. All methods
// are safe for concurrent use from many connection goroutines.
type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryRegistry creates an empty registry
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{sessions: make(map[string]*Session)}
}

// Register implements last-login-wins eviction. Exactly one session
// survives a race between two logins for the same identity.
func (r *MemoryRegistry) Register(userID string, sess *Session) *Session {
	r.mu.Lock()
	old := r.sessions[userID]
	r.sessions[userID] = sess
	r.mu.Unlock()

	if old == nil || old == sess {
		return nil
	}

	// Kick notification is best-effort: a dead old connection must not
	// block the new login.
	notify := systemChat(protocol.MsgTypeSystemNotify, protocol.StatusSuccess,
		"your account was logged in from another device")
	if err := old.SendChat(protocol.MsgTypeSystemNotify, notify); err != nil {
		log.Printf("kick notify for %s failed: %v", userID, err)
	}
	old.Close()

	return old
}

func (r *MemoryRegistry) Lookup(userID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[userID]
	return sess, ok
}

func (r *MemoryRegistry) Unregister(userID string, sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[userID]; ok && current == sess {
		delete(r.sessions, userID)
	}
}

func (r *MemoryRegistry) Online() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of registered sessions
func (r *MemoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
