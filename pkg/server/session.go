package server

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatwire/chatwire/pkg/protocol"
)

var ErrSessionClosed = errors.New("session closed")

// writeTimeout bounds a single frame write. A peer that stops reading
// must not block kick notifications or pin a fanout worker.
var writeTimeout = 5 * time.Second

// ConnState tracks the per-connection protocol state
type ConnState int32

const (
	StateUnauthenticated ConnState = iota
	StateAuthenticated
	StateClosed
)

// Session is the live transport handle for one client connection. It is
// owned by the accept loop until login succeeds, then by the session
// registry until logout, transport close or eviction.
type Session struct {
	conn net.Conn

	mu     sync.Mutex
	state  ConnState
	userID string

	writeMu sync.Mutex
}

// NewSession wraps an accepted connection
func NewSession(conn net.Conn) *Session {
	return &Session{conn: conn}
}

// Bind associates a logged-in identity with this session
func (s *Session) Bind(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.state = StateAuthenticated
}

// UserID returns the bound identity, empty before login
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// State returns the current connection state
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteAddr returns the peer address
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Send writes one envelope to the connection. Concurrent senders are
// serialized; frames are never interleaved on the wire.
func (s *Session) Send(env *protocol.Envelope) error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return protocol.WriteEnvelope(s.conn, env)
}

// SendChat marshals a chat message as JSON and sends it
func (s *Session) SendChat(msgType uint8, msg *protocol.ChatMessage) error {
	payload, err := msg.EncodeJSON()
	if err != nil {
		return err
	}
	return s.Send(protocol.NewEnvelope(msgType, payload))
}

// SetReadDeadline bounds the next read on the underlying connection
func (s *Session) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// Read reads raw stream bytes from the connection
func (s *Session) Read(p []byte) (int, error) {
	return s.conn.Read(p)
}

// Close transitions the session to Closed and closes the transport.
// Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()

	return s.conn.Close()
}

// systemChat builds a server-originated chat message
func systemChat(msgType uint8, status, content string) *protocol.ChatMessage {
	return &protocol.ChatMessage{
		ID:        uuid.NewString(),
		From:      "system",
		Content:   content,
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Extra:     status,
	}
}
