package server

import (
	"net"
	"testing"
	"time"

	"github.com/chatwire/chatwire/pkg/protocol"
)

// pipeSession returns a session over an in-memory pipe along with the
// peer end for reading what the server sends
func pipeSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	serverEnd, clientEnd := net.Pipe()
	sess := NewSession(serverEnd)
	t.Cleanup(func() {
		sess.Close()
		clientEnd.Close()
	})
	return sess, clientEnd
}

func readFrame(t *testing.T, conn net.Conn) *protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	env, err := protocol.ReadEnvelope(conn)
	if err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewMemoryRegistry()
	sess, _ := pipeSession(t)
	sess.Bind("user_a")

	if evicted := r.Register("user_a", sess); evicted != nil {
		t.Fatal("first register should evict nothing")
	}

	got, ok := r.Lookup("user_a")
	if !ok || got != sess {
		t.Fatal("lookup should return the registered session")
	}
	if _, ok := r.Lookup("user_b"); ok {
		t.Fatal("lookup of unknown user should fail")
	}
	if r.Count() != 1 {
		t.Fatalf("count = %d, want 1", r.Count())
	}
}

func TestRegistryLastLoginWins(t *testing.T) {
	r := NewMemoryRegistry()

	oldSess, oldPeer := pipeSession(t)
	oldSess.Bind("user_a")
	r.Register("user_a", oldSess)

	newSess, _ := pipeSession(t)
	newSess.Bind("user_a")

	// The kick notify is written synchronously, so drain the old peer
	// from another goroutine.
	kicked := make(chan *protocol.Envelope, 1)
	go func() {
		oldPeer.SetReadDeadline(time.Now().Add(2 * time.Second))
		env, err := protocol.ReadEnvelope(oldPeer)
		if err == nil {
			kicked <- env
		}
		close(kicked)
	}()

	evicted := r.Register("user_a", newSess)
	if evicted != oldSess {
		t.Fatal("second register should return the evicted session")
	}

	env, ok := <-kicked
	if !ok {
		t.Fatal("evicted session received no kick notification")
	}
	if env.Type != protocol.MsgTypeSystemNotify {
		t.Fatalf("kick frame type = %s, want SYSTEM_NOTIFY", protocol.MsgTypeName(env.Type))
	}
	if oldSess.State() != StateClosed {
		t.Fatal("evicted session should be closed")
	}

	// Exactly one live session remains
	got, _ := r.Lookup("user_a")
	if got != newSess {
		t.Fatal("lookup should return the newer session")
	}
	if r.Count() != 1 {
		t.Fatalf("count = %d, want 1", r.Count())
	}
}

func TestRegistryEvictionNotBlockedByStalledPeer(t *testing.T) {
	orig := writeTimeout
	writeTimeout = 100 * time.Millisecond
	defer func() { writeTimeout = orig }()

	r := NewMemoryRegistry()

	// The old peer never reads, so the kick write stalls until the
	// deadline fires.
	oldSess, _ := pipeSession(t)
	oldSess.Bind("user_a")
	r.Register("user_a", oldSess)

	newSess, _ := pipeSession(t)
	newSess.Bind("user_a")

	done := make(chan *Session, 1)
	go func() {
		done <- r.Register("user_a", newSess)
	}()

	select {
	case evicted := <-done:
		if evicted != oldSess {
			t.Fatal("second register should return the evicted session")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("register blocked on an unresponsive evicted connection")
	}

	if oldSess.State() != StateClosed {
		t.Fatal("evicted session should be closed")
	}
	if got, _ := r.Lookup("user_a"); got != newSess {
		t.Fatal("lookup should return the newer session")
	}
}

func TestRegistryUnregisterIsCompareAndDelete(t *testing.T) {
	r := NewMemoryRegistry()

	oldSess, oldPeer := pipeSession(t)
	oldSess.Bind("user_a")
	r.Register("user_a", oldSess)

	go func() {
		oldPeer.SetReadDeadline(time.Now().Add(2 * time.Second))
		protocol.ReadEnvelope(oldPeer)
	}()

	newSess, _ := pipeSession(t)
	newSess.Bind("user_a")
	r.Register("user_a", newSess)

	// A stale connection closing late must not remove the newer login
	r.Unregister("user_a", oldSess)
	if got, ok := r.Lookup("user_a"); !ok || got != newSess {
		t.Fatal("stale unregister removed the newer session")
	}

	r.Unregister("user_a", newSess)
	if _, ok := r.Lookup("user_a"); ok {
		t.Fatal("owning session's unregister should remove the entry")
	}
}

func TestRegistryOnline(t *testing.T) {
	r := NewMemoryRegistry()

	for _, id := range []string{"user_a", "user_b"} {
		sess, _ := pipeSession(t)
		sess.Bind(id)
		r.Register(id, sess)
	}

	online := r.Online()
	if len(online) != 2 {
		t.Fatalf("got %d online, want 2", len(online))
	}
	seen := map[string]bool{}
	for _, id := range online {
		seen[id] = true
	}
	if !seen["user_a"] || !seen["user_b"] {
		t.Fatalf("online = %v", online)
	}
}

func TestSessionCloseIdempotent(t *testing.T) {
	sess, _ := pipeSession(t)

	if err := sess.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if sess.State() != StateClosed {
		t.Fatal("state should be closed")
	}

	env := protocol.NewEnvelope(protocol.MsgTypePing, []byte("ping"))
	if err := sess.Send(env); err != ErrSessionClosed {
		t.Fatalf("send on closed session: got %v, want ErrSessionClosed", err)
	}
}
