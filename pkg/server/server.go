package server

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/chatwire/chatwire/pkg/protocol"
)

// Config holds server configuration
type Config struct {
	Addr string

	// ReadIdleTimeout closes connections that send nothing for this
	// long. Clients ping on a shorter write-idle interval, so a healthy
	// client never trips it.
	ReadIdleTimeout time.Duration

	FanoutWorkers int
	FanoutQueue   int
	StoreWorkers  int
	StoreQueue    int
}

// DefaultConfig returns the reference configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":8888",
		ReadIdleTimeout: 30 * time.Second,
		FanoutWorkers:   32,
		FanoutQueue:     1024,
		StoreWorkers:    8,
		StoreQueue:      512,
	}
}

// Server accepts client connections and feeds decoded frames to the
// dispatcher. One goroutine per connection; frames within a connection
// are handled in arrival order.
type Server struct {
	cfg        *Config
	registry   Registry
	dispatcher *Dispatcher
	fanout     *WorkerPool
	stores     *WorkerPool

	listener net.Listener

	mu       sync.Mutex
	sessions map[*Session]struct{}
	stopping bool

	wg sync.WaitGroup
}

// NewServer creates a server wired to the given collaborators
func NewServer(cfg *Config, svc Services) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	registry := NewMemoryRegistry()
	fanout := NewWorkerPool("fanout", cfg.FanoutWorkers, cfg.FanoutQueue)
	stores := NewWorkerPool("store", cfg.StoreWorkers, cfg.StoreQueue)

	return &Server{
		cfg:        cfg,
		registry:   registry,
		dispatcher: NewDispatcher(registry, svc, fanout, stores),
		fanout:     fanout,
		stores:     stores,
		sessions:   make(map[*Session]struct{}),
	}
}

// Registry exposes the session registry (used by the HTTP query surface)
func (s *Server) Registry() Registry {
	return s.registry
}

// Start begins listening and accepting connections
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}

	s.listener = listener
	log.Printf("IM server listening on %s", s.cfg.Addr)

	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopping := s.stopping
			s.mu.Unlock()
			if !stopping {
				log.Printf("accept error: %v", err)
			}
			return
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	sess := NewSession(conn)
	log.Printf("new connection from %s", sess.RemoteAddr())

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		sess.Close()
		return
	}
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	defer func() {
		sess.Close()
		s.dispatcher.Disconnected(sess)

		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
	}()

	var dec protocol.Decoder
	buf := make([]byte, 4096)

	for {
		// The idle deadline rolls forward on every inbound read. Idle
		// expiry closes the connection with no warning frame.
		if err := sess.SetReadDeadline(time.Now().Add(s.cfg.ReadIdleTimeout)); err != nil {
			return
		}

		n, err := sess.Read(buf)
		if err != nil {
			var netErr net.Error
			switch {
			case errors.As(err, &netErr) && netErr.Timeout():
				log.Printf("connection %s idle for %v, closing", sess.RemoteAddr(), s.cfg.ReadIdleTimeout)
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
			default:
				log.Printf("read error from %s: %v", sess.RemoteAddr(), err)
			}
			return
		}

		dec.Feed(buf[:n])

		for {
			env, err := dec.Next()
			if errors.Is(err, protocol.ErrIncomplete) {
				break
			}
			if err != nil {
				// Fatal framing error: the stream is desynchronized and
				// no error envelope can be trusted to land
				metricProtocolErrors.Inc()
				log.Printf("protocol error from %s: %v, closing", sess.RemoteAddr(), err)
				return
			}

			s.dispatch(sess, env)
			if sess.State() == StateClosed {
				return
			}
		}
	}
}

// dispatch runs one frame through the dispatcher with the connection
// boundary fault barrier: a handler panic is answered best-effort and
// closes only this connection.
func (s *Server) dispatch(sess *Session, env *protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("handler panic on %s (%s): %v", sess.RemoteAddr(), protocol.MsgTypeName(env.Type), r)
			s.dispatcher.sendError(sess, "internal server error")
			sess.Close()
		}
	}()

	s.dispatcher.Handle(sess, env)
}

// Stop closes the listener and all live sessions, then drains both
// worker pools.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	sessions := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	for _, sess := range sessions {
		sess.Close()
	}
	s.wg.Wait()

	// In-flight persistence and fan-out work completes before exit
	s.fanout.Shutdown()
	s.stores.Shutdown()

	log.Println("IM server stopped")
	return err
}
