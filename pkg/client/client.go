package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatwire/chatwire/pkg/protocol"
)

const (
	dialTimeout       = 5 * time.Second
	writeIdleInterval = 15 * time.Second
)

var ErrNotConnected = errors.New("client: not connected")

// Handler receives server-pushed messages. Callbacks run on the read
// goroutine; implementations must not block.
type Handler struct {
	OnChat   func(msg *protocol.ChatMessage)
	OnNotify func(msg *protocol.ChatMessage)
	OnError  func(msg *protocol.ChatMessage)
	OnLogin  func(userID string)
}

// Config carries client connection settings
type Config struct {
	Addr     string
	Username string
	Password string

	BackoffMin time.Duration
	BackoffMax time.Duration
}

// DefaultConfig returns client settings with standard backoff limits
func DefaultConfig() Config {
	return Config{
		BackoffMin: time.Second,
		BackoffMax: 60 * time.Second,
	}
}

// Client is a persistent-connection chat client. It keeps the link
// alive with write-idle pings and reconnects with exponential backoff
// when the transport fails.
type Client struct {
	cfg     Config
	handler Handler
	backoff *Backoff

	mu        sync.Mutex
	conn      net.Conn
	userID    string
	lastWrite time.Time
	retry     *time.Timer
	shutdown  bool
	wg        sync.WaitGroup
}

// New returns a client for cfg. Call Connect to establish the link.
func New(cfg Config, handler Handler) *Client {
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 60 * time.Second
	}
	return &Client{
		cfg:     cfg,
		handler: handler,
		backoff: NewBackoff(cfg.BackoffMin, cfg.BackoffMax),
	}
}

// UserID returns the ID assigned by the server after login
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// Connect dials the server and sends the login request. The read and
// keepalive loops start on success; a later transport failure triggers
// automatic reconnection.
func (c *Client) Connect() error {
	conn, err := net.DialTimeout("tcp", c.cfg.Addr, dialTimeout)
	if err != nil {
		c.scheduleReconnect()
		return fmt.Errorf("dial %s: %w", c.cfg.Addr, err)
	}

	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		conn.Close()
		return errors.New("client: shut down")
	}
	c.conn = conn
	c.lastWrite = time.Now()
	c.mu.Unlock()

	if err := c.sendLogin(); err != nil {
		c.closeConn(conn)
		c.scheduleReconnect()
		return err
	}

	c.wg.Add(2)
	go c.readLoop(conn)
	go c.keepalive(conn)
	return nil
}

func (c *Client) sendLogin() error {
	payload, err := json.Marshal(map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
	})
	if err != nil {
		return fmt.Errorf("marshal login: %w", err)
	}
	return c.send(protocol.NewEnvelope(protocol.MsgTypeLogin, payload))
}

// SendChat sends a single chat message to userID and returns the
// assigned message ID
func (c *Client) SendChat(to, content string) (string, error) {
	msg := protocol.NewChatMessage(protocol.MsgTypeSingleChat)
	msg.ID = uuid.NewString()
	msg.From = c.UserID()
	msg.To = to
	msg.Content = content
	return msg.ID, c.sendChatMessage(msg)
}

// SendGroup sends a chat message to every member of groupID and
// returns the assigned message ID
func (c *Client) SendGroup(groupID, content string) (string, error) {
	msg := protocol.NewChatMessage(protocol.MsgTypeGroupChat)
	msg.ID = uuid.NewString()
	msg.From = c.UserID()
	msg.GroupID = groupID
	msg.Content = content
	return msg.ID, c.sendChatMessage(msg)
}

// SendRead reports that the message with messageID from senderID has
// been read
func (c *Client) SendRead(messageID, senderID string) error {
	payload, err := json.Marshal(map[string]string{
		"messageId": messageID,
		"senderId":  senderID,
	})
	if err != nil {
		return fmt.Errorf("marshal read: %w", err)
	}
	return c.send(protocol.NewEnvelope(protocol.MsgTypeSingleChatRead, payload))
}

// Send transmits an arbitrary request envelope
func (c *Client) Send(msgType uint8, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.send(protocol.NewEnvelope(msgType, data))
}

func (c *Client) sendChatMessage(msg *protocol.ChatMessage) error {
	payload, err := msg.EncodeJSON()
	if err != nil {
		return err
	}
	return c.send(protocol.NewEnvelope(msg.Type, payload))
}

func (c *Client) send(env *protocol.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	if err := protocol.WriteEnvelope(conn, env); err != nil {
		// A write failure means the transport is gone
		c.closeConn(conn)
		c.scheduleReconnect()
		return fmt.Errorf("write envelope: %w", err)
	}

	c.mu.Lock()
	c.lastWrite = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *Client) readLoop(conn net.Conn) {
	defer c.wg.Done()
	for {
		env, err := protocol.ReadEnvelope(conn)
		if err != nil {
			c.closeConn(conn)
			c.scheduleReconnect()
			return
		}
		c.handle(env)
	}
}

func (c *Client) handle(env *protocol.Envelope) {
	msg, _, err := protocol.DecodeChatPayload(env.Payload)
	if err != nil {
		log.Printf("client: drop undecodable %s frame: %v",
			protocol.MsgTypeName(env.Type), err)
		return
	}

	switch env.Type {
	case protocol.MsgTypeLoginResponse:
		if msg.Extra == protocol.StatusSuccess {
			c.mu.Lock()
			c.userID = msg.Content
			c.mu.Unlock()
			c.backoff.Reset()
			if c.handler.OnLogin != nil {
				c.handler.OnLogin(msg.Content)
			}
			return
		}
		// Failed login is not a transport fault: close without retry
		log.Printf("client: login rejected: %s", msg.Content)
		c.Shutdown()
	case protocol.MsgTypeSingleChat, protocol.MsgTypeGroupChat:
		if c.handler.OnChat != nil {
			c.handler.OnChat(msg)
		}
	case protocol.MsgTypePong:
		// keepalive acknowledged
	case protocol.MsgTypeErrorResponse:
		if c.handler.OnError != nil {
			c.handler.OnError(msg)
		}
	default:
		if c.handler.OnNotify != nil {
			c.handler.OnNotify(msg)
		}
	}
}

// keepalive sends a ping whenever no frame has been written for the
// write-idle interval. The server only requires traffic, so any
// outbound frame postpones the ping.
func (c *Client) keepalive(conn net.Conn) {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		if c.conn != conn {
			c.mu.Unlock()
			return
		}
		idle := time.Since(c.lastWrite)
		c.mu.Unlock()

		if idle < writeIdleInterval {
			continue
		}
		ping := protocol.NewEnvelope(protocol.MsgTypePing, []byte("ping"))
		if err := c.send(ping); err != nil {
			return
		}
	}
}

func (c *Client) closeConn(conn net.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

// scheduleReconnect arms a single retry timer. A timer already pending
// is left alone so overlapping failures produce one attempt.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown || c.retry != nil || c.conn != nil {
		return
	}
	delay := c.backoff.Next()
	log.Printf("client: reconnecting in %s", delay)
	c.retry = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.retry = nil
		down := c.shutdown
		c.mu.Unlock()
		if down {
			return
		}
		if err := c.Connect(); err != nil {
			log.Printf("client: reconnect failed: %v", err)
		}
	})
}

// Shutdown closes the connection and suppresses further reconnect
// attempts
func (c *Client) Shutdown() {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	c.shutdown = true
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}
