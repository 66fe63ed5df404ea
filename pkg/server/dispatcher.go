package server

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/chatwire/chatwire/pkg/protocol"
	"github.com/chatwire/chatwire/pkg/store"
)

// Dispatcher routes decoded envelopes to type-specific handlers and owns
// the chat delivery-status lifecycle.
//
// Storage mutations are fire-and-forget: the wire acknowledgement goes
// out before (or independently of) durable persistence completing. The
// network path is never blocked on storage, at the cost of a crash
// window where a SENT-but-not-yet-persisted message is lost.
type Dispatcher struct {
	registry Registry
	svc      Services

	// fanout carries message forwarding work (touches many live
	// connections); stores carries storage mutations (bounded by
	// storage capacity). Both apply caller-runs backpressure.
	fanout *WorkerPool
	stores *WorkerPool
}

// NewDispatcher wires the dispatcher to its collaborators
func NewDispatcher(registry Registry, svc Services, fanout, stores *WorkerPool) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		svc:      svc,
		fanout:   fanout,
		stores:   stores,
	}
}

// Handle processes one inbound envelope. Per-connection callers invoke
// it in frame arrival order; ordering across connections is not defined.
func (d *Dispatcher) Handle(sess *Session, env *protocol.Envelope) {
	countFrame(env.Type)

	// Only LOGIN and PING are valid before authentication
	switch env.Type {
	case protocol.MsgTypeLogin:
		d.handleLogin(sess, env.Payload)
		return
	case protocol.MsgTypePing:
		d.handlePing(sess)
		return
	}

	if sess.State() != StateAuthenticated {
		d.sendError(sess, "login required")
		return
	}

	userID := sess.UserID()

	switch env.Type {
	case protocol.MsgTypeLogout:
		d.handleLogout(sess)

	case protocol.MsgTypeSingleChat:
		d.handleSingleChat(sess, userID, env.Payload)
	case protocol.MsgTypeSingleChatAck:
		d.handleSingleChatAck(env.Payload)
	case protocol.MsgTypeSingleChatRead:
		d.handleSingleChatRead(env.Payload)
	case protocol.MsgTypeSingleChatRecall:
		d.handleSingleChatRecall(sess, userID, env.Payload)

	case protocol.MsgTypeGroupChat:
		d.handleGroupChat(sess, userID, env.Payload)
	case protocol.MsgTypeGroupChatAck:
		d.handleGroupChatAck(env.Payload)
	case protocol.MsgTypeGroupChatRead:
		d.handleGroupChatRead(env.Payload)
	case protocol.MsgTypeGroupChatRecall:
		d.handleGroupChatRecall(sess, userID, env.Payload)

	case protocol.MsgTypeFriendRequestSend:
		d.handleFriendRequestSend(sess, userID, env.Payload)
	case protocol.MsgTypeFriendRequestResponse:
		d.handleFriendRequestResponse(sess, userID, env.Payload)
	case protocol.MsgTypeFriendListQuery:
		d.handleFriendListQuery(sess, userID)
	case protocol.MsgTypeFriendDelete:
		d.handleFriendDelete(sess, userID, env.Payload)

	case protocol.MsgTypeGroupCreate:
		d.handleGroupCreate(sess, userID, env.Payload)
	case protocol.MsgTypeGroupJoin:
		d.handleGroupJoin(sess, userID, env.Payload)
	case protocol.MsgTypeGroupQuit:
		d.handleGroupQuit(sess, userID, env.Payload)
	case protocol.MsgTypeGroupMemberQuery:
		d.handleGroupMemberQuery(sess, env.Payload)
	case protocol.MsgTypeGroupListQuery:
		d.handleGroupListQuery(sess, userID)

	default:
		// Unknown codes get an error response; the connection stays open
		d.sendError(sess, "unimplemented message type: "+protocol.MsgTypeName(env.Type))
	}
}

// ------------------------------ system messages ------------------------------

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (d *Dispatcher) handleLogin(sess *Session, payload []byte) {
	var req loginRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.Username == "" {
		d.respond(sess, protocol.MsgTypeLoginResponse, protocol.StatusFail, "malformed login request")
		return
	}

	userID, err := d.svc.Users.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrInvalidCredentials) {
			d.respond(sess, protocol.MsgTypeLoginResponse, protocol.StatusFail, "invalid username or password")
		} else {
			log.Printf("login for %s failed: %v", req.Username, err)
			d.respond(sess, protocol.MsgTypeLoginResponse, protocol.StatusFail, "login unavailable")
		}
		return
	}

	sess.Bind(userID)
	if evicted := d.registry.Register(userID, sess); evicted == nil {
		metricOnlineSessions.Inc()
	}
	d.svc.Presence.SetOnline(userID)

	log.Printf("user %s logged in from %s", userID, sess.RemoteAddr())
	d.respond(sess, protocol.MsgTypeLoginResponse, protocol.StatusSuccess, userID)

	// History replay must not block login latency
	d.fanout.Submit(func() { d.flushUnread(userID) })
}

func (d *Dispatcher) handleLogout(sess *Session) {
	userID := sess.UserID()

	d.registry.Unregister(userID, sess)
	metricOnlineSessions.Dec()
	d.svc.Presence.SetOffline(userID)
	d.stores.Submit(func() {
		if err := d.svc.Users.SetStatus(userID, store.UserOffline); err != nil {
			log.Printf("set %s offline failed: %v", userID, err)
		}
	})

	log.Printf("user %s logged out", userID)
	d.respond(sess, protocol.MsgTypeLogoutResponse, protocol.StatusSuccess, "logged out")
	sess.Close()
}

func (d *Dispatcher) handlePing(sess *Session) {
	d.respond(sess, protocol.MsgTypePong, protocol.StatusSuccess, "pong")
}

// Disconnected releases registry and presence state after a transport
// close that was not an explicit logout.
func (d *Dispatcher) Disconnected(sess *Session) {
	userID := sess.UserID()
	if userID == "" {
		return
	}

	if current, ok := d.registry.Lookup(userID); !ok || current != sess {
		// A newer login owns the identity now
		return
	}

	d.registry.Unregister(userID, sess)
	metricOnlineSessions.Dec()
	d.svc.Presence.SetOffline(userID)
	d.stores.Submit(func() {
		if err := d.svc.Users.SetStatus(userID, store.UserOffline); err != nil {
			log.Printf("set %s offline failed: %v", userID, err)
		}
	})

	log.Printf("user %s disconnected", userID)
}

// flushUnread replays queued undelivered messages after login and marks
// them delivered.
func (d *Dispatcher) flushUnread(userID string) {
	msgs, err := d.svc.Messages.UnreadFor(userID)
	if err != nil {
		log.Printf("unread query for %s failed: %v", userID, err)
		return
	}
	if len(msgs) == 0 {
		return
	}

	sess, ok := d.registry.Lookup(userID)
	if !ok {
		return
	}

	delivered := make([]string, 0, len(msgs))
	for i := range msgs {
		chat := chatFromStored(&msgs[i])
		if err := sess.SendChat(chat.Type, chat); err != nil {
			log.Printf("unread flush to %s stopped: %v", userID, err)
			break
		}
		delivered = append(delivered, chat.ID)
	}

	if len(delivered) > 0 {
		d.stores.Submit(func() {
			if err := d.svc.Messages.BatchUpdateStatus(delivered, store.StatusDelivered); err != nil {
				log.Printf("batch deliver update failed: %v", err)
			}
		})
	}
}

// ------------------------------ helpers ------------------------------

// respond sends a server-originated response on the session
func (d *Dispatcher) respond(sess *Session, msgType uint8, status, content string) {
	msg := systemChat(msgType, status, content)
	if err := sess.SendChat(msgType, msg); err != nil {
		log.Printf("response %s to %s failed: %v", protocol.MsgTypeName(msgType), sess.RemoteAddr(), err)
	}
}

// respondToUser sends a server-originated response to a user's live
// session, silently skipping offline users
func (d *Dispatcher) respondToUser(userID string, msgType uint8, status, content string) {
	sess, ok := d.registry.Lookup(userID)
	if !ok {
		return
	}
	msg := systemChat(msgType, status, content)
	if err := sess.SendChat(msgType, msg); err != nil {
		log.Printf("response %s to user %s failed: %v", protocol.MsgTypeName(msgType), userID, err)
	}
}

// sendToUser forwards a chat message to a user's live session. Returns
// false when the user has no live connection.
func (d *Dispatcher) sendToUser(userID string, msgType uint8, msg *protocol.ChatMessage) bool {
	sess, ok := d.registry.Lookup(userID)
	if !ok {
		return false
	}
	if err := sess.SendChat(msgType, msg); err != nil {
		// a failed or timed-out write may leave a partial frame on the
		// stream; the connection cannot be reused
		log.Printf("forward %s to user %s failed: %v", protocol.MsgTypeName(msgType), userID, err)
		sess.Close()
		return false
	}
	return true
}

func (d *Dispatcher) sendError(sess *Session, text string) {
	d.respond(sess, protocol.MsgTypeErrorResponse, protocol.StatusError, text)
}

func (d *Dispatcher) sendErrorToUser(userID, text string) {
	d.respondToUser(userID, protocol.MsgTypeErrorResponse, protocol.StatusError, text)
}

func chatFromStored(m *store.Message) *protocol.ChatMessage {
	return &protocol.ChatMessage{
		ID:        m.MessageID,
		From:      m.FromUser,
		To:        m.ToUser,
		Content:   m.Content,
		Type:      m.Type,
		Timestamp: m.Timestamp,
		GroupID:   m.GroupID,
	}
}

func storedFromChat(msg *protocol.ChatMessage) *store.Message {
	return &store.Message{
		MessageID: msg.ID,
		FromUser:  msg.From,
		ToUser:    msg.To,
		Content:   msg.Content,
		Type:      msg.Type,
		GroupID:   msg.GroupID,
		Timestamp: msg.Timestamp,
	}
}

func newMessageID() string {
	return uuid.NewString()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
