package server

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/chatwire/chatwire/pkg/protocol"
	"github.com/chatwire/chatwire/pkg/store"
)

// ------------------------------ fakes ------------------------------

type fakeUsers struct {
	accounts map[string]store.User // keyed by username
	statuses map[string]string
}

func newFakeUsers(users ...store.User) *fakeUsers {
	f := &fakeUsers{
		accounts: make(map[string]store.User),
		statuses: make(map[string]string),
	}
	for _, u := range users {
		f.accounts[u.Username] = u
	}
	return f
}

func (f *fakeUsers) Login(username, password string) (string, error) {
	u, ok := f.accounts[username]
	if !ok || u.Password != password {
		return "", store.ErrInvalidCredentials
	}
	return u.UserID, nil
}

func (f *fakeUsers) Exists(userID string) (bool, error) {
	for _, u := range f.accounts {
		if u.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeUsers) SetStatus(userID, status string) error {
	f.statuses[userID] = status
	return nil
}

func (f *fakeUsers) GetByID(userID string) (*store.User, error) {
	for _, u := range f.accounts {
		if u.UserID == userID {
			copied := u
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

type fakeFriends struct {
	pairs map[[2]string]bool
}

func newFakeFriends(pairs ...[2]string) *fakeFriends {
	f := &fakeFriends{pairs: make(map[[2]string]bool)}
	for _, p := range pairs {
		f.pairs[p] = true
		f.pairs[[2]string{p[1], p[0]}] = true
	}
	return f
}

func (f *fakeFriends) IsFriend(userID, friendID string) (bool, error) {
	return f.pairs[[2]string{userID, friendID}], nil
}
func (f *fakeFriends) AddRequest(fromUser, toUser, remark string) (bool, error) {
	return true, nil
}
func (f *fakeFriends) ResolveRequest(fromUser, toUser string, accept bool) (bool, error) {
	if accept {
		f.pairs[[2]string{fromUser, toUser}] = true
		f.pairs[[2]string{toUser, fromUser}] = true
	}
	return true, nil
}
func (f *fakeFriends) ListFriends(userID string) ([]string, error) {
	var ids []string
	for p := range f.pairs {
		if p[0] == userID {
			ids = append(ids, p[1])
		}
	}
	return ids, nil
}
func (f *fakeFriends) Remove(userID, friendID string) (bool, error) {
	delete(f.pairs, [2]string{userID, friendID})
	delete(f.pairs, [2]string{friendID, userID})
	return true, nil
}

type fakeGroups struct {
	members map[string][]store.GroupMember
	owners  map[string]string
}

func newFakeGroups() *fakeGroups {
	return &fakeGroups{
		members: make(map[string][]store.GroupMember),
		owners:  make(map[string]string),
	}
}

func (f *fakeGroups) Create(name, ownerID, description string) (string, error) {
	id := "group_" + name
	f.owners[id] = ownerID
	f.members[id] = []store.GroupMember{{GroupID: id, UserID: ownerID, Role: store.RoleOwner}}
	return id, nil
}
func (f *fakeGroups) AddMember(groupID, userID, nickname string) error {
	for _, m := range f.members[groupID] {
		if m.UserID == userID {
			return store.ErrAlreadyMember
		}
	}
	f.members[groupID] = append(f.members[groupID],
		store.GroupMember{GroupID: groupID, UserID: userID, Nickname: nickname, Role: store.RoleMember})
	return nil
}
func (f *fakeGroups) Quit(groupID, userID string) error {
	if f.owners[groupID] == userID {
		return store.ErrOwnerCannotQuit
	}
	kept := f.members[groupID][:0]
	for _, m := range f.members[groupID] {
		if m.UserID != userID {
			kept = append(kept, m)
		}
	}
	f.members[groupID] = kept
	return nil
}
func (f *fakeGroups) IsMember(groupID, userID string) (bool, error) {
	for _, m := range f.members[groupID] {
		if m.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}
func (f *fakeGroups) IsOwner(groupID, userID string) (bool, error) {
	return f.owners[groupID] == userID, nil
}
func (f *fakeGroups) Members(groupID string) ([]store.GroupMember, error) {
	return f.members[groupID], nil
}
func (f *fakeGroups) GroupsOf(userID string) ([]store.Group, error) {
	var groups []store.Group
	for id, members := range f.members {
		for _, m := range members {
			if m.UserID == userID {
				groups = append(groups, store.Group{GroupID: id, OwnerID: f.owners[id]})
			}
		}
	}
	return groups, nil
}

type fakeMessages struct {
	byID map[string]*store.Message
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{byID: make(map[string]*store.Message)}
}

func (f *fakeMessages) Save(msg *store.Message, status string) error {
	msg.Status = status
	f.byID[msg.MessageID] = msg
	return nil
}
func (f *fakeMessages) Get(messageID string) (*store.Message, error) {
	m, ok := f.byID[messageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m, nil
}
func (f *fakeMessages) UpdateStatus(messageID, status string) error {
	m, ok := f.byID[messageID]
	if !ok {
		return store.ErrNotFound
	}
	m.Status = status
	return nil
}
func (f *fakeMessages) BatchUpdateStatus(messageIDs []string, status string) error {
	for _, id := range messageIDs {
		if m, ok := f.byID[id]; ok {
			m.Status = status
		}
	}
	return nil
}
func (f *fakeMessages) UnreadFor(userID string) ([]store.Message, error) {
	var msgs []store.Message
	for _, m := range f.byID {
		if m.ToUser == userID && m.Status == store.StatusSent {
			msgs = append(msgs, *m)
		}
	}
	return msgs, nil
}

type fakePresence struct {
	online map[string]bool
}

func newFakePresence() *fakePresence {
	return &fakePresence{online: make(map[string]bool)}
}

func (f *fakePresence) SetOnline(userID string)     { f.online[userID] = true }
func (f *fakePresence) SetOffline(userID string)    { delete(f.online, userID) }
func (f *fakePresence) IsOnline(userID string) bool { return f.online[userID] }

// ------------------------------ harness ------------------------------

type dispatcherFixture struct {
	dispatcher *Dispatcher
	registry   *MemoryRegistry
	users      *fakeUsers
	friends    *fakeFriends
	groups     *fakeGroups
	messages   *fakeMessages
	presence   *fakePresence
}

// newDispatcherFixture builds a dispatcher whose worker pools have no
// workers and no queue, so every submitted task caller-runs and the
// normally-async paths become deterministic.
func newDispatcherFixture(users ...store.User) *dispatcherFixture {
	f := &dispatcherFixture{
		registry: NewMemoryRegistry(),
		users:    newFakeUsers(users...),
		friends:  newFakeFriends(),
		groups:   newFakeGroups(),
		messages: newFakeMessages(),
		presence: newFakePresence(),
	}
	svc := Services{
		Users:    f.users,
		Friends:  f.friends,
		Groups:   f.groups,
		Messages: f.messages,
		Presence: f.presence,
	}
	f.dispatcher = NewDispatcher(f.registry, svc,
		NewWorkerPool("fanout", 0, 0), NewWorkerPool("store", 0, 0))
	return f
}

// drainFrames reads frames from a session's peer end until the pipe
// closes or goes idle
func drainFrames(conn net.Conn) <-chan *protocol.Envelope {
	ch := make(chan *protocol.Envelope, 32)
	go func() {
		defer close(ch)
		for {
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			env, err := protocol.ReadEnvelope(conn)
			if err != nil {
				return
			}
			ch <- env
		}
	}()
	return ch
}

func nextFrame(t *testing.T, frames <-chan *protocol.Envelope) (*protocol.Envelope, *protocol.ChatMessage) {
	t.Helper()
	select {
	case env, ok := <-frames:
		if !ok {
			t.Fatal("frame stream closed")
		}
		msg, _, err := protocol.DecodeChatPayload(env.Payload)
		if err != nil {
			t.Fatalf("decode frame payload: %v", err)
		}
		return env, msg
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return nil, nil
	}
}

func jsonEnvelope(t *testing.T, msgType uint8, body any) *protocol.Envelope {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return protocol.NewEnvelope(msgType, payload)
}

func loginSession(t *testing.T, f *dispatcherFixture, username, password string) (*Session, <-chan *protocol.Envelope) {
	t.Helper()
	sess, peer := pipeSession(t)
	frames := drainFrames(peer)

	f.dispatcher.Handle(sess, jsonEnvelope(t, protocol.MsgTypeLogin,
		map[string]string{"username": username, "password": password}))

	env, msg := nextFrame(t, frames)
	if env.Type != protocol.MsgTypeLoginResponse || msg.Extra != protocol.StatusSuccess {
		t.Fatalf("login failed: type=%s extra=%s content=%s",
			protocol.MsgTypeName(env.Type), msg.Extra, msg.Content)
	}
	return sess, frames
}

var (
	alice = store.User{UserID: "user_alice", Username: "alice", Password: "pw"}
	bob   = store.User{UserID: "user_bob", Username: "bob", Password: "pw"}
	carol = store.User{UserID: "user_carol", Username: "carol", Password: "pw"}
)

// ------------------------------ tests ------------------------------

func TestLoginSuccess(t *testing.T) {
	f := newDispatcherFixture(alice)
	sess, peer := pipeSession(t)
	frames := drainFrames(peer)

	f.dispatcher.Handle(sess, jsonEnvelope(t, protocol.MsgTypeLogin,
		map[string]string{"username": "alice", "password": "pw"}))

	env, msg := nextFrame(t, frames)
	if env.Type != protocol.MsgTypeLoginResponse {
		t.Fatalf("frame type = %s, want LOGIN_RESPONSE", protocol.MsgTypeName(env.Type))
	}
	if msg.Extra != protocol.StatusSuccess || msg.Content != "user_alice" {
		t.Fatalf("login response extra=%s content=%s", msg.Extra, msg.Content)
	}
	if sess.State() != StateAuthenticated {
		t.Fatal("session should be authenticated")
	}
	if !f.presence.IsOnline("user_alice") {
		t.Fatal("presence should mark alice online")
	}
	if _, ok := f.registry.Lookup("user_alice"); !ok {
		t.Fatal("registry should hold alice's session")
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newDispatcherFixture(alice)
	sess, peer := pipeSession(t)
	frames := drainFrames(peer)

	f.dispatcher.Handle(sess, jsonEnvelope(t, protocol.MsgTypeLogin,
		map[string]string{"username": "alice", "password": "wrong"}))

	env, msg := nextFrame(t, frames)
	if env.Type != protocol.MsgTypeLoginResponse || msg.Extra != protocol.StatusFail {
		t.Fatalf("got type=%s extra=%s, want failed LOGIN_RESPONSE",
			protocol.MsgTypeName(env.Type), msg.Extra)
	}
	if sess.State() != StateUnauthenticated {
		t.Fatal("failed login must not authenticate the session")
	}
}

func TestLoginFlushesUnread(t *testing.T) {
	f := newDispatcherFixture(alice, bob)
	queued := &store.Message{
		MessageID: "msg_queued",
		FromUser:  "user_bob",
		ToUser:    "user_alice",
		Content:   "while you were away",
		Type:      protocol.MsgTypeSingleChat,
		Timestamp: 1000,
	}
	f.messages.Save(queued, store.StatusSent)

	_, frames := loginSession(t, f, "alice", "pw")

	env, msg := nextFrame(t, frames)
	if env.Type != protocol.MsgTypeSingleChat {
		t.Fatalf("flushed frame type = %s, want SINGLE_CHAT", protocol.MsgTypeName(env.Type))
	}
	if msg.ID != "msg_queued" || msg.Content != "while you were away" {
		t.Fatalf("flushed message = %+v", msg)
	}
	if queued.Status != store.StatusDelivered {
		t.Fatalf("flushed message status = %s, want DELIVERED", queued.Status)
	}
}

func TestAuthGateBeforeLogin(t *testing.T) {
	f := newDispatcherFixture(alice)
	sess, peer := pipeSession(t)
	frames := drainFrames(peer)

	chat := protocol.NewChatMessage(protocol.MsgTypeSingleChat)
	chat.To = "user_bob"
	chat.Content = "hi"
	payload, _ := chat.EncodeJSON()
	f.dispatcher.Handle(sess, protocol.NewEnvelope(protocol.MsgTypeSingleChat, payload))

	env, msg := nextFrame(t, frames)
	if env.Type != protocol.MsgTypeErrorResponse {
		t.Fatalf("frame type = %s, want ERROR_RESPONSE", protocol.MsgTypeName(env.Type))
	}
	if msg.Content != "login required" {
		t.Fatalf("error content = %q", msg.Content)
	}
	if sess.State() == StateClosed {
		t.Fatal("auth gate must not close the connection")
	}
}

func TestPingBeforeLogin(t *testing.T) {
	f := newDispatcherFixture()
	sess, peer := pipeSession(t)
	frames := drainFrames(peer)

	f.dispatcher.Handle(sess, protocol.NewEnvelope(protocol.MsgTypePing, []byte("ping")))

	env, msg := nextFrame(t, frames)
	if env.Type != protocol.MsgTypePong || msg.Content != "pong" {
		t.Fatalf("got type=%s content=%q, want PONG/pong",
			protocol.MsgTypeName(env.Type), msg.Content)
	}
}

func TestUnknownTypeKeepsConnectionOpen(t *testing.T) {
	f := newDispatcherFixture(alice)
	sess, frames := loginSession(t, f, "alice", "pw")

	f.dispatcher.Handle(sess, protocol.NewEnvelope(99, []byte("{}")))

	env, msg := nextFrame(t, frames)
	if env.Type != protocol.MsgTypeErrorResponse {
		t.Fatalf("frame type = %s, want ERROR_RESPONSE", protocol.MsgTypeName(env.Type))
	}
	if msg.Content != "unimplemented message type: UNKNOWN(99)" {
		t.Fatalf("error content = %q", msg.Content)
	}
	if sess.State() == StateClosed {
		t.Fatal("unknown type must not close the connection")
	}
}

func TestSingleChatDeliveredOnline(t *testing.T) {
	f := newDispatcherFixture(alice, bob)
	f.friends.pairs[[2]string{"user_alice", "user_bob"}] = true
	f.friends.pairs[[2]string{"user_bob", "user_alice"}] = true

	aliceSess, aliceFrames := loginSession(t, f, "alice", "pw")
	_, bobFrames := loginSession(t, f, "bob", "pw")

	chat := protocol.NewChatMessage(protocol.MsgTypeSingleChat)
	chat.To = "user_bob"
	chat.Content = "hello bob"
	payload, _ := chat.EncodeJSON()
	f.dispatcher.Handle(aliceSess, protocol.NewEnvelope(protocol.MsgTypeSingleChat, payload))

	env, got := nextFrame(t, bobFrames)
	if env.Type != protocol.MsgTypeSingleChat {
		t.Fatalf("receiver frame = %s, want SINGLE_CHAT", protocol.MsgTypeName(env.Type))
	}
	if got.From != "user_alice" || got.Content != "hello bob" {
		t.Fatalf("received message = %+v", got)
	}
	if got.ID == "" {
		t.Fatal("server must assign a message ID")
	}

	env, ack := nextFrame(t, aliceFrames)
	if env.Type != protocol.MsgTypeSingleChatAck || ack.Extra != protocol.StatusSuccess {
		t.Fatalf("ack frame type=%s extra=%s", protocol.MsgTypeName(env.Type), ack.Extra)
	}
	if ack.Content != got.ID {
		t.Fatalf("ack carries %q, want message ID %q", ack.Content, got.ID)
	}

	stored, err := f.messages.Get(got.ID)
	if err != nil {
		t.Fatalf("message not persisted: %v", err)
	}
	if stored.Status != store.StatusDelivered {
		t.Fatalf("stored status = %s, want DELIVERED", stored.Status)
	}
}

func TestSingleChatOfflineStoredSent(t *testing.T) {
	f := newDispatcherFixture(alice, bob)
	f.friends.pairs[[2]string{"user_alice", "user_bob"}] = true

	aliceSess, aliceFrames := loginSession(t, f, "alice", "pw")

	chat := protocol.NewChatMessage(protocol.MsgTypeSingleChat)
	chat.To = "user_bob"
	chat.Content = "are you there"
	payload, _ := chat.EncodeJSON()
	f.dispatcher.Handle(aliceSess, protocol.NewEnvelope(protocol.MsgTypeSingleChat, payload))

	_, ack := nextFrame(t, aliceFrames)
	stored, err := f.messages.Get(ack.Content)
	if err != nil {
		t.Fatalf("message not persisted: %v", err)
	}
	if stored.Status != store.StatusSent {
		t.Fatalf("offline message status = %s, want SENT", stored.Status)
	}
}

func TestSingleChatRequiresFriendship(t *testing.T) {
	f := newDispatcherFixture(alice, bob)
	aliceSess, aliceFrames := loginSession(t, f, "alice", "pw")

	chat := protocol.NewChatMessage(protocol.MsgTypeSingleChat)
	chat.To = "user_bob"
	chat.Content = "hi stranger"
	payload, _ := chat.EncodeJSON()
	f.dispatcher.Handle(aliceSess, protocol.NewEnvelope(protocol.MsgTypeSingleChat, payload))

	env, msg := nextFrame(t, aliceFrames)
	if env.Type != protocol.MsgTypeErrorResponse {
		t.Fatalf("frame type = %s, want ERROR_RESPONSE", protocol.MsgTypeName(env.Type))
	}
	if msg.Content != "add the recipient as a friend first" {
		t.Fatalf("error content = %q", msg.Content)
	}
	if len(f.messages.byID) != 0 {
		t.Fatal("rejected message must not be persisted")
	}
}

func TestSingleChatUnknownRecipient(t *testing.T) {
	f := newDispatcherFixture(alice)
	aliceSess, aliceFrames := loginSession(t, f, "alice", "pw")

	chat := protocol.NewChatMessage(protocol.MsgTypeSingleChat)
	chat.To = "user_ghost"
	chat.Content = "hello?"
	payload, _ := chat.EncodeJSON()
	f.dispatcher.Handle(aliceSess, protocol.NewEnvelope(protocol.MsgTypeSingleChat, payload))

	_, msg := nextFrame(t, aliceFrames)
	if msg.Content != "recipient does not exist" {
		t.Fatalf("error content = %q", msg.Content)
	}
}

func TestRecallOnlyBySender(t *testing.T) {
	f := newDispatcherFixture(alice, bob)
	f.messages.Save(&store.Message{
		MessageID: "msg_1",
		FromUser:  "user_bob",
		ToUser:    "user_alice",
		Content:   "secret",
		Type:      protocol.MsgTypeSingleChat,
		Timestamp: 1000,
	}, store.StatusDelivered)

	aliceSess, aliceFrames := loginSession(t, f, "alice", "pw")

	f.dispatcher.Handle(aliceSess, jsonEnvelope(t, protocol.MsgTypeSingleChatRecall,
		map[string]string{"messageId": "msg_1", "receiverId": "user_alice"}))

	env, msg := nextFrame(t, aliceFrames)
	if env.Type != protocol.MsgTypeErrorResponse {
		t.Fatalf("frame type = %s, want ERROR_RESPONSE", protocol.MsgTypeName(env.Type))
	}
	if msg.Content != "no permission to recall this message" {
		t.Fatalf("error content = %q", msg.Content)
	}

	stored, _ := f.messages.Get("msg_1")
	if stored.Status == store.StatusRecalled {
		t.Fatal("message must not be recalled by a non-sender")
	}
}

func TestDuplicateLoginEvictsOldSession(t *testing.T) {
	f := newDispatcherFixture(alice)
	oldSess, oldFrames := loginSession(t, f, "alice", "pw")

	newSess, newPeer := pipeSession(t)
	newFrames := drainFrames(newPeer)
	f.dispatcher.Handle(newSess, jsonEnvelope(t, protocol.MsgTypeLogin,
		map[string]string{"username": "alice", "password": "pw"}))

	// The old session gets a kick notify before its transport closes
	env, msg := nextFrame(t, oldFrames)
	if env.Type != protocol.MsgTypeSystemNotify {
		t.Fatalf("kick frame = %s, want SYSTEM_NOTIFY", protocol.MsgTypeName(env.Type))
	}
	if msg.Content == "" {
		t.Fatal("kick notify should carry a reason")
	}
	if oldSess.State() != StateClosed {
		t.Fatal("old session should be closed")
	}

	env, msg = nextFrame(t, newFrames)
	if env.Type != protocol.MsgTypeLoginResponse || msg.Extra != protocol.StatusSuccess {
		t.Fatal("new login should succeed")
	}

	if got, _ := f.registry.Lookup("user_alice"); got != newSess {
		t.Fatal("registry should hold the newer session")
	}
	if f.registry.Count() != 1 {
		t.Fatalf("registry count = %d, want 1", f.registry.Count())
	}
}

func TestLogoutReleasesState(t *testing.T) {
	f := newDispatcherFixture(alice)
	sess, frames := loginSession(t, f, "alice", "pw")

	f.dispatcher.Handle(sess, protocol.NewEnvelope(protocol.MsgTypeLogout, []byte("{}")))

	env, msg := nextFrame(t, frames)
	if env.Type != protocol.MsgTypeLogoutResponse || msg.Extra != protocol.StatusSuccess {
		t.Fatalf("got type=%s extra=%s, want LOGOUT_RESPONSE success",
			protocol.MsgTypeName(env.Type), msg.Extra)
	}
	if sess.State() != StateClosed {
		t.Fatal("logout should close the session")
	}
	if _, ok := f.registry.Lookup("user_alice"); ok {
		t.Fatal("registry entry should be removed")
	}
	if f.presence.IsOnline("user_alice") {
		t.Fatal("presence should mark alice offline")
	}
	if f.users.statuses["user_alice"] != store.UserOffline {
		t.Fatal("persisted status should be OFFLINE")
	}
}

func TestDisconnectedIgnoresStaleSession(t *testing.T) {
	f := newDispatcherFixture(alice)
	oldSess, oldFrames := loginSession(t, f, "alice", "pw")

	newSess, newPeer := pipeSession(t)
	drainFrames(newPeer)
	f.dispatcher.Handle(newSess, jsonEnvelope(t, protocol.MsgTypeLogin,
		map[string]string{"username": "alice", "password": "pw"}))
	nextFrame(t, oldFrames) // kick notify

	// The old connection's read loop exits and reports the disconnect:
	// the newer login must survive it
	f.dispatcher.Disconnected(oldSess)

	if got, ok := f.registry.Lookup("user_alice"); !ok || got != newSess {
		t.Fatal("stale disconnect removed the newer session")
	}
	if !f.presence.IsOnline("user_alice") {
		t.Fatal("stale disconnect cleared presence")
	}
}

func TestGroupChatFanout(t *testing.T) {
	f := newDispatcherFixture(alice, bob, carol)
	groupID, _ := f.groups.Create("devs", "user_alice", "")
	f.groups.AddMember(groupID, "user_bob", "")
	f.groups.AddMember(groupID, "user_carol", "")

	aliceSess, aliceFrames := loginSession(t, f, "alice", "pw")
	_, bobFrames := loginSession(t, f, "bob", "pw")
	_, carolFrames := loginSession(t, f, "carol", "pw")

	chat := protocol.NewChatMessage(protocol.MsgTypeGroupChat)
	chat.GroupID = groupID
	chat.Content = "hello group"
	payload, _ := chat.EncodeJSON()
	f.dispatcher.Handle(aliceSess, protocol.NewEnvelope(protocol.MsgTypeGroupChat, payload))

	// Each of the other two members receives exactly one copy
	for name, frames := range map[string]<-chan *protocol.Envelope{
		"bob": bobFrames, "carol": carolFrames,
	} {
		env, got := nextFrame(t, frames)
		if env.Type != protocol.MsgTypeGroupChat {
			t.Fatalf("%s frame = %s, want GROUP_CHAT", name, protocol.MsgTypeName(env.Type))
		}
		if got.GroupID != groupID || got.Content != "hello group" || got.From != "user_alice" {
			t.Fatalf("%s fanout message = %+v", name, got)
		}
		select {
		case env := <-frames:
			t.Fatalf("%s received a second frame: %s", name, protocol.MsgTypeName(env.Type))
		case <-time.After(50 * time.Millisecond):
		}
	}

	// The sender gets an ack, not an echo of their own message
	env, ack := nextFrame(t, aliceFrames)
	if env.Type != protocol.MsgTypeGroupChatAck {
		t.Fatalf("sender frame = %s, want GROUP_CHAT_ACK", protocol.MsgTypeName(env.Type))
	}
	if ack.Extra != protocol.StatusSuccess {
		t.Fatalf("ack extra = %s", ack.Extra)
	}
	select {
	case env := <-aliceFrames:
		t.Fatalf("sender received an echo: %s", protocol.MsgTypeName(env.Type))
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGroupChatRequiresMembership(t *testing.T) {
	f := newDispatcherFixture(alice, bob)
	groupID, _ := f.groups.Create("devs", "user_bob", "")

	aliceSess, aliceFrames := loginSession(t, f, "alice", "pw")

	chat := protocol.NewChatMessage(protocol.MsgTypeGroupChat)
	chat.GroupID = groupID
	chat.Content = "let me in"
	payload, _ := chat.EncodeJSON()
	f.dispatcher.Handle(aliceSess, protocol.NewEnvelope(protocol.MsgTypeGroupChat, payload))

	env, msg := nextFrame(t, aliceFrames)
	if env.Type != protocol.MsgTypeErrorResponse {
		t.Fatalf("frame = %s, want ERROR_RESPONSE", protocol.MsgTypeName(env.Type))
	}
	if msg.Content != "not a member of this group" {
		t.Fatalf("error content = %q", msg.Content)
	}
}

func TestBinaryChatPayloadAccepted(t *testing.T) {
	f := newDispatcherFixture(alice, bob)
	f.friends.pairs[[2]string{"user_alice", "user_bob"}] = true

	aliceSess, aliceFrames := loginSession(t, f, "alice", "pw")

	chat := protocol.NewChatMessage(protocol.MsgTypeSingleChat)
	chat.To = "user_bob"
	chat.Content = "binary hello"
	payload, err := chat.EncodeBinary()
	if err != nil {
		t.Fatalf("encode binary: %v", err)
	}
	f.dispatcher.Handle(aliceSess, protocol.NewEnvelope(protocol.MsgTypeSingleChat, payload))

	env, ack := nextFrame(t, aliceFrames)
	if env.Type != protocol.MsgTypeSingleChatAck || ack.Extra != protocol.StatusSuccess {
		t.Fatalf("binary payload rejected: type=%s extra=%s",
			protocol.MsgTypeName(env.Type), ack.Extra)
	}
}
