package server

import (
	"encoding/json"
	"errors"
	"log"

	"github.com/chatwire/chatwire/pkg/protocol"
	"github.com/chatwire/chatwire/pkg/store"
)

// ------------------------------ group chat ------------------------------

func (d *Dispatcher) handleGroupChat(sess *Session, senderID string, payload []byte) {
	msg, _, err := protocol.DecodeChatPayload(payload)
	if err != nil {
		d.sendError(sess, "malformed group message")
		return
	}

	groupID := msg.GroupID
	if groupID == "" {
		d.sendError(sess, "group message has no group")
		return
	}

	isMember, err := d.svc.Groups.IsMember(groupID, senderID)
	if err != nil {
		log.Printf("membership check %s in %s failed: %v", senderID, groupID, err)
		d.sendError(sess, "message could not be processed")
		return
	}
	if !isMember {
		d.sendError(sess, "not a member of this group")
		return
	}

	msg.ID = newMessageID()
	msg.From = senderID
	msg.Type = protocol.MsgTypeGroupChat
	if msg.Timestamp == 0 {
		msg.Timestamp = nowMillis()
	}

	stored := storedFromChat(msg)
	d.stores.Submit(func() {
		if err := d.svc.Messages.Save(stored, store.StatusSent); err != nil {
			log.Printf("save group message %s failed: %v", stored.MessageID, err)
		}
	})

	// Fan out to the membership snapshot at dispatch time. Members who
	// join or leave mid-fanout may or may not see this message; that
	// race is accepted. Offline members get no retry queue.
	d.fanout.Submit(func() { d.fanoutToGroup(groupID, senderID, protocol.MsgTypeGroupChat, msg) })

	d.respond(sess, protocol.MsgTypeGroupChatAck, protocol.StatusSuccess, msg.ID)
}

// fanoutToGroup delivers one message to every live member except the
// excluded sender
func (d *Dispatcher) fanoutToGroup(groupID, excludeID string, msgType uint8, msg *protocol.ChatMessage) {
	members, err := d.svc.Groups.Members(groupID)
	if err != nil {
		log.Printf("member list for %s failed: %v", groupID, err)
		return
	}

	for _, member := range members {
		if member.UserID == excludeID {
			continue
		}
		if d.sendToUser(member.UserID, msgType, msg) {
			metricFanoutDeliveries.Inc()
		}
	}
}

func (d *Dispatcher) handleGroupChatAck(payload []byte) {
	var req ackRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.MessageID == "" {
		return
	}

	d.stores.Submit(func() {
		if err := d.svc.Messages.UpdateStatus(req.MessageID, store.StatusDelivered); err != nil {
			log.Printf("group ack update for %s failed: %v", req.MessageID, err)
		}
	})
}

func (d *Dispatcher) handleGroupChatRead(payload []byte) {
	var req readRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.MessageID == "" {
		return
	}

	d.stores.Submit(func() {
		if err := d.svc.Messages.UpdateStatus(req.MessageID, store.StatusRead); err != nil {
			log.Printf("group read update for %s failed: %v", req.MessageID, err)
		}
	})
}

func (d *Dispatcher) handleGroupChatRecall(sess *Session, operatorID string, payload []byte) {
	var req recallRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.MessageID == "" || req.GroupID == "" {
		d.sendError(sess, "malformed recall request")
		return
	}

	msg, err := d.svc.Messages.Get(req.MessageID)
	if err != nil || msg == nil || msg.GroupID != req.GroupID {
		d.sendError(sess, "message not found")
		return
	}

	// The original sender or the group owner may recall
	canRecall := msg.FromUser == operatorID
	if !canRecall {
		isOwner, err := d.svc.Groups.IsOwner(req.GroupID, operatorID)
		if err != nil {
			log.Printf("owner check %s of %s failed: %v", operatorID, req.GroupID, err)
			d.sendError(sess, "recall could not be processed")
			return
		}
		canRecall = isOwner
	}
	if !canRecall {
		d.sendError(sess, "no permission to recall this message")
		return
	}

	d.stores.Submit(func() {
		if err := d.svc.Messages.UpdateStatus(req.MessageID, store.StatusRecalled); err != nil {
			log.Printf("group recall update for %s failed: %v", req.MessageID, err)
		}
	})

	// Recall notices go to every member, the operator included
	notify := &protocol.ChatMessage{
		ID:        newMessageID(),
		From:      operatorID,
		GroupID:   req.GroupID,
		Content:   req.MessageID,
		Type:      protocol.MsgTypeGroupChatRecall,
		Timestamp: nowMillis(),
	}
	d.fanout.Submit(func() { d.fanoutToGroup(req.GroupID, "", protocol.MsgTypeGroupChatRecall, notify) })

	d.respond(sess, protocol.MsgTypeSystemNotify, protocol.StatusSuccess, "message recalled")
}

// ------------------------------ group management ------------------------------

type groupCreateRequest struct {
	GroupName   string `json:"groupName"`
	Description string `json:"description"`
}

func (d *Dispatcher) handleGroupCreate(sess *Session, userID string, payload []byte) {
	var req groupCreateRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.GroupName == "" {
		d.sendError(sess, "malformed group create request")
		return
	}

	groupID, err := d.svc.Groups.Create(req.GroupName, userID, req.Description)
	if err != nil {
		log.Printf("group create by %s failed: %v", userID, err)
		d.sendError(sess, "group could not be created")
		return
	}

	d.respond(sess, protocol.MsgTypeGroupCreateResponse, protocol.StatusSuccess, groupID)
}

type groupJoinRequest struct {
	GroupID  string `json:"groupId"`
	Nickname string `json:"nickname"`
}

func (d *Dispatcher) handleGroupJoin(sess *Session, userID string, payload []byte) {
	var req groupJoinRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.GroupID == "" {
		d.sendError(sess, "malformed group join request")
		return
	}

	nickname := req.Nickname
	if nickname == "" {
		if user, err := d.svc.Users.GetByID(userID); err == nil && user != nil {
			nickname = user.Username
		}
	}

	if err := d.svc.Groups.AddMember(req.GroupID, userID, nickname); err != nil {
		if errors.Is(err, store.ErrAlreadyMember) {
			d.sendError(sess, "already a member of this group")
		} else {
			log.Printf("group join %s by %s failed: %v", req.GroupID, userID, err)
			d.sendError(sess, "could not join group")
		}
		return
	}

	d.respond(sess, protocol.MsgTypeGroupJoinResponse, protocol.StatusSuccess, "joined group")
	d.notifyGroup(req.GroupID, userID+" joined the group")
}

type groupQuitRequest struct {
	GroupID string `json:"groupId"`
}

func (d *Dispatcher) handleGroupQuit(sess *Session, userID string, payload []byte) {
	var req groupQuitRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.GroupID == "" {
		d.sendError(sess, "malformed group quit request")
		return
	}

	if err := d.svc.Groups.Quit(req.GroupID, userID); err != nil {
		if errors.Is(err, store.ErrOwnerCannotQuit) {
			d.sendError(sess, "the group owner cannot quit")
		} else {
			log.Printf("group quit %s by %s failed: %v", req.GroupID, userID, err)
			d.sendError(sess, "could not quit group")
		}
		return
	}

	d.respond(sess, protocol.MsgTypeGroupQuitResponse, protocol.StatusSuccess, "left group")
	d.notifyGroup(req.GroupID, userID+" left the group")
}

type groupMemberQueryRequest struct {
	GroupID string `json:"groupId"`
}

func (d *Dispatcher) handleGroupMemberQuery(sess *Session, payload []byte) {
	var req groupMemberQueryRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.GroupID == "" {
		d.sendError(sess, "malformed member query")
		return
	}

	members, err := d.svc.Groups.Members(req.GroupID)
	if err != nil {
		log.Printf("member query for %s failed: %v", req.GroupID, err)
		d.sendError(sess, "member list unavailable")
		return
	}

	data, err := json.Marshal(members)
	if err != nil {
		d.sendError(sess, "member list unavailable")
		return
	}
	d.respond(sess, protocol.MsgTypeGroupMemberResponse, protocol.StatusSuccess, string(data))
}

func (d *Dispatcher) handleGroupListQuery(sess *Session, userID string) {
	groups, err := d.svc.Groups.GroupsOf(userID)
	if err != nil {
		log.Printf("group list for %s failed: %v", userID, err)
		d.sendError(sess, "group list unavailable")
		return
	}

	data, err := json.Marshal(groups)
	if err != nil {
		d.sendError(sess, "group list unavailable")
		return
	}
	d.respond(sess, protocol.MsgTypeGroupListResponse, protocol.StatusSuccess, string(data))
}

// notifyGroup fans out a system notice to every live member
func (d *Dispatcher) notifyGroup(groupID, content string) {
	notify := systemChat(protocol.MsgTypeSystemNotify, protocol.StatusSuccess, content)
	notify.GroupID = groupID
	d.fanout.Submit(func() { d.fanoutToGroup(groupID, "", protocol.MsgTypeSystemNotify, notify) })
}
