package server

import (
	"encoding/json"
	"log"

	"github.com/chatwire/chatwire/pkg/protocol"
	"github.com/chatwire/chatwire/pkg/store"
)

// ------------------------------ single chat ------------------------------

func (d *Dispatcher) handleSingleChat(sess *Session, senderID string, payload []byte) {
	msg, _, err := protocol.DecodeChatPayload(payload)
	if err != nil {
		d.sendError(sess, "malformed chat message")
		return
	}

	receiverID := msg.To
	if receiverID == "" {
		d.sendError(sess, "chat message has no recipient")
		return
	}

	exists, err := d.svc.Users.Exists(receiverID)
	if err != nil {
		log.Printf("recipient check for %s failed: %v", receiverID, err)
		d.sendError(sess, "message could not be processed")
		return
	}
	if !exists {
		d.sendError(sess, "recipient does not exist")
		return
	}

	isFriend, err := d.svc.Friends.IsFriend(senderID, receiverID)
	if err != nil {
		log.Printf("friend check %s->%s failed: %v", senderID, receiverID, err)
		d.sendError(sess, "message could not be processed")
		return
	}
	if !isFriend {
		d.sendError(sess, "add the recipient as a friend first")
		return
	}

	msg.ID = newMessageID()
	msg.From = senderID
	msg.Type = protocol.MsgTypeSingleChat
	if msg.Timestamp == 0 {
		msg.Timestamp = nowMillis()
	}

	// Persistence never blocks the network path
	stored := storedFromChat(msg)
	d.stores.Submit(func() {
		if err := d.svc.Messages.Save(stored, store.StatusSent); err != nil {
			log.Printf("save message %s failed: %v", stored.MessageID, err)
		}
	})

	// Best-effort forward; offline recipients get the message on next login
	if d.sendToUser(receiverID, protocol.MsgTypeSingleChat, msg) {
		id := msg.ID
		d.stores.Submit(func() {
			if err := d.svc.Messages.UpdateStatus(id, store.StatusDelivered); err != nil {
				log.Printf("deliver update for %s failed: %v", id, err)
			}
		})
	}

	d.respond(sess, protocol.MsgTypeSingleChatAck, protocol.StatusSuccess, msg.ID)
}

type ackRequest struct {
	MessageID string `json:"messageId"`
}

func (d *Dispatcher) handleSingleChatAck(payload []byte) {
	var req ackRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.MessageID == "" {
		return
	}

	d.stores.Submit(func() {
		if err := d.svc.Messages.UpdateStatus(req.MessageID, store.StatusDelivered); err != nil {
			log.Printf("ack update for %s failed: %v", req.MessageID, err)
		}
	})
}

type readRequest struct {
	MessageID string `json:"messageId"`
	SenderID  string `json:"senderId"`
}

func (d *Dispatcher) handleSingleChatRead(payload []byte) {
	var req readRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.MessageID == "" {
		return
	}

	d.stores.Submit(func() {
		if err := d.svc.Messages.UpdateStatus(req.MessageID, store.StatusRead); err != nil {
			log.Printf("read update for %s failed: %v", req.MessageID, err)
		}
	})

	// Tell the original sender their message was read, if online
	if req.SenderID != "" {
		d.respondToUser(req.SenderID, protocol.MsgTypeSingleChatRead, protocol.StatusSuccess, req.MessageID)
	}
}

type recallRequest struct {
	MessageID  string `json:"messageId"`
	ReceiverID string `json:"receiverId"`
	GroupID    string `json:"groupId"`
}

func (d *Dispatcher) handleSingleChatRecall(sess *Session, operatorID string, payload []byte) {
	var req recallRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.MessageID == "" {
		d.sendError(sess, "malformed recall request")
		return
	}

	msg, err := d.svc.Messages.Get(req.MessageID)
	if err != nil {
		log.Printf("recall lookup for %s failed: %v", req.MessageID, err)
		d.sendError(sess, "message not found")
		return
	}
	// Only the original sender may recall a single chat message
	if msg == nil || msg.FromUser != operatorID {
		d.sendError(sess, "no permission to recall this message")
		return
	}

	d.stores.Submit(func() {
		if err := d.svc.Messages.UpdateStatus(req.MessageID, store.StatusRecalled); err != nil {
			log.Printf("recall update for %s failed: %v", req.MessageID, err)
		}
	})

	notify := &protocol.ChatMessage{
		ID:        newMessageID(),
		From:      operatorID,
		To:        req.ReceiverID,
		Content:   req.MessageID,
		Type:      protocol.MsgTypeSingleChatRecall,
		Timestamp: nowMillis(),
	}
	d.sendToUser(req.ReceiverID, protocol.MsgTypeSingleChatRecall, notify)

	d.respond(sess, protocol.MsgTypeSystemNotify, protocol.StatusSuccess, "message recalled")
}
