package server

import (
	"encoding/json"
	"log"

	"github.com/chatwire/chatwire/pkg/protocol"
)

// ------------------------------ friend management ------------------------------

type friendRequestSend struct {
	TargetUserID string `json:"targetUserId"`
	Remark       string `json:"remark"`
}

func (d *Dispatcher) handleFriendRequestSend(sess *Session, senderID string, payload []byte) {
	var req friendRequestSend
	if err := json.Unmarshal(payload, &req); err != nil || req.TargetUserID == "" {
		d.sendError(sess, "malformed friend request")
		return
	}

	ok, err := d.svc.Friends.AddRequest(senderID, req.TargetUserID, req.Remark)
	if err != nil {
		log.Printf("friend request %s->%s failed: %v", senderID, req.TargetUserID, err)
		d.sendError(sess, "friend request could not be processed")
		return
	}
	if !ok {
		d.sendError(sess, "request already pending or already friends")
		return
	}

	senderName := senderID
	if user, err := d.svc.Users.GetByID(senderID); err == nil && user != nil {
		senderName = user.Username
	}

	// Notify the target asynchronously; offline targets see the pending
	// request through the query surface instead
	d.fanout.Submit(func() {
		notify := &protocol.ChatMessage{
			ID:        newMessageID(),
			From:      senderID,
			To:        req.TargetUserID,
			Content:   senderName + " wants to add you as a friend: " + req.Remark,
			Type:      protocol.MsgTypeFriendRequestRecv,
			Timestamp: nowMillis(),
		}
		d.sendToUser(req.TargetUserID, protocol.MsgTypeFriendRequestRecv, notify)
	})

	d.respond(sess, protocol.MsgTypeSystemNotify, protocol.StatusSuccess, "friend request sent")
}

type friendRequestResponse struct {
	RequesterID string `json:"requesterId"`
	Accepted    bool   `json:"accepted"`
}

func (d *Dispatcher) handleFriendRequestResponse(sess *Session, userID string, payload []byte) {
	var req friendRequestResponse
	if err := json.Unmarshal(payload, &req); err != nil || req.RequesterID == "" {
		d.sendError(sess, "malformed friend response")
		return
	}

	ok, err := d.svc.Friends.ResolveRequest(req.RequesterID, userID, req.Accepted)
	if err != nil {
		log.Printf("friend response %s->%s failed: %v", req.RequesterID, userID, err)
		d.sendError(sess, "friend response could not be processed")
		return
	}
	if !ok {
		d.sendError(sess, "no pending request from this user")
		return
	}

	result := userID + " rejected your friend request"
	ack := "friend request rejected"
	if req.Accepted {
		result = userID + " accepted your friend request"
		ack = "friend request accepted"
	}

	d.fanout.Submit(func() {
		d.respondToUser(req.RequesterID, protocol.MsgTypeFriendRequestResult, protocol.StatusSuccess, result)
	})
	d.respond(sess, protocol.MsgTypeSystemNotify, protocol.StatusSuccess, ack)
}

func (d *Dispatcher) handleFriendListQuery(sess *Session, userID string) {
	friendIDs, err := d.svc.Friends.ListFriends(userID)
	if err != nil {
		log.Printf("friend list for %s failed: %v", userID, err)
		d.sendError(sess, "friend list unavailable")
		return
	}

	friends := make([]any, 0, len(friendIDs))
	for _, id := range friendIDs {
		if user, err := d.svc.Users.GetByID(id); err == nil && user != nil {
			friends = append(friends, user)
		}
	}

	data, err := json.Marshal(friends)
	if err != nil {
		d.sendError(sess, "friend list unavailable")
		return
	}
	d.respond(sess, protocol.MsgTypeFriendListResponse, protocol.StatusSuccess, string(data))
}

type friendDeleteRequest struct {
	FriendID string `json:"friendId"`
}

func (d *Dispatcher) handleFriendDelete(sess *Session, userID string, payload []byte) {
	var req friendDeleteRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.FriendID == "" {
		d.sendError(sess, "malformed friend delete request")
		return
	}

	ok, err := d.svc.Friends.Remove(userID, req.FriendID)
	if err != nil {
		log.Printf("friend delete %s->%s failed: %v", userID, req.FriendID, err)
		d.sendError(sess, "friend could not be removed")
		return
	}
	if !ok {
		d.sendError(sess, "not in your friend list")
		return
	}

	d.respondToUser(req.FriendID, protocol.MsgTypeSystemNotify, protocol.StatusSuccess,
		userID+" removed you from their friend list")
	d.respond(sess, protocol.MsgTypeFriendDeleteResponse, protocol.StatusSuccess, "friend removed")
}
