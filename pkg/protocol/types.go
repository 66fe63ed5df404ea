package protocol

import "fmt"

// Protocol constants
const (
	// Magic number shared by client and server
	ProtocolMagic uint32 = 0x12345678

	// Protocol version
	ProtocolVersion uint8 = 0x01

	// Header size: magic(4) + version(1) + type(1) + length(4)
	HeaderSize = 10

	// Maximum total frame size (50MB)
	MaxFrameSize = 50 * 1024 * 1024

	// MaxPayloadSize is the largest payload a frame may carry
	MaxPayloadSize = MaxFrameSize - HeaderSize
)

// Message types. The numeric values are wire-stable and grouped by range;
// existing clients depend on them.
const (
	// System (0-9)
	MsgTypeLogin          uint8 = 0
	MsgTypeLoginResponse  uint8 = 1
	MsgTypeLogout         uint8 = 2
	MsgTypeLogoutResponse uint8 = 3
	MsgTypePing           uint8 = 4
	MsgTypePong           uint8 = 5
	MsgTypeSystemNotify   uint8 = 6
	MsgTypeErrorResponse  uint8 = 7

	// Single chat (10-19)
	MsgTypeSingleChat       uint8 = 10
	MsgTypeSingleChatAck    uint8 = 11
	MsgTypeSingleChatRead   uint8 = 12
	MsgTypeSingleChatRecall uint8 = 13

	// Group chat (20-29)
	MsgTypeGroupChat       uint8 = 20
	MsgTypeGroupChatAck    uint8 = 21
	MsgTypeGroupChatRead   uint8 = 22
	MsgTypeGroupChatRecall uint8 = 23

	// Friend management (30-39)
	MsgTypeFriendRequestSend     uint8 = 30
	MsgTypeFriendRequestRecv     uint8 = 31
	MsgTypeFriendRequestResponse uint8 = 32
	MsgTypeFriendRequestResult   uint8 = 33
	MsgTypeFriendListQuery       uint8 = 34
	MsgTypeFriendListResponse    uint8 = 35
	MsgTypeFriendDelete          uint8 = 36
	MsgTypeFriendDeleteResponse  uint8 = 37

	// Group management (40-49)
	MsgTypeGroupCreate         uint8 = 40
	MsgTypeGroupCreateResponse uint8 = 41
	MsgTypeGroupJoin           uint8 = 42
	MsgTypeGroupJoinResponse   uint8 = 43
	MsgTypeGroupQuit           uint8 = 44
	MsgTypeGroupQuitResponse   uint8 = 45
	MsgTypeGroupMemberQuery    uint8 = 46
	MsgTypeGroupMemberResponse uint8 = 47
	MsgTypeGroupListQuery      uint8 = 48
	MsgTypeGroupListResponse   uint8 = 49
)

var msgTypeNames = map[uint8]string{
	MsgTypeLogin:                 "LOGIN",
	MsgTypeLoginResponse:         "LOGIN_RESPONSE",
	MsgTypeLogout:                "LOGOUT",
	MsgTypeLogoutResponse:        "LOGOUT_RESPONSE",
	MsgTypePing:                  "PING",
	MsgTypePong:                  "PONG",
	MsgTypeSystemNotify:          "SYSTEM_NOTIFY",
	MsgTypeErrorResponse:         "ERROR_RESPONSE",
	MsgTypeSingleChat:            "SINGLE_CHAT",
	MsgTypeSingleChatAck:         "SINGLE_CHAT_ACK",
	MsgTypeSingleChatRead:        "SINGLE_CHAT_READ",
	MsgTypeSingleChatRecall:      "SINGLE_CHAT_RECALL",
	MsgTypeGroupChat:             "GROUP_CHAT",
	MsgTypeGroupChatAck:          "GROUP_CHAT_ACK",
	MsgTypeGroupChatRead:         "GROUP_CHAT_READ",
	MsgTypeGroupChatRecall:       "GROUP_CHAT_RECALL",
	MsgTypeFriendRequestSend:     "FRIEND_REQUEST_SEND",
	MsgTypeFriendRequestRecv:     "FRIEND_REQUEST_RECV",
	MsgTypeFriendRequestResponse: "FRIEND_REQUEST_RESPONSE",
	MsgTypeFriendRequestResult:   "FRIEND_REQUEST_RESULT",
	MsgTypeFriendListQuery:       "FRIEND_LIST_QUERY",
	MsgTypeFriendListResponse:    "FRIEND_LIST_RESPONSE",
	MsgTypeFriendDelete:          "FRIEND_DELETE",
	MsgTypeFriendDeleteResponse:  "FRIEND_DELETE_RESPONSE",
	MsgTypeGroupCreate:           "GROUP_CREATE",
	MsgTypeGroupCreateResponse:   "GROUP_CREATE_RESPONSE",
	MsgTypeGroupJoin:             "GROUP_JOIN",
	MsgTypeGroupJoinResponse:     "GROUP_JOIN_RESPONSE",
	MsgTypeGroupQuit:             "GROUP_QUIT",
	MsgTypeGroupQuitResponse:     "GROUP_QUIT_RESPONSE",
	MsgTypeGroupMemberQuery:      "GROUP_MEMBER_QUERY",
	MsgTypeGroupMemberResponse:   "GROUP_MEMBER_RESPONSE",
	MsgTypeGroupListQuery:        "GROUP_LIST_QUERY",
	MsgTypeGroupListResponse:     "GROUP_LIST_RESPONSE",
}

// MsgTypeName returns a human-readable name for a message type code
func MsgTypeName(t uint8) string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", t)
}

// KnownMsgType checks if the type code is part of the protocol
func KnownMsgType(t uint8) bool {
	_, ok := msgTypeNames[t]
	return ok
}

// Status values carried in the Extra side-channel of response envelopes
const (
	StatusSuccess = "success"
	StatusFail    = "fail"
	StatusError   = "error"
)
