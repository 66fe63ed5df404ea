package server

import "github.com/chatwire/chatwire/pkg/store"

// Collaborator interfaces consumed by the dispatcher. The SQLite-backed
// implementations live in pkg/store; tests substitute fakes.

// UserService manages user accounts and their persisted status
type UserService interface {
	Login(username, password string) (string, error)
	Exists(userID string) (bool, error)
	SetStatus(userID, status string) error
	GetByID(userID string) (*store.User, error)
}

// FriendService manages friend relations and pending requests
type FriendService interface {
	IsFriend(userID, friendID string) (bool, error)
	AddRequest(fromUser, toUser, remark string) (bool, error)
	ResolveRequest(fromUser, toUser string, accept bool) (bool, error)
	ListFriends(userID string) ([]string, error)
	Remove(userID, friendID string) (bool, error)
}

// GroupService manages groups and membership
type GroupService interface {
	Create(name, ownerID, description string) (string, error)
	AddMember(groupID, userID, nickname string) error
	Quit(groupID, userID string) error
	IsMember(groupID, userID string) (bool, error)
	IsOwner(groupID, userID string) (bool, error)
	Members(groupID string) ([]store.GroupMember, error)
	GroupsOf(userID string) ([]store.Group, error)
}

// MessageService persists chat messages and their delivery status
type MessageService interface {
	Save(msg *store.Message, status string) error
	Get(messageID string) (*store.Message, error)
	UpdateStatus(messageID, status string) error
	BatchUpdateStatus(messageIDs []string, status string) error
	UnreadFor(userID string) ([]store.Message, error)
}

// PresenceCache tracks online status in a TTL key-value cache
type PresenceCache interface {
	SetOnline(userID string)
	SetOffline(userID string)
	IsOnline(userID string) bool
}

// Services bundles the external collaborators the dispatcher needs
type Services struct {
	Users    UserService
	Friends  FriendService
	Groups   GroupService
	Messages MessageService
	Presence PresenceCache
}
