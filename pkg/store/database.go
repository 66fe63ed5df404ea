package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrAlreadyMember      = errors.New("already a group member")
	ErrOwnerCannotQuit    = errors.New("group owner cannot quit")
	ErrInvalidTransition  = errors.New("invalid message status transition")
)

// Message delivery statuses. Transitions are monotonic:
// SENT -> DELIVERED -> READ, with RECALLED reachable from SENT or
// DELIVERED. Nothing transitions out of READ or RECALLED.
const (
	StatusSent      = "SENT"
	StatusDelivered = "DELIVERED"
	StatusRead      = "READ"
	StatusRecalled  = "RECALLED"
)

// User presence statuses persisted alongside the account
const (
	UserOnline  = "ONLINE"
	UserOffline = "OFFLINE"
)

// User is an account row. The password digest never leaves the store.
type User struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Password string `json:"-"`
	Status   string `json:"status"`
}

// Message is a persisted chat message
type Message struct {
	MessageID string `json:"messageId"`
	FromUser  string `json:"fromUser"`
	ToUser    string `json:"toUser,omitempty"`
	GroupID   string `json:"groupId,omitempty"`
	Content   string `json:"content"`
	Type      uint8  `json:"type"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp"`
}

// Group is a chat group. The owner is immutable once created; there is
// no ownership transfer.
type Group struct {
	GroupID     string `json:"groupId"`
	GroupName   string `json:"groupName"`
	OwnerID     string `json:"ownerId"`
	Description string `json:"description,omitempty"`
}

// GroupMember is one membership row
type GroupMember struct {
	GroupID  string `json:"groupId"`
	UserID   string `json:"userId"`
	Nickname string `json:"nickname,omitempty"`
	Role     string `json:"role"`
}

// FriendRequest is a pending, accepted or rejected friend request
type FriendRequest struct {
	FromUser string `json:"fromUser"`
	ToUser   string `json:"toUser"`
	Remark   string `json:"remark,omitempty"`
	Status   string `json:"status"`
}

// DB wraps the SQLite database shared by all store services
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode for better concurrency between the worker pools
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	// Writers from the fanout and store pools contend; wait instead of
	// failing with SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &DB{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		user_id     TEXT PRIMARY KEY,
		username    TEXT NOT NULL UNIQUE,
		password    TEXT NOT NULL,
		status      TEXT NOT NULL DEFAULT 'OFFLINE',
		create_time INTEGER NOT NULL,
		update_time INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS friends (
		user_id     TEXT NOT NULL,
		friend_id   TEXT NOT NULL,
		remark      TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'NORMAL',
		create_time INTEGER NOT NULL,
		PRIMARY KEY (user_id, friend_id)
	);

	CREATE TABLE IF NOT EXISTS friend_requests (
		from_user   TEXT NOT NULL,
		to_user     TEXT NOT NULL,
		remark      TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'PENDING',
		create_time INTEGER NOT NULL,
		PRIMARY KEY (from_user, to_user)
	);

	CREATE TABLE IF NOT EXISTS groups (
		group_id    TEXT PRIMARY KEY,
		group_name  TEXT NOT NULL,
		owner_id    TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		create_time INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS group_members (
		group_id  TEXT NOT NULL,
		user_id   TEXT NOT NULL,
		nickname  TEXT NOT NULL DEFAULT '',
		role      TEXT NOT NULL DEFAULT 'MEMBER',
		join_time INTEGER NOT NULL,
		PRIMARY KEY (group_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		message_id  TEXT PRIMARY KEY,
		from_user   TEXT NOT NULL,
		to_user     TEXT NOT NULL DEFAULT '',
		group_id    TEXT NOT NULL DEFAULT '',
		content     TEXT NOT NULL,
		type        INTEGER NOT NULL,
		status      TEXT NOT NULL,
		timestamp   INTEGER NOT NULL,
		create_time INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_unread
		ON messages (to_user, status);
	CREATE INDEX IF NOT EXISTS idx_messages_history
		ON messages (from_user, to_user, timestamp);
	CREATE INDEX IF NOT EXISTS idx_group_members_user
		ON group_members (user_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (s *DB) Close() error {
	return s.db.Close()
}
