package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Group member roles
const (
	RoleOwner  = "OWNER"
	RoleMember = "MEMBER"
)

// GroupStore persists groups and their membership
type GroupStore struct {
	db *DB
}

// NewGroupStore returns a group store over db
func NewGroupStore(db *DB) *GroupStore {
	return &GroupStore{db: db}
}

func newGroupID() string {
	return "group_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Create creates a group and enrolls the owner as its first member
func (s *GroupStore) Create(name, ownerID, description string) (string, error) {
	groupID := newGroupID()
	now := time.Now().UnixMilli()

	tx, err := s.db.db.Begin()
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO groups (group_id, group_name, owner_id, description, create_time)
		 VALUES (?, ?, ?, ?, ?)`,
		groupID, name, ownerID, description, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert group: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO group_members (group_id, user_id, nickname, role, join_time)
		 VALUES (?, ?, ?, ?, ?)`,
		groupID, ownerID, "", RoleOwner, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert owner member: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit tx: %w", err)
	}
	return groupID, nil
}

// AddMember enrolls userID in groupID. Returns ErrAlreadyMember when
// the user is already enrolled and ErrNotFound for unknown groups.
func (s *GroupStore) AddMember(groupID, userID, nickname string) error {
	var n int
	if err := s.db.db.QueryRow(
		"SELECT COUNT(1) FROM groups WHERE group_id = ?", groupID,
	).Scan(&n); err != nil {
		return fmt.Errorf("query group: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	_, err := s.db.db.Exec(
		`INSERT INTO group_members (group_id, user_id, nickname, role, join_time)
		 VALUES (?, ?, ?, ?, ?)`,
		groupID, userID, nickname, RoleMember, time.Now().UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrAlreadyMember
		}
		return fmt.Errorf("insert group member: %w", err)
	}
	return nil
}

// Quit removes userID from groupID. The owner cannot quit their own
// group.
func (s *GroupStore) Quit(groupID, userID string) error {
	owner, err := s.IsOwner(groupID, userID)
	if err != nil {
		return err
	}
	if owner {
		return ErrOwnerCannotQuit
	}

	res, err := s.db.db.Exec(
		"DELETE FROM group_members WHERE group_id = ? AND user_id = ?",
		groupID, userID,
	)
	if err != nil {
		return fmt.Errorf("delete group member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IsMember reports whether userID is enrolled in groupID
func (s *GroupStore) IsMember(groupID, userID string) (bool, error) {
	var n int
	err := s.db.db.QueryRow(
		"SELECT COUNT(1) FROM group_members WHERE group_id = ? AND user_id = ?",
		groupID, userID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query group member: %w", err)
	}
	return n > 0, nil
}

// IsOwner reports whether userID owns groupID
func (s *GroupStore) IsOwner(groupID, userID string) (bool, error) {
	var owner string
	err := s.db.db.QueryRow(
		"SELECT owner_id FROM groups WHERE group_id = ?", groupID,
	).Scan(&owner)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query group owner: %w", err)
	}
	return owner == userID, nil
}

// Members returns the membership roster of groupID
func (s *GroupStore) Members(groupID string) ([]GroupMember, error) {
	rows, err := s.db.db.Query(
		`SELECT group_id, user_id, nickname, role FROM group_members
		 WHERE group_id = ? ORDER BY join_time`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("query group members: %w", err)
	}
	defer rows.Close()

	var members []GroupMember
	for rows.Next() {
		var m GroupMember
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Nickname, &m.Role); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// GroupsOf returns every group userID belongs to
func (s *GroupStore) GroupsOf(userID string) ([]Group, error) {
	rows, err := s.db.db.Query(
		`SELECT g.group_id, g.group_name, g.owner_id, g.description
		 FROM groups g JOIN group_members m ON g.group_id = m.group_id
		 WHERE m.user_id = ? ORDER BY m.join_time`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.GroupID, &g.GroupName, &g.OwnerID, &g.Description); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Get fetches a group by ID
func (s *GroupStore) Get(groupID string) (*Group, error) {
	g := &Group{}
	err := s.db.db.QueryRow(
		"SELECT group_id, group_name, owner_id, description FROM groups WHERE group_id = ?",
		groupID,
	).Scan(&g.GroupID, &g.GroupName, &g.OwnerID, &g.Description)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query group: %w", err)
	}
	return g, nil
}
