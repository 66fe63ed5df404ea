package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Friend request statuses
const (
	RequestPending  = "PENDING"
	RequestAccepted = "ACCEPTED"
	RequestRejected = "REJECTED"
)

// FriendStore persists friend relations and requests. Relations are
// stored as two rows, one per direction, so listing is a single query.
type FriendStore struct {
	db *DB
}

// NewFriendStore returns a friend store over db
func NewFriendStore(db *DB) *FriendStore {
	return &FriendStore{db: db}
}

// IsFriend reports whether friendID is in userID's friend list
func (s *FriendStore) IsFriend(userID, friendID string) (bool, error) {
	var n int
	err := s.db.db.QueryRow(
		"SELECT COUNT(1) FROM friends WHERE user_id = ? AND friend_id = ?",
		userID, friendID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query friend: %w", err)
	}
	return n > 0, nil
}

// AddRequest records a pending friend request. Returns false when the
// pair is already friends, when a request is already pending, or on a
// self-request.
func (s *FriendStore) AddRequest(fromUser, toUser, remark string) (bool, error) {
	if fromUser == toUser {
		return false, nil
	}
	already, err := s.IsFriend(fromUser, toUser)
	if err != nil {
		return false, err
	}
	if already {
		return false, nil
	}

	var status string
	err = s.db.db.QueryRow(
		"SELECT status FROM friend_requests WHERE from_user = ? AND to_user = ?",
		fromUser, toUser,
	).Scan(&status)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.db.Exec(
			`INSERT INTO friend_requests (from_user, to_user, remark, status, create_time)
			 VALUES (?, ?, ?, ?, ?)`,
			fromUser, toUser, remark, RequestPending, time.Now().UnixMilli(),
		)
		if err != nil {
			return false, fmt.Errorf("insert friend request: %w", err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("query friend request: %w", err)
	case status == RequestPending:
		return false, nil
	default:
		// A rejected or stale accepted request can be re-sent
		_, err = s.db.db.Exec(
			`UPDATE friend_requests SET remark = ?, status = ?, create_time = ?
			 WHERE from_user = ? AND to_user = ?`,
			remark, RequestPending, time.Now().UnixMilli(), fromUser, toUser,
		)
		if err != nil {
			return false, fmt.Errorf("renew friend request: %w", err)
		}
		return true, nil
	}
}

// ResolveRequest accepts or rejects a pending request from fromUser to
// toUser. On accept both directed relation rows are inserted in one
// transaction. Returns false when no pending request exists.
func (s *FriendStore) ResolveRequest(fromUser, toUser string, accept bool) (bool, error) {
	status := RequestRejected
	if accept {
		status = RequestAccepted
	}

	tx, err := s.db.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE friend_requests SET status = ?
		 WHERE from_user = ? AND to_user = ? AND status = ?`,
		status, fromUser, toUser, RequestPending,
	)
	if err != nil {
		return false, fmt.Errorf("update friend request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if accept {
		now := time.Now().UnixMilli()
		_, err = tx.Exec(
			`INSERT OR IGNORE INTO friends (user_id, friend_id, create_time)
			 VALUES (?, ?, ?), (?, ?, ?)`,
			fromUser, toUser, now, toUser, fromUser, now,
		)
		if err != nil {
			return false, fmt.Errorf("insert friend rows: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

// ListFriends returns the user IDs of userID's friends
func (s *FriendStore) ListFriends(userID string) ([]string, error) {
	rows, err := s.db.db.Query(
		"SELECT friend_id FROM friends WHERE user_id = ? ORDER BY create_time",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query friends: %w", err)
	}
	defer rows.Close()

	var friends []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		friends = append(friends, id)
	}
	return friends, rows.Err()
}

// Remove deletes the relation in both directions. Returns false when
// the pair was not friends.
func (s *FriendStore) Remove(userID, friendID string) (bool, error) {
	res, err := s.db.db.Exec(
		`DELETE FROM friends
		 WHERE (user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)`,
		userID, friendID, friendID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("delete friend rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// PendingRequests returns requests addressed to userID that are still
// awaiting a response
func (s *FriendStore) PendingRequests(userID string) ([]FriendRequest, error) {
	rows, err := s.db.db.Query(
		`SELECT from_user, to_user, remark, status FROM friend_requests
		 WHERE to_user = ? AND status = ? ORDER BY create_time`,
		userID, RequestPending,
	)
	if err != nil {
		return nil, fmt.Errorf("query friend requests: %w", err)
	}
	defer rows.Close()

	var reqs []FriendRequest
	for rows.Next() {
		var r FriendRequest
		if err := rows.Scan(&r.FromUser, &r.ToUser, &r.Remark, &r.Status); err != nil {
			return nil, fmt.Errorf("scan friend request: %w", err)
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}
