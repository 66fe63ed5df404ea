package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MessageStore persists chat messages and enforces monotonic status
// transitions
type MessageStore struct {
	db *DB
}

// NewMessageStore returns a message store over db
func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db}
}

// validTransitions maps a current status to the statuses it may move to
var validTransitions = map[string]map[string]bool{
	StatusSent:      {StatusDelivered: true, StatusRead: true, StatusRecalled: true},
	StatusDelivered: {StatusRead: true, StatusRecalled: true},
	StatusRead:      {},
	StatusRecalled:  {},
}

// Save persists msg with the given initial status
func (s *MessageStore) Save(msg *Message, status string) error {
	msg.Status = status
	_, err := s.db.db.Exec(
		`INSERT INTO messages (message_id, from_user, to_user, group_id, content, type, status, timestamp, create_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.MessageID, msg.FromUser, msg.ToUser, msg.GroupID,
		msg.Content, msg.Type, status, msg.Timestamp, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// Get fetches a message by ID
func (s *MessageStore) Get(messageID string) (*Message, error) {
	m := &Message{}
	err := s.db.db.QueryRow(
		`SELECT message_id, from_user, to_user, group_id, content, type, status, timestamp
		 FROM messages WHERE message_id = ?`,
		messageID,
	).Scan(&m.MessageID, &m.FromUser, &m.ToUser, &m.GroupID,
		&m.Content, &m.Type, &m.Status, &m.Timestamp)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query message: %w", err)
	}
	return m, nil
}

// UpdateStatus moves a message to status, rejecting transitions that
// would run backwards (a READ message never becomes DELIVERED again).
// The write is guarded on the status it validated against, so two
// store workers racing on the same message cannot overwrite a later
// status with an earlier one; a lost race re-reads and re-validates.
func (s *MessageStore) UpdateStatus(messageID, status string) error {
	for {
		var current string
		err := s.db.db.QueryRow(
			"SELECT status FROM messages WHERE message_id = ?", messageID,
		).Scan(&current)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("query message status: %w", err)
		}

		if current == status {
			return nil
		}
		if !validTransitions[current][status] {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
		}

		res, err := s.db.db.Exec(
			"UPDATE messages SET status = ? WHERE message_id = ? AND status = ?",
			status, messageID, current,
		)
		if err != nil {
			return fmt.Errorf("update message status: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("update message status: %w", err)
		} else if n == 1 {
			return nil
		}
	}
}

// BatchUpdateStatus applies UpdateStatus to each ID, skipping the ones
// whose current status disallows the transition
func (s *MessageStore) BatchUpdateStatus(messageIDs []string, status string) error {
	for _, id := range messageIDs {
		if err := s.UpdateStatus(id, status); err != nil {
			if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return err
		}
	}
	return nil
}

// UnreadFor returns messages addressed to userID that were never
// delivered, oldest first
func (s *MessageStore) UnreadFor(userID string) ([]Message, error) {
	rows, err := s.db.db.Query(
		`SELECT message_id, from_user, to_user, group_id, content, type, status, timestamp
		 FROM messages WHERE to_user = ? AND status = ? ORDER BY timestamp`,
		userID, StatusSent,
	)
	if err != nil {
		return nil, fmt.Errorf("query unread messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// History returns up to limit messages exchanged between two users
// before the given timestamp, newest first. A zero before means now.
func (s *MessageStore) History(userA, userB string, before int64, limit int) ([]Message, error) {
	if before <= 0 {
		before = time.Now().UnixMilli() + 1
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.db.Query(
		`SELECT message_id, from_user, to_user, group_id, content, type, status, timestamp
		 FROM messages
		 WHERE ((from_user = ? AND to_user = ?) OR (from_user = ? AND to_user = ?))
		   AND timestamp < ?
		 ORDER BY timestamp DESC LIMIT ?`,
		userA, userB, userB, userA, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query message history: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// GroupHistory returns up to limit messages of a group before the
// given timestamp, newest first
func (s *MessageStore) GroupHistory(groupID string, before int64, limit int) ([]Message, error) {
	if before <= 0 {
		before = time.Now().UnixMilli() + 1
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.db.Query(
		`SELECT message_id, from_user, to_user, group_id, content, type, status, timestamp
		 FROM messages WHERE group_id = ? AND timestamp < ?
		 ORDER BY timestamp DESC LIMIT ?`,
		groupID, before, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query group history: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.MessageID, &m.FromUser, &m.ToUser, &m.GroupID,
			&m.Content, &m.Type, &m.Status, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
