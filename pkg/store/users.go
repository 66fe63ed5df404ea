package store

import (
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UserStore persists accounts in SQLite
type UserStore struct {
	db *DB
}

// NewUserStore returns a user store over db
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

func hashPassword(password string) string {
	sum := md5.Sum([]byte(password))
	return hex.EncodeToString(sum[:])
}

func newUserID() string {
	return "user_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// Register creates a new account and returns its generated user ID
func (s *UserStore) Register(username, password string) (string, error) {
	if username == "" || password == "" {
		return "", ErrInvalidCredentials
	}

	userID := newUserID()
	now := time.Now().UnixMilli()
	_, err := s.db.db.Exec(
		`INSERT INTO users (user_id, username, password, status, create_time, update_time)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		userID, username, hashPassword(password), UserOffline, now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return "", ErrUsernameTaken
		}
		return "", fmt.Errorf("register user: %w", err)
	}
	return userID, nil
}

// Login verifies credentials and returns the account's user ID
func (s *UserStore) Login(username, password string) (string, error) {
	var userID, stored string
	err := s.db.db.QueryRow(
		"SELECT user_id, password FROM users WHERE username = ?", username,
	).Scan(&userID, &stored)
	if err == sql.ErrNoRows {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("query user: %w", err)
	}
	if stored != hashPassword(password) {
		return "", ErrInvalidCredentials
	}
	return userID, nil
}

// Exists reports whether an account with userID exists
func (s *UserStore) Exists(userID string) (bool, error) {
	var n int
	err := s.db.db.QueryRow(
		"SELECT COUNT(1) FROM users WHERE user_id = ?", userID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query user: %w", err)
	}
	return n > 0, nil
}

// SetStatus records the persisted presence status for userID
func (s *UserStore) SetStatus(userID, status string) error {
	_, err := s.db.db.Exec(
		"UPDATE users SET status = ?, update_time = ? WHERE user_id = ?",
		status, time.Now().UnixMilli(), userID,
	)
	if err != nil {
		return fmt.Errorf("update user status: %w", err)
	}
	return nil
}

// GetByID fetches an account by user ID
func (s *UserStore) GetByID(userID string) (*User, error) {
	u := &User{}
	err := s.db.db.QueryRow(
		"SELECT user_id, username, password, status FROM users WHERE user_id = ?",
		userID,
	).Scan(&u.UserID, &u.Username, &u.Password, &u.Status)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// GetByUsername fetches an account by username
func (s *UserStore) GetByUsername(username string) (*User, error) {
	u := &User{}
	err := s.db.db.QueryRow(
		"SELECT user_id, username, password, status FROM users WHERE username = ?",
		username,
	).Scan(&u.UserID, &u.Username, &u.Password, &u.Status)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}
