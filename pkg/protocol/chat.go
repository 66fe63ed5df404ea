package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrFieldTooLong = errors.New("string field exceeds maximum length")
	ErrShortPayload = errors.New("payload too short for binary chat message")
)

// Maximum encoded length of a single string field. The 2-byte length
// prefix reserves 0xFFFF as the absent marker, so the ceiling is one less.
const MaxFieldLen = 0xFFFE

// nilMarker distinguishes an absent nullable field from an empty string
const nilMarker = 0xFFFF

// PayloadEncoding tags which of the two chat payload encodings was used
type PayloadEncoding uint8

const (
	EncodingJSON PayloadEncoding = iota
	EncodingBinary
)

// ChatMessage is the chat-class payload carried inside an envelope.
//
// To is set for single chat, GroupID for group chat; exactly one of the
// two must be non-empty for chat-class types. Extra is a free-form
// side-channel used for status signaling (login result, ack status).
type ChatMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to,omitempty"`
	Content   string `json:"content"`
	Type      uint8  `json:"type"`
	Timestamp int64  `json:"timestamp"`
	GroupID   string `json:"groupId,omitempty"`
	Extra     string `json:"extra,omitempty"`
}

// NewChatMessage creates a chat message of the given type with the
// timestamp set to now
func NewChatMessage(msgType uint8) *ChatMessage {
	return &ChatMessage{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
	}
}

// EncodeJSON encodes the chat message as a JSON payload
func (m *ChatMessage) EncodeJSON() ([]byte, error) {
	return json.Marshal(m)
}

// EncodeBinary encodes the chat message in the fixed-order binary layout:
// type byte, then length-prefixed strings (id, from, to, groupId, content,
// extra), then the 8-byte timestamp. All length prefixes are 2-byte
// big-endian; fields longer than MaxFieldLen are an encode error, never
// silently truncated.
func (m *ChatMessage) EncodeBinary() ([]byte, error) {
	buf := make([]byte, 0, 64+len(m.Content))
	buf = append(buf, m.Type)

	var err error
	if buf, err = appendString(buf, m.ID, false); err != nil {
		return nil, fmt.Errorf("id: %w", err)
	}
	if buf, err = appendString(buf, m.From, false); err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if buf, err = appendString(buf, m.To, true); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	if buf, err = appendString(buf, m.GroupID, true); err != nil {
		return nil, fmt.Errorf("groupId: %w", err)
	}
	if buf, err = appendString(buf, m.Content, false); err != nil {
		return nil, fmt.Errorf("content: %w", err)
	}
	if buf, err = appendString(buf, m.Extra, true); err != nil {
		return nil, fmt.Errorf("extra: %w", err)
	}

	buf = binary.BigEndian.AppendUint64(buf, uint64(m.Timestamp))
	return buf, nil
}

// DecodeBinary decodes the fixed-order binary layout
func (m *ChatMessage) DecodeBinary(buf []byte) error {
	if len(buf) < 1 {
		return ErrShortPayload
	}

	m.Type = buf[0]
	rest := buf[1:]

	var err error
	if m.ID, rest, err = readString(rest); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	if m.From, rest, err = readString(rest); err != nil {
		return fmt.Errorf("from: %w", err)
	}
	if m.To, rest, err = readString(rest); err != nil {
		return fmt.Errorf("to: %w", err)
	}
	if m.GroupID, rest, err = readString(rest); err != nil {
		return fmt.Errorf("groupId: %w", err)
	}
	if m.Content, rest, err = readString(rest); err != nil {
		return fmt.Errorf("content: %w", err)
	}
	if m.Extra, rest, err = readString(rest); err != nil {
		return fmt.Errorf("extra: %w", err)
	}

	if len(rest) < 8 {
		return ErrShortPayload
	}
	m.Timestamp = int64(binary.BigEndian.Uint64(rest[:8]))

	return nil
}

// DecodeChatPayload decodes a chat payload in either supported encoding.
//
// The two-stage strategy exists for compatibility between encoding
// schemes and the order matters: a valid JSON object is taken verbatim,
// anything else is parsed as the fixed-order binary layout.
func DecodeChatPayload(payload []byte) (*ChatMessage, PayloadEncoding, error) {
	msg := &ChatMessage{}

	if json.Valid(payload) {
		if err := json.Unmarshal(payload, msg); err == nil {
			return msg, EncodingJSON, nil
		}
	}

	if err := msg.DecodeBinary(payload); err != nil {
		return nil, EncodingBinary, fmt.Errorf("decode chat payload: %w", err)
	}
	return msg, EncodingBinary, nil
}

// appendString appends a 2-byte length prefix and UTF-8 bytes. For
// nullable fields an empty value is written as the absent marker, which
// stays distinct from a present zero-length string.
func appendString(buf []byte, s string, nullable bool) ([]byte, error) {
	if len(s) > MaxFieldLen {
		return nil, ErrFieldTooLong
	}

	if nullable && s == "" {
		return binary.BigEndian.AppendUint16(buf, nilMarker), nil
	}

	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...), nil
}

// readString reads one length-prefixed string and returns the remainder
func readString(buf []byte) (string, []byte, error) {
	if len(buf) < 2 {
		return "", nil, ErrShortPayload
	}

	length := binary.BigEndian.Uint16(buf[0:2])
	buf = buf[2:]

	if length == nilMarker {
		return "", buf, nil
	}

	if len(buf) < int(length) {
		return "", nil, ErrShortPayload
	}

	return string(buf[:length]), buf[length:], nil
}
