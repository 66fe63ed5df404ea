// Package protocol implements the chatwire wire protocol.
//
// Every frame on the wire is an Envelope:
//
//	[magic:4][version:1][type:1][length:4][payload:length]
//
// All integers are big-endian. The magic number validates stream
// alignment; a mismatch is fatal for the connection because the rest of
// the stream can no longer be parsed safely.
//
// Chat-class payloads support two encodings. A payload that parses as
// JSON is used verbatim; anything else is decoded with the fixed-order
// binary layout (see ChatMessage.EncodeBinary). The JSON-first fallback
// order is part of the protocol contract and keeps old and new clients
// interoperable.
//
// Message type codes are stable small integers grouped by decade:
// 0-9 system, 10-19 single chat, 20-29 group chat, 30-39 friend
// management, 40-49 group management.
package protocol
