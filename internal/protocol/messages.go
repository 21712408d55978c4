// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeJoinChannel    = "join_channel"
	TypeLeaveChannel   = "leave_channel"
	TypeSendMessage    = "send_message"
	TypeTypingStart    = "typing_start"
	TypeTypingStop     = "typing_stop"
	TypeFetchPage      = "fetch_page"
	TypeFetchBefore    = "fetch_before"
	TypeGetOnlineUsers = "get_online_users"
	TypePing           = "ping"
)

// Server -> Client message types.
const (
	TypeOnlineUsers       = "online_users"
	TypeUserOnline        = "user_online"
	TypeUserOffline       = "user_offline"
	TypeNewMessage        = "new_message"
	TypeUserTyping        = "user_typing"
	TypeUserStoppedTyping = "user_stopped_typing"
	TypeJoinedChannel     = "joined_channel"
	TypeLeftChannel       = "left_channel"
	TypePage              = "page"
	TypeError             = "error"
	TypePong              = "pong"
)

// Error codes produced by the transport itself. Domain error codes live in
// internal/apperr.
const (
	CodeParseError      = "parse_error"
	CodeUnsupportedType = "unsupported_type"
)

// ---------------------------------------------------------------------------
// Envelope is used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Shared payloads
// ---------------------------------------------------------------------------

// Message is the wire form of a persisted chat message.
type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// JoinChannelMsg subscribes the connection to a channel's broadcasts.
type JoinChannelMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	RequestID string `json:"request_id,omitempty"`
}

// LeaveChannelMsg unsubscribes the connection from a channel's broadcasts.
type LeaveChannelMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	RequestID string `json:"request_id,omitempty"`
}

// SendMessageMsg submits a new message to a channel.
type SendMessageMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	RequestID string `json:"request_id,omitempty"`
}

// TypingMsg starts or stops the typing indicator in a channel. The Type field
// tells the two apart.
type TypingMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
}

// FetchPageMsg requests a page of history counted backward from the newest
// message.
type FetchPageMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	Page      int    `json:"page"`
	PageSize  int    `json:"page_size"`
	RequestID string `json:"request_id,omitempty"`
}

// FetchBeforeMsg requests the messages immediately older than BeforeID.
type FetchBeforeMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	BeforeID  string `json:"before_id"`
	PageSize  int    `json:"page_size"`
	RequestID string `json:"request_id,omitempty"`
}

// GetOnlineUsersMsg asks the server to resend the online-users snapshot.
type GetOnlineUsersMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// OnlineUsersMsg is the full presence snapshot sent on connect and on request.
type OnlineUsersMsg struct {
	Type    string   `json:"type"`
	UserIDs []string `json:"user_ids"`
}

// UserOnlineMsg announces that a user went from zero to one connection.
type UserOnlineMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// UserOfflineMsg announces that a user's last connection closed.
type UserOfflineMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// NewMessageMsg delivers a persisted message to a channel's subscribers.
type NewMessageMsg struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
}

// UserTypingMsg relays a typing indicator. It is sent with either
// TypeUserTyping or TypeUserStoppedTyping.
type UserTypingMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

// JoinedChannelMsg confirms a join_channel request.
type JoinedChannelMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	RequestID string `json:"request_id,omitempty"`
}

// LeftChannelMsg confirms a leave_channel request.
type LeftChannelMsg struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	RequestID string `json:"request_id,omitempty"`
}

// PageMsg answers fetch_page and fetch_before. Messages are oldest first.
// Page is zero for cursor (fetch_before) responses.
type PageMsg struct {
	Type      string    `json:"type"`
	ChannelID string    `json:"channel_id"`
	Page      int       `json:"page"`
	BeforeID  string    `json:"before_id,omitempty"`
	Messages  []Message `json:"messages"`
	HasMore   bool      `json:"has_more"`
	Total     int       `json:"total"`
	RequestID string    `json:"request_id,omitempty"`
}

// ErrorMsg is sent by the server to communicate an error condition to the
// connection whose action failed.
type ErrorMsg struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoinChannel:
		var m JoinChannelMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeaveChannel:
		var m LeaveChannelMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSendMessage:
		var m SendMessageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTypingStart, TypeTypingStop:
		var m TypingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeFetchPage:
		var m FetchPageMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeFetchBefore:
		var m FetchBeforeMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeGetOnlineUsers:
		var m GetOnlineUsersMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server message structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}

// IsClientType reports whether msgType is a message clients may send.
func IsClientType(msgType string) bool {
	switch msgType {
	case TypeJoinChannel, TypeLeaveChannel, TypeSendMessage, TypeTypingStart, TypeTypingStop,
		TypeFetchPage, TypeFetchBefore, TypeGetOnlineUsers, TypePing:
		return true
	}
	return false
}

// ParseServerMessage extracts the type discriminator from a server message.
// The raw bytes are returned unchanged for decoding into the concrete struct.
func ParseServerMessage(data []byte) (string, json.RawMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse server message: %w", err)
	}
	return env.Type, env.Raw, nil
}
