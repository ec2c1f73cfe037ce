package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Websocket frame types, client to server.
const (
	FrameJoinRoom     = "join-room"
	FrameLeaveRoom    = "leave-room"
	FrameCursorUpdate = "cursor-update"
	FrameTypingStart  = "typing-start"
	FrameTypingStop   = "typing-stop"
	FramePing         = "ping"
)

// Websocket frame types, server to client.
const (
	FrameJoined       = "joined"
	FramePeerJoined   = "peer-joined"
	FramePeerLeft     = "peer-left"
	FrameTyping       = "typing"
	FrameNoteMutated  = "note-mutated"
	FrameNotification = "notification"
	FramePong         = "pong"
	FrameError        = "error"
)

// Frame is the websocket envelope. Every message on the wire is a Frame;
// Type selects the payload variant and receivers must dispatch on it
// exhaustively, treating unknown types as protocol errors.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame builds a frame of the given type, marshalling payload. A nil
// payload produces a frame with no payload field (ping/pong).
func NewFrame(frameType string, payload any) (*Frame, error) {
	f := &Frame{Type: frameType}
	if payload == nil {
		return f, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", frameType, err)
	}
	f.Payload = raw
	return f, nil
}

// DecodePayload unmarshals the frame payload into v.
func (f *Frame) DecodePayload(v any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("frame %s has no payload", f.Type)
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Type, err)
	}
	return nil
}

// JoinRoomPayload asks to join the room of a note.
type JoinRoomPayload struct {
	NoteID string `json:"note_id"`
}

// LeaveRoomPayload asks to leave the room of a note.
type LeaveRoomPayload struct {
	NoteID string `json:"note_id"`
}

// CursorUpdatePayload carries a cursor move. Inbound, the gateway fills
// UserID and ConnID before rebroadcasting.
type CursorUpdatePayload struct {
	NoteID   string `json:"note_id"`
	Position int    `json:"position"`
	UserID   string `json:"user_id,omitempty"`
	ConnID   string `json:"conn_id,omitempty"`
}

// TypingPayload signals typing start/stop for a room member.
type TypingPayload struct {
	NoteID string `json:"note_id"`
	Active bool   `json:"active"`
	UserID string `json:"user_id,omitempty"`
	ConnID string `json:"conn_id,omitempty"`
}

// PresenceEntry is the ephemeral per-member state within a room.
type PresenceEntry struct {
	UserID   string    `json:"user_id"`
	ConnID   string    `json:"conn_id"`
	Cursor   *int      `json:"cursor,omitempty"`
	Typing   bool      `json:"typing,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

// JoinedPayload acknowledges a join. ConnID identifies the connection so
// the client can mark its own HTTP writes (echo suppression), Members is a
// presence snapshot of everyone already in the room.
type JoinedPayload struct {
	NoteID  string          `json:"note_id"`
	ConnID  string          `json:"conn_id"`
	Members []PresenceEntry `json:"members,omitempty"`
}

// PeerJoinedPayload notifies members that a peer entered the room.
type PeerJoinedPayload struct {
	NoteID string `json:"note_id"`
	UserID string `json:"user_id"`
	ConnID string `json:"conn_id"`
}

// PeerLeftPayload notifies members that a peer left the room.
type PeerLeftPayload struct {
	NoteID string `json:"note_id"`
	UserID string `json:"user_id"`
	ConnID string `json:"conn_id"`
}

// Actions carried by note-mutated frames.
const (
	MutationCreated  = "created"
	MutationUpdated  = "updated"
	MutationTrashed  = "trashed"
	MutationRestored = "restored"
)

// NoteMutatedPayload carries the committed note state so receivers can merge
// without refetching. UserID is the acting user.
type NoteMutatedPayload struct {
	NoteID string `json:"note_id"`
	UserID string `json:"user_id"`
	Action string `json:"action"`
	Note   Note   `json:"note"`
}

// NotificationPayload is a broadcast informational message.
type NotificationPayload struct {
	Message string `json:"message"`
}

// ErrorPayload reports a per-connection protocol or authorization error.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes used in ErrorPayload.
const (
	ErrCodeBadFrame     = "bad-frame"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNotFound     = "not-found"
	ErrCodeRateLimited  = "rate-limited"
)
