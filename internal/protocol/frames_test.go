package protocol

import (
	"encoding/json"
	"testing"
)

func TestNewFrame_WithPayload(t *testing.T) {
	f, err := NewFrame(FrameJoinRoom, JoinRoomPayload{NoteID: "n1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Type != FrameJoinRoom {
		t.Fatalf("type = %q, want %q", f.Type, FrameJoinRoom)
	}

	var p JoinRoomPayload
	if err := f.DecodePayload(&p); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if p.NoteID != "n1" {
		t.Fatalf("note id = %q, want n1", p.NoteID)
	}
}

func TestNewFrame_NilPayload(t *testing.T) {
	f, err := NewFrame(FramePing, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if string(data) != `{"type":"ping"}` {
		t.Fatalf("wire form = %s, want {\"type\":\"ping\"}", data)
	}
}

func TestDecodePayload_Empty(t *testing.T) {
	f := &Frame{Type: FrameJoined}
	var p JoinedPayload
	if err := f.DecodePayload(&p); err == nil {
		t.Fatal("expected error for missing payload")
	}
}

func TestDecodePayload_Malformed(t *testing.T) {
	f := &Frame{Type: FrameCursorUpdate, Payload: json.RawMessage(`{"position":"p"}`)}
	var p CursorUpdatePayload
	if err := f.DecodePayload(&p); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}
