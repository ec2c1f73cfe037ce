// Package protocol defines the JSON wire types shared by the NoteKeeper
// client and server: HTTP API request/response bodies and the websocket
// frame envelope with its payload variants.
package protocol

import "time"

// HeaderConnectionID carries the caller's websocket connection id on API
// writes so the gateway can suppress echoing the resulting note-mutated
// event back to the originating connection.
const HeaderConnectionID = "X-Connection-Id"

// RegisterRequest is the body of POST /api/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginRequest is the body of POST /api/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RefreshRequest is the body of POST /api/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenPairResponse carries a freshly minted token pair.
type TokenPairResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// ErrorResponse is the body of any non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Note is the wire form of a note. Version is assigned by the server and is
// monotonic within a user's account; clients never invent versions.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Tags      []string  `json:"tags,omitempty"`
	Pinned    bool      `json:"pinned,omitempty"`
	Favorite  bool      `json:"favorite,omitempty"`
	Archived  bool      `json:"archived,omitempty"`
	Trashed   bool      `json:"trashed,omitempty"`
	Deleted   bool      `json:"deleted,omitempty"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NotePush is one pending client mutation. BaseVersion is the server version
// the client's copy was based on; zero means the note is new.
type NotePush struct {
	Note
	BaseVersion int64 `json:"base_version"`
}

// Push result statuses.
const (
	PushStatusOK       = "ok"
	PushStatusConflict = "conflict"
	PushStatusInvalid  = "invalid"
)

// PushResult reports the outcome of a single NotePush. On conflict, Note
// carries the authoritative server copy so the client can merge without a
// second round trip.
type PushResult struct {
	NoteID  string `json:"note_id"`
	Status  string `json:"status"`
	Version int64  `json:"version,omitempty"`
	Note    *Note  `json:"note,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Attachment is the wire form of note attachment metadata. The content
// itself moves over presigned object-storage URLs.
type Attachment struct {
	ID          string `json:"id"`
	NoteID      string `json:"note_id"`
	Filename    string `json:"filename"`
	Size        int64  `json:"size"`
	Version     int64  `json:"version"`
	UploadState string `json:"upload_state,omitempty"`
}

// UploadTask instructs the client to upload attachment content via a
// presigned PUT URL and then confirm with MarkUploaded.
type UploadTask struct {
	AttachmentID string `json:"attachment_id"`
	URL          string `json:"url"`
}

// SyncRequest is the body of POST /api/sync: pending local mutations plus
// the client's sync watermark (highest server version it has seen).
type SyncRequest struct {
	SinceVersion       int64        `json:"since_version"`
	Pending            []NotePush   `json:"pending,omitempty"`
	PendingAttachments []Attachment `json:"pending_attachments,omitempty"`
}

// SyncResponse carries per-push outcomes, all notes and attachments updated
// past the watermark, upload tasks for pending attachments, and the new
// watermark value.
type SyncResponse struct {
	Results     []PushResult `json:"results,omitempty"`
	Notes       []Note       `json:"notes,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	UploadTasks []UploadTask `json:"upload_tasks,omitempty"`
	MaxVersion  int64        `json:"max_version"`
}

// AttachmentURLResponse is the body of GET /api/attachments/{id}: a
// presigned GET URL for downloading attachment content.
type AttachmentURLResponse struct {
	URL string `json:"url"`
}
