package models

import "time"

// Attachment upload states.
const (
	UploadStatePending  = "pending"
	UploadStateUploaded = "uploaded"
)

// Attachment describes server-side metadata for a binary payload attached to
// a note. The content itself is stored in object storage under StorageKey.
type Attachment struct {
	ID         string
	NoteID     string
	UserID     string
	Filename   string
	StorageKey string
	Size       int64

	// Version is the server-assigned, monotonic version used for sync.
	Version int64

	// UploadState tracks whether the client confirmed the content upload.
	UploadState string

	CreatedAt time.Time
}

// UploadTask instructs the client to upload attachment content using a
// presigned URL.
type UploadTask struct {
	AttachmentID string
	URL          string
}
