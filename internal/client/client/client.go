package client

import (
	"context"

	"github.com/dmitrijs2005/notekeeper/internal/client/models"
)

// PushOutcome is the per-note result of a sync push.
type PushOutcome struct {
	NoteID  string
	Status  string
	Version int64

	// Note carries the authoritative server copy when Status is conflict.
	Note *models.Note

	Error string
}

// UploadTask tells the client to PUT attachment content to a presigned URL
// and confirm with MarkUploaded.
type UploadTask struct {
	AttachmentID string
	URL          string
}

// SyncResult is everything one sync round trip returns: per-push outcomes,
// server-side updates past the watermark, and the new watermark.
type SyncResult struct {
	Results     []PushOutcome
	Notes       []*models.Note
	Attachments []*models.Attachment
	UploadTasks []UploadTask
	MaxVersion  int64
}

// Client is the transport-agnostic contract for talking to the backend.
type Client interface {
	Close() error
	Register(ctx context.Context, username string, password string) error
	Login(ctx context.Context, username string, password string) error
	Refresh(ctx context.Context) error
	Ping(ctx context.Context) error
	Sync(ctx context.Context, pending []*models.Note, pendingAttachments []*models.Attachment, sinceVersion int64) (*SyncResult, error)
	GetNote(ctx context.Context, id string) (*models.Note, error)
	MarkUploaded(ctx context.Context, attachmentID string) error
	AttachmentURL(ctx context.Context, attachmentID string) (string, error)

	// Tokens exposes the current pair so callers can persist the refresh
	// token across restarts; SetTokens restores it.
	Tokens() (access string, refresh string)
	SetTokens(access string, refresh string)

	// SetConnectionID marks subsequent writes with the realtime connection
	// id so the gateway does not echo our own mutations back to us.
	SetConnectionID(id string)
}
