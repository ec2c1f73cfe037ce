// Package attachments persists local attachment metadata for the client.
package attachments

import (
	"context"

	"github.com/dmitrijs2005/notekeeper/internal/client/models"
)

// Repository is the storage contract for local attachment rows.
type Repository interface {
	// Save upserts the full row, every field as given.
	Save(ctx context.Context, a *models.Attachment) error

	// GetByID returns a single row or common.ErrorNotFound.
	GetByID(ctx context.Context, id string) (*models.Attachment, error)

	// ListByNote returns all rows attached to a note.
	ListByNote(ctx context.Context, noteID string) ([]*models.Attachment, error)

	// GetDirty returns rows the server has not acknowledged yet.
	GetDirty(ctx context.Context) ([]*models.Attachment, error)

	// MarkUploaded records a confirmed content upload and drops the local
	// path, the row no longer needs it.
	MarkUploaded(ctx context.Context, id string) error

	// DeleteAll drops every row. Used when a different account takes over
	// the local database.
	DeleteAll(ctx context.Context) error
}
