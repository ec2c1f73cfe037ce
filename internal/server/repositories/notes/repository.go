package notes

import (
	"context"

	"github.com/dmitrijs2005/notekeeper/internal/server/models"
)

type Repository interface {
	// Upsert inserts the note or updates it when the stored version equals
	// baseVersion. A stale baseVersion (or a row owned by another user)
	// updates nothing and yields ErrVersionConflict.
	Upsert(ctx context.Context, note *models.Note, baseVersion int64) error

	// GetByID returns the user's note or common.ErrorNotFound.
	GetByID(ctx context.Context, userID string, id string) (*models.Note, error)

	// SelectUpdated returns all of the user's notes with version > minVersion,
	// tombstones included, ordered by version.
	SelectUpdated(ctx context.Context, userID string, minVersion int64) ([]*models.Note, error)

	// List returns the user's live notes matching the filter.
	List(ctx context.Context, userID string, filter Filter) ([]*models.Note, error)
}
