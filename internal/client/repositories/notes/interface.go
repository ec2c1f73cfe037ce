// Package notes persists the client's local note mirror in SQLite.
package notes

import (
	"context"
	"time"

	"github.com/dmitrijs2005/notekeeper/internal/client/models"
)

// Repository is the storage contract for the local note mirror. The sync
// engine owns the dirty/base-version semantics; the repository just reads
// and writes rows exactly as given.
type Repository interface {
	// Save upserts the full row, every field as given.
	Save(ctx context.Context, note *models.Note) error

	// GetByID returns a single row or common.ErrorNotFound.
	GetByID(ctx context.Context, id string) (*models.Note, error)

	// List returns non-tombstone rows, split by the trashed flag.
	List(ctx context.Context, trashed bool) ([]*models.Note, error)

	// GetDirty returns rows awaiting a push.
	GetDirty(ctx context.Context) ([]*models.Note, error)

	// MarkClean confirms a committed push: version and base_version become
	// the committed version. The dirty flag is cleared only if the row was
	// not edited again while the push was in flight (editedAt still matches);
	// a re-edited row keeps dirty=1 so the newer content ships next flush,
	// with its base already moved to the committed version.
	MarkClean(ctx context.Context, id string, version int64, editedAt time.Time) error

	// DeleteAll drops every row. Used when a different account takes over
	// the local database.
	DeleteAll(ctx context.Context) error
}
