// Package attachments provides a PostgreSQL-backed repository for note
// attachment metadata. Content bytes never pass through here; they move
// directly between clients and object storage.
package attachments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/notekeeper/internal/common"
	"github.com/dmitrijs2005/notekeeper/internal/dbx"
	"github.com/dmitrijs2005/notekeeper/internal/server/models"
)

// PostgresRepository implements attachment storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateOrUpdate upserts an attachment record by id. On conflict, sync and
// upload-state fields are updated as long as the row belongs to the same
// user; otherwise nothing is updated and ErrVersionConflict is returned.
func (r *PostgresRepository) CreateOrUpdate(ctx context.Context, a *models.Attachment) error {
	query := `
		INSERT INTO attachments (id, note_id, user_id, filename, storage_key, size, version, upload_state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id)
		DO UPDATE SET
			filename = EXCLUDED.filename,
			size = EXCLUDED.size,
			version = EXCLUDED.version,
			upload_state = EXCLUDED.upload_state
			WHERE attachments.user_id = EXCLUDED.user_id;
	`
	res, err := r.db.ExecContext(ctx, query,
		a.ID, a.NoteID, a.UserID, a.Filename, a.StorageKey, a.Size, a.Version, a.UploadState)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrVersionConflict
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

// SelectUpdated returns all attachments for userID with version > minVersion.
func (r *PostgresRepository) SelectUpdated(ctx context.Context, userID string, minVersion int64) ([]*models.Attachment, error) {
	query := ` SELECT id, note_id, user_id, filename, storage_key, size, version, upload_state from attachments
		WHERE user_id=$1 and version>$2
		`
	rows, err := r.db.QueryContext(ctx, query, userID, minVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to select attachments: %w", err)
	}
	defer rows.Close()

	var result []*models.Attachment
	for rows.Next() {
		var item models.Attachment
		if err := rows.Scan(&item.ID, &item.NoteID, &item.UserID, &item.Filename,
			&item.StorageKey, &item.Size, &item.Version, &item.UploadState); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkUploaded flips the attachment's upload_state to 'uploaded'. Exactly one
// row must be affected.
func (r *PostgresRepository) MarkUploaded(ctx context.Context, userID string, id string) error {
	query := `update attachments set upload_state='uploaded' where id=$1 and user_id=$2`
	result, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to mark uploaded: %w", err)
	}
	ra, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return fmt.Errorf("wrong rows affected count: %d", ra)
	}
	return nil
}

// GetByID returns a single attachment scoped to its owner, used to authorize
// downloads and build presigned URLs.
func (r *PostgresRepository) GetByID(ctx context.Context, userID string, id string) (*models.Attachment, error) {
	query := ` SELECT id, note_id, user_id, filename, storage_key, size, version, upload_state from attachments
		WHERE id=$1 and user_id=$2
		`

	result := &models.Attachment{}
	if err := r.db.QueryRowContext(ctx, query, id, userID).Scan(&result.ID, &result.NoteID, &result.UserID,
		&result.Filename, &result.StorageKey, &result.Size, &result.Version, &result.UploadState); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("failed to select attachment: %w", err)
	}
	return result, nil
}
