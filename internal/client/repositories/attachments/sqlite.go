package attachments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/notekeeper/internal/client/models"
	"github.com/dmitrijs2005/notekeeper/internal/common"
	"github.com/dmitrijs2005/notekeeper/internal/dbx"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const attachmentColumns = `id, note_id, filename, local_path, size, version, upload_state, dirty`

// Save upserts the full row by id.
func (r *SQLiteRepository) Save(ctx context.Context, a *models.Attachment) error {
	query := ` INSERT INTO attachments (` + attachmentColumns + `)
			values (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET note_id = excluded.note_id,
				filename = excluded.filename,
				local_path = excluded.local_path,
				size = excluded.size,
				version = excluded.version,
				upload_state = excluded.upload_state,
				dirty = excluded.dirty
	`
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.NoteID, a.Filename, a.LocalPath, a.Size, a.Version, a.UploadState, a.Dirty)
	if err != nil {
		return fmt.Errorf("failed to upsert attachment: %w", err)
	}
	return nil
}

// GetByID returns a single row.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Attachment, error) {
	query := `select ` + attachmentColumns + ` from attachments where id=?`
	row := r.db.QueryRowContext(ctx, query, id)

	a, err := scanAttachment(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return a, nil
}

// ListByNote returns all rows attached to a note.
func (r *SQLiteRepository) ListByNote(ctx context.Context, noteID string) ([]*models.Attachment, error) {
	query := `select ` + attachmentColumns + ` from attachments where note_id=? order by filename`
	rows, err := r.db.QueryContext(ctx, query, noteID)
	if err != nil {
		return nil, fmt.Errorf("failed to select attachments: %w", err)
	}
	defer rows.Close()

	return collectAttachments(rows)
}

// GetDirty returns rows flagged as dirty=1 (awaiting sync).
func (r *SQLiteRepository) GetDirty(ctx context.Context) ([]*models.Attachment, error) {
	query := `select ` + attachmentColumns + ` from attachments where dirty=1`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select dirty attachments: %w", err)
	}
	defer rows.Close()

	return collectAttachments(rows)
}

// MarkUploaded flips the row to uploaded and clears the local path.
func (r *SQLiteRepository) MarkUploaded(ctx context.Context, id string) error {
	query := `update attachments set upload_state=?, dirty=0, local_path='' where id=?`
	res, err := r.db.ExecContext(ctx, query, models.UploadStateUploaded, id)
	if err != nil {
		return fmt.Errorf("failed to mark attachment uploaded: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return fmt.Errorf("wrong rows affected count: %d", ra)
	}
	return nil
}

// DeleteAll drops every row.
func (r *SQLiteRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `delete from attachments`); err != nil {
		return fmt.Errorf("failed to delete attachments: %w", err)
	}
	return nil
}

func collectAttachments(rows *sql.Rows) ([]*models.Attachment, error) {
	var result []*models.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanAttachment(scan func(dest ...any) error) (*models.Attachment, error) {
	var a models.Attachment
	if err := scan(
		&a.ID, &a.NoteID, &a.Filename, &a.LocalPath, &a.Size,
		&a.Version, &a.UploadState, &a.Dirty,
	); err != nil {
		return nil, err
	}
	return &a, nil
}
