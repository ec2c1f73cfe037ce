package notes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

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

const noteColumns = `id, title, body, tags, pinned, favorite, archived, trashed, deleted, version, updated_at, dirty, base_version`

// timestamps are stored as RFC3339Nano text
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// Save upserts the full row by id.
func (r *SQLiteRepository) Save(ctx context.Context, note *models.Note) error {
	tags, err := json.Marshal(note.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	query := ` INSERT INTO notes (` + noteColumns + `)
			values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET title = excluded.title,
				body = excluded.body,
				tags = excluded.tags,
				pinned = excluded.pinned,
				favorite = excluded.favorite,
				archived = excluded.archived,
				trashed = excluded.trashed,
				deleted = excluded.deleted,
				version = excluded.version,
				updated_at = excluded.updated_at,
				dirty = excluded.dirty,
				base_version = excluded.base_version
	`
	_, err = r.db.ExecContext(ctx, query,
		note.ID, note.Title, note.Body, tags,
		note.Pinned, note.Favorite, note.Archived, note.Trashed, note.Deleted,
		note.Version, formatTime(note.UpdatedAt), note.Dirty, note.BaseVersion)
	if err != nil {
		return fmt.Errorf("failed to upsert note: %w", err)
	}
	return nil
}

// GetByID returns a single row, tombstones included.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Note, error) {
	query := `select ` + noteColumns + ` from notes where id=?`
	row := r.db.QueryRowContext(ctx, query, id)

	note, err := scanNote(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return note, nil
}

// List returns non-tombstone rows filtered by the trashed flag, pinned first.
func (r *SQLiteRepository) List(ctx context.Context, trashed bool) ([]*models.Note, error) {
	query := `select ` + noteColumns + ` from notes where deleted=0 and trashed=?
			order by pinned desc, updated_at desc`
	rows, err := r.db.QueryContext(ctx, query, trashed)
	if err != nil {
		return nil, fmt.Errorf("failed to select notes: %w", err)
	}
	defer rows.Close()

	return collectNotes(rows)
}

// GetDirty returns rows flagged as dirty=1 (awaiting sync).
func (r *SQLiteRepository) GetDirty(ctx context.Context) ([]*models.Note, error) {
	query := `select ` + noteColumns + ` from notes where dirty=1`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select dirty notes: %w", err)
	}
	defer rows.Close()

	return collectNotes(rows)
}

// MarkClean moves version and base_version to the committed version. The
// dirty flag survives when updated_at no longer matches editedAt, meaning
// the row was edited again mid-push.
func (r *SQLiteRepository) MarkClean(ctx context.Context, id string, version int64, editedAt time.Time) error {
	query := `update notes set version=?, base_version=?,
			dirty = case when updated_at=? then 0 else dirty end
			where id=?`
	res, err := r.db.ExecContext(ctx, query, version, version, formatTime(editedAt), id)
	if err != nil {
		return fmt.Errorf("failed to mark note clean: %w", err)
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
	if _, err := r.db.ExecContext(ctx, `delete from notes`); err != nil {
		return fmt.Errorf("failed to delete notes: %w", err)
	}
	return nil
}

func collectNotes(rows *sql.Rows) ([]*models.Note, error) {
	var result []*models.Note
	for rows.Next() {
		note, err := scanNote(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, note)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanNote(scan func(dest ...any) error) (*models.Note, error) {
	var (
		note      models.Note
		tags      []byte
		updatedAt string
	)
	if err := scan(
		&note.ID, &note.Title, &note.Body, &tags,
		&note.Pinned, &note.Favorite, &note.Archived, &note.Trashed, &note.Deleted,
		&note.Version, &updatedAt, &note.Dirty, &note.BaseVersion,
	); err != nil {
		return nil, err
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &note.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	t, err := parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	note.UpdatedAt = t
	return &note, nil
}
