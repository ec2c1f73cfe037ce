// Package notes provides PostgreSQL-backed repositories for server-side
// note persistence, list queries and sync watermark selection.
package notes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/notekeeper/internal/common"
	"github.com/dmitrijs2005/notekeeper/internal/dbx"
	"github.com/dmitrijs2005/notekeeper/internal/server/models"
)

// Filter narrows List results. Nil pointer fields mean "any".
type Filter struct {
	Trashed  bool
	Archived *bool
	Favorite *bool
	Tag      string
}

// Signature renders the filter as a short deterministic string. Cache list
// keys embed it, so two equal filters always hit the same key.
func (f Filter) Signature() string {
	parts := []string{"trashed=" + strconv.FormatBool(f.Trashed)}
	if f.Archived != nil {
		parts = append(parts, "archived="+strconv.FormatBool(*f.Archived))
	}
	if f.Favorite != nil {
		parts = append(parts, "favorite="+strconv.FormatBool(*f.Favorite))
	}
	if f.Tag != "" {
		parts = append(parts, "tag="+f.Tag)
	}
	return strings.Join(parts, ",")
}

// PostgresRepository implements note storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const noteColumns = `id, user_id, title, body, tags, pinned, favorite, archived, trashed, deleted_at, version, updated_at`

// Upsert inserts a note or updates it when the stored row belongs to the
// same user and still carries baseVersion. If no row is updated (stale
// version or foreign owner), ErrVersionConflict is returned.
func (r *PostgresRepository) Upsert(ctx context.Context, note *models.Note, baseVersion int64) error {
	tags, err := json.Marshal(note.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	query := `
		INSERT INTO notes (id, user_id, title, body, tags, pinned, favorite, archived, trashed, deleted_at, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		ON CONFLICT (id)
		DO UPDATE SET
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			tags = EXCLUDED.tags,
			pinned = EXCLUDED.pinned,
			favorite = EXCLUDED.favorite,
			archived = EXCLUDED.archived,
			trashed = EXCLUDED.trashed,
			deleted_at = EXCLUDED.deleted_at,
			version = EXCLUDED.version,
			updated_at = now()
			WHERE notes.user_id = EXCLUDED.user_id AND notes.version = $12;
	`
	res, err := r.db.ExecContext(ctx, query,
		note.ID, note.UserID, note.Title, note.Body, tags,
		note.Pinned, note.Favorite, note.Archived, note.Trashed, note.DeletedAt,
		note.Version, baseVersion)
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

// GetByID returns a single note scoped to its owner.
func (r *PostgresRepository) GetByID(ctx context.Context, userID string, id string) (*models.Note, error) {
	query := `SELECT ` + noteColumns + ` FROM notes WHERE id=$1 AND user_id=$2`
	row := r.db.QueryRowContext(ctx, query, id, userID)

	note, err := scanNote(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return note, nil
}

// SelectUpdated returns all notes for userID with version > minVersion,
// including trashed and soft-deleted rows so tombstones reach clients.
func (r *PostgresRepository) SelectUpdated(ctx context.Context, userID string, minVersion int64) ([]*models.Note, error) {
	query := `SELECT ` + noteColumns + ` from notes
		WHERE user_id=$1 and version>$2
		ORDER BY version`
	rows, err := r.db.QueryContext(ctx, query, userID, minVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to select notes: %w", err)
	}
	defer rows.Close()

	return collectNotes(rows)
}

// List returns the user's notes matching the filter. Soft-deleted rows are
// always excluded.
func (r *PostgresRepository) List(ctx context.Context, userID string, filter Filter) ([]*models.Note, error) {
	conds := []string{"user_id=$1", "deleted_at IS NULL", "trashed=$2"}
	args := []any{userID, filter.Trashed}

	if filter.Archived != nil {
		args = append(args, *filter.Archived)
		conds = append(conds, fmt.Sprintf("archived=$%d", len(args)))
	}
	if filter.Favorite != nil {
		args = append(args, *filter.Favorite)
		conds = append(conds, fmt.Sprintf("favorite=$%d", len(args)))
	}
	if filter.Tag != "" {
		tag, err := json.Marshal([]string{filter.Tag})
		if err != nil {
			return nil, fmt.Errorf("marshal tag: %w", err)
		}
		args = append(args, tag)
		conds = append(conds, fmt.Sprintf("tags @> $%d", len(args)))
	}

	query := `SELECT ` + noteColumns + ` FROM notes WHERE ` +
		strings.Join(conds, " AND ") + ` ORDER BY pinned DESC, updated_at DESC`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select notes: %w", err)
	}
	defer rows.Close()

	return collectNotes(rows)
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
		deletedAt sql.NullTime
	)
	if err := scan(
		&note.ID, &note.UserID, &note.Title, &note.Body, &tags,
		&note.Pinned, &note.Favorite, &note.Archived, &note.Trashed,
		&deletedAt, &note.Version, &note.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &note.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
	}
	if deletedAt.Valid {
		note.DeletedAt = &deletedAt.Time
	}
	return &note, nil
}
