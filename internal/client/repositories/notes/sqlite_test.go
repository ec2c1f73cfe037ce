package notes

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dmitrijs2005/notekeeper/internal/client/models"
	"github.com/dmitrijs2005/notekeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE notes (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL DEFAULT '',
  body TEXT NOT NULL DEFAULT '',
  tags TEXT NOT NULL DEFAULT '[]',
  pinned INTEGER NOT NULL DEFAULT 0,
  favorite INTEGER NOT NULL DEFAULT 0,
  archived INTEGER NOT NULL DEFAULT 0,
  trashed INTEGER NOT NULL DEFAULT 0,
  deleted INTEGER NOT NULL DEFAULT 0,
  version INTEGER NOT NULL DEFAULT 0,
  updated_at TEXT NOT NULL DEFAULT '',
  dirty INTEGER NOT NULL DEFAULT 0,
  base_version INTEGER NOT NULL DEFAULT 0
);`)
	require.NoError(t, err)
	return db
}

func TestSave_InsertAndUpdate(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	edited := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	n1 := &models.Note{
		ID:          "n1",
		Title:       "groceries",
		Body:        "milk",
		Tags:        []string{"home", "shopping"},
		Pinned:      true,
		Version:     3,
		UpdatedAt:   edited,
		Dirty:       true,
		BaseVersion: 3,
	}
	require.NoError(t, r.Save(ctx, n1))

	got, err := r.GetByID(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "groceries", got.Title)
	assert.Equal(t, "milk", got.Body)
	assert.Equal(t, []string{"home", "shopping"}, got.Tags)
	assert.True(t, got.Pinned)
	assert.True(t, got.Dirty)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, int64(3), got.BaseVersion)
	assert.True(t, got.UpdatedAt.Equal(edited))

	// update over the same id
	n1b := *n1
	n1b.Body = "milk, bread"
	n1b.Tags = nil
	n1b.Trashed = true
	require.NoError(t, r.Save(ctx, &n1b))

	got, err = r.GetByID(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "milk, bread", got.Body)
	assert.Nil(t, got.Tags)
	assert.True(t, got.Trashed)
}

func TestGetByID_NotFound(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	_, err := r.GetByID(context.Background(), "nope")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestList_SplitsTrashedAndSkipsTombstones(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO notes(id, title, trashed, deleted, pinned, updated_at) VALUES
	  ('a', 'active', 0, 0, 0, '2025-06-01T10:00:00Z'),
	  ('b', 'pinned', 0, 0, 1, '2025-06-01T09:00:00Z'),
	  ('c', 'trashed', 1, 0, 0, '2025-06-01T11:00:00Z'),
	  ('d', 'tombstone', 0, 1, 0, '2025-06-01T12:00:00Z')
	`)
	require.NoError(t, err)

	r := NewSQLiteRepository(db)

	active, err := r.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, active, 2)
	// pinned rows come first
	assert.Equal(t, "b", active[0].ID)
	assert.Equal(t, "a", active[1].ID)

	trash, err := r.List(ctx, true)
	require.NoError(t, err)
	require.Len(t, trash, 1)
	assert.Equal(t, "c", trash[0].ID)
}

func TestGetDirty_ReturnsOnlyDirty(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO notes(id, title, dirty) VALUES
	  ('p1', 't1', 1),
	  ('p2', 't2', 1),
	  ('n1', 't3', 0)
	`)
	require.NoError(t, err)

	r := NewSQLiteRepository(db)
	got, err := r.GetDirty(ctx)
	require.NoError(t, err)

	ids := make(map[string]struct{})
	for _, n := range got {
		ids[n.ID] = struct{}{}
	}
	assert.Equal(t, map[string]struct{}{"p1": {}, "p2": {}}, ids)
}

func TestMarkClean_ClearsDirtyWhenUntouched(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	edited := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, r.Save(ctx, &models.Note{
		ID: "n1", Title: "t", UpdatedAt: edited, Dirty: true, BaseVersion: 2, Version: 2,
	}))

	require.NoError(t, r.MarkClean(ctx, "n1", 7, edited))

	got, err := r.GetByID(ctx, "n1")
	require.NoError(t, err)
	assert.False(t, got.Dirty)
	assert.Equal(t, int64(7), got.Version)
	assert.Equal(t, int64(7), got.BaseVersion)
}

func TestMarkClean_KeepsDirtyWhenEditedMidPush(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	pushed := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, r.Save(ctx, &models.Note{
		ID: "n1", Title: "old", UpdatedAt: pushed, Dirty: true, BaseVersion: 2, Version: 2,
	}))

	// a second edit lands while the push is in flight
	require.NoError(t, r.Save(ctx, &models.Note{
		ID: "n1", Title: "newer", UpdatedAt: pushed.Add(time.Second), Dirty: true, BaseVersion: 2, Version: 2,
	}))

	require.NoError(t, r.MarkClean(ctx, "n1", 7, pushed))

	got, err := r.GetByID(ctx, "n1")
	require.NoError(t, err)
	// the newer edit is still pending, but its base moved to the committed version
	assert.True(t, got.Dirty)
	assert.Equal(t, "newer", got.Title)
	assert.Equal(t, int64(7), got.Version)
	assert.Equal(t, int64(7), got.BaseVersion)
}

func TestMarkClean_MissingRow(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	err := r.MarkClean(context.Background(), "ghost", 1, time.Now())
	require.Error(t, err)
}

func TestDeleteAll(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Save(ctx, &models.Note{ID: "n1", Title: "one"}))
	require.NoError(t, r.Save(ctx, &models.Note{ID: "n2", Title: "two", Trashed: true}))

	require.NoError(t, r.DeleteAll(ctx))

	active, err := r.List(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, active)

	trashed, err := r.List(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, trashed)
}
