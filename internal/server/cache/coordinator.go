package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/notekeeper/internal/logging"
	"github.com/dmitrijs2005/notekeeper/internal/server/models"
	"go.uber.org/multierr"
)

// Coordinator sits between the note service and the cache store. It offers
// read-through helpers for single notes and list views and performs pattern
// invalidation after committed writes.
//
// The coordinator never surfaces cache errors to callers: failed reads are
// misses, failed writes and deletions are logged and absorbed. The database
// remains the source of truth either way.
type Coordinator struct {
	store  *Store
	ttl    time.Duration
	logger logging.Logger
}

// NewCoordinator builds a Coordinator writing entries with the given TTL.
func NewCoordinator(store *Store, ttl time.Duration, logger logging.Logger) *Coordinator {
	return &Coordinator{store: store, ttl: ttl, logger: logger.With("module", "cache")}
}

// OnWriteCommitted invalidates everything a committed note write could have
// staled: the note's own entry plus all of the user's aggregate views.
// Invalidation deletes entries, it never overwrites them.
func (c *Coordinator) OnWriteCommitted(ctx context.Context, userID string, noteID string) {
	var errs error
	if err := c.store.Delete(ctx, NoteKey(noteID)); err != nil {
		errs = multierr.Append(errs, err)
	}
	if _, err := c.store.DeletePrefix(ctx, UserListPrefix(userID)); err != nil {
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		c.logger.Warn(ctx, "cache invalidation failed", "note_id", noteID, "error", errs)
	}
}

// GetNote returns a cached note, or ok=false on miss or any cache error.
func (c *Coordinator) GetNote(ctx context.Context, noteID string) (*models.Note, bool) {
	payload, found, err := c.store.Get(ctx, NoteKey(noteID))
	if err != nil {
		c.logger.Warn(ctx, "cache read failed", "key", NoteKey(noteID), "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var note models.Note
	if err := json.Unmarshal(payload, &note); err != nil {
		c.logger.Warn(ctx, "cache entry corrupt", "key", NoteKey(noteID), "error", err)
		return nil, false
	}
	return &note, true
}

// SetNote caches a note under its key.
func (c *Coordinator) SetNote(ctx context.Context, note *models.Note) {
	payload, err := json.Marshal(note)
	if err != nil {
		c.logger.Warn(ctx, "cache marshal failed", "note_id", note.ID, "error", err)
		return
	}
	if err := c.store.Set(ctx, NoteKey(note.ID), payload, c.ttl); err != nil {
		c.logger.Warn(ctx, "cache write failed", "key", NoteKey(note.ID), "error", err)
	}
}

// GetList returns a cached list view, or ok=false on miss or any cache error.
func (c *Coordinator) GetList(ctx context.Context, userID string, filterSig string) ([]*models.Note, bool) {
	key := ListKey(userID, filterSig)
	payload, found, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn(ctx, "cache read failed", "key", key, "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var result []*models.Note
	if err := json.Unmarshal(payload, &result); err != nil {
		c.logger.Warn(ctx, "cache entry corrupt", "key", key, "error", err)
		return nil, false
	}
	return result, true
}

// SetList caches a list view under the user's list key for the filter.
func (c *Coordinator) SetList(ctx context.Context, userID string, filterSig string, result []*models.Note) {
	payload, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn(ctx, "cache marshal failed", "user_id", userID, "error", err)
		return
	}
	key := ListKey(userID, filterSig)
	if err := c.store.Set(ctx, key, payload, c.ttl); err != nil {
		c.logger.Warn(ctx, "cache write failed", "key", key, "error", err)
	}
}
