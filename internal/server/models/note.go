// Package models defines server-side data models persisted in the database.
package models

import "time"

// Note is the authoritative server copy of a note. Version is monotonic
// within the owning user's account; every committed write bumps it.
type Note struct {
	ID        string
	UserID    string
	Title     string
	Body      string
	Tags      []string
	Pinned    bool
	Favorite  bool
	Archived  bool
	Trashed   bool
	DeletedAt *time.Time
	Version   int64
	UpdatedAt time.Time
}

// NotePush is a client write candidate. BaseVersion is the server version
// the edit was based on; zero means the client believes the note is new.
type NotePush struct {
	Note        *Note
	BaseVersion int64
}

// PushResult reports the outcome of one pushed note. Exactly one of the
// three shapes applies: accepted (Note holds committed state), Conflict
// (Note holds the authoritative state the client must merge), or Invalid
// non-empty (rejected, nothing persisted).
type PushResult struct {
	NoteID   string
	Conflict bool
	Invalid  string
	Note     *Note
}
