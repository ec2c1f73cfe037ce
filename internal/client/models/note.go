// Package models defines the client's local data models: the note mirror
// with dirty-state tracking plus attachment rows awaiting upload.
package models

import "time"

// Note is the local mirror of a server note plus sync bookkeeping.
//
// Mirror invariant: when Dirty is false the row equals the last known server
// state. When Dirty is true the row holds the user's unconfirmed intent and
// BaseVersion remembers the server version that intent was based on (zero
// for notes the server has never seen).
type Note struct {
	// ID is generated on the client when the note is created.
	ID string

	Title    string
	Body     string
	Tags     []string
	Pinned   bool
	Favorite bool
	Archived bool
	Trashed  bool

	// Deleted marks the row as a tombstone received from the server.
	Deleted bool

	// Version is the last server-assigned version reflected in this row.
	// Local edits never touch it.
	Version int64

	UpdatedAt time.Time

	// Dirty flags unconfirmed local edits awaiting a push.
	Dirty bool

	// BaseVersion is the server version the dirty edit was based on.
	BaseVersion int64
}

// Patch is a partial note edit. Nil fields are left untouched, so a cursor
// move in one field never clobbers a concurrent edit of another.
type Patch struct {
	Title    *string
	Body     *string
	Tags     *[]string
	Pinned   *bool
	Favorite *bool
	Archived *bool
	Trashed  *bool
	Deleted  *bool
}

// Apply merges the patch into the note in place.
func (p Patch) Apply(n *Note) {
	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.Body != nil {
		n.Body = *p.Body
	}
	if p.Tags != nil {
		n.Tags = *p.Tags
	}
	if p.Pinned != nil {
		n.Pinned = *p.Pinned
	}
	if p.Favorite != nil {
		n.Favorite = *p.Favorite
	}
	if p.Archived != nil {
		n.Archived = *p.Archived
	}
	if p.Trashed != nil {
		n.Trashed = *p.Trashed
	}
	if p.Deleted != nil {
		n.Deleted = *p.Deleted
	}
}
