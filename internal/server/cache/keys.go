package cache

// Key naming contract. Single notes live under "note:<noteID>"; every
// per-user aggregate view lives under "notes:user:<userID>:". Invalidation
// deletes the note key exactly and the user prefix wholesale, so any new
// aggregate view MUST be keyed under UserListPrefix to be invalidated.

// NoteKey is the cache key of a single note payload.
func NoteKey(noteID string) string {
	return "note:" + noteID
}

// UserListPrefix is the common prefix of all of a user's aggregate views.
func UserListPrefix(userID string) string {
	return "notes:user:" + userID + ":"
}

// ListKey is the cache key of one filtered list view.
func ListKey(userID string, filterSig string) string {
	return UserListPrefix(userID) + "list:" + filterSig
}
