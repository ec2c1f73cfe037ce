// Package cli provides the interactive NoteKeeper command-line client.
//
// It wires configuration, the local SQLite mirror, the sync engine, the
// realtime listener and an interactive REPL that supports online/offline
// operation. Typical flow: resume the stored session (or prompt for
// credentials), start the background sync and websocket loops plus a
// connectivity watcher, and execute user commands.
//
// Key features:
//   - Login / Logout (online with offline fallback, session resume)
//   - Add / edit notes, toggle pinned/favorite/archived flags
//   - Trash / restore, list active or trashed notes
//   - Attach files and download attachment content
//   - Watch notes for live updates from other devices
//   - Sync on demand; edits made offline ship automatically later
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
// See App, StartOnlineStatusWatcher, and runREPL for details.
package cli
