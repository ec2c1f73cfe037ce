package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	AddNote(ctx context.Context) error
	EditNote(ctx context.Context) error
	List(ctx context.Context) error
	ListTrash(ctx context.Context) error
	Show(ctx context.Context) error
	Mark(ctx context.Context) error
	Trash(ctx context.Context) error
	Restore(ctx context.Context) error
	Attach(ctx context.Context) error
	Download(ctx context.Context) error
	Watch(ctx context.Context) error
	Unwatch(ctx context.Context) error
	Sync(ctx context.Context) error
}

// runREPL starts a simple read–eval–print loop for the NoteKeeper CLI.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a'. Unknown commands are reported
// back to the user. The loop exits on scanner EOF or when the user types
// "exit" or "quit".
//
// Prompt & Commands
//
// The prompt shows the current status (from statusFn) and accepts commands:
//
//	Not logged in:
//	  - help           — show available commands
//	  - register       — create an account
//	  - login          — authenticate
//	  - exit | quit    — leave the program
//
//	Logged in:
//	  - help           — show available commands
//	  - add            — create a note
//	  - edit           — change a note's title, text or tags
//	  - list | l       — list active notes
//	  - trash          — list trashed notes
//	  - show           — show a single note (interactive ID prompt)
//	  - mark           — toggle pinned/favorite/archived
//	  - rm             — move a note to the trash
//	  - restore        — bring a note back from the trash
//	  - attach         — attach a local file to a note
//	  - download       — download attachment content
//	  - watch|unwatch  — follow/unfollow a note's live updates
//	  - sync           — run a sync round right away
//	  - logout         — log out
//	  - exit | quit    — leave the program
//
// Any errors returned by command handlers are ignored here; handlers should
// log their own errors. This keeps the REPL loop resilient and focused on I/O.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("nk> %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: add, edit, (l)ist, trash, show, mark, rm, restore, attach, download, watch, unwatch, sync, logout, exit")
			} else {
				printlnFn("Available commands: register, login, exit")
			}

		case "register":
			_ = a.Register(ctx)

		case "login":
			_ = a.Login(ctx)

		case "add":
			_ = a.AddNote(ctx)

		case "edit":
			_ = a.EditNote(ctx)

		case "l", "list":
			_ = a.List(ctx)

		case "trash":
			_ = a.ListTrash(ctx)

		case "show":
			_ = a.Show(ctx)

		case "mark":
			_ = a.Mark(ctx)

		case "rm":
			_ = a.Trash(ctx)

		case "restore":
			_ = a.Restore(ctx)

		case "attach":
			_ = a.Attach(ctx)

		case "download":
			_ = a.Download(ctx)

		case "watch":
			_ = a.Watch(ctx)

		case "unwatch":
			_ = a.Unwatch(ctx)

		case "sync":
			_ = a.Sync(ctx)

		case "logout":
			_ = a.Logout(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
