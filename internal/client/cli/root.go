package cli

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
)

func (a *App) getStatus() string {
	s := ""
	if a.userName != "" {
		s = a.userName + " "
	}
	if a.Mode != "" {
		s = s + string(a.Mode)
	}
	if s != "" {
		s = fmt.Sprintf("(%s)", s)
	}
	return s
}

// Root restores the previous session or prompts for a login, starts the
// connectivity watcher and hands the terminal to the REPL. It returns when
// the user exits.
func (a *App) Root(ctx context.Context) {

	log.Println("Welcome to NoteKeeper CLI (type 'help' for commands)")
	scanner := bufio.NewScanner(os.Stdin)

	if !a.Resume(ctx) {
		_ = a.Login(ctx)
	}

	go func() {
		a.StartOnlineStatusWatcher(ctx, a.config.OnlineCheckInterval)
	}()

	runREPL(ctx, a, a.getStatus, scanner)
}
