package cli

import (
	"bufio"
	"context"
	"log"
	"os"
	"time"

	"github.com/dmitrijs2005/notekeeper/internal/client/client"
	"github.com/dmitrijs2005/notekeeper/internal/client/config"
	"github.com/dmitrijs2005/notekeeper/internal/client/realtime"
	"github.com/dmitrijs2005/notekeeper/internal/client/services"
	"github.com/dmitrijs2005/notekeeper/internal/client/sync"
	"github.com/dmitrijs2005/notekeeper/internal/protocol"

	_ "modernc.org/sqlite"
)

type Mode string

const (
	ModeOffline  Mode = "offline"
	ModeOnline   Mode = "online"
	ModeDisabled Mode = "disabled"
)

// syncRunner is the slice of the sync engine the app drives directly.
// Local edits and manual syncs go through the note service instead.
type syncRunner interface {
	Run(ctx context.Context)
	Kick()
}

// realtimeListener is the slice of the websocket listener the commands use.
type realtimeListener interface {
	Run(ctx context.Context)
	JoinRoom(ctx context.Context, noteID string) error
	LeaveRoom(ctx context.Context, noteID string) error
	SetTyping(ctx context.Context, noteID string, active bool) error
	Wake()
}

type App struct {
	config      *config.Config
	authService services.AuthService
	noteService services.NoteService
	engine      syncRunner
	listener    realtimeListener

	// onOnline runs each time connectivity comes back.
	onOnline func()

	userName string
	Mode     Mode
	reader   *bufio.Reader
}

func NewApp(c *config.Config) (*App, error) {

	ctx := context.Background()

	db, repos, err := client.InitDatabase(ctx, c.DatabasePath)
	if err != nil {
		log.Printf("error initializing database: %s", err.Error())
		return nil, err
	}

	apiClient := client.NewHTTPClient(c.ServerEndpointAddr)

	engine := sync.NewEngine(apiClient, repos, c.FlushInterval)
	engine.OnNotice(func(n sync.Notice) {
		log.Printf("sync: %s (%s): %s", n.Title, n.NoteID, n.Message)
	})

	listener := realtime.NewListener(c.ServerEndpointAddr, apiClient, engine, c.PingInterval)
	listener.OnEvent(printRoomEvent)

	a := &App{
		config:      c,
		authService: services.NewAuthService(apiClient, db),
		noteService: services.NewNoteService(apiClient, engine, repos.Notes, repos.Attachments),
		engine:      engine,
		listener:    listener,
		reader:      bufio.NewReader(os.Stdin),
	}
	a.onOnline = func() {
		engine.Kick()
		listener.Wake()
	}
	return a, nil
}

func (app *App) setMode(mode Mode) {
	if app.Mode != mode {
		app.Mode = mode
		log.Printf("Switched to %s mode\n", mode)
		if mode == ModeOnline && app.onOnline != nil {
			app.onOnline()
		}
	}
}

// Run starts the background sync and realtime loops and hands the terminal
// to the REPL. It returns when the user exits.
func (a *App) Run(ctx context.Context) {
	defer a.authService.Close(ctx)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.engine.Run(ctx)
	go a.listener.Run(ctx)

	a.Root(ctx)
}

func (a *App) isLoggedIn() bool {
	return a.userName != ""
}

func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			err := a.authService.Ping(ctx)
			cancel()

			if err != nil {
				if a.Mode == ModeOnline {
					a.setMode(ModeOffline)
				}
			} else {
				if a.Mode != ModeOnline {
					a.setMode(ModeOnline)
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

// printRoomEvent renders room activity. It runs on the listener's read
// loop, so it only prints. Cursor moves are too chatty for a terminal and
// are dropped.
func printRoomEvent(e realtime.Event) {
	switch e.Type {
	case protocol.FramePeerJoined:
		log.Printf("note %s: %s is viewing", e.NoteID, e.UserID)
	case protocol.FramePeerLeft:
		log.Printf("note %s: %s left", e.NoteID, e.UserID)
	case protocol.FrameNoteMutated:
		log.Printf("note %s: %s by %s", e.NoteID, e.Message, e.UserID)
	case protocol.FrameTyping:
		log.Printf("note %s: %s is %s", e.NoteID, e.UserID, e.Message)
	case protocol.FrameNotification:
		log.Printf("server: %s", e.Message)
	}
}
