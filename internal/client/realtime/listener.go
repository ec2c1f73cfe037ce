// Package realtime maintains the client's websocket session with the
// gateway: it dials, keeps the connection alive, rejoins rooms after a
// reconnect and feeds committed note mutations into the sync engine.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/dmitrijs2005/notekeeper/internal/client/client"
	"github.com/dmitrijs2005/notekeeper/internal/client/models"
	"github.com/dmitrijs2005/notekeeper/internal/protocol"
)

const (
	reconnectBase = time.Second
	reconnectCap  = 30 * time.Second
	writeTimeout  = 5 * time.Second
)

// ErrNotConnected is returned by presence sends while the session is down.
// Room joins do not fail on it: they are recorded and replayed on connect.
var ErrNotConnected = errors.New("realtime not connected")

// syncer is the slice of the sync engine the listener drives: inbound
// server copies get merged, and a reconnect kicks a catch-up round.
type syncer interface {
	MergeInbound(ctx context.Context, serverNote *models.Note) error
	Kick()
}

// Event is a room happening surfaced to the UI layer.
type Event struct {
	Type    string
	NoteID  string
	UserID  string
	Message string
}

// Listener owns the websocket session. Run reconnects with capped backoff
// until the context is cancelled; everything else is safe to call from
// other goroutines.
type Listener struct {
	endpoint     string
	api          client.Client
	engine       syncer
	pingInterval time.Duration
	onEvent      func(Event)

	writeMu sync.Mutex

	wake chan struct{}

	mu    sync.Mutex
	conn  *websocket.Conn
	rooms map[string]struct{}
}

func NewListener(endpoint string, api client.Client, engine syncer, pingInterval time.Duration) *Listener {
	return &Listener{
		endpoint:     endpoint,
		api:          api,
		engine:       engine,
		pingInterval: pingInterval,
		wake:         make(chan struct{}, 1),
		rooms:        make(map[string]struct{}),
	}
}

// OnEvent installs the UI callback. Set it before Run starts.
func (l *Listener) OnEvent(fn func(Event)) {
	l.onEvent = fn
}

// Run dials and re-dials the gateway until ctx is cancelled. A session that
// never got past the dial backs off exponentially; a healthy session resets
// the backoff.
func (l *Listener) Run(ctx context.Context) {
	backoff := reconnectBase

	for {
		if ctx.Err() != nil {
			return
		}

		connected, err := l.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			backoff = reconnectBase
		}
		if err != nil {
			log.Printf("realtime connection lost: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
			backoff *= 2
			if backoff > reconnectCap {
				backoff = reconnectCap
			}
		case <-l.wake:
			backoff = reconnectBase
		}
	}
}

// Wake retries the connection right away instead of waiting out the current
// backoff. Logging in calls it so the session comes up without the delay
// accumulated while there was no token to dial with.
func (l *Listener) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// session runs one connection from dial to read failure. Not being logged
// in yet is not an error, just nothing to do.
func (l *Listener) session(ctx context.Context) (bool, error) {

	access, _ := l.api.Tokens()
	if access == "" {
		return false, nil
	}

	wsURL := l.endpoint + "/ws?access_token=" + url.QueryEscape(access)

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return false, err
	}

	l.setConn(conn)
	defer l.clearConn()
	defer conn.Close(websocket.StatusNormalClosure, "")

	// pull whatever was committed while we were offline
	l.engine.Kick()

	for _, noteID := range l.roomList() {
		if err := l.send(ctx, protocol.FrameJoinRoom, protocol.JoinRoomPayload{NoteID: noteID}); err != nil {
			return true, err
		}
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go l.pingLoop(sctx)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return true, err
		}
		l.dispatch(ctx, data)
	}
}

func (l *Listener) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.send(ctx, protocol.FramePing, nil); err != nil {
				return
			}
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, data []byte) {

	var frame protocol.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Printf("realtime: dropping undecodable frame: %v", err)
		return
	}

	switch frame.Type {

	case protocol.FrameJoined:
		var p protocol.JoinedPayload
		if err := frame.DecodePayload(&p); err != nil {
			log.Printf("realtime: %v", err)
			return
		}
		// mark our HTTP writes so the gateway does not echo them back
		l.api.SetConnectionID(p.ConnID)
		l.emit(Event{Type: frame.Type, NoteID: p.NoteID})

	case protocol.FrameNoteMutated:
		var p protocol.NoteMutatedPayload
		if err := frame.DecodePayload(&p); err != nil {
			log.Printf("realtime: %v", err)
			return
		}
		if err := l.engine.MergeInbound(ctx, client.NoteFromWire(p.Note)); err != nil {
			log.Printf("realtime: merging %s: %v", p.NoteID, err)
			return
		}
		l.emit(Event{Type: frame.Type, NoteID: p.NoteID, UserID: p.UserID, Message: p.Action})

	case protocol.FramePeerJoined:
		var p protocol.PeerJoinedPayload
		if err := frame.DecodePayload(&p); err != nil {
			return
		}
		l.emit(Event{Type: frame.Type, NoteID: p.NoteID, UserID: p.UserID})

	case protocol.FramePeerLeft:
		var p protocol.PeerLeftPayload
		if err := frame.DecodePayload(&p); err != nil {
			return
		}
		l.emit(Event{Type: frame.Type, NoteID: p.NoteID, UserID: p.UserID})

	case protocol.FrameCursorUpdate:
		var p protocol.CursorUpdatePayload
		if err := frame.DecodePayload(&p); err != nil {
			return
		}
		l.emit(Event{Type: frame.Type, NoteID: p.NoteID, UserID: p.UserID})

	case protocol.FrameTyping:
		var p protocol.TypingPayload
		if err := frame.DecodePayload(&p); err != nil {
			return
		}
		msg := "stopped typing"
		if p.Active {
			msg = "typing"
		}
		l.emit(Event{Type: frame.Type, NoteID: p.NoteID, UserID: p.UserID, Message: msg})

	case protocol.FrameNotification:
		var p protocol.NotificationPayload
		if err := frame.DecodePayload(&p); err != nil {
			return
		}
		l.emit(Event{Type: frame.Type, Message: p.Message})

	case protocol.FramePong:
		// liveness only

	case protocol.FrameError:
		var p protocol.ErrorPayload
		if err := frame.DecodePayload(&p); err != nil {
			return
		}
		log.Printf("realtime: server error %s: %s", p.Code, p.Message)
		l.emit(Event{Type: frame.Type, Message: p.Message})

	default:
		log.Printf("realtime: unsupported frame type %q", frame.Type)
	}
}

// JoinRoom subscribes to a note's room. Offline the join is only recorded;
// the next session replays it.
func (l *Listener) JoinRoom(ctx context.Context, noteID string) error {
	l.mu.Lock()
	l.rooms[noteID] = struct{}{}
	connected := l.conn != nil
	l.mu.Unlock()

	if !connected {
		return nil
	}
	return l.send(ctx, protocol.FrameJoinRoom, protocol.JoinRoomPayload{NoteID: noteID})
}

func (l *Listener) LeaveRoom(ctx context.Context, noteID string) error {
	l.mu.Lock()
	delete(l.rooms, noteID)
	connected := l.conn != nil
	l.mu.Unlock()

	if !connected {
		return nil
	}
	return l.send(ctx, protocol.FrameLeaveRoom, protocol.LeaveRoomPayload{NoteID: noteID})
}

// SendCursor shares the caret position with the room.
func (l *Listener) SendCursor(ctx context.Context, noteID string, position int) error {
	return l.send(ctx, protocol.FrameCursorUpdate, protocol.CursorUpdatePayload{NoteID: noteID, Position: position})
}

// SetTyping toggles the typing indicator for the room.
func (l *Listener) SetTyping(ctx context.Context, noteID string, active bool) error {
	frameType := protocol.FrameTypingStop
	if active {
		frameType = protocol.FrameTypingStart
	}
	return l.send(ctx, frameType, protocol.TypingPayload{NoteID: noteID, Active: active})
}

func (l *Listener) send(ctx context.Context, frameType string, payload any) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	frame, err := protocol.NewFrame(frameType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (l *Listener) setConn(conn *websocket.Conn) {
	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
}

func (l *Listener) clearConn() {
	l.mu.Lock()
	l.conn = nil
	l.mu.Unlock()
}

func (l *Listener) roomList() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	rooms := make([]string, 0, len(l.rooms))
	for noteID := range l.rooms {
		rooms = append(rooms, noteID)
	}
	return rooms
}

func (l *Listener) emit(e Event) {
	if l.onEvent != nil {
		l.onEvent(e)
	}
}
