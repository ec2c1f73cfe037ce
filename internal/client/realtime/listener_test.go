package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/dmitrijs2005/notekeeper/internal/client/client"
	"github.com/dmitrijs2005/notekeeper/internal/client/models"
	"github.com/dmitrijs2005/notekeeper/internal/protocol"
)

type fakeAPI struct {
	mu     sync.Mutex
	access string
	connID string
}

func (f *fakeAPI) Close() error                                                  { return nil }
func (f *fakeAPI) Register(ctx context.Context, username, password string) error { return nil }
func (f *fakeAPI) Login(ctx context.Context, username, password string) error    { return nil }
func (f *fakeAPI) Refresh(ctx context.Context) error                             { return nil }
func (f *fakeAPI) Ping(ctx context.Context) error                                { return nil }
func (f *fakeAPI) MarkUploaded(ctx context.Context, attachmentID string) error   { return nil }
func (f *fakeAPI) SetTokens(access string, refresh string)                       {}

func (f *fakeAPI) Sync(ctx context.Context, pending []*models.Note, pendingAttachments []*models.Attachment, sinceVersion int64) (*client.SyncResult, error) {
	return &client.SyncResult{}, nil
}

func (f *fakeAPI) GetNote(ctx context.Context, id string) (*models.Note, error) {
	return nil, nil
}

func (f *fakeAPI) AttachmentURL(ctx context.Context, attachmentID string) (string, error) {
	return "", nil
}

func (f *fakeAPI) Tokens() (string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.access, ""
}

func (f *fakeAPI) SetConnectionID(id string) {
	f.mu.Lock()
	f.connID = id
	f.mu.Unlock()
}

func (f *fakeAPI) connectionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connID
}

func (f *fakeAPI) setAccess(token string) {
	f.mu.Lock()
	f.access = token
	f.mu.Unlock()
}

type fakeSyncer struct {
	mu     sync.Mutex
	merged []*models.Note
	kicks  int
}

func (f *fakeSyncer) MergeInbound(ctx context.Context, serverNote *models.Note) error {
	f.mu.Lock()
	f.merged = append(f.merged, serverNote)
	f.mu.Unlock()
	return nil
}

func (f *fakeSyncer) Kick() {
	f.mu.Lock()
	f.kicks++
	f.mu.Unlock()
}

func (f *fakeSyncer) mergedTitles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	titles := make([]string, 0, len(f.merged))
	for _, n := range f.merged {
		titles = append(titles, n.Title)
	}
	return titles
}

func (f *fakeSyncer) kickCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kicks
}

// startGateway runs a scripted stand-in for the server websocket endpoint.
// Scripts must not touch testing.T: sessions can outlive the test body
// during reconnect races, so all assertions go through channels.
func startGateway(t *testing.T, script func(ctx context.Context, conn *websocket.Conn)) (*httptest.Server, func() int) {
	t.Helper()

	var mu sync.Mutex
	conns := 0

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") == "" {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		mu.Lock()
		conns++
		mu.Unlock()

		script(r.Context(), conn)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv, func() int {
		mu.Lock()
		defer mu.Unlock()
		return conns
	}
}

// awaitFrame reads frames until one of the wanted type arrives; ok is false
// once the connection drops or the deadline passes.
func awaitFrame(ctx context.Context, conn *websocket.Conn, frameType string) (protocol.Frame, bool) {
	rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for {
		_, data, err := conn.Read(rctx)
		if err != nil {
			return protocol.Frame{}, false
		}
		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Type == frameType {
			return frame, true
		}
	}
}

func sendFrame(conn *websocket.Conn, frameType string, payload any) {
	frame, err := protocol.NewFrame(frameType, payload)
	if err != nil {
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = conn.Write(ctx, websocket.MessageText, data)
}

// drain keeps the session open until the peer goes away.
func drain(ctx context.Context, conn *websocket.Conn) {
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return
		}
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestListener_JoinedAckAndMutationMerge(t *testing.T) {
	joins := make(chan string, 4)

	srv, _ := startGateway(t, func(ctx context.Context, conn *websocket.Conn) {
		frame, ok := awaitFrame(ctx, conn, protocol.FrameJoinRoom)
		if !ok {
			return
		}
		var join protocol.JoinRoomPayload
		if err := frame.DecodePayload(&join); err != nil {
			return
		}
		select {
		case joins <- join.NoteID:
		default:
		}

		sendFrame(conn, protocol.FrameJoined, protocol.JoinedPayload{NoteID: join.NoteID, ConnID: "c9"})
		sendFrame(conn, protocol.FrameNoteMutated, protocol.NoteMutatedPayload{
			NoteID: join.NoteID,
			UserID: "u2",
			Action: protocol.MutationUpdated,
			Note:   protocol.Note{ID: join.NoteID, Title: "hello", Version: 3},
		})

		drain(ctx, conn)
	})

	api := &fakeAPI{access: "tok"}
	s := &fakeSyncer{}
	l := NewListener(srv.URL, api, s, time.Minute)

	if err := l.JoinRoom(context.Background(), "n1"); err != nil {
		t.Fatalf("offline join should only be recorded, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	select {
	case noteID := <-joins:
		if noteID != "n1" {
			t.Fatalf("join note_id = %q, want n1", noteID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("join never arrived")
	}

	eventually(t, func() bool { return api.connectionID() == "c9" }, "connection id never set from joined ack")
	eventually(t, func() bool {
		for _, title := range s.mergedTitles() {
			if title == "hello" {
				return true
			}
		}
		return false
	}, "mutation never merged")

	if s.kickCount() < 1 {
		t.Errorf("expected a catch-up kick after connect")
	}
}

func TestListener_PingLoopKeepsSessionAlive(t *testing.T) {
	pings := make(chan struct{}, 4)

	srv, _ := startGateway(t, func(ctx context.Context, conn *websocket.Conn) {
		for {
			if _, ok := awaitFrame(ctx, conn, protocol.FramePing); !ok {
				return
			}
			select {
			case pings <- struct{}{}:
			default:
			}
			sendFrame(conn, protocol.FramePong, nil)
		}
	})

	api := &fakeAPI{access: "tok"}
	l := NewListener(srv.URL, api, &fakeSyncer{}, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	select {
	case <-pings:
	case <-time.After(5 * time.Second):
		t.Fatal("no ping arrived")
	}
}

func TestListener_ReconnectsAndRejoinsRooms(t *testing.T) {
	joins := make(chan string, 4)

	srv, conns := startGateway(t, func(ctx context.Context, conn *websocket.Conn) {
		frame, ok := awaitFrame(ctx, conn, protocol.FrameJoinRoom)
		if !ok {
			return
		}
		var join protocol.JoinRoomPayload
		if err := frame.DecodePayload(&join); err != nil {
			return
		}
		select {
		case joins <- join.NoteID:
		default:
		}
		// the session ends right here, forcing a reconnect
	})

	api := &fakeAPI{access: "tok"}
	l := NewListener(srv.URL, api, &fakeSyncer{}, time.Minute)

	if err := l.JoinRoom(context.Background(), "n1"); err != nil {
		t.Fatalf("offline join: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	for i := 0; i < 2; i++ {
		select {
		case noteID := <-joins:
			if noteID != "n1" {
				t.Fatalf("join note_id = %q, want n1", noteID)
			}
		case <-time.After(10 * time.Second):
			t.Fatalf("join %d never arrived", i+1)
		}
	}

	if got := conns(); got < 2 {
		t.Errorf("connections = %d, want at least 2", got)
	}
}

func TestListener_NoDialWithoutToken(t *testing.T) {
	srv, conns := startGateway(t, func(ctx context.Context, conn *websocket.Conn) {
		drain(ctx, conn)
	})

	api := &fakeAPI{access: ""}
	l := NewListener(srv.URL, api, &fakeSyncer{}, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	if got := conns(); got != 0 {
		t.Errorf("connections = %d, want 0 while logged out", got)
	}
}

func TestListener_EmitsPeerEvents(t *testing.T) {
	srv, _ := startGateway(t, func(ctx context.Context, conn *websocket.Conn) {
		sendFrame(conn, protocol.FramePeerJoined, protocol.PeerJoinedPayload{NoteID: "n1", UserID: "u2", ConnID: "c2"})
		sendFrame(conn, protocol.FrameTyping, protocol.TypingPayload{NoteID: "n1", Active: true, UserID: "u2"})
		drain(ctx, conn)
	})

	api := &fakeAPI{access: "tok"}
	l := NewListener(srv.URL, api, &fakeSyncer{}, time.Minute)

	var mu sync.Mutex
	var got []Event
	l.OnEvent(func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		var sawPeer, sawTyping bool
		for _, e := range got {
			if e.Type == protocol.FramePeerJoined && e.UserID == "u2" {
				sawPeer = true
			}
			if e.Type == protocol.FrameTyping && e.Message == "typing" {
				sawTyping = true
			}
		}
		return sawPeer && sawTyping
	}, "peer events never emitted")
}

func TestListener_WakeRetriesImmediately(t *testing.T) {
	srv, conns := startGateway(t, func(ctx context.Context, conn *websocket.Conn) {
		drain(ctx, conn)
	})

	api := &fakeAPI{}
	l := NewListener(srv.URL, api, &fakeSyncer{}, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	// let a couple of empty rounds grow the backoff past the point where a
	// prompt retry could be explained by the pending timer
	time.Sleep(1200 * time.Millisecond)
	if got := conns(); got != 0 {
		t.Fatalf("connections = %d, want 0 before the token exists", got)
	}

	api.setAccess("tok")
	l.Wake()

	deadline := time.Now().Add(700 * time.Millisecond)
	for time.Now().Before(deadline) {
		if conns() >= 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("wake did not trigger a prompt reconnect")
}

func TestListener_SendsWhileDisconnected(t *testing.T) {
	api := &fakeAPI{access: "tok"}
	l := NewListener("http://127.0.0.1:0", api, &fakeSyncer{}, time.Minute)

	if err := l.SendCursor(context.Background(), "n1", 4); err != ErrNotConnected {
		t.Errorf("SendCursor offline = %v, want ErrNotConnected", err)
	}
	if err := l.SetTyping(context.Background(), "n1", true); err != ErrNotConnected {
		t.Errorf("SetTyping offline = %v, want ErrNotConnected", err)
	}
	if err := l.JoinRoom(context.Background(), "n1"); err != nil {
		t.Errorf("JoinRoom offline = %v, want nil (recorded for replay)", err)
	}
}
