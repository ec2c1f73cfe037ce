// Package gateway implements the realtime websocket endpoint. Each open
// note maps to a room; connections join rooms to receive presence updates
// and committed note mutations published by the note service. The gateway
// never mutates notes itself: all writes travel over the HTTP API and come
// back here through the broker.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/dmitrijs2005/notekeeper/internal/common"
	"github.com/dmitrijs2005/notekeeper/internal/logging"
	"github.com/dmitrijs2005/notekeeper/internal/protocol"
	"github.com/dmitrijs2005/notekeeper/internal/server/auth"
	"github.com/dmitrijs2005/notekeeper/internal/server/broker"
	"github.com/dmitrijs2005/notekeeper/internal/server/models"
)

const (
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3
	writeTimeout           = 5 * time.Second
)

// NoteAccess authorizes room joins. A nil error means the user may view the
// note. Implemented by services.NoteService.
type NoteAccess interface {
	Get(ctx context.Context, userID string, id string) (*models.Note, error)
}

// Gateway owns websocket connections, room membership and presence. Run
// drains the broker subscription and reaps stale connections; HandleWS is
// mounted on the HTTP mux.
type Gateway struct {
	notes          NoteAccess
	broker         broker.Broker
	jwtSecret      []byte
	livenessWindow time.Duration
	logger         logging.Logger

	hub *hub

	mu    sync.Mutex
	peers map[*peer]struct{}
}

func New(notes NoteAccess, b broker.Broker, jwtSecret []byte, livenessWindow time.Duration, logger logging.Logger) *Gateway {
	return &Gateway{
		notes:          notes,
		broker:         b,
		jwtSecret:      jwtSecret,
		livenessWindow: livenessWindow,
		logger:         logger,
		hub:            newHub(),
		peers:          make(map[*peer]struct{}),
	}
}

// Run delivers broker events to rooms and periodically closes connections
// that stopped sending frames. Returns when ctx is cancelled or the broker
// subscription closes.
func (g *Gateway) Run(ctx context.Context) {
	events, cancel := g.broker.Subscribe()
	defer cancel()

	interval := g.livenessWindow / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.reapStale(ctx, time.Now())
		case event, ok := <-events:
			if !ok {
				return
			}
			g.deliver(ctx, event)
		}
	}
}

// HandleWS authenticates the request and upgrades it. Authentication happens
// before the upgrade so an unauthorized client gets a plain 401, not a
// short-lived websocket.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	token := accessTokenFromRequest(r)
	if token == "" {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	userID, err := auth.GetUserIDFromToken(token, g.jwtSecret)
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		g.logger.Warn(r.Context(), "websocket accept failed", "error", err)
		return
	}

	p := newPeer(uuid.NewString(), userID, conn)
	g.addPeer(p)
	g.logger.Info(r.Context(), "websocket connected", "conn_id", p.id, "user_id", userID)

	g.readLoop(r.Context(), p)

	g.dropPeer(r.Context(), p)
	_ = conn.Close(websocket.StatusNormalClosure, "")
	g.logger.Info(r.Context(), "websocket disconnected", "conn_id", p.id)
}

func accessTokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
		return token
	}
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return ""
}

func (g *Gateway) addPeer(p *peer) {
	g.mu.Lock()
	g.peers[p] = struct{}{}
	g.mu.Unlock()
}

// dropPeer leaves every room p joined, notifying the remaining members,
// and unregisters the connection.
func (g *Gateway) dropPeer(ctx context.Context, p *peer) {
	for _, r := range p.joinedRooms() {
		if g.hub.leave(r.noteID, p) {
			g.broadcastPeerLeft(ctx, r.noteID, p)
		}
	}
	g.mu.Lock()
	delete(g.peers, p)
	g.mu.Unlock()
}

func (g *Gateway) peerSnapshot() []*peer {
	g.mu.Lock()
	defer g.mu.Unlock()
	peers := make([]*peer, 0, len(g.peers))
	for p := range g.peers {
		peers = append(peers, p)
	}
	return peers
}

// reapStale closes connections whose last frame is older than the liveness
// window. The read loop unblocks on the close and runs the usual
// disconnect cleanup, so members still get their peer-left frames.
func (g *Gateway) reapStale(ctx context.Context, now time.Time) {
	if g.livenessWindow <= 0 {
		return
	}
	cutoff := now.Add(-g.livenessWindow)
	for _, p := range g.peerSnapshot() {
		if p.seen().Before(cutoff) {
			g.logger.Info(ctx, "closing stale connection", "conn_id", p.id, "user_id", p.userID)
			_ = p.conn.Close(websocket.StatusGoingAway, "liveness timeout")
		}
	}
}

func (g *Gateway) readLoop(ctx context.Context, p *peer) {
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		_, data, err := p.conn.Read(ctx)
		if err != nil {
			return
		}
		p.touch(time.Now())

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			decodeErrors++
			g.writeError(ctx, p, protocol.ErrCodeBadFrame, "invalid frame")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			g.writeError(ctx, p, protocol.ErrCodeBadFrame, "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			g.writeError(ctx, p, protocol.ErrCodeRateLimited, "rate limit exceeded")
			return
		}

		switch frame.Type {
		case protocol.FrameJoinRoom:
			g.handleJoin(ctx, p, &frame)
		case protocol.FrameLeaveRoom:
			g.handleLeave(ctx, p, &frame)
		case protocol.FrameCursorUpdate:
			g.handleCursor(ctx, p, &frame)
		case protocol.FrameTypingStart:
			g.handleTyping(ctx, p, &frame, true)
		case protocol.FrameTypingStop:
			g.handleTyping(ctx, p, &frame, false)
		case protocol.FramePing:
			g.handlePing(ctx, p)
		default:
			g.writeError(ctx, p, protocol.ErrCodeBadFrame, "unsupported frame type")
		}
	}
}

func (g *Gateway) handleJoin(ctx context.Context, p *peer, frame *protocol.Frame) {
	var payload protocol.JoinRoomPayload
	if err := frame.DecodePayload(&payload); err != nil {
		g.writeError(ctx, p, protocol.ErrCodeBadFrame, "invalid join payload")
		return
	}
	noteID := strings.TrimSpace(payload.NoteID)
	if noteID == "" {
		g.writeError(ctx, p, protocol.ErrCodeBadFrame, "note_id is required")
		return
	}

	if _, err := g.notes.Get(ctx, p.userID, noteID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			g.writeError(ctx, p, protocol.ErrCodeNotFound, "note not found")
			return
		}
		g.logger.Error(ctx, "join authorization failed", "error", err, "note_id", noteID)
		g.writeError(ctx, p, protocol.ErrCodeUnauthorized, "cannot verify note access")
		return
	}

	members, rejoined := g.hub.join(noteID, p, time.Now().UTC())

	joined, err := protocol.NewFrame(protocol.FrameJoined, protocol.JoinedPayload{
		NoteID:  noteID,
		ConnID:  p.id,
		Members: members,
	})
	if err != nil {
		g.logger.Error(ctx, "encoding joined frame", "error", err)
		return
	}
	if err := p.send(ctx, joined); err != nil {
		g.logger.Debug(ctx, "frame delivery failed", "conn_id", p.id, "error", err)
	}

	if rejoined {
		return
	}
	announce, err := protocol.NewFrame(protocol.FramePeerJoined, protocol.PeerJoinedPayload{
		NoteID: noteID,
		UserID: p.userID,
		ConnID: p.id,
	})
	if err != nil {
		g.logger.Error(ctx, "encoding peer-joined frame", "error", err)
		return
	}
	g.broadcast(ctx, noteID, p, announce)
}

func (g *Gateway) handleLeave(ctx context.Context, p *peer, frame *protocol.Frame) {
	var payload protocol.LeaveRoomPayload
	if err := frame.DecodePayload(&payload); err != nil {
		g.writeError(ctx, p, protocol.ErrCodeBadFrame, "invalid leave payload")
		return
	}
	noteID := strings.TrimSpace(payload.NoteID)
	if noteID == "" {
		g.writeError(ctx, p, protocol.ErrCodeBadFrame, "note_id is required")
		return
	}
	if g.hub.leave(noteID, p) {
		g.broadcastPeerLeft(ctx, noteID, p)
	}
}

func (g *Gateway) handleCursor(ctx context.Context, p *peer, frame *protocol.Frame) {
	var payload protocol.CursorUpdatePayload
	if err := frame.DecodePayload(&payload); err != nil {
		g.writeError(ctx, p, protocol.ErrCodeBadFrame, "invalid cursor payload")
		return
	}
	noteID := strings.TrimSpace(payload.NoteID)
	if noteID == "" {
		g.writeError(ctx, p, protocol.ErrCodeBadFrame, "note_id is required")
		return
	}

	position := payload.Position
	ok := g.hub.updatePresence(noteID, p, func(entry *protocol.PresenceEntry) {
		entry.Cursor = &position
		entry.LastSeen = time.Now().UTC()
	})
	if !ok {
		g.writeError(ctx, p, protocol.ErrCodeUnauthorized, "join the room first")
		return
	}

	out, err := protocol.NewFrame(protocol.FrameCursorUpdate, protocol.CursorUpdatePayload{
		NoteID:   noteID,
		Position: position,
		UserID:   p.userID,
		ConnID:   p.id,
	})
	if err != nil {
		g.logger.Error(ctx, "encoding cursor frame", "error", err)
		return
	}
	g.broadcast(ctx, noteID, p, out)
}

func (g *Gateway) handleTyping(ctx context.Context, p *peer, frame *protocol.Frame, active bool) {
	var payload protocol.TypingPayload
	if err := frame.DecodePayload(&payload); err != nil {
		g.writeError(ctx, p, protocol.ErrCodeBadFrame, "invalid typing payload")
		return
	}
	noteID := strings.TrimSpace(payload.NoteID)
	if noteID == "" {
		g.writeError(ctx, p, protocol.ErrCodeBadFrame, "note_id is required")
		return
	}

	ok := g.hub.updatePresence(noteID, p, func(entry *protocol.PresenceEntry) {
		entry.Typing = active
		entry.LastSeen = time.Now().UTC()
	})
	if !ok {
		g.writeError(ctx, p, protocol.ErrCodeUnauthorized, "join the room first")
		return
	}

	out, err := protocol.NewFrame(protocol.FrameTyping, protocol.TypingPayload{
		NoteID: noteID,
		Active: active,
		UserID: p.userID,
		ConnID: p.id,
	})
	if err != nil {
		g.logger.Error(ctx, "encoding typing frame", "error", err)
		return
	}
	g.broadcast(ctx, noteID, p, out)
}

func (g *Gateway) handlePing(ctx context.Context, p *peer) {
	pong, err := protocol.NewFrame(protocol.FramePong, nil)
	if err != nil {
		return
	}
	if err := p.send(ctx, pong); err != nil {
		g.logger.Debug(ctx, "pong delivery failed", "conn_id", p.id, "error", err)
	}
}

// deliver routes a committed mutation to the note's room, skipping the
// connection that initiated the write.
func (g *Gateway) deliver(ctx context.Context, event *broker.NoteEvent) {
	r := g.hub.lookup(event.NoteID)
	if r == nil {
		return
	}
	frame, err := protocol.NewFrame(protocol.FrameNoteMutated, protocol.NoteMutatedPayload{
		NoteID: event.NoteID,
		UserID: event.UserID,
		Action: event.Action,
		Note:   noteToWire(event.Note),
	})
	if err != nil {
		g.logger.Error(ctx, "encoding note-mutated frame", "error", err)
		return
	}
	for _, member := range r.peers() {
		if member.id == event.OriginConnID {
			continue
		}
		if err := member.send(ctx, frame); err != nil {
			g.logger.Debug(ctx, "frame delivery failed", "conn_id", member.id, "error", err)
		}
	}
}

// broadcast sends the frame to every member of the note's room except skip.
func (g *Gateway) broadcast(ctx context.Context, noteID string, skip *peer, frame *protocol.Frame) {
	r := g.hub.lookup(noteID)
	if r == nil {
		return
	}
	for _, member := range r.peers() {
		if member == skip {
			continue
		}
		if err := member.send(ctx, frame); err != nil {
			g.logger.Debug(ctx, "frame delivery failed", "conn_id", member.id, "error", err)
		}
	}
}

func (g *Gateway) broadcastPeerLeft(ctx context.Context, noteID string, p *peer) {
	frame, err := protocol.NewFrame(protocol.FramePeerLeft, protocol.PeerLeftPayload{
		NoteID: noteID,
		UserID: p.userID,
		ConnID: p.id,
	})
	if err != nil {
		g.logger.Error(ctx, "encoding peer-left frame", "error", err)
		return
	}
	g.broadcast(ctx, noteID, p, frame)
}

func (g *Gateway) writeError(ctx context.Context, p *peer, code string, message string) {
	frame, err := protocol.NewFrame(protocol.FrameError, protocol.ErrorPayload{Code: code, Message: message})
	if err != nil {
		return
	}
	if err := p.send(ctx, frame); err != nil {
		g.logger.Debug(ctx, "error frame delivery failed", "conn_id", p.id, "error", err)
	}
}

func noteToWire(n *models.Note) protocol.Note {
	if n == nil {
		return protocol.Note{}
	}
	return protocol.Note{
		ID:        n.ID,
		Title:     n.Title,
		Body:      n.Body,
		Tags:      n.Tags,
		Pinned:    n.Pinned,
		Favorite:  n.Favorite,
		Archived:  n.Archived,
		Trashed:   n.Trashed,
		Deleted:   n.DeletedAt != nil,
		Version:   n.Version,
		UpdatedAt: n.UpdatedAt,
	}
}
