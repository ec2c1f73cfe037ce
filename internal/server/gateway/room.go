package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/dmitrijs2005/notekeeper/internal/protocol"
)

// peer is one authenticated websocket connection. A connection may sit in
// several rooms at once (one per open note). Writes are serialized so frames
// from concurrent broadcasts never interleave on the wire.
type peer struct {
	id     string
	userID string
	conn   *websocket.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	lastSeen time.Time
	rooms    map[string]*room
}

func newPeer(id string, userID string, conn *websocket.Conn) *peer {
	return &peer{
		id:       id,
		userID:   userID,
		conn:     conn,
		lastSeen: time.Now(),
		rooms:    make(map[string]*room),
	}
}

func (p *peer) send(ctx context.Context, frame *protocol.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", frame.Type, err)
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.Write(ctx, websocket.MessageText, data)
}

func (p *peer) touch(t time.Time) {
	p.mu.Lock()
	p.lastSeen = t
	p.mu.Unlock()
}

func (p *peer) seen() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastSeen
}

func (p *peer) trackRoom(r *room) {
	p.mu.Lock()
	p.rooms[r.noteID] = r
	p.mu.Unlock()
}

func (p *peer) forgetRoom(noteID string) {
	p.mu.Lock()
	delete(p.rooms, noteID)
	p.mu.Unlock()
}

func (p *peer) joinedRooms() []*room {
	p.mu.Lock()
	defer p.mu.Unlock()
	rooms := make([]*room, 0, len(p.rooms))
	for _, r := range p.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

// room holds the members currently viewing one note, with a presence entry
// per member. closed marks a room torn down after its last member left;
// joiners that raced the teardown retry against a fresh room.
type room struct {
	noteID string

	mu      sync.Mutex
	members map[*peer]*protocol.PresenceEntry
	closed  bool
}

func newRoom(noteID string) *room {
	return &room{noteID: noteID, members: make(map[*peer]*protocol.PresenceEntry)}
}

// join adds p and returns a presence snapshot of the other members.
// rejoined is true when p was already a member; joining again only
// refreshes its presence. ok is false when the room is already closed.
func (r *room) join(p *peer, now time.Time) (others []protocol.PresenceEntry, rejoined bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, false
	}
	if entry, exists := r.members[p]; exists {
		entry.LastSeen = now
		return r.othersLocked(p), true, true
	}
	r.members[p] = &protocol.PresenceEntry{
		UserID:   p.userID,
		ConnID:   p.id,
		LastSeen: now,
	}
	return r.othersLocked(p), false, true
}

func (r *room) othersLocked(skip *peer) []protocol.PresenceEntry {
	others := make([]protocol.PresenceEntry, 0, len(r.members))
	for member, entry := range r.members {
		if member == skip {
			continue
		}
		others = append(others, *entry)
	}
	return others
}

// leave removes p. was reports whether p was a member, empty whether the
// room has no members left.
func (r *room) leave(p *peer) (was bool, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[p]; !ok {
		return false, len(r.members) == 0
	}
	delete(r.members, p)
	return true, len(r.members) == 0
}

// updatePresence mutates p's presence entry under the room lock. Reports
// false when p is not a member.
func (r *room) updatePresence(p *peer, mutate func(*protocol.PresenceEntry)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.members[p]
	if !ok {
		return false
	}
	mutate(entry)
	return true
}

// peers snapshots the member set so callers can write frames outside the lock.
func (r *room) peers() []*peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := make([]*peer, 0, len(r.members))
	for member := range r.members {
		members = append(members, member)
	}
	return members
}

type hub struct {
	mu    sync.Mutex
	rooms map[string]*room
}

func newHub() *hub {
	return &hub{rooms: make(map[string]*room)}
}

func (h *hub) room(noteID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[noteID]
	if ok {
		return r
	}
	r = newRoom(noteID)
	h.rooms[noteID] = r
	return r
}

// lookup returns the note's room without creating one.
func (h *hub) lookup(noteID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[noteID]
}

// join adds p to the note's room, creating it on demand. Retries when the
// get-or-create races a teardown of the same room.
func (h *hub) join(noteID string, p *peer, now time.Time) (others []protocol.PresenceEntry, rejoined bool) {
	for {
		r := h.room(noteID)
		others, rejoined, ok := r.join(p, now)
		if !ok {
			continue
		}
		p.trackRoom(r)
		return others, rejoined
	}
}

// leave removes p from the note's room, tearing the room down once it
// empties. Reports whether p was a member.
func (h *hub) leave(noteID string, p *peer) bool {
	h.mu.Lock()
	r := h.rooms[noteID]
	h.mu.Unlock()
	if r == nil {
		return false
	}
	was, empty := r.leave(p)
	p.forgetRoom(noteID)
	if empty {
		h.drop(noteID, r)
	}
	return was
}

// drop removes the room from the map if it is still registered and still
// empty, closing it so a racing join starts over with a fresh room.
func (h *hub) drop(noteID string, r *room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[noteID] != r {
		return
	}
	r.mu.Lock()
	if len(r.members) == 0 {
		r.closed = true
		delete(h.rooms, noteID)
	}
	r.mu.Unlock()
}

func (h *hub) updatePresence(noteID string, p *peer, mutate func(*protocol.PresenceEntry)) bool {
	h.mu.Lock()
	r := h.rooms[noteID]
	h.mu.Unlock()
	if r == nil {
		return false
	}
	return r.updatePresence(p, mutate)
}
