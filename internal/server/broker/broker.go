// Package broker fans out committed note mutations to in-process
// subscribers. The note service publishes after every successful commit;
// the websocket gateway subscribes and routes events to rooms. The
// interface is the seam for an external pub/sub backend when the server
// runs as more than one process.
package broker

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/notekeeper/internal/server/models"
)

// Mutation actions carried by NoteEvent.
const (
	ActionCreated  = "created"
	ActionUpdated  = "updated"
	ActionTrashed  = "trashed"
	ActionRestored = "restored"
)

// NoteEvent describes one committed mutation. OriginConnID names the
// websocket connection whose user initiated the write, if any, so the
// gateway can skip echoing the event back to it.
type NoteEvent struct {
	UserID       string
	NoteID       string
	Action       string
	OriginConnID string
	Note         *models.Note
}

// Broker is the mutation fan-out seam.
type Broker interface {
	Publish(ctx context.Context, event *NoteEvent)
	Subscribe() (<-chan *NoteEvent, func())
	Close()
}

// InProcess delivers events between goroutines of a single process.
// Each subscription is drained by its own dispatch goroutine, so a slow
// subscriber delays only itself and publishers never block.
type InProcess struct {
	mu     sync.Mutex
	subs   map[int]*subscription
	nextID int
	closed bool
}

func NewInProcess() *InProcess {
	return &InProcess{subs: make(map[int]*subscription)}
}

// Publish hands the event to every active subscription. It never blocks;
// events are queued per subscriber in arrival order.
func (b *InProcess) Publish(_ context.Context, event *NoteEvent) {
	if event == nil {
		return
	}
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.push(event)
	}
}

// Subscribe registers a new subscriber and returns its event channel plus
// a cancel function. The channel is closed after cancel (or Close) once
// the dispatch goroutine stops; pending events are dropped at that point.
func (b *InProcess) Subscribe() (<-chan *NoteEvent, func()) {
	s := &subscription{
		wake: make(chan struct{}, 1),
		out:  make(chan *NoteEvent),
		stop: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.out)
		return s.out, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	go s.dispatch()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
		}
		b.mu.Unlock()
		s.shutdown()
	}
	return s.out, cancel
}

// Close stops every subscription. Publish becomes a no-op.
func (b *InProcess) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[int]*subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.shutdown()
	}
}

type subscription struct {
	mu    sync.Mutex
	queue []*NoteEvent

	wake chan struct{}
	out  chan *NoteEvent
	stop chan struct{}
	once sync.Once
}

func (s *subscription) push(event *NoteEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) shutdown() {
	s.once.Do(func() { close(s.stop) })
}

func (s *subscription) dispatch() {
	defer close(s.out)
	for {
		event, ok := s.next()
		if !ok {
			return
		}
		select {
		case s.out <- event:
		case <-s.stop:
			return
		}
	}
}

// next blocks until an event is queued or the subscription stops.
func (s *subscription) next() (*NoteEvent, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			event := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return event, true
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-s.stop:
			return nil, false
		}
	}
}
