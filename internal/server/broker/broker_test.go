package broker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/notekeeper/internal/server/models"
)

func testEvent(noteID string) *NoteEvent {
	return &NoteEvent{
		UserID: "u1",
		NoteID: noteID,
		Action: ActionUpdated,
		Note:   &models.Note{ID: noteID, Version: 1},
	}
}

func receiveOne(t *testing.T, ch <-chan *NoteEvent) *NoteEvent {
	t.Helper()
	select {
	case event, ok := <-ch:
		require.True(t, ok, "channel closed before event arrived")
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestInProcess_PublishReachesAllSubscribers(t *testing.T) {
	b := NewInProcess()
	defer b.Close()

	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	b.Publish(context.Background(), testEvent("n1"))

	require.Equal(t, "n1", receiveOne(t, ch1).NoteID)
	require.Equal(t, "n1", receiveOne(t, ch2).NoteID)
}

func TestInProcess_DeliversInPublishOrder(t *testing.T) {
	b := NewInProcess()
	defer b.Close()

	ch, cancel := b.Subscribe()
	defer cancel()

	for i := 0; i < 20; i++ {
		b.Publish(context.Background(), testEvent(fmt.Sprintf("n%d", i)))
	}
	for i := 0; i < 20; i++ {
		require.Equal(t, fmt.Sprintf("n%d", i), receiveOne(t, ch).NoteID)
	}
}

func TestInProcess_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewInProcess()
	defer b.Close()

	slow, cancelSlow := b.Subscribe()
	defer cancelSlow()
	fast, cancelFast := b.Subscribe()
	defer cancelFast()

	// nobody reads slow; publishes must still complete promptly
	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			b.Publish(context.Background(), testEvent(fmt.Sprintf("n%d", i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	require.Equal(t, "n0", receiveOne(t, fast).NoteID)
	require.Equal(t, "n0", receiveOne(t, slow).NoteID)
}

func TestInProcess_CancelClosesChannel(t *testing.T) {
	b := NewInProcess()
	defer b.Close()

	ch, cancel := b.Subscribe()
	cancel()

	select {
	case _, ok := <-ch:
		require.False(t, ok, "expected closed channel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}

	// publishing after cancel must not panic or deliver
	b.Publish(context.Background(), testEvent("n1"))
}

func TestInProcess_CloseStopsSubscriptions(t *testing.T) {
	b := NewInProcess()

	ch, cancel := b.Subscribe()
	defer cancel()

	b.Close()

	select {
	case _, ok := <-ch:
		require.False(t, ok, "expected closed channel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after broker close")
	}

	// subscribing after close yields an already-closed channel
	ch2, cancel2 := b.Subscribe()
	defer cancel2()
	_, ok := <-ch2
	require.False(t, ok)
}

func TestInProcess_NilEventIgnored(t *testing.T) {
	b := NewInProcess()
	defer b.Close()

	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(context.Background(), nil)
	b.Publish(context.Background(), testEvent("n1"))

	require.Equal(t, "n1", receiveOne(t, ch).NoteID)
}
