package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func runHub(t *testing.T, sendBuffer int) (*Hub, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(sendBuffer, nil, nil)
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	stop := func() {
		cancel()
		<-done
	}
	t.Cleanup(stop)
	return hub, stop
}

func recv(t *testing.T, sub *Subscriber) ([]byte, bool) {
	t.Helper()
	select {
	case msg, ok := <-sub.Send:
		return msg, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil, false
	}
}

func TestHubFansOutPerAuction(t *testing.T) {
	hub, _ := runHub(t, 0)
	a := hub.Subscribe("a1")
	b := hub.Subscribe("a1")
	other := hub.Subscribe("a2")
	check.Equal(t, 2, hub.SubscriberCount("a1"))
	check.Equal(t, 1, hub.SubscriberCount("a2"))

	hub.Broadcast("a1", []byte("x"))
	hub.Broadcast("a2", []byte("y"))

	msg, ok := recv(t, a)
	assert.True(t, ok)
	check.Equal(t, "x", string(msg))
	msg, ok = recv(t, b)
	assert.True(t, ok)
	check.Equal(t, "x", string(msg))

	// Broadcasts are delivered in order, so a2's first frame shows a1's never reached it
	msg, ok = recv(t, other)
	assert.True(t, ok)
	check.Equal(t, "y", string(msg))
}

func TestHubBroadcastWithoutViewers(t *testing.T) {
	hub, _ := runHub(t, 0)
	hub.Broadcast("nobody", []byte("x"))

	// Events published before a viewer subscribes are never replayed to it

	sub := hub.Subscribe("nobody")
	hub.Broadcast("nobody", []byte("y"))
	msg, _ := recv(t, sub)
	check.Equal(t, "y", string(msg))
	check.Equal(t, 0, len(sub.Send))
}

func TestHubLateSubscriberMissesEarlierEvent(t *testing.T) {
	hub, _ := runHub(t, 0)
	early := hub.Subscribe("a1")

	hub.Broadcast("a1", []byte("before"))
	late := hub.Subscribe("a1")

	msg, _ := recv(t, early)
	check.Equal(t, "before", string(msg))
	check.Equal(t, 0, len(late.Send))
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub, _ := runHub(t, 1)
	slow := hub.Subscribe("a1")
	fast := hub.Subscribe("a1")

	hub.Broadcast("a1", []byte("1"))
	msg, _ := recv(t, fast)
	check.Equal(t, "1", string(msg))

	hub.Broadcast("a1", []byte("2"))
	msg, _ = recv(t, fast)
	check.Equal(t, "2", string(msg))
	hub.Broadcast("a1", []byte("3"))
	msg, _ = recv(t, fast)
	check.Equal(t, "3", string(msg))

	// The slow viewer keeps what was buffered, then sees its channel closed
	msg, ok := recv(t, slow)
	check.True(t, ok)
	check.Equal(t, "1", string(msg))
	_, ok = recv(t, slow)
	check.False(t, ok)
	check.Equal(t, 1, hub.SubscriberCount("a1"))

	// Unsubscribing a dropped viewer is harmless
	hub.Unsubscribe(slow)
	check.Equal(t, 1, hub.SubscriberCount("a1"))
}

func TestHubUnsubscribeIsIdempotent(t *testing.T) {
	hub, _ := runHub(t, 0)
	sub := hub.Subscribe("a1")

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)

	_, ok := recv(t, sub)
	check.False(t, ok)
	check.Equal(t, 0, hub.SubscriberCount("a1"))
}

func TestHubStopClosesSubscribers(t *testing.T) {
	hub, stop := runHub(t, 0)
	sub := hub.Subscribe("a1")
	stop()

	_, ok := recv(t, sub)
	check.False(t, ok)
	check.Equal(t, 0, hub.SubscriberCount("a1"))

	// Broadcast after shutdown must not block
	hub.Broadcast("a1", []byte("late"))
}

func TestHubSubscribeAfterStop(t *testing.T) {
	hub, stop := runHub(t, 0)
	stop()

	sub := hub.Subscribe("a1")
	_, ok := recv(t, sub)
	check.False(t, ok)
	check.Equal(t, 0, hub.SubscriberCount("a1"))
}
