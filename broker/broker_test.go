package broker_test

import (
	"context"
	"sync"
	"testing"

	"github.com/fbarrella/reson8/broker"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	received map[string][][]byte
	offline  map[string]bool
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{received: make(map[string][][]byte), offline: make(map[string]bool)}
}

func (d *fakeDispatcher) Send(sessionID string, message []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.offline[sessionID] {
		return false
	}
	d.received[sessionID] = append(d.received[sessionID], message)
	return true
}

func (d *fakeDispatcher) count(sessionID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.received[sessionID])
}

func TestLocalBrokerFansOutToSubscribers(t *testing.T) {
	ctx := context.Background()
	d := newFakeDispatcher()
	b := broker.NewLocalBroker(d, nil)

	room := broker.Key(broker.RoomChannel, 42)
	if err := b.Subscribe(ctx, room, "s1"); err != nil {
		t.Fatalf("Subscribe s1: %v", err)
	}
	if err := b.Subscribe(ctx, room, "s2"); err != nil {
		t.Fatalf("Subscribe s2: %v", err)
	}

	if err := b.Publish(ctx, room, "MessageCreated", map[string]string{"body": "hi"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if d.count("s1") != 1 || d.count("s2") != 1 {
		t.Errorf("expected both subscribers to receive one message, got s1=%d s2=%d", d.count("s1"), d.count("s2"))
	}
}

func TestLocalBrokerUnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	d := newFakeDispatcher()
	b := broker.NewLocalBroker(d, nil)

	room := broker.Key(broker.RoomServer, 1)
	_ = b.Subscribe(ctx, room, "s1")
	_ = b.Unsubscribe(ctx, room, "s1")

	_ = b.Publish(ctx, room, "ServerModified", map[string]string{})

	if d.count("s1") != 0 {
		t.Errorf("expected no delivery after unsubscribe, got %d", d.count("s1"))
	}
}

func TestLocalBrokerUnsubscribeAllRemovesEveryRoom(t *testing.T) {
	ctx := context.Background()
	d := newFakeDispatcher()
	b := broker.NewLocalBroker(d, nil)

	roomA := broker.Key(broker.RoomChannel, 1)
	roomB := broker.Key(broker.RoomServer, 2)
	_ = b.Subscribe(ctx, roomA, "s1")
	_ = b.Subscribe(ctx, roomB, "s1")

	b.UnsubscribeAll(ctx, "s1")

	_ = b.Publish(ctx, roomA, "x", nil)
	_ = b.Publish(ctx, roomB, "y", nil)

	if d.count("s1") != 0 {
		t.Errorf("expected no delivery to s1 on any room after UnsubscribeAll, got %d", d.count("s1"))
	}
}

func TestLocalBrokerPublishExceptSkipsTheGivenSession(t *testing.T) {
	ctx := context.Background()
	d := newFakeDispatcher()
	b := broker.NewLocalBroker(d, nil)

	room := broker.Key(broker.RoomServer, 1)
	_ = b.Subscribe(ctx, room, "s1")
	_ = b.Subscribe(ctx, room, "s2")

	if err := b.PublishExcept(ctx, room, "UserJoined", map[string]string{}, "s1"); err != nil {
		t.Fatalf("PublishExcept: %v", err)
	}

	if d.count("s1") != 0 {
		t.Errorf("expected the excluded session to receive nothing, got %d", d.count("s1"))
	}
	if d.count("s2") != 1 {
		t.Errorf("expected the other subscriber to receive the message, got %d", d.count("s2"))
	}
}

func TestServerListKeyIgnoresID(t *testing.T) {
	if broker.Key(broker.RoomServerList, 1) != broker.Key(broker.RoomServerList, 2) {
		t.Error("expected server_list room key to be independent of id")
	}
}
