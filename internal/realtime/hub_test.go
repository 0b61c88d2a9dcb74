package realtime

import (
	"fmt"
	"sync"
	"testing"
)

func TestJoinAndLeaveRoom(t *testing.T) {
	hub := NewHub()
	a := hub.Register("usr_a")
	b := hub.Register("usr_b")

	hub.Join(a, "brd_1")
	hub.Join(b, "brd_1")
	if got := len(hub.Room("brd_1")); got != 2 {
		t.Fatalf("expected 2 clients in room, got %d", got)
	}

	hub.Leave(a, "brd_1")
	room := hub.Room("brd_1")
	if len(room) != 1 || room[0] != b {
		t.Fatalf("expected only b in room after leave, got %d clients", len(room))
	}
}

func TestUnregisterRemovesFromAllRooms(t *testing.T) {
	hub := NewHub()
	c := hub.Register("usr_a")
	hub.Join(c, "brd_1")
	hub.Join(c, "brd_2")

	hub.Unregister(c)

	if len(hub.Room("brd_1")) != 0 || len(hub.Room("brd_2")) != 0 {
		t.Fatal("unregistered client still present in rooms")
	}
	if _, ok := <-c.Outbox(); ok {
		t.Fatal("outbox should be closed after unregister")
	}
}

func TestJoinAfterUnregisterIsIgnored(t *testing.T) {
	hub := NewHub()
	c := hub.Register("usr_a")
	hub.Unregister(c)

	hub.Join(c, "brd_1")
	if len(hub.Room("brd_1")) != 0 {
		t.Fatal("dead client joined a room")
	}
}

func TestSendToStaleRoomSnapshot(t *testing.T) {
	hub := NewHub()
	c := hub.Register("usr_a")
	hub.Join(c, "brd_1")

	snapshot := hub.Room("brd_1")
	hub.Unregister(c)

	// a broadcast iterating an older snapshot must see a clean refusal
	for _, client := range snapshot {
		if client.Send([]byte("msg")) {
			t.Fatal("send to an unregistered client should report failure")
		}
	}
}

func TestSendDropsWhenOutboxFull(t *testing.T) {
	hub := NewHub()
	c := hub.Register("usr_a")

	sent := 0
	for i := 0; i < 100; i++ {
		if c.Send([]byte("msg")) {
			sent++
		}
	}
	if sent == 0 || sent == 100 {
		t.Fatalf("expected some sends to drop on a full outbox, %d/100 succeeded", sent)
	}
}

func TestConcurrentChurn(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c := hub.Register(fmt.Sprintf("usr_%d", n))
			hub.Join(c, "brd_1")
			hub.Room("brd_1")
			hub.Leave(c, "brd_1")
			hub.Unregister(c)
		}(i)
	}
	wg.Wait()

	if got := len(hub.Room("brd_1")); got != 0 {
		t.Fatalf("expected empty room after churn, got %d", got)
	}
}
