package apihttp

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

// startTestHub creates a hub and runs it in a background goroutine. Fake
// clients have no connection, so Close only stops their pumps.
func startTestHub(t *testing.T) *wsHub {
	t.Helper()
	hub := newWSHub(slog.Default())
	go hub.run()
	t.Cleanup(hub.Close)
	return hub
}

func fakeClient(hub *wsHub, buffer int) *wsClient {
	c := newWSClient(hub, nil)
	c.send = make(chan []byte, buffer)
	return c
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func isClosed(c *wsClient) bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func TestWSHub_RegisterAndUnregister(t *testing.T) {
	hub := startTestHub(t)
	a, b := fakeClient(hub, 4), fakeClient(hub, 4)

	if !hub.add(a) || !hub.add(b) {
		t.Fatalf("add should succeed on a running hub")
	}
	waitFor(t, time.Second, func() bool { return hub.clientCount() == 2 })

	hub.remove(a)
	waitFor(t, time.Second, func() bool { return hub.clientCount() == 1 })
	if !isClosed(a) {
		t.Fatalf("removed client should be closed")
	}
	if isClosed(b) {
		t.Fatalf("remaining client should stay open")
	}

	// Removing twice is harmless.
	hub.remove(a)
	if hub.clientCount() != 1 {
		t.Fatalf("clientCount = %d, want 1", hub.clientCount())
	}
}

func TestWSHub_Broadcast(t *testing.T) {
	hub := startTestHub(t)
	a, b := fakeClient(hub, 4), fakeClient(hub, 4)
	hub.add(a)
	hub.add(b)
	waitFor(t, time.Second, func() bool { return hub.clientCount() == 2 })

	hub.Broadcast("position", positionEvent{Key: "p1", Deleted: true})

	for i, c := range []*wsClient{a, b} {
		select {
		case raw := <-c.send:
			var msg struct {
				Type string        `json:"type"`
				Data positionEvent `json:"data"`
			}
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Fatalf("client %d: decode: %v", i, err)
			}
			if msg.Type != "position" || msg.Data.Key != "p1" || !msg.Data.Deleted {
				t.Fatalf("client %d: unexpected message %+v", i, msg)
			}
		case <-time.After(time.Second):
			t.Fatalf("client %d: no broadcast received", i)
		}
	}
}

func TestWSHub_BroadcastNoClientsIsNoop(t *testing.T) {
	hub := startTestHub(t)
	hub.Broadcast("position", positionEvent{Key: "p1"})
	if len(hub.broadcast) != 0 {
		t.Fatalf("broadcast without clients should not queue")
	}
}

func TestWSHub_BroadcastDropsSlowClient(t *testing.T) {
	hub := startTestHub(t)
	slow := fakeClient(hub, 0)
	hub.add(slow)
	waitFor(t, time.Second, func() bool { return hub.clientCount() == 1 })

	hub.Broadcast("position", positionEvent{Key: "p1"})
	waitFor(t, time.Second, func() bool { return hub.clientCount() == 0 })
	if !isClosed(slow) {
		t.Fatalf("slow client should be closed")
	}
}

func TestWSHub_CloseDisconnectsClients(t *testing.T) {
	hub := newWSHub(slog.Default())
	go hub.run()
	c := fakeClient(hub, 4)
	hub.add(c)
	waitFor(t, time.Second, func() bool { return hub.clientCount() == 1 })

	hub.Close()
	waitFor(t, time.Second, func() bool { return isClosed(c) })
	waitFor(t, time.Second, func() bool { return hub.clientCount() == 0 })

	if hub.add(fakeClient(hub, 1)) {
		t.Fatalf("add after Close should fail")
	}
	hub.Close()
}

func TestWSClient_EnqueueAfterClose(t *testing.T) {
	hub := startTestHub(t)
	c := fakeClient(hub, 1)
	if !c.enqueue([]byte("a")) {
		t.Fatalf("enqueue on open client should succeed")
	}
	c.close()
	c.close()
	if c.enqueue([]byte("b")) {
		t.Fatalf("enqueue on closed client should fail")
	}
}
