package notification

import (
	"fmt"
	"sync"
	"testing"
)

// sessions in these tests are never pumped; payloads stay in the buffer.
func testSession() *Session {
	return NewSession(nil)
}

func TestRegistryRegisterDeregister(t *testing.T) {
	r := NewConnectionRegistry()
	s1, s2 := testSession(), testSession()

	r.Register("u1", s1)
	r.Register("u1", s2)

	if !r.IsConnected("u1") {
		t.Error("u1 should be connected")
	}
	if r.ConnectedRecipients() != 1 {
		t.Errorf("ConnectedRecipients = %d, want 1", r.ConnectedRecipients())
	}

	r.Deregister("u1", s1)
	if !r.IsConnected("u1") {
		t.Error("u1 should stay connected while one session remains")
	}

	r.Deregister("u1", s2)
	if r.IsConnected("u1") {
		t.Error("u1 should be disconnected after the last session leaves")
	}
	if r.ConnectedRecipients() != 0 {
		t.Errorf("ConnectedRecipients = %d, want 0", r.ConnectedRecipients())
	}
}

func TestRegistrySendToUser(t *testing.T) {
	r := NewConnectionRegistry()
	s1, s2 := testSession(), testSession()
	r.Register("u1", s1)
	r.Register("u1", s2)

	payload := PushPayload{Type: "notification", Notification: &Notification{ID: "n1"}}
	if queued := r.SendToUser("u1", payload); queued != 2 {
		t.Errorf("queued = %d, want 2", queued)
	}

	if queued := r.SendToUser("nobody", payload); queued != 0 {
		t.Errorf("queued to disconnected recipient = %d, want 0", queued)
	}
}

func TestRegistrySendDropsWhenBufferFull(t *testing.T) {
	r := NewConnectionRegistry()
	s := testSession()
	r.Register("u1", s)

	payload := PushPayload{Type: "notification"}
	for i := 0; i < sessionSendBuffer; i++ {
		if queued := r.SendToUser("u1", payload); queued != 1 {
			t.Fatalf("send %d queued = %d, want 1", i, queued)
		}
	}

	// Buffer is full and nothing drains it; the next send drops.
	if queued := r.SendToUser("u1", payload); queued != 0 {
		t.Errorf("queued on full buffer = %d, want 0", queued)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewConnectionRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("u%d", i%8)
			s := testSession()
			r.Register(id, s)
			r.SendToUser(id, PushPayload{Type: "notification"})
			r.IsConnected(id)
			r.Deregister(id, s)
		}(i)
	}
	wg.Wait()

	if got := r.ConnectedRecipients(); got != 0 {
		t.Errorf("ConnectedRecipients after churn = %d, want 0", got)
	}
}
