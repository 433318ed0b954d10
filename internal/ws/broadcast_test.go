package ws

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// fakeConn records written frames. With gate set, WriteMessage blocks until
// the gate is closed, simulating a stalled reader.
type fakeConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	gate   chan struct{}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) messages(t *testing.T) []WSMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]WSMessage, 0, len(f.frames))
	for _, frame := range f.frames {
		var msg WSMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			t.Fatalf("unmarshal frame %s: %v", frame, err)
		}
		out = append(out, msg)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishReachesOnlySubscribedRoom(t *testing.T) {
	b := NewBroadcaster(nil)

	ca, cb := &fakeConn{}, &fakeConn{}
	a := b.Register(ca)
	o := b.Register(cb)
	defer b.Remove(a)
	defer b.Remove(o)

	b.Subscribe(a, "session-a")
	b.Subscribe(o, "session-b")

	b.Publish("session-a", WSMessage{Type: MsgViolation})

	waitFor(t, "frame on session-a observer", func() bool { return ca.frameCount() == 1 })
	if got := ca.messages(t)[0].Type; got != MsgViolation {
		t.Errorf("message type = %s, want violation", got)
	}
	if cb.frameCount() != 0 {
		t.Errorf("session-b observer received %d frames, want 0", cb.frameCount())
	}
}

func TestSubscribeIdempotent(t *testing.T) {
	b := NewBroadcaster(nil)
	fc := &fakeConn{}
	c := b.Register(fc)
	defer b.Remove(c)

	b.Subscribe(c, "s1")
	b.Subscribe(c, "s1")
	if got := b.SubscriberCount("s1"); got != 1 {
		t.Errorf("SubscriberCount = %d, want 1", got)
	}

	b.Publish("s1", WSMessage{Type: MsgViolation})
	waitFor(t, "single frame", func() bool { return fc.frameCount() >= 1 })
	time.Sleep(20 * time.Millisecond)
	if got := fc.frameCount(); got != 1 {
		t.Errorf("received %d frames, want 1", got)
	}
}

func TestSubscribeSwitchesRooms(t *testing.T) {
	b := NewBroadcaster(nil)
	fc := &fakeConn{}
	c := b.Register(fc)
	defer b.Remove(c)

	b.Subscribe(c, "s1")
	b.Subscribe(c, "s2")

	if got := b.SubscriberCount("s1"); got != 0 {
		t.Errorf("old room count = %d, want 0", got)
	}
	if got := b.SubscriberCount("s2"); got != 1 {
		t.Errorf("new room count = %d, want 1", got)
	}

	b.Publish("s1", WSMessage{Type: MsgViolation})
	b.Publish("s2", WSMessage{Type: MsgSessionEnded})
	waitFor(t, "frame from new room", func() bool { return fc.frameCount() == 1 })
	if got := fc.messages(t)[0].Type; got != MsgSessionEnded {
		t.Errorf("message type = %s, want session_ended", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroadcaster(nil)
	fc := &fakeConn{}
	c := b.Register(fc)
	defer b.Remove(c)

	b.Subscribe(c, "s1")
	b.Unsubscribe(c)

	if got := b.ClientCount(); got != 0 {
		t.Errorf("ClientCount = %d, want 0", got)
	}
	b.Publish("s1", WSMessage{Type: MsgViolation})
	time.Sleep(20 * time.Millisecond)
	if fc.frameCount() != 0 {
		t.Errorf("received %d frames after unsubscribe, want 0", fc.frameCount())
	}
}

func TestRemoveClosesConnection(t *testing.T) {
	b := NewBroadcaster(nil)
	fc := &fakeConn{}
	c := b.Register(fc)

	b.Subscribe(c, "s1")
	b.Remove(c)
	b.Remove(c)

	waitFor(t, "connection close", fc.isClosed)
	if got := b.SubscriberCount("s1"); got != 0 {
		t.Errorf("SubscriberCount = %d, want 0", got)
	}
}

func TestSlowObserverDropsOldestOnly(t *testing.T) {
	b := NewBroadcaster(nil)

	slowConn := &fakeConn{gate: make(chan struct{})}
	fastConn := &fakeConn{}
	slow := b.Register(slowConn)
	fast := b.Register(fastConn)
	defer b.Remove(fast)

	b.Subscribe(slow, "s1")
	b.Subscribe(fast, "s1")

	// The slow client's write pump blocks on its first frame, so its queue
	// holds the rest. Overflow the queue: oldest entries must be dropped
	// while the fast client receives everything.
	total := sendQueueCap + 10
	for i := 0; i < total; i++ {
		b.Publish("s1", WSMessage{Type: MsgViolation, Payload: ErrorPayload{Message: formatSeq(i)}})
	}

	waitFor(t, "fast client delivery", func() bool { return fastConn.frameCount() == total })

	close(slowConn.gate)
	// The queue's most recent sendQueueCap frames, plus possibly one that
	// was already in flight when the overflow started.
	waitFor(t, "slow client drain", func() bool { return slowConn.frameCount() >= sendQueueCap })
	time.Sleep(20 * time.Millisecond)
	if got := slowConn.frameCount(); got > sendQueueCap+1 {
		t.Errorf("slow client received %d frames, want at most %d", got, sendQueueCap+1)
	}

	msgs := slowConn.messages(t)
	last := msgs[len(msgs)-1]
	payload, _ := json.Marshal(last.Payload)
	var ep ErrorPayload
	if err := json.Unmarshal(payload, &ep); err != nil {
		t.Fatal(err)
	}
	if ep.Message != formatSeq(total-1) {
		t.Errorf("last delivered = %q, want newest %q", ep.Message, formatSeq(total-1))
	}

	b.Remove(slow)
}

func formatSeq(i int) string {
	return "seq-" + string(rune('A'+i/26)) + string(rune('A'+i%26))
}
