package album

import (
	"sync"
	"testing"
	"time"

	"github.com/avtogeo/avtobot/internal/event"
)

type collector struct {
	mu      sync.Mutex
	batches []*event.Batch
}

func (c *collector) emit(b *event.Batch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
}

func (c *collector) wait(t *testing.T, n int, timeout time.Duration) []*event.Batch {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.batches) >= n {
			out := c.batches
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d batches", n)
	return nil
}

func grouped(actor int64, key string, msgID int) event.InboundEvent {
	return event.InboundEvent{
		ActorID:   actor,
		MessageID: msgID,
		Kind:      event.KindPhoto,
		Media:     &event.MediaItem{Kind: event.KindPhoto, FileID: "f"},
		GroupKey:  key,
	}
}

func TestPassThroughWithoutGroupKey(t *testing.T) {
	a := New(20*time.Millisecond, func(*event.Batch) { t.Error("emit should not be called") })
	defer a.Stop()

	ev := event.InboundEvent{ActorID: 1, Kind: event.KindText, Text: "hi"}
	b := a.Submit(ev)
	if b == nil || len(b.Events) != 1 || b.Events[0].Text != "hi" {
		t.Fatalf("Submit() = %v, want singleton batch", b)
	}
}

func TestBurstSealedOnceInOrder(t *testing.T) {
	c := &collector{}
	a := New(30*time.Millisecond, c.emit)
	defer a.Stop()

	for i := 1; i <= 3; i++ {
		if b := a.Submit(grouped(1, "g1", i)); b != nil {
			t.Fatalf("grouped Submit returned batch %v, want nil", b)
		}
		time.Sleep(10 * time.Millisecond) // within the quiet period
	}

	batches := c.wait(t, 1, time.Second)
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	ids := batches[0].MessageIDs()
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 2 || ids[2] != 3 {
		t.Errorf("MessageIDs() = %v, want [1 2 3]", ids)
	}
	if a.Pending() != 0 {
		t.Errorf("Pending() = %d after seal, want 0", a.Pending())
	}
}

func TestGapSplitsBursts(t *testing.T) {
	c := &collector{}
	a := New(25*time.Millisecond, c.emit)
	defer a.Stop()

	a.Submit(grouped(1, "g1", 1))
	time.Sleep(80 * time.Millisecond) // exceed the quiet period
	a.Submit(grouped(1, "g1", 2))

	batches := c.wait(t, 2, time.Second)
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}
	if batches[0].Events[0].MessageID != 1 || batches[1].Events[0].MessageID != 2 {
		t.Errorf("batches out of order: %v, %v", batches[0].MessageIDs(), batches[1].MessageIDs())
	}
}

func TestDistinctKeysIndependent(t *testing.T) {
	c := &collector{}
	a := New(25*time.Millisecond, c.emit)
	defer a.Stop()

	a.Submit(grouped(1, "g1", 1))
	a.Submit(grouped(2, "g2", 2))
	a.Submit(grouped(1, "g1", 3))

	batches := c.wait(t, 2, time.Second)
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}
	sizes := map[int64]int{}
	for _, b := range batches {
		sizes[b.Actor()] = len(b.Events)
	}
	if sizes[1] != 2 || sizes[2] != 1 {
		t.Errorf("batch sizes per actor = %v, want map[1:2 2:1]", sizes)
	}
}

func TestStopDropsBuffers(t *testing.T) {
	c := &collector{}
	a := New(20*time.Millisecond, c.emit)

	a.Submit(grouped(1, "g1", 1))
	a.Stop()

	time.Sleep(60 * time.Millisecond)
	c.mu.Lock()
	n := len(c.batches)
	c.mu.Unlock()
	if n != 0 {
		t.Errorf("got %d batches after Stop, want 0", n)
	}

	// After Stop grouped events degrade to pass-through.
	if b := a.Submit(grouped(1, "g2", 2)); b == nil {
		t.Error("Submit after Stop returned nil, want singleton batch")
	}
}
