package lock

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestAcquireAndContention(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ok, err := m.TryAcquire(ctx, "k", 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("TryAcquire() = %v, %v, want true, nil", ok, err)
	}
	ok, _ = m.TryAcquire(ctx, "k", 10*time.Second)
	if ok {
		t.Error("second TryAcquire should fail while lease is live")
	}
}

func TestReleaseFreesLock(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.TryAcquire(ctx, "k", 10*time.Second)
	if err := m.Release(ctx, "k"); err != nil {
		t.Fatalf("Release() = %v", err)
	}
	ok, _ := m.TryAcquire(ctx, "k", 10*time.Second)
	if !ok {
		t.Error("TryAcquire after Release should succeed")
	}
}

func TestLeaseExpiry(t *testing.T) {
	m := NewMemory()
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	m.TryAcquire(ctx, "k", 10*time.Second)
	now = now.Add(11 * time.Second)
	ok, _ := m.TryAcquire(ctx, "k", 10*time.Second)
	if !ok {
		t.Error("TryAcquire after lease expiry should succeed")
	}
}

func TestConcurrentSingleWinner(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := m.TryAcquire(ctx, "k", 10*time.Second)
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Errorf("winners = %d, want 1", winners)
	}
}
