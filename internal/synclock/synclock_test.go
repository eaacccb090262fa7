package synclock

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/store"
)

func newManager(kv store.KV, timeout time.Duration) *Manager {
	return NewManager(kv, timeout, log.New(os.Stderr, "[test] ", 0))
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	m := newManager(store.NewMemory(), 0)

	l, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if l.Token() == "" {
		t.Error("lock should carry a holder token")
	}

	held, err := m.Holder(ctx)
	if err != nil || !held {
		t.Errorf("lock should be held, got held=%v err=%v", held, err)
	}

	if err := m.Release(ctx, l); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	held, _ = m.Holder(ctx)
	if held {
		t.Error("lock should be free after Release")
	}
}

func TestSecondAcquireFails(t *testing.T) {
	ctx := context.Background()
	m := newManager(store.NewMemory(), 0)

	l, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer func() { _ = m.Release(ctx, l) }()

	if _, err := m.Acquire(ctx); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("expected ErrSyncInProgress, got %v", err)
	}
}

func TestStaleLockTakeover(t *testing.T) {
	ctx := context.Background()
	m := newManager(store.NewMemory(), 10*time.Millisecond)

	if _, err := m.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	l2, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("stale lock should be re-acquirable: %v", err)
	}
	_ = m.Release(ctx, l2)
}

func TestReleaseAfterTakeoverIsNoOp(t *testing.T) {
	ctx := context.Background()
	m := newManager(store.NewMemory(), 10*time.Millisecond)

	l1, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)

	l2, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("takeover failed: %v", err)
	}

	// The expired holder must not free the new holder's lock.
	if err := m.Release(ctx, l1); err != nil {
		t.Fatalf("stale Release errored: %v", err)
	}
	held, _ := m.Holder(ctx)
	if !held {
		t.Error("stale release broke the successor's lock")
	}

	_ = m.Release(ctx, l2)
}

func TestConcurrentAcquireExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()

	const workers = 16
	var wg sync.WaitGroup
	wins := make(chan *Lock, workers)
	var failures int64
	var mu sync.Mutex

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := newManager(kv, 0)
			l, err := m.Acquire(ctx)
			if err != nil {
				if !errors.Is(err, ErrSyncInProgress) {
					t.Errorf("unexpected acquire error: %v", err)
				}
				mu.Lock()
				failures++
				mu.Unlock()
				return
			}
			wins <- l
		}()
	}
	wg.Wait()
	close(wins)

	var won int
	for range wins {
		won++
	}
	if won != 1 {
		t.Errorf("expected exactly one winner, got %d (failures=%d)", won, failures)
	}
}

func TestReleaseNilLock(t *testing.T) {
	m := newManager(store.NewMemory(), 0)
	if err := m.Release(context.Background(), nil); err != nil {
		t.Errorf("releasing a nil lock should be a no-op: %v", err)
	}
}
