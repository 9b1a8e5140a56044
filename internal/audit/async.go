package audit

import (
	"context"
	"log"
	"sync"
	"time"
)

// recordTimeout bounds one background write.
const recordTimeout = 5 * time.Second

// Tracked wraps a Store so Close waits for background writes started with
// RecordAsync before closing the database. Writes requested after Close are
// dropped.
type Tracked struct {
	Store

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

// Track wraps store. Wrapping a *Tracked returns it unchanged.
func Track(store Store) *Tracked {
	if t, ok := store.(*Tracked); ok {
		return t
	}
	return &Tracked{Store: store}
}

// RecordAsync stores e in the background.
func (t *Tracked) RecordAsync(e *Entry) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		log.Printf("Warning: audit: store closed, dropping %s search record", e.Tool)
		return
	}
	t.pending.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.pending.Done()
		record(t.Store, e)
	}()
}

// Close waits for pending writes, then closes the wrapped store.
func (t *Tracked) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.pending.Wait()
	return t.Store.Close()
}

// RecordAsync stores e in the background with its own timeout, logging
// failures. Search latency never depends on the audit database. A *Tracked
// store keeps the write alive across its Close.
func RecordAsync(store Store, e *Entry) {
	if store == nil {
		return
	}
	if t, ok := store.(*Tracked); ok {
		t.RecordAsync(e)
		return
	}
	go record(store, e)
}

func record(store Store, e *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := store.Record(ctx, e); err != nil {
		log.Printf("Warning: audit: failed to record %s search: %v", e.Tool, err)
	}
}
