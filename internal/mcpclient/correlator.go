package mcpclient

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// DefaultTimeout bounds how long a caller waits for a correlated response.
const DefaultTimeout = 30 * time.Second

var (
	// ErrTimeout is returned by Await when no response arrived in time.
	ErrTimeout = errors.New("mcpclient: request timed out")

	// ErrDisconnected is returned to every waiter when the stream is lost.
	ErrDisconnected = errors.New("mcpclient: connection closed")

	// ErrDuplicateRequest is returned when an id is registered twice.
	ErrDuplicateRequest = errors.New("mcpclient: duplicate request id")

	// ErrNotPending is returned by Await for an id that was never registered
	// or has already been settled.
	ErrNotPending = errors.New("mcpclient: request not pending")
)

// outcome is what a pending request is settled with: a response or an error.
type outcome struct {
	msg *Response
	err error
}

type entry struct {
	ch      chan outcome
	settled bool
}

// Correlator matches asynchronous responses to outstanding requests by id.
// Each pending entry is settled exactly once: by Resolve, by Clear, or by
// its waiter giving up. The waiter owns removal of the entry, so a response
// that arrives before Await is called is not lost.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*entry
}

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]*entry)}
}

// Register creates the pending entry for id. It must be called before the
// request is sent.
func (c *Correlator) Register(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateRequest, id)
	}
	c.pending[id] = &entry{ch: make(chan outcome, 1)}
	return nil
}

// Resolve delivers msg to the waiter registered under id. It returns false
// when no such request is pending, e.g. it already timed out or was
// answered.
func (c *Correlator) Resolve(id string, msg *Response) bool {
	if !c.settle(id, outcome{msg: msg}) {
		log.Printf("mcpclient: response for unknown request %s dropped", id)
		return false
	}
	return true
}

// Await blocks until id is resolved, the timeout elapses or ctx is done.
// A zero timeout means DefaultTimeout. The entry is always deregistered on
// return so the slot never leaks.
func (c *Correlator) Await(ctx context.Context, id string, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c.mu.Lock()
	e, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotPending, id)
	}
	defer c.Cancel(id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-e.ch:
		return out.msg, out.err
	case <-timer.C:
		return nil, fmt.Errorf("%w after %v (id %s)", ErrTimeout, timeout, id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel discards a pending entry. A late Resolve for it returns false.
func (c *Correlator) Cancel(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Pending returns the number of requests still waiting for a response.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, e := range c.pending {
		if !e.settled {
			n++
		}
	}
	return n
}

// Clear settles every outstanding request with ErrDisconnected.
func (c *Correlator) Clear() {
	c.mu.Lock()
	released := 0
	for _, e := range c.pending {
		if !e.settled {
			e.settled = true
			e.ch <- outcome{err: ErrDisconnected}
			released++
		}
	}
	c.mu.Unlock()

	if released > 0 {
		log.Printf("mcpclient: released %d pending requests on disconnect", released)
	}
}

func (c *Correlator) settle(id string, out outcome) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.pending[id]
	if !ok || e.settled {
		return false
	}
	e.settled = true
	e.ch <- out
	return true
}
