package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fansync/fansync/internal/protocol"
)

// result is the terminal outcome of a pending request: exactly one of frame
// or err is delivered, exactly once.
type result struct {
	frame *protocol.Frame
	err   error
}

// pendingRequest is one in-flight correlated request.
type pendingRequest struct {
	id       uint64
	issuedAt time.Time
	deadline time.Time
	done     chan result
}

// Correlator maps outstanding command requests to pending completions.
// It owns a pendingRequest from registration until an ack arrives, the
// deadline fires, or the connection is torn down. Only its own mutex is
// ever held, and never while delivering a result.
type Correlator struct {
	mu      sync.Mutex
	pending map[uint64]*pendingRequest
	nextID  uint64
}

func NewCorrelator() *Correlator {
	return &Correlator{
		pending: make(map[uint64]*pendingRequest),
		nextID:  protocol.FirstCommandID,
	}
}

// register assigns a fresh monotonically increasing correlation id and
// tracks the request until a terminal outcome.
func (c *Correlator) register(timeout time.Duration) *pendingRequest {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	p := c.track(id, timeout)
	c.mu.Unlock()
	return p
}

// registerReserved tracks a request under one of the reserved bootstrap ids.
func (c *Correlator) registerReserved(id uint64, timeout time.Duration) *pendingRequest {
	c.mu.Lock()
	p := c.track(id, timeout)
	c.mu.Unlock()
	return p
}

func (c *Correlator) track(id uint64, timeout time.Duration) *pendingRequest {
	now := time.Now()
	p := &pendingRequest{
		id:       id,
		issuedAt: now,
		deadline: now.Add(timeout),
		done:     make(chan result, 1),
	}
	c.pending[id] = p
	return p
}

// resolve completes the pending entry matching id with an ack frame.
// Returns false for stale, duplicate or unexpected ids: such frames must be
// dropped by the caller, never misdelivered to a different pending request.
func (c *Correlator) resolve(id uint64, frame *protocol.Frame) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	p.done <- result{frame: frame}
	return true
}

// cancel removes the pending entry without delivering an outcome. Used by a
// waiter that is about to report its own timeout or cancellation. Returns
// false when a resolution already raced the caller.
func (c *Correlator) cancel(id uint64) bool {
	c.mu.Lock()
	_, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	return ok
}

// failAll drains every pending entry and fails each with err exactly once.
// Called on connection teardown so no request leaks across a reconnect.
func (c *Correlator) failAll(err error) int {
	c.mu.Lock()
	drained := make([]*pendingRequest, 0, len(c.pending))
	for id, p := range c.pending {
		drained = append(drained, p)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	for _, p := range drained {
		p.done <- result{err: err}
	}
	return len(drained)
}

// await blocks the caller until the request resolves, times out against its
// own deadline, or ctx is cancelled. The receive path is never blocked by a
// waiting caller.
func (c *Correlator) await(ctx context.Context, p *pendingRequest) (*protocol.Frame, error) {
	timer := time.NewTimer(time.Until(p.deadline))
	defer timer.Stop()
	select {
	case res := <-p.done:
		return res.frame, res.err
	case <-timer.C:
		if c.cancel(p.id) {
			return nil, ErrTimeout
		}
		// A resolution raced the timer and is already buffered.
		res := <-p.done
		return res.frame, res.err
	case <-ctx.Done():
		if c.cancel(p.id) {
			return nil, ctx.Err()
		}
		res := <-p.done
		return res.frame, res.err
	}
}

// Len returns the number of in-flight requests.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// PendingIDs returns in-flight correlation ids, sorted, for diagnostics.
func (c *Correlator) PendingIDs() []uint64 {
	c.mu.Lock()
	ids := make([]uint64, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
