package apiclient

import (
	"context"
	"sync"
)

type refreshResult struct {
	token string
	err   error
}

// pendingRequest is a caller blocked on a refresh cycle it did not start.
// done is buffered so the cycle never blocks on a caller that gave up.
type pendingRequest struct {
	done chan refreshResult
}

func (p *pendingRequest) wait(ctx context.Context) (string, error) {
	select {
	case res := <-p.done:
		return res.token, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// RefreshCoordinator lets exactly one caller refresh the access token while
// everyone else who hit a 401 queues for the result. The queue is non-empty
// only while a refresh is in flight and is drained once per cycle, FIFO.
type RefreshCoordinator struct {
	mu         sync.Mutex
	refreshing bool
	queue      []*pendingRequest
	// generation counts successful cycles; issued is the token the latest
	// one produced.
	generation uint64
	issued     string
}

// NewRefreshCoordinator returns an idle coordinator.
func NewRefreshCoordinator() *RefreshCoordinator {
	return &RefreshCoordinator{}
}

// TryBeginRefresh atomically moves IDLE to REFRESHING. It reports false if a
// cycle is already in flight.
func (c *RefreshCoordinator) TryBeginRefresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refreshing {
		return false
	}
	c.refreshing = true
	return true
}

func (c *RefreshCoordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}

// Pending is the number of callers waiting on the current cycle.
func (c *RefreshCoordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *RefreshCoordinator) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// join decides what a request sent during generation gen and rejected with
// 401 does next, in one critical section: wait on the in-flight cycle, replay
// with the token of a cycle that finished after it was sent, or lead a new
// cycle.
//
// The replay with an already issued token is the request's single attempt. If
// that token has itself been rejected by then, the replay fails with 401 and no
// new cycle starts for it; the caller sees the 401 and the next request leads
// a fresh cycle.
func (c *RefreshCoordinator) join(gen uint64) (p *pendingRequest, fresh string, leader bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refreshing {
		p = &pendingRequest{done: make(chan refreshResult, 1)}
		c.queue = append(c.queue, p)
		return p, "", false
	}
	if c.generation != gen && c.issued != "" {
		return nil, c.issued, false
	}
	c.refreshing = true
	return nil, "", true
}

// CompleteRefresh ends the cycle. Waiters are resolved with token when err is
// nil and rejected with err otherwise, in the order they queued. It returns
// the number of waiters drained.
func (c *RefreshCoordinator) CompleteRefresh(token string, err error) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		c.generation++
		c.issued = token
	} else {
		c.issued = ""
	}
	n := c.drainLocked(refreshResult{token: token, err: err})
	c.refreshing = false
	return n
}

// CancelAll rejects every waiter with reason. The in-flight cycle, if any,
// keeps running and still completes normally.
func (c *RefreshCoordinator) CancelAll(reason error) int {
	if reason == nil {
		reason = ErrRefreshCancelled
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drainLocked(refreshResult{err: reason})
}

func (c *RefreshCoordinator) drainLocked(res refreshResult) int {
	n := len(c.queue)
	for _, p := range c.queue {
		p.done <- res
	}
	c.queue = nil
	return n
}
