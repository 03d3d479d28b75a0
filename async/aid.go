// Copyright 2024 The gomicrokernel Authors. All Rights Reserved.

package async

import (
	"context"
	"sync"
	"time"

	"github.com/gomicrokernel/ipc"
)

// RequestID is the handle returned by SendN, the equivalent of the
// original's aid_t. It is simply the *ipc.Call carrying the request: the
// same Call object is what eventually reappears on the caller's answerbox,
// so it doubles as its own correlation key and nothing needs a separate
// lookup table keyed by a synthetic integer.
type RequestID = *ipc.Call

// pendingResult is recorded once a request's answer has actually arrived,
// so WaitFor/WaitTimeout called after the fact (or concurrently from two
// goroutines, though only one should own a given RequestID) still observe
// it.
type pendingResult struct {
	retval uint64
	ready  chan struct{}
}

// Manager drains one task's answerbox and resolves RequestIDs as their
// answers arrive, the role the original's fibril-based notification
// fibril plays for async_wait_for/async_wait_timeout.
type Manager struct {
	box *ipc.Answerbox

	mu      sync.Mutex
	pending map[RequestID]*pendingResult
}

// NewManager creates a Manager that will resolve requests as they arrive on
// box. Callers must also run Run in a goroutine for answers to ever be
// collected.
func NewManager(box *ipc.Answerbox) *Manager {
	return &Manager{
		box:     box,
		pending: make(map[RequestID]*pendingResult),
	}
}

// SendN sends a request with the given method and up to five arguments
// through e, returning a RequestID that WaitFor/WaitTimeout/Forget can
// later use to collect (or discard) the answer. This is the asynchronous
// counterpart to ipc.Call: SendN returns as soon as the request is
// enqueued, without blocking for the reply.
func (m *Manager) SendN(e *Exchange, method uint64, args [5]uint64) (RequestID, error) {
	c := ipc.AllocCall(e.Phone().Owner(), false)
	c.Method = method
	c.Args = args
	c.Callerbox = m.box

	m.mu.Lock()
	m.pending[c] = &pendingResult{ready: make(chan struct{})}
	m.mu.Unlock()

	if err := ipc.Call(e.Phone(), c); err != nil {
		m.mu.Lock()
		delete(m.pending, c)
		m.mu.Unlock()
		return nil, err
	}
	return c, nil
}

// Run drains m's answerbox forever (until ctx is done), resolving
// RequestIDs as their answers arrive. Every answer is consumed here: one
// with no pending RequestID (e.g. a Forget'd request) is dropped. Anything
// that is not an answer (ordinary inbound requests and IRQ notifications on
// the same answerbox) is passed to onRequest, or dropped if onRequest is nil.
func (m *Manager) Run(ctx context.Context, onRequest func(*ipc.Call)) {
	for {
		c, src := m.box.Wait(ctx, 0, 0)
		if c == nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		if src == ipc.SourceAnswer {
			// An answer to something this Manager itself sent via SendN (or
			// once did, before Forget discarded it). Either way it is never
			// a fresh inbound request, so it must not reach onRequest: a
			// Forget'd request whose answer arrives late is simply dropped
			// here, not misrouted to the request handler.
			m.mu.Lock()
			res, isReply := m.pending[c]
			if isReply {
				delete(m.pending, c)
			}
			m.mu.Unlock()

			if isReply {
				res.retval = c.Retval
				close(res.ready)
			}
			continue
		}

		if onRequest != nil {
			onRequest(c)
		}
	}
}

// WaitFor blocks until id's answer has arrived and returns its return
// value, the equivalent of async_wait_for.
func (m *Manager) WaitFor(ctx context.Context, id RequestID) (uint64, error) {
	m.mu.Lock()
	res, ok := m.pending[id]
	m.mu.Unlock()
	if !ok {
		// Already resolved (or unknown); nothing left to wait for.
		return id.Retval, nil
	}

	select {
	case <-res.ready:
		return res.retval, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// WaitTimeout is WaitFor bounded by timeout, the equivalent of
// async_wait_timeout. timedOut is true if the timeout elapsed before the
// answer arrived; the RequestID remains valid and may be waited on again.
func (m *Manager) WaitTimeout(id RequestID, timeout time.Duration) (retval uint64, timedOut bool) {
	m.mu.Lock()
	res, ok := m.pending[id]
	m.mu.Unlock()
	if !ok {
		return id.Retval, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-res.ready:
		return res.retval, false
	case <-timer.C:
		return 0, true
	}
}

// Forget detaches id so its eventual answer is silently discarded instead
// of leaking in m.pending forever, the equivalent of async_forget. It does
// not cancel the in-flight request; HelenOS async has no cancellation
// either, only abandonment.
func (m *Manager) Forget(id RequestID) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}
