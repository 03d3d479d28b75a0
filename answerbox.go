// Copyright 2024 The gomicrokernel Authors. All Rights Reserved.

package ipc

import (
	"context"
	"sync"
	"time"

	"github.com/jacobsa/timeutil"

	"github.com/gomicrokernel/ipc/internal/waitq"
)

// peerList is the intrusive set of phones currently CONNECTED to an
// answerbox (spec.md §3's "set of phones currently CONNECTED to this
// answerbox"). Order doesn't matter semantically, but iteration must be
// deterministic for Cleanup and debug dumps, so it is kept as an
// insertion-ordered doubly linked list, same discipline as callList.
type peerList struct {
	head, tail *Phone
	len        int
}

func (l *peerList) pushBack(p *Phone) {
	if p.peerLink.onList != nil {
		panic("ipc: phone already connected to an answerbox")
	}
	p.peerLink.next = nil
	p.peerLink.prev = l.tail
	if l.tail != nil {
		l.tail.peerLink.next = p
	} else {
		l.head = p
	}
	l.tail = p
	p.peerLink.onList = l
	l.len++
}

func (l *peerList) remove(p *Phone) {
	if p.peerLink.onList != l {
		return
	}
	if p.peerLink.prev != nil {
		p.peerLink.prev.peerLink.next = p.peerLink.next
	} else {
		l.head = p.peerLink.next
	}
	if p.peerLink.next != nil {
		p.peerLink.next.peerLink.prev = p.peerLink.prev
	} else {
		l.tail = p.peerLink.prev
	}
	p.peerLink.next, p.peerLink.prev, p.peerLink.onList = nil, nil, nil
	l.len--
}

func (l *peerList) popFront() *Phone {
	p := l.head
	if p == nil {
		return nil
	}
	l.remove(p)
	return p
}

func (l *peerList) snapshot() []*Phone {
	out := make([]*Phone, 0, l.len)
	for p := l.head; p != nil; p = p.peerLink.next {
		out = append(out, p)
	}
	return out
}

// WaitSource reports which of the four sequences a Wait call serviced.
type WaitSource int

const (
	SourceNone WaitSource = iota
	SourceIRQNotif
	SourceAnswer
	SourceCall
)

// Answerbox is a task's inbox: four ordered sequences (calls, dispatched,
// answers, irq notifications), a waitqueue, and the set of phones currently
// connected to it (spec.md §3, §4.3).
type Answerbox struct {
	task *Task

	mu syncMutex // guards everything below except irqNotifs; GUARDED_BY(mu)

	calls      callList // GUARDED_BY(mu)
	dispatched callList // GUARDED_BY(mu)
	answers    callList // GUARDED_BY(mu)
	peers      peerList // GUARDED_BY(mu)
	active     bool     // GUARDED_BY(mu)

	// irqLock is a separate inner lock for irqNotifs, matching spec.md
	// §4.3's requirement that IRQ-notification append/read use a distinct
	// inner spinlock so interrupt delivery never has to wait behind
	// whatever holds mu.
	irqLock   sync.Mutex
	irqNotifs callList // GUARDED_BY(irqLock)

	wq *waitq.Waitqueue
}

func (b *Answerbox) init(t *Task) {
	b.task = t
	b.mu = newSyncMutex(b.checkInvariants)
	b.wq = waitq.New(timeutil.RealClock())
	b.active = true
}

func (b *Answerbox) checkInvariants() {
	// Every call on any of the four lists must claim that list as its
	// onList, which pushBack/remove already enforce structurally; the
	// invariant asserted here is that every call queued on calls has a
	// non-nil Callerbox, so it can always be answered.
	for c := b.calls.head; c != nil; c = c.listNext {
		if c.Callerbox == nil {
			panic("ipc: queued call has no callerbox")
		}
	}
}

// Task returns the task that owns this answerbox.
func (b *Answerbox) Task() *Task { return b.task }

// addPeer records p as connected to b. Caller must hold b.mu and p.mu
// (connect() does both, in the required order).
func (b *Answerbox) addPeer(p *Phone) {
	b.peers.pushBack(p)
}

// removePeer drops p from b's connected-phone set, if present.
func (b *Answerbox) removePeer(p *Phone) {
	b.peers.remove(p)
}

// Wait returns the next available call, preferring irqNotifs, then answers,
// then calls (spec.md §4.3, §4.5 rule 4), blocking on the waitqueue when
// nothing is available. When calls is the source, the call moves atomically
// to dispatched. When answers is the source, the corresponding phone's
// active_calls is decremented.
func (b *Answerbox) Wait(ctx context.Context, timeout time.Duration, flags waitq.Flags) (*Call, WaitSource) {
	for {
		b.mu.Lock()

		if c := b.popIRQNotif(); c != nil {
			b.mu.Unlock()
			return c, SourceIRQNotif
		}

		if c := b.answers.popFront(); c != nil {
			if c.Phone != nil {
				c.Phone.releaseActiveCall()
			}
			b.mu.Unlock()
			return c, SourceAnswer
		}

		if c := b.calls.popFront(); c != nil {
			b.dispatched.pushBack(c)
			b.mu.Unlock()
			return c, SourceCall
		}

		// Nothing available: sleep. Sleep releases b.mu and reacquires it
		// before returning.
		res := b.wq.Sleep(ctx, &b.mu, timeout, flags)
		b.mu.Unlock()

		if res.Timeout || res.Interrupted {
			return nil, SourceNone
		}
		// Woken: loop and re-check all three sources under the lock. This
		// also covers the "regular empty after cleanup" race spec.md §4.3
		// calls out: a spurious wakeup with nothing to dequeue just
		// restarts the loop instead of returning a bogus nil.
	}
}

func (b *Answerbox) popIRQNotif() *Call {
	b.irqLock.Lock()
	defer b.irqLock.Unlock()
	return b.irqNotifs.popFront()
}

// PushIRQNotif enqueues a kernel-synthesized notification call and wakes one
// waiter. Takes the inner irqLock only, so it never contends with senders
// appending ordinary requests under b.mu, matching spec.md §4.3.
func (b *Answerbox) PushIRQNotif(c *Call) {
	c.Flags.Notification = true

	b.irqLock.Lock()
	b.irqNotifs.pushBack(c)
	b.irqLock.Unlock()

	b.wq.Wake(waitq.WakeFirst)
}

// enqueueCall appends c to the calls list and wakes one waiter. Caller must
// already hold b.mu (the engine's _ipc_call equivalent, Call, holds only
// b.mu here, not the sending phone's lock).
func (b *Answerbox) enqueueCall(c *Call) {
	b.calls.pushBack(c)
	b.wq.Wake(waitq.WakeFirst)
}

// enqueueAnswer appends c to the answers list and wakes one waiter. Caller
// must hold b.mu.
func (b *Answerbox) enqueueAnswer(c *Call) {
	c.Flags.Answered = true
	b.answers.pushBack(c)
	b.wq.Wake(waitq.WakeFirst)
}

// removeDispatched removes c from the dispatched list. Caller must hold
// b.mu. Returns false if c was not on this box's dispatched list.
func (b *Answerbox) removeDispatched(c *Call) bool {
	if c.onList != &b.dispatched {
		return false
	}
	b.dispatched.remove(c)
	return true
}

// AnswerboxSnapshot is a point-in-time, lock-free view of an answerbox's
// contents, used for debug dumps (spec.md §4 "supplemented features":
// ipc_print_task) and for property-test assertions.
type AnswerboxSnapshot struct {
	Active           bool
	Calls            []*Call
	Dispatched       []*Call
	Answers          []*Call
	IRQNotifs        []*Call
	ConnectedPhones  []*Phone
	Waiting          int
}

// DebugSnapshot returns the current contents of b. It takes both locks
// briefly; like the original's ipc_print_task, it is a diagnostic, not a
// fast path.
func (b *Answerbox) DebugSnapshot() AnswerboxSnapshot {
	b.mu.Lock()
	s := AnswerboxSnapshot{
		Active:          b.active,
		Calls:           b.calls.snapshot(),
		Dispatched:      b.dispatched.snapshot(),
		Answers:         b.answers.snapshot(),
		ConnectedPhones: b.peers.snapshot(),
		Waiting:         b.wq.Len(),
	}
	b.mu.Unlock()

	b.irqLock.Lock()
	s.IRQNotifs = b.irqNotifs.snapshot()
	b.irqLock.Unlock()

	return s
}
