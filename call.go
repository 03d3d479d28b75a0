// Copyright 2024 The gomicrokernel Authors. All Rights Reserved.

package ipc

import (
	"github.com/gomicrokernel/ipc/internal/callpool"
)

// CallFlags holds the boolean properties of a Call as an explicit struct of
// booleans rather than the original's numeric bitfield (spec.md §9). No
// numeric bit encoding of these flags is provided.
type CallFlags struct {
	Answered      bool
	Forwarded     bool
	DiscardAnswer bool
	Notification  bool
}

// callStorage records whether a Call came from the shared pool (and must be
// returned to it) or is borrowed from caller-owned storage (and must never
// be freed). This replaces the original's STATIC_ALLOC flag bit with a
// proper sum type, per spec.md §9.
type callStorage int

const (
	storagePooled callStorage = iota
	storageBorrowed
)

// Call is the unit of IPC traffic: a method id, five scalar arguments, a
// return value, the sender's identity, the answerbox the reply is routed
// to, and an optional out-of-band data buffer. A Call is owned by exactly
// one queue at a time; list membership is carried by the intrusive link
// fields below rather than by a slice a Call happens to live in, so moving
// a Call between queues is O(1) and never reallocates it.
type Call struct {
	Method  uint64
	Args    [5]uint64
	Retval  uint64
	Flags   CallFlags
	Sender  *Task
	Phone   *Phone
	Callerbox *Answerbox

	// Buffer holds an optional out-of-band payload (the data-read/
	// data-write handshake's transferred bytes). Freed with the call.
	Buffer []byte

	storage callStorage

	// list membership: a Call is on at most one list at a time; onList
	// names it (nil when on none) and listNext/listPrev link its neighbours.
	listNext *Call
	listPrev *Call
	onList   *callList

	// poolNext links freed, pooled calls together; see internal/callpool.
	poolNext *Call
}

var callPool = callpool.New[Call](
	func(c *Call) *Call { return c.poolNext },
	func(c *Call, n *Call) { c.poolNext = n },
)

func initCall(c *Call, sender *Task) {
	*c = Call{
		Sender:    sender,
		Callerbox: sender.Answerbox(),
		storage:   c.storage, // preserved by caller
	}
}

// AllocCall returns a fresh Call whose Callerbox is sender's own answerbox
// and whose Sender is sender, taken from the pool if possible. atomic, when
// true, never allocates and returns nil instead of blocking or growing the
// pool (mirrors alloc(ATOMIC)); the pool never blocks in this
// implementation, so atomic only affects whether a pool miss is allowed to
// fall through to a fresh allocation.
func AllocCall(sender *Task, atomic bool) *Call {
	if c := callPool.Get(); c != nil {
		c.storage = storagePooled
		initCall(c, sender)
		return c
	}

	if atomic {
		return nil
	}

	c := &Call{storage: storagePooled}
	initCall(c, sender)
	return c
}

// AllocStaticCall initializes caller-provided storage as a Call that will
// never be returned to the pool. This is the Go equivalent of the
// original's STATIC_ALLOC calls used for synthetic/bootstrap messages that
// must live in the caller's own storage.
func AllocStaticCall(storage *Call, sender *Task) *Call {
	storage.storage = storageBorrowed
	initCall(storage, sender)
	return storage
}

// FreeCall returns a dynamically allocated call to the pool. It panics if
// call is borrowed storage, mirroring the original's ASSERT(!STATIC_ALLOC).
func FreeCall(c *Call) {
	if c.storage == storageBorrowed {
		panic("ipc: FreeCall called on borrowed-storage call")
	}
	c.Buffer = nil
	c.Phone = nil
	c.Sender = nil
	c.Callerbox = nil
	callPool.Put(c)
}

// callList is an intrusive, doubly-linked FIFO queue of Calls. It never
// allocates: pushing and popping only rewrite the next/prev/onList fields of
// the Call values already involved, satisfying spec.md §9's requirement
// that moving a call between queues be O(1).
type callList struct {
	head, tail *Call
	len        int
}

func (l *callList) pushBack(c *Call) {
	if c.onList != nil {
		panic("ipc: call already on a list")
	}

	c.listNext = nil
	c.listPrev = l.tail
	if l.tail != nil {
		l.tail.listNext = c
	} else {
		l.head = c
	}
	l.tail = c
	c.onList = l
	l.len++
}

func (l *callList) popFront() *Call {
	c := l.head
	if c == nil {
		return nil
	}
	l.remove(c)
	return c
}

func (l *callList) remove(c *Call) {
	if c.onList != l {
		panic("ipc: call not on this list")
	}

	if c.listPrev != nil {
		c.listPrev.listNext = c.listNext
	} else {
		l.head = c.listNext
	}

	if c.listNext != nil {
		c.listNext.listPrev = c.listPrev
	} else {
		l.tail = c.listPrev
	}

	c.listNext, c.listPrev, c.onList = nil, nil, nil
	l.len--
}

func (l *callList) empty() bool { return l.head == nil }

// snapshot returns the calls currently on l in order, for debug dumps and
// tests. It does not mutate the list.
func (l *callList) snapshot() []*Call {
	out := make([]*Call, 0, l.len)
	for c := l.head; c != nil; c = c.listNext {
		out = append(out, c)
	}
	return out
}
