// Copyright 2024 The gomicrokernel Authors. All Rights Reserved.

package ipc

import (
	"sync/atomic"
)

// MethodPhoneHungUp is the method number of the kernel-synthesized
// notification Phone.Hangup delivers to its former callee when the caller
// hangs up. ipcops.MethodPhoneHungUp is defined in terms of this constant
// so the two packages never drift apart.
const MethodPhoneHungUp uint64 = 1

// PhoneState is one of the five states in the phone lifecycle described in
// spec.md §3.
type PhoneState int

const (
	PhoneFree PhoneState = iota
	PhoneConnecting
	PhoneConnected
	PhoneHungup
	PhoneSlammed
)

func (s PhoneState) String() string {
	switch s {
	case PhoneFree:
		return "FREE"
	case PhoneConnecting:
		return "CONNECTING"
	case PhoneConnected:
		return "CONNECTED"
	case PhoneHungup:
		return "HUNGUP"
	case PhoneSlammed:
		return "SLAMMED"
	default:
		return "UNKNOWN"
	}
}

// Phone is a one-directional capability from its owning task to a target
// answerbox. Lock ordering (spec.md §4.1, §4.5): whoever needs both an
// answerbox lock and a phone lock must take the answerbox lock first; when
// two phones must be locked at once, the one at the lower address is taken
// first (see lockTwoPhones).
type Phone struct {
	owner *Task
	slot  int

	mu syncMutex // guards everything below; GUARDED_BY(mu)

	state  PhoneState // GUARDED_BY(mu)
	callee *Answerbox // GUARDED_BY(mu); valid in CONNECTING/CONNECTED/HUNGUP/SLAMMED

	activeCalls int32 // atomic; calls sent through this phone with no answer yet

	// peerLink is this phone's membership in callee's connected-phone set.
	// Valid exactly while state == PhoneConnected.
	peerLink peerListElem
}

func (p *Phone) init(owner *Task, slot int) {
	p.owner = owner
	p.slot = slot
	p.state = PhoneFree
	p.mu = newSyncMutex(p.checkInvariants)
}

// checkInvariants enforces the legal (state, callee, activeCalls) tuples
// from spec.md §3. Wired into p.mu via syncutil.InvariantMutex so every
// Unlock re-validates it, the same way samples/memfs's checkInvariants
// methods are wired to their InvariantMutex fields.
func (p *Phone) checkInvariants() {
	switch p.state {
	case PhoneFree:
		if p.callee != nil {
			panic("ipc: FREE phone has a callee")
		}
	case PhoneConnecting:
		// callee may be nil (not yet chosen) or set while racing the peer's
		// accept; either is legal mid-handshake.
	case PhoneConnected:
		if p.callee == nil {
			panic("ipc: CONNECTED phone has no callee")
		}
	case PhoneHungup, PhoneSlammed:
		// callee retained for debugging; active_calls may still be > 0,
		// draining.
	}

	if p.activeCallsUnsafe() < 0 {
		panic("ipc: negative active_calls")
	}
}

func (p *Phone) activeCallsUnsafe() int32 { return p.activeCalls }

// Owner returns the task this phone belongs to.
func (p *Phone) Owner() *Task { return p.owner }

// Slot returns this phone's index within its owner's phone array.
func (p *Phone) Slot() int { return p.slot }

// State returns the phone's current state.
func (p *Phone) State() PhoneState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ActiveCalls returns the number of calls sent through this phone that have
// not yet been answered.
func (p *Phone) ActiveCalls() int32 {
	return p.activeCalls
}

// beginConnecting transitions FREE -> CONNECTING. Returns false if the
// phone was not FREE.
func (p *Phone) beginConnecting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != PhoneFree {
		return false
	}
	p.state = PhoneConnecting
	return true
}

// abortConnecting transitions CONNECTING -> FREE on rejection.
func (p *Phone) abortConnecting() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == PhoneConnecting {
		p.state = PhoneFree
		p.callee = nil
	}
}

// connect transitions CONNECTING -> CONNECTED and appends the phone to
// box's connected-phone set. Lock order: box first, then phone, per
// spec.md §4.1.
func (p *Phone) connect(box *Answerbox) {
	box.mu.Lock()
	p.mu.Lock()

	p.state = PhoneConnected
	p.callee = box
	box.addPeer(p)

	p.mu.Unlock()
	box.mu.Unlock()
}

// Hangup implements spec.md §4.4's hangup(phone): CONNECTED -> HUNGUP,
// remove p from its callee's connected-phone set, deliver a synthetic
// MethodPhoneHungUp notification (with DiscardAnswer set, since nobody is
// waiting on a reply) to the callee, and drop straight through to FREE if
// every call already sent through p has already been answered. Hanging up
// a phone that is not CONNECTED is a no-op: already FREE returns nil
// silently, anything else (CONNECTING/HUNGUP/SLAMMED) reports
// ErrNotConnected.
//
// Lock order is box-before-phone (spec.md §4.1), but the callee box is only
// known by reading p.callee, which requires p.mu. Hangup therefore takes
// p.mu once to read it, releases it, then reacquires both locks in the
// required order and re-reads p.state: a concurrent Cleanup may have
// already slammed p while the phone lock was briefly released, and that
// race must win over a hangup that started first.
func (p *Phone) Hangup() error {
	p.mu.Lock()
	if p.state != PhoneConnected {
		st := p.state
		p.mu.Unlock()
		if st == PhoneFree {
			return nil
		}
		return ErrNotConnected
	}
	box := p.callee
	p.mu.Unlock()

	box.mu.Lock()
	p.mu.Lock()

	if p.state != PhoneConnected || p.callee != box {
		// Lost the race: a concurrent Cleanup already slammed this phone
		// (or reconnected it), so there is nothing left for us to finish.
		p.mu.Unlock()
		box.mu.Unlock()
		return nil
	}

	p.state = PhoneHungup
	box.removePeer(p)

	p.mu.Unlock()
	box.mu.Unlock()

	notify := AllocCall(p.owner, false)
	notify.Method = MethodPhoneHungUp
	notify.Phone = p
	notify.Flags.DiscardAnswer = true
	notify.Callerbox = box

	box.mu.Lock()
	if box.active {
		box.enqueueCall(notify)
	} else if notify.storage == storagePooled {
		FreeCall(notify)
	}
	box.mu.Unlock()

	p.tryFreeAfterHangup()
	return nil
}

// releaseActiveCall decrements p's active-call count when one of its
// outstanding calls has been answered, then checks whether that was the
// last one keeping a HUNGUP phone from reaching FREE.
func (p *Phone) releaseActiveCall() {
	atomicAddInt32(&p.activeCalls, -1)
	p.tryFreeAfterHangup()
}

// tryFreeAfterHangup transitions p from HUNGUP to FREE once active_calls
// has drained to zero, per spec.md §4.4. A no-op in any other state.
func (p *Phone) tryFreeAfterHangup() {
	p.mu.Lock()
	if p.state == PhoneHungup && atomic.LoadInt32(&p.activeCalls) == 0 {
		p.state = PhoneFree
		p.callee = nil
	}
	p.mu.Unlock()
}

// forceFree unconditionally drops a HUNGUP or SLAMMED phone to FREE,
// abandoning any active_calls that will now never be collected. Used only
// by Cleanup when p's own owning task is being destroyed: once that task's
// answerbox is inactive, nothing will ever call Answerbox.Wait on it to
// drive the normal active_calls-draining path in tryFreeAfterHangup, so
// Cleanup must force the issue instead of leaving the phone stuck forever.
func (p *Phone) forceFree() {
	p.mu.Lock()
	if p.state == PhoneHungup || p.state == PhoneSlammed {
		p.state = PhoneFree
		p.callee = nil
		atomic.StoreInt32(&p.activeCalls, 0)
	}
	p.mu.Unlock()
}

// lockTwoPhones locks a and b in address order, returning an unlock
// function. This is the Go expression of spec.md §4.1's "when two phones
// must be locked, the one at the lower address is taken first".
func lockTwoPhones(a, b *Phone) (unlock func()) {
	if a == b {
		a.mu.Lock()
		return func() { a.mu.Unlock() }
	}

	first, second := a, b
	if uintptr(ptrOf(a)) > uintptr(ptrOf(b)) {
		first, second = b, a
	}

	first.mu.Lock()
	second.mu.Lock()
	return func() {
		second.mu.Unlock()
		first.mu.Unlock()
	}
}

// syncMutex and newSyncMutex / ptrOf are defined in locks.go.

// peerListElem is this phone's intrusive membership in an answerbox's
// connected-phone set.
type peerListElem struct {
	next, prev *Phone
	onList     *peerList
}
