// Copyright 2024 The gomicrokernel Authors. All Rights Reserved.

package ipc

import (
	"context"
	"testing"

	"github.com/gomicrokernel/ipc/internal/waitq"
)

func TestPhoneLifecycle(t *testing.T) {
	caller := NewTask(1, 4)
	callee := NewTask(2, 4)

	p := caller.Phone(0)
	if p.State() != PhoneFree {
		t.Fatalf("initial state = %v, want FREE", p.State())
	}

	if !p.beginConnecting() {
		t.Fatalf("beginConnecting() failed on a FREE phone")
	}
	if p.State() != PhoneConnecting {
		t.Fatalf("state = %v, want CONNECTING", p.State())
	}

	if p.beginConnecting() {
		t.Fatalf("beginConnecting() succeeded twice")
	}

	p.connect(callee.Answerbox())
	if p.State() != PhoneConnected {
		t.Fatalf("state = %v, want CONNECTED", p.State())
	}

	peers := callee.Answerbox().DebugSnapshot().ConnectedPhones
	if len(peers) != 1 || peers[0] != p {
		t.Fatalf("ConnectedPhones = %v, want [%v]", peers, p)
	}
}

func TestPhoneAbortConnecting(t *testing.T) {
	caller := NewTask(1, 4)
	p := caller.Phone(0)

	p.beginConnecting()
	p.abortConnecting()

	if p.State() != PhoneFree {
		t.Fatalf("state = %v, want FREE after abort", p.State())
	}
}

func TestLockTwoPhonesOrdersByAddress(t *testing.T) {
	caller := NewTask(1, 4)
	a := caller.Phone(0)
	b := caller.Phone(1)

	// Just exercise both orderings; a real ordering bug would deadlock the
	// test rather than fail an assertion.
	unlock := lockTwoPhones(a, b)
	unlock()

	unlock = lockTwoPhones(b, a)
	unlock()
}

// TestPhoneHangup exercises spec.md §4.4's hangup(phone): a CONNECTED phone
// with nothing outstanding drops straight to FREE, is removed from the
// callee's connected-phone set, and the callee sees a synthetic
// MethodPhoneHungUp notification with DiscardAnswer set.
func TestPhoneHangup(t *testing.T) {
	caller := NewTask(1, 4)
	callee := NewTask(2, 4)

	p := caller.Phone(0)
	p.beginConnecting()
	p.connect(callee.Answerbox())

	if err := p.Hangup(); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	if p.State() != PhoneFree {
		t.Fatalf("state after Hangup with no outstanding calls = %v, want FREE", p.State())
	}

	peers := callee.Answerbox().DebugSnapshot().ConnectedPhones
	if len(peers) != 0 {
		t.Fatalf("ConnectedPhones after Hangup = %v, want empty", peers)
	}

	notif, src := callee.Answerbox().Wait(context.Background(), 0, waitq.None)
	if src != SourceCall {
		t.Fatalf("Wait source = %v, want SourceCall", src)
	}
	if notif.Method != MethodPhoneHungUp {
		t.Fatalf("notification Method = %v, want MethodPhoneHungUp", notif.Method)
	}
	if notif.Phone != p {
		t.Fatalf("notification Phone = %v, want %v", notif.Phone, p)
	}
	if !notif.Flags.DiscardAnswer {
		t.Fatalf("notification DiscardAnswer flag not set")
	}
}

// TestPhoneHangupNotConnectedIsNoop exercises Hangup's documented no-op
// behavior: a FREE phone returns nil, anything else reports
// ErrNotConnected.
func TestPhoneHangupNotConnectedIsNoop(t *testing.T) {
	caller := NewTask(1, 4)
	p := caller.Phone(0)

	if err := p.Hangup(); err != nil {
		t.Fatalf("Hangup on a FREE phone = %v, want nil", err)
	}

	p.beginConnecting()
	if err := p.Hangup(); err != ErrNotConnected {
		t.Fatalf("Hangup on a CONNECTING phone = %v, want ErrNotConnected", err)
	}
}

// TestPhoneHangupWaitsForActiveCalls exercises §4.4's "drop to FREE only
// once active_calls has drained": a phone with an outstanding unanswered
// call must land in HUNGUP, not FREE, until that call is answered.
func TestPhoneHangupWaitsForActiveCalls(t *testing.T) {
	caller := NewTask(1, 4)
	callee := NewTask(2, 4)

	p := caller.Phone(0)
	p.beginConnecting()
	p.connect(callee.Answerbox())

	c := AllocCall(caller, false)
	c.Method = 1
	if err := Call(p, c); err != nil {
		t.Fatalf("Call: %v", err)
	}

	if err := p.Hangup(); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	if p.State() != PhoneHungup {
		t.Fatalf("state with an active call outstanding = %v, want HUNGUP", p.State())
	}

	dispatched, src := callee.Answerbox().Wait(context.Background(), 0, waitq.None)
	if src != SourceCall {
		t.Fatalf("Wait source = %v, want SourceCall", src)
	}
	if err := Answer(dispatched, 0); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	if _, src := caller.Answerbox().Wait(context.Background(), 0, waitq.None); src != SourceAnswer {
		t.Fatalf("caller Wait source = %v, want SourceAnswer", src)
	}

	if p.State() != PhoneFree {
		t.Fatalf("state after the last active call was answered = %v, want FREE", p.State())
	}
}

func TestLockTwoPhonesSamePhone(t *testing.T) {
	caller := NewTask(1, 4)
	a := caller.Phone(0)

	unlock := lockTwoPhones(a, a)
	unlock()
}
