// Copyright 2024 The gomicrokernel Authors. All Rights Reserved.

package ipc

import (
	"context"
	"testing"
	"time"

	"github.com/jacobsa/timeutil"

	"github.com/gomicrokernel/ipc/internal/waitq"
)

func connectedPair(t *testing.T) (caller, callee *Task, phone *Phone) {
	t.Helper()
	caller = NewTask(1, 4)
	callee = NewTask(2, 4)

	phone, err := ConnectDefault(caller, callee)
	if err != nil {
		t.Fatalf("ConnectDefault: %v", err)
	}
	return caller, callee, phone
}

// TestHello exercises the canonical scenario: a connects to b, sends a
// call, b receives it via Wait (moving calls -> dispatched), answers it,
// and a receives the answer via its own Wait.
func TestHello(t *testing.T) {
	caller, callee, phone := connectedPair(t)

	c := AllocCall(caller, false)
	c.Method = 7
	c.Args[0] = 100

	if err := Call(phone, c); err != nil {
		t.Fatalf("Call: %v", err)
	}

	got, src := callee.Answerbox().Wait(context.Background(), 0, waitq.None)
	if src != SourceCall {
		t.Fatalf("Wait source = %v, want SourceCall", src)
	}
	if got != c {
		t.Fatalf("callee received a different call object")
	}
	if got.Method != 7 || got.Args[0] != 100 {
		t.Fatalf("call contents corrupted in transit: %+v", got)
	}

	if err := Answer(got, 42); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	answer, src := caller.Answerbox().Wait(context.Background(), 0, waitq.None)
	if src != SourceAnswer {
		t.Fatalf("Wait source = %v, want SourceAnswer", src)
	}
	if answer.Retval != 42 {
		t.Fatalf("Retval = %v, want 42", answer.Retval)
	}
	if phone.ActiveCalls() != 0 {
		t.Fatalf("ActiveCalls = %v, want 0 after answer", phone.ActiveCalls())
	}
}

// TestHangupRace exercises Cleanup against a phone still CONNECTED to the
// dying task's box: the phone must come out SLAMMED, and any call still
// queued must be auto-answered with ErrHangUp instead of leaving its
// sender blocked forever.
func TestHangupRace(t *testing.T) {
	caller, callee, phone := connectedPair(t)

	c := AllocCall(caller, false)
	c.Method = 1
	if err := Call(phone, c); err != nil {
		t.Fatalf("Call: %v", err)
	}

	Cleanup(callee, timeutil.RealClock())

	if phone.State() != PhoneSlammed {
		t.Fatalf("phone state = %v, want SLAMMED", phone.State())
	}

	answer, src := caller.Answerbox().Wait(context.Background(), time.Second, waitq.None)
	if src != SourceAnswer {
		t.Fatalf("Wait source = %v, want SourceAnswer", src)
	}
	if Errno(answer.Retval) != ErrHangUp {
		t.Fatalf("Retval = %v, want ErrHangUp", Errno(answer.Retval))
	}
}

// TestCleanupHangsUpOutgoingPhones exercises P3 ("after Cleanup(T), T has
// no phones in any state other than FREE"): a task's own outgoing phone,
// connected out to some other task entirely unrelated to whoever is calling
// it, must still end up FREE once the task dies, and the peer it was
// talking to must see the usual PHONE_HUNGUP notification.
func TestCleanupHangsUpOutgoingPhones(t *testing.T) {
	dying := NewTask(1, 4)
	peer := NewTask(2, 4)

	outgoing, err := ConnectDefault(dying, peer)
	if err != nil {
		t.Fatalf("ConnectDefault: %v", err)
	}

	Cleanup(dying, timeutil.RealClock())

	if outgoing.State() != PhoneFree {
		t.Fatalf("outgoing phone state after Cleanup = %v, want FREE", outgoing.State())
	}

	notif, src := peer.Answerbox().Wait(context.Background(), time.Second, waitq.None)
	if src != SourceCall {
		t.Fatalf("peer Wait source = %v, want SourceCall", src)
	}
	if notif.Method != MethodPhoneHungUp {
		t.Fatalf("notification Method = %v, want MethodPhoneHungUp", notif.Method)
	}
}

// TestForward exercises routing a call from one answerbox to another
// without the original caller observing an extra round trip: the answer
// must still land on the original caller's box.
func TestForward(t *testing.T) {
	caller := NewTask(1, 4)
	middle := NewTask(2, 4)
	final := NewTask(3, 4)

	toMiddle, err := ConnectDefault(caller, middle)
	if err != nil {
		t.Fatalf("ConnectDefault(caller, middle): %v", err)
	}
	toFinal, err := ConnectDefault(middle, final)
	if err != nil {
		t.Fatalf("ConnectDefault(middle, final): %v", err)
	}

	c := AllocCall(caller, false)
	c.Method = 9
	if err := Call(toMiddle, c); err != nil {
		t.Fatalf("Call: %v", err)
	}

	dispatched, src := middle.Answerbox().Wait(context.Background(), 0, waitq.None)
	if src != SourceCall {
		t.Fatalf("Wait source = %v, want SourceCall", src)
	}

	if err := Forward(dispatched, toFinal); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if !dispatched.Flags.Forwarded {
		t.Fatalf("Forwarded flag not set")
	}

	atFinal, src := final.Answerbox().Wait(context.Background(), 0, waitq.None)
	if src != SourceCall {
		t.Fatalf("final Wait source = %v, want SourceCall", src)
	}
	if atFinal != c {
		t.Fatalf("final task received a different call object")
	}

	if err := Answer(atFinal, 5); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	answer, src := caller.Answerbox().Wait(context.Background(), time.Second, waitq.None)
	if src != SourceAnswer {
		t.Fatalf("caller Wait source = %v, want SourceAnswer", src)
	}
	if answer.Retval != 5 {
		t.Fatalf("Retval = %v, want 5", answer.Retval)
	}
}

// TestIRQNotificationPreemptsRegularCalls exercises the wait priority order
// from spec.md: irq_notifs must be serviced before calls even when the
// call was enqueued first.
func TestIRQNotificationPreemptsRegularCalls(t *testing.T) {
	caller, callee, phone := connectedPair(t)

	regular := AllocCall(caller, false)
	regular.Method = 1
	if err := Call(phone, regular); err != nil {
		t.Fatalf("Call: %v", err)
	}

	notif := AllocStaticCall(&Call{}, callee)
	callee.Answerbox().PushIRQNotif(notif)

	got, src := callee.Answerbox().Wait(context.Background(), 0, waitq.None)
	if src != SourceIRQNotif {
		t.Fatalf("Wait source = %v, want SourceIRQNotif", src)
	}
	if got != notif {
		t.Fatalf("expected the IRQ notification to be serviced first")
	}

	got, src = callee.Answerbox().Wait(context.Background(), 0, waitq.None)
	if src != SourceCall || got != regular {
		t.Fatalf("expected the regular call second, got src=%v call=%v", src, got)
	}
}

// TestCallSyncRoundTrip exercises the synchronous wrapper end to end using
// a server goroutine that answers on its own schedule.
func TestCallSyncRoundTrip(t *testing.T) {
	caller, callee, phone := connectedPair(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c, src := callee.Answerbox().Wait(context.Background(), time.Second, waitq.None)
		if src != SourceCall {
			t.Errorf("server Wait source = %v, want SourceCall", src)
			return
		}
		Answer(c, 123)
	}()

	c := AllocCall(caller, false)
	c.Method = 3
	if err := CallSync(context.Background(), phone, c, time.Second); err != nil {
		t.Fatalf("CallSync: %v", err)
	}
	if c.Retval != 123 {
		t.Fatalf("Retval = %v, want 123", c.Retval)
	}

	<-done
}

// TestCallSyncTimeout exercises a CallSync whose callee never answers: the
// caller must get its timeout back (reported as ErrForwarded) rather than
// blocking forever.
func TestCallSyncTimeout(t *testing.T) {
	caller, _, phone := connectedPair(t)

	c := AllocCall(caller, false)
	c.Method = 4

	err := CallSync(context.Background(), phone, c, 10*time.Millisecond)
	if err != ErrForwarded {
		t.Fatalf("CallSync error = %v, want ErrForwarded (timeout sentinel)", err)
	}
}
