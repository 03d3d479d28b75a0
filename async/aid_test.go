// Copyright 2024 The gomicrokernel Authors. All Rights Reserved.

package async_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/jacobsa/ogletest"

	"github.com/gomicrokernel/ipc"
	"github.com/gomicrokernel/ipc/async"
	"github.com/gomicrokernel/ipc/ipctest"
)

func TestManager(t *testing.T) { RunTests(t) }

type ManagerTest struct {
	pair *ipctest.Pair
	ctx  context.Context
	stop context.CancelFunc
	mgr  *async.Manager
}

func init() { RegisterTestSuite(&ManagerTest{}) }

func (t *ManagerTest) SetUp(ti *TestInfo) {
	t.pair = ipctest.NewPair(1, 2, 4)
	t.ctx, t.stop = context.WithCancel(context.Background())
	t.mgr = async.NewManager(t.pair.A.Answerbox())
	go t.mgr.Run(t.ctx, nil)
}

func (t *ManagerTest) TearDown() {
	t.stop()
}

func (t *ManagerTest) SendNWaitForRoundTrip() {
	s := async.Open(t.pair.Phone, async.ExchangeAtomic, nil, 0)
	e, err := s.Begin()
	AssertEq(nil, err)
	defer e.End()

	id, err := t.mgr.SendN(e, 99, [5]uint64{1, 2, 3, 4, 5})
	AssertEq(nil, err)

	go func() {
		c, src := t.pair.B.Answerbox().Wait(context.Background(), time.Second, 0)
		if src == ipc.SourceCall {
			ipc.Answer(c, 77)
		}
	}()

	retval, err := t.mgr.WaitFor(context.Background(), id)
	AssertEq(nil, err)
	ExpectEq(77, retval)
}

func (t *ManagerTest) WaitTimeoutReportsTimeoutWithoutConsumingTheRequest() {
	s := async.Open(t.pair.Phone, async.ExchangeAtomic, nil, 0)
	e, err := s.Begin()
	AssertEq(nil, err)
	defer e.End()

	id, err := t.mgr.SendN(e, 1, [5]uint64{})
	AssertEq(nil, err)

	_, timedOut := t.mgr.WaitTimeout(id, 10*time.Millisecond)
	ExpectTrue(timedOut)

	go func() {
		c, src := t.pair.B.Answerbox().Wait(context.Background(), time.Second, 0)
		if src == ipc.SourceCall {
			ipc.Answer(c, 55)
		}
	}()

	retval, err := t.mgr.WaitFor(context.Background(), id)
	AssertEq(nil, err)
	ExpectEq(55, retval)
}

func (t *ManagerTest) ForgetDropsThePendingRequest() {
	s := async.Open(t.pair.Phone, async.ExchangeAtomic, nil, 0)
	e, err := s.Begin()
	AssertEq(nil, err)
	defer e.End()

	id, err := t.mgr.SendN(e, 1, [5]uint64{})
	AssertEq(nil, err)

	t.mgr.Forget(id)

	// id is no longer tracked in t.mgr.pending, so WaitFor must return
	// immediately instead of blocking for an answer that will never be
	// correlated to it again.
	retval, err := t.mgr.WaitFor(context.Background(), id)
	AssertEq(nil, err)
	ExpectEq(0, retval)

	// Drain the request off the callee's box so it doesn't dangle; the
	// answer then lands on A's box, where Run sees it as an answer with no
	// pending RequestID and drops it.
	c, src := t.pair.B.Answerbox().Wait(context.Background(), time.Second, 0)
	AssertEq(ipc.SourceCall, src)
	AssertEq(nil, ipc.Answer(c, 1))
}

// ForgottenRequestsLateAnswerIsNeverMisroutedToOnRequest guards against the
// Manager.Run bug where a forgotten request's late-arriving answer, no
// longer present in m.pending, fell through to onRequest as if it were a
// fresh inbound call. Run must recognize it as an answer purely from
// Answerbox.Wait's WaitSource and drop it silently instead.
func (t *ManagerTest) ForgottenRequestsLateAnswerIsNeverMisroutedToOnRequest() {
	var misrouted int32
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	mgr := async.NewManager(t.pair.A.Answerbox())
	go mgr.Run(ctx, func(c *ipc.Call) {
		atomic.AddInt32(&misrouted, 1)
	})

	s := async.Open(t.pair.Phone, async.ExchangeAtomic, nil, 0)
	e, err := s.Begin()
	AssertEq(nil, err)
	defer e.End()

	id, err := mgr.SendN(e, 42, [5]uint64{})
	AssertEq(nil, err)
	mgr.Forget(id)

	c, src := t.pair.B.Answerbox().Wait(context.Background(), time.Second, 0)
	AssertEq(ipc.SourceCall, src)
	AssertEq(nil, ipc.Answer(c, 1))

	// Give the forgotten answer time to land on A's box and be processed by
	// Run before asserting nothing was misrouted.
	time.Sleep(50 * time.Millisecond)
	ExpectEq(int32(0), atomic.LoadInt32(&misrouted))
}
