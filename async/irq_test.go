// Copyright 2024 The gomicrokernel Authors. All Rights Reserved.

package async_test

import (
	"context"
	"testing"
	"time"

	. "github.com/jacobsa/ogletest"

	"github.com/gomicrokernel/ipc"
	"github.com/gomicrokernel/ipc/async"
	"github.com/gomicrokernel/ipc/ipctest"
	"github.com/gomicrokernel/ipc/ipcops"
)

func TestIRQAndEvent(t *testing.T) { RunTests(t) }

type IRQAndEventTest struct {
	pair *ipctest.Pair
}

func init() { RegisterTestSuite(&IRQAndEventTest{}) }

func (t *IRQAndEventTest) SetUp(ti *TestInfo) {
	t.pair = ipctest.NewPair(1, 2, 4)
}

func (t *IRQAndEventTest) RegisterIRQDeliversArgsOnFire() {
	sub := async.RegisterIRQ(t.pair.A.Answerbox(), [5]uint64{1, 2, 3, 4, 5})

	sub.Fire()

	c, src := t.pair.A.Answerbox().Wait(context.Background(), time.Second, 0)
	AssertEq(ipc.SourceIRQNotif, src)
	op, ok := ipcops.ParseIRQNotification(c)
	AssertTrue(ok)
	ExpectEq([5]uint64{1, 2, 3, 4, 5}, op.Args)
}

func (t *IRQAndEventTest) UnregisterIRQStopsDelivery() {
	sub := async.RegisterIRQ(t.pair.A.Answerbox(), [5]uint64{9})
	async.UnregisterIRQ(sub)

	sub.Fire()

	_, src := t.pair.A.Answerbox().Wait(context.Background(), 10*time.Millisecond, 0)
	ExpectEq(ipc.SourceNone, src)
}

func (t *IRQAndEventTest) EventSubscribeFansOutToEverySubscriber() {
	b := async.NewEventBroadcaster()

	other := ipctest.NewPair(3, 4, 4).A

	async.EventSubscribe(b, t.pair.A.Answerbox(), 1)
	async.EventSubscribe(b, other.Answerbox(), 1)

	b.Notify(1, [5]uint64{42})

	c1, src1 := t.pair.A.Answerbox().Wait(context.Background(), time.Second, 0)
	AssertEq(ipc.SourceIRQNotif, src1)
	op1, ok := ipcops.ParseEventNotification(c1)
	AssertTrue(ok)
	ExpectEq(uint64(1), op1.EventID)

	c2, src2 := other.Answerbox().Wait(context.Background(), time.Second, 0)
	AssertEq(ipc.SourceIRQNotif, src2)
	_, ok = ipcops.ParseEventNotification(c2)
	AssertTrue(ok)
}

func (t *IRQAndEventTest) EventUnsubscribeStopsDelivery() {
	b := async.NewEventBroadcaster()
	sub := async.EventSubscribe(b, t.pair.A.Answerbox(), 2)
	async.EventUnsubscribe(b, sub)

	b.Notify(2, [5]uint64{})

	_, src := t.pair.A.Answerbox().Wait(context.Background(), 10*time.Millisecond, 0)
	ExpectEq(ipc.SourceNone, src)
}
