// Copyright 2024 The gomicrokernel Authors. All Rights Reserved.

package async

import (
	"sync"
	"sync/atomic"

	"github.com/gomicrokernel/ipc"
	"github.com/gomicrokernel/ipc/ipcops"
)

// IRQSubscription is a live pseudocode interrupt registration created by
// RegisterIRQ, the supplemented counterpart to async.h's
// async_irq_subscribe. There is no real hardware interrupt source in this
// implementation, so whatever stands in for one drives delivery by calling
// Fire explicitly; the subscription itself only remembers where and what to
// deliver.
type IRQSubscription struct {
	box    *ipc.Answerbox
	args   [5]uint64
	active int32 // atomic bool
}

// RegisterIRQ records box as interested in a simulated interrupt source,
// remembering args as the fixed notification payload every Fire call will
// deliver. Mirrors async_irq_subscribe's "bind a method/args template to a
// future interrupt" shape without an actual IRQ number, since this package
// has no kernel underneath it to route real interrupts through.
func RegisterIRQ(box *ipc.Answerbox, args [5]uint64) *IRQSubscription {
	return &IRQSubscription{box: box, args: args, active: 1}
}

// Fire delivers one notification carrying s's registered args onto s's
// answerbox, the point where a real kernel's interrupt handler would push
// directly into irqNotifs. A no-op once UnregisterIRQ has been called.
func (s *IRQSubscription) Fire() {
	if atomic.LoadInt32(&s.active) == 0 {
		return
	}
	c := ipc.AllocCall(s.box.Task(), false)
	if c == nil {
		return
	}
	ipcops.FillIRQNotification(c, ipcops.IRQNotificationOp{Args: s.args})
	s.box.PushIRQNotif(c)
}

// UnregisterIRQ stops s from delivering further notifications, the
// counterpart to async_irq_unsubscribe. Idempotent.
func UnregisterIRQ(s *IRQSubscription) {
	atomic.StoreInt32(&s.active, 0)
}

// EventSubscription is a live registration for one task-lifetime event kind
// on one answerbox, created by EventSubscribe.
type EventSubscription struct {
	box     *ipc.Answerbox
	eventID uint64
	active  int32 // atomic bool
}

// EventBroadcaster fans task-lifetime event notifications out to every
// answerbox currently subscribed to a given event id, the supplemented
// counterpart to event.h's notification mechanism: distinct from
// IRQSubscription because a lifetime event (task death, task spawn, and
// the like) may have many interested subscribers at once, where an
// interrupt has exactly one.
type EventBroadcaster struct {
	mu   sync.Mutex
	subs map[uint64][]*EventSubscription
}

// NewEventBroadcaster creates an empty broadcaster.
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{subs: make(map[uint64][]*EventSubscription)}
}

// EventSubscribe registers box to receive notifications of eventID fired
// through b, the supplemented counterpart to async_event_subscribe.
func EventSubscribe(b *EventBroadcaster, box *ipc.Answerbox, eventID uint64) *EventSubscription {
	s := &EventSubscription{box: box, eventID: eventID, active: 1}

	b.mu.Lock()
	b.subs[eventID] = append(b.subs[eventID], s)
	b.mu.Unlock()

	return s
}

// EventUnsubscribe removes s from b, the counterpart to
// async_event_unsubscribe. Idempotent.
func EventUnsubscribe(b *EventBroadcaster, s *EventSubscription) {
	atomic.StoreInt32(&s.active, 0)

	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[s.eventID]
	for i, x := range list {
		if x == s {
			b.subs[s.eventID] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
}

// Notify delivers a notification of eventID, carrying args, to every
// answerbox currently subscribed to it through b.
func (b *EventBroadcaster) Notify(eventID uint64, args [5]uint64) {
	b.mu.Lock()
	subs := append([]*EventSubscription(nil), b.subs[eventID]...)
	b.mu.Unlock()

	for _, s := range subs {
		if atomic.LoadInt32(&s.active) == 0 {
			continue
		}
		c := ipc.AllocCall(s.box.Task(), false)
		if c == nil {
			continue
		}
		ipcops.FillEventNotification(c, ipcops.EventNotificationOp{EventID: eventID, Args: args})
		s.box.PushIRQNotif(c)
	}
}
