// Copyright 2024 The gomicrokernel Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package waitq provides the one blocking primitive that the rest of the
// kernel IPC core is built on: a waitqueue that can be slept on with an
// optional timeout, and woken either one sleeper at a time or all at once.
//
// A caller always sleeps while holding some other lock that guards the
// condition it is waiting on (an answerbox's spinlock, in practice). Sleep
// registers the waiter under the queue's own internal lock before releasing
// the caller's lock, so a Wake racing with a Sleep can never be lost: the
// waker must acquire the same outer lock to mutate the condition, and by the
// time it can do so the waiter is already registered.
package waitq

import (
	"context"
	"sync"
	"time"

	"github.com/jacobsa/timeutil"
)

// WakePolicy selects how many sleepers a Wake call releases.
type WakePolicy int

const (
	// WakeFirst wakes at most one sleeper. Waking an empty queue with
	// WakeFirst is a no-op: it is never recorded as a missed wakeup for a
	// thread that sleeps later.
	WakeFirst WakePolicy = iota

	// WakeAll wakes every current sleeper.
	WakeAll
)

// Flags select blocking behavior for Sleep.
type Flags int

const (
	// None blocks until woken, timed out, or (if the context is done)
	// interrupted.
	None Flags = 0

	// NonBlocking returns immediately with Timeout set if no wakeup is
	// already pending.
	NonBlocking Flags = 1 << iota
)

// NoTimeout, passed to Sleep, means block indefinitely (subject to
// interruption via ctx).
const NoTimeout time.Duration = 0

// Result describes why Sleep returned.
type Result struct {
	Woken       bool
	Timeout     bool
	Interrupted bool
}

// Waitqueue is a FIFO queue of parked goroutines.
type Waitqueue struct {
	clock timeutil.Clock

	mu      sync.Mutex
	waiters []chan struct{}
}

// New creates an empty waitqueue. clock is stored but Sleep does not
// consult it: timeouts use the runtime timer via time.NewTimer, since
// HelenOS's microsecond timeout API has no simulated-clock equivalent worth
// threading through goroutine parks.
func New(clock timeutil.Clock) *Waitqueue {
	return &Waitqueue{clock: clock}
}

// Locker is the minimal interface Sleep needs from the caller's lock.
type Locker interface {
	Lock()
	Unlock()
}

// Sleep must be called with outer held. It atomically registers the calling
// goroutine as a waiter and releases outer, blocks until woken, timed out,
// or ctx is done, then re-acquires outer before returning.
func (wq *Waitqueue) Sleep(ctx context.Context, outer Locker, timeout time.Duration, flags Flags) Result {
	ch := make(chan struct{})
	wq.mu.Lock()
	wq.waiters = append(wq.waiters, ch)
	wq.mu.Unlock()

	outer.Unlock()
	defer outer.Lock()

	if flags&NonBlocking != 0 {
		select {
		case <-ch:
			return Result{Woken: true}
		default:
			wq.remove(ch)
			return Result{Timeout: true}
		}
	}

	var timeoutCh <-chan time.Time
	if timeout > NoTimeout {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-ch:
		return Result{Woken: true}
	case <-timeoutCh:
		wq.remove(ch)
		return Result{Timeout: true}
	case <-ctx.Done():
		wq.remove(ch)
		return Result{Interrupted: true}
	}
}

// Wake releases sleepers according to policy, returning how many were woken.
func (wq *Waitqueue) Wake(policy WakePolicy) int {
	wq.mu.Lock()
	defer wq.mu.Unlock()

	if len(wq.waiters) == 0 {
		return 0
	}

	switch policy {
	case WakeFirst:
		ch := wq.waiters[0]
		wq.waiters = wq.waiters[1:]
		close(ch)
		return 1

	case WakeAll:
		n := len(wq.waiters)
		for _, ch := range wq.waiters {
			close(ch)
		}
		wq.waiters = nil
		return n

	default:
		return 0
	}
}

// Len reports the number of currently parked waiters. Racy by nature; meant
// for tests and debug snapshots only.
func (wq *Waitqueue) Len() int {
	wq.mu.Lock()
	defer wq.mu.Unlock()
	return len(wq.waiters)
}

func (wq *Waitqueue) remove(target chan struct{}) {
	wq.mu.Lock()
	defer wq.mu.Unlock()

	for i, ch := range wq.waiters {
		if ch == target {
			wq.waiters = append(wq.waiters[:i], wq.waiters[i+1:]...)
			return
		}
	}

	// Already popped by a concurrent Wake between the select and here; drain
	// the pending signal so the caller's timeout/interrupt result stands.
	select {
	case <-target:
	default:
	}
}
