// Copyright 2024 The gomicrokernel Authors. All Rights Reserved.

package waitq

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jacobsa/timeutil"
)

// fakeLocker is a plain sync.Mutex wrapper; tests reach its mu directly
// (TryLock) to check that Sleep reacquired it before returning.
type fakeLocker struct {
	mu sync.Mutex
}

func (l *fakeLocker) Lock()   { l.mu.Lock() }
func (l *fakeLocker) Unlock() { l.mu.Unlock() }

func TestSleepWakeFirst(t *testing.T) {
	wq := New(timeutil.RealClock())
	outer := &fakeLocker{}

	outer.Lock()
	done := make(chan Result, 1)
	go func() {
		done <- wq.Sleep(context.Background(), outer, NoTimeout, None)
	}()

	// Busy-poll until the waiter has registered, since Sleep only locks
	// wq's own mutex briefly; this bounds the test to a handful of
	// scheduler quanta instead of a fixed sleep.
	for wq.Len() == 0 {
		time.Sleep(time.Millisecond)
	}

	if n := wq.Wake(WakeFirst); n != 1 {
		t.Fatalf("Wake(WakeFirst) = %d, want 1", n)
	}

	res := <-done
	if !res.Woken {
		t.Fatalf("Result = %+v, want Woken", res)
	}

	// Sleep must have reacquired outer before returning.
	if outer.mu.TryLock() {
		t.Fatalf("Sleep returned without reacquiring outer")
	}
}

func TestSleepTimesOut(t *testing.T) {
	wq := New(timeutil.RealClock())
	outer := &fakeLocker{}
	outer.Lock()

	res := wq.Sleep(context.Background(), outer, 10*time.Millisecond, None)
	if !res.Timeout {
		t.Fatalf("Result = %+v, want Timeout", res)
	}
}

func TestSleepInterruptedByContext(t *testing.T) {
	wq := New(timeutil.RealClock())
	outer := &fakeLocker{}
	outer.Lock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := wq.Sleep(ctx, outer, NoTimeout, None)
	if !res.Interrupted {
		t.Fatalf("Result = %+v, want Interrupted", res)
	}
}

func TestWakeAllWakesEverySleeper(t *testing.T) {
	wq := New(timeutil.RealClock())

	const n = 5
	results := make(chan Result, n)
	for i := 0; i < n; i++ {
		go func() {
			l := &fakeLocker{}
			l.Lock()
			results <- wq.Sleep(context.Background(), l, NoTimeout, None)
		}()
	}

	for wq.Len() < n {
		time.Sleep(time.Millisecond)
	}

	if woken := wq.Wake(WakeAll); woken != n {
		t.Fatalf("Wake(WakeAll) = %d, want %d", woken, n)
	}

	for i := 0; i < n; i++ {
		if res := <-results; !res.Woken {
			t.Fatalf("Result = %+v, want Woken", res)
		}
	}
}

func TestWakeOnEmptyQueueIsNoop(t *testing.T) {
	wq := New(timeutil.RealClock())
	if n := wq.Wake(WakeFirst); n != 0 {
		t.Fatalf("Wake(WakeFirst) on empty queue = %d, want 0", n)
	}
}
