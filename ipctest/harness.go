// Copyright 2024 The gomicrokernel Authors. All Rights Reserved.

// Package ipctest provides small helpers shared by package ipc's and
// package async's tests: wiring up a connected task pair without repeating
// the phone-0 bootstrap dance in every test, and a FakeClock for exercising
// ipc.Cleanup's backoff loop without sleeping for real.
package ipctest

import (
	"sync"
	"time"

	"github.com/gomicrokernel/ipc"
)

// Pair is two tasks with task A's phone 0 connected to task B's answerbox,
// the minimal connected topology most IPC scenarios start from.
type Pair struct {
	A, B  *ipc.Task
	Phone *ipc.Phone // A's phone 0, connected to B
}

// NewPair creates two fresh tasks with phoneCount phone slots each (the
// package default if phoneCount <= 0) and connects A's phone 0 to B.
func NewPair(idA, idB ipc.TaskID, phoneCount int) *Pair {
	a := ipc.NewTask(idA, phoneCount)
	b := ipc.NewTask(idB, phoneCount)

	p, err := ipc.ConnectDefault(a, b)
	if err != nil {
		panic(err)
	}

	return &Pair{A: a, B: b, Phone: p}
}

// FakeClock is a timeutil.Clock whose Sleep is an atomic counter instead of
// an actual pause, so tests exercising ipc.Cleanup's bounded retry loop run
// instantly and can still assert on how many times it backed off.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps int
}

// NewFakeClock creates a FakeClock starting at an arbitrary fixed instant.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Unix(0, 0)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps++
}

// Sleeps returns how many times Sleep has been called.
func (c *FakeClock) Sleeps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleeps
}

// DrainAnswer blocks (with a generous real timeout, since tests run with a
// RealClock answerbox waitqueue) until box produces its next item and
// returns it if it is an answer. It returns nil if nothing arrives in time
// or the next item is not an answer (that item is consumed); it does not
// fail the test itself. Callers typically wrap this in a goroutine-free
// synchronous test path.
func DrainAnswer(box *ipc.Answerbox, timeout time.Duration) *ipc.Call {
	c, src := box.Wait(noopContext{}, timeout, 0)
	if src != ipc.SourceAnswer {
		return nil
	}
	return c
}

// noopContext is a context.Context that is never done, used where a test
// helper needs to pass one through but has no cancellation of its own.
type noopContext struct{}

func (noopContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (noopContext) Done() <-chan struct{}       { return nil }
func (noopContext) Err() error                  { return nil }
func (noopContext) Value(key interface{}) interface{} { return nil }
