// Copyright 2024 The gomicrokernel Authors. All Rights Reserved.

package ipc

import (
	"sync/atomic"
	"unsafe"

	"github.com/jacobsa/syncutil"
)

// syncMutex is the lock type used for Answerbox and Phone state, exactly
// the jacobsa/syncutil.InvariantMutex pattern samples/memfs uses
// ("mu syncutil.InvariantMutex", "mu = syncutil.NewInvariantMutex(self.checkInvariants)"):
// every Unlock re-validates the invariants spec.md §3 describes, catching a
// broken list/refcount invariant at the point it was introduced instead of
// at some unrelated later crash.
type syncMutex = syncutil.InvariantMutex

func newSyncMutex(checkInvariants func()) syncMutex {
	return syncutil.NewInvariantMutex(checkInvariants)
}

// ptrOf returns the address of a Phone for the purposes of the lock-order
// rule in spec.md §4.1 ("when two phones must be locked, the one at the
// lower address is taken first"). This is the one place the port still
// reasons about addresses the way the original C does, and it is confined
// to comparison only: the returned pointer is never dereferenced.
func ptrOf(p *Phone) unsafe.Pointer {
	return unsafe.Pointer(p)
}

// atomicAddInt32 adds delta to *addr and returns the new value. Small
// wrapper kept so call sites read as plain arithmetic.
func atomicAddInt32(addr *int32, delta int32) int32 {
	return atomic.AddInt32(addr, delta)
}
