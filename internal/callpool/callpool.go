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

// Package callpool implements the slab-style object pool the kernel uses for
// Call structures (fuse's message_provider.go GetInMessage/PutInMessage
// pair, generalized with generics and parameterized by the caller's own
// intrusive next-pointer instead of unsafe.Pointer). Get/Put are O(1) and
// never reallocate the pooled value; membership in the freelist is carried
// by a field inside T itself, exactly like the call/phone membership links
// described for the rest of the IPC core.
package callpool

import "sync"

// Freelist is a LIFO pool of *T values linked intrusively via the next/
// setNext accessors supplied to New. It never allocates new values itself;
// Get returns nil when the list is empty and the caller is expected to
// allocate (mirroring DefaultMessageProvider.GetInMessage falling back to
// NewInMessage()).
type Freelist[T any] struct {
	mu      sync.Mutex
	next    func(*T) *T
	setNext func(*T, *T)
	head    *T
	size    int
}

// New creates an empty freelist. next/setNext must read and write the same
// field of T; that field must not be used for anything else while the value
// is pooled.
func New[T any](next func(*T) *T, setNext func(*T, *T)) *Freelist[T] {
	return &Freelist[T]{next: next, setNext: setNext}
}

// Get pops the most recently freed value, or returns nil if the pool is
// empty.
func (f *Freelist[T]) Get() *T {
	f.mu.Lock()
	defer f.mu.Unlock()

	x := f.head
	if x == nil {
		return nil
	}

	f.head = f.next(x)
	f.setNext(x, nil)
	f.size--
	return x
}

// Put returns x to the pool for later reuse. The caller must not touch x
// again until a subsequent Get returns it.
func (f *Freelist[T]) Put(x *T) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.setNext(x, f.head)
	f.head = x
	f.size++
}

// Len reports how many values are currently pooled. For tests/metrics only.
func (f *Freelist[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}
