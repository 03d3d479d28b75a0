// Copyright 2024 The gomicrokernel Authors. All Rights Reserved.

package ipc

import (
	"sort"
	"sync"
	"sync/atomic"
)

// DefaultPhoneCount is the number of phone slots a task gets, matching the
// HelenOS source's IPC_MAX_PHONES.
const DefaultPhoneCount = 16

// TaskID uniquely identifies a Task for the lifetime of the system.
type TaskID uint64

// Task is a unit of protection with its own answerbox and a bounded array of
// phones. The IPC core only observes threads as blockable contexts bound to
// a task; it does not own or schedule them (spec.md §1).
type Task struct {
	id TaskID

	box    Answerbox
	phones []Phone

	// refcount is the shared-ownership count described in spec.md §9: a
	// Task is destroyed only once it both reaches zero references and has
	// been removed from the task directory.
	refcount int32

	// ActiveCalls mirrors the field of TASK->active_calls in ipc_cleanup.
	// Nothing in this package updates it: Call, Answerbox.Wait and Cleanup
	// track outstanding calls per phone (Phone.ActiveCalls) instead, so it
	// stays at whatever value the owner sets.
	ActiveCalls int32
}

// NewTask creates a task with a fresh answerbox and phoneCount phone slots
// (DefaultPhoneCount if phoneCount <= 0), holding one reference on behalf of
// its creator.
func NewTask(id TaskID, phoneCount int) *Task {
	if phoneCount <= 0 {
		phoneCount = DefaultPhoneCount
	}

	t := &Task{
		id:       id,
		phones:   make([]Phone, phoneCount),
		refcount: 1,
	}
	t.box.init(t)
	for i := range t.phones {
		t.phones[i].init(t, i)
	}

	return t
}

// ID returns the task's identifier.
func (t *Task) ID() TaskID { return t.id }

// Answerbox returns the task's single answerbox.
func (t *Task) Answerbox() *Answerbox { return &t.box }

// Phone returns the phone at the given slot, or nil if out of range.
func (t *Task) Phone(slot int) *Phone {
	if slot < 0 || slot >= len(t.phones) {
		return nil
	}
	return &t.phones[slot]
}

// PhoneCount returns the number of phone slots this task has.
func (t *Task) PhoneCount() int { return len(t.phones) }

// Hold increments the task's reference count. Pairs with Release.
func (t *Task) Hold() {
	atomic.AddInt32(&t.refcount, 1)
}

// Release decrements the task's reference count, reporting whether it
// reached zero. A Task is only actually torn down once both Release
// reports zero and the directory has removed it.
func (t *Task) Release() (reachedZero bool) {
	return atomic.AddInt32(&t.refcount, -1) == 0
}

// tryHold increments the refcount unless it has already reached zero,
// mirroring the task directory's try_upgrade: a lookup must never hand out
// a usable reference to a task that is already being destroyed.
func (t *Task) tryHold() bool {
	for {
		cur := atomic.LoadInt32(&t.refcount)
		if cur <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&t.refcount, cur, cur+1) {
			return true
		}
	}
}

// Directory is the process-wide ordered dictionary of tasks keyed by id,
// guarded by a single lock (spec.md §9's "global task directory: a single
// IRQ-disabling spinlock" collapses, in userspace Go, to a plain mutex).
type Directory struct {
	mu    sync.Mutex
	byID  map[TaskID]*Task
	order []TaskID // kept sorted; supports ordered iteration/debug dumps
}

// NewDirectory creates an empty task directory.
func NewDirectory() *Directory {
	return &Directory{byID: make(map[TaskID]*Task)}
}

// Insert adds t to the directory. It panics if t's id is already present.
func (d *Directory) Insert(t *Task) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byID[t.id]; ok {
		panic("ipc: duplicate task id in directory")
	}

	d.byID[t.id] = t
	i := sort.Search(len(d.order), func(i int) bool { return d.order[i] >= t.id })
	d.order = append(d.order, 0)
	copy(d.order[i+1:], d.order[i:])
	d.order[i] = t.id
}

// Remove deletes id from the directory. It is a no-op if id is absent. This
// only removes the directory's own reference; callers must still Release
// it.
func (d *Directory) Remove(id TaskID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byID[id]; !ok {
		return
	}
	delete(d.byID, id)

	i := sort.Search(len(d.order), func(i int) bool { return d.order[i] >= id })
	if i < len(d.order) && d.order[i] == id {
		d.order = append(d.order[:i], d.order[i+1:]...)
	}
}

// Find looks up id and, on success, takes a reference on the returned task
// before releasing the directory lock: no caller ever observes a *Task that
// could be concurrently destroyed out from under it, per spec.md §9's
// try_upgrade requirement.
func (d *Directory) Find(id TaskID) (*Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.byID[id]
	if !ok || !t.tryHold() {
		return nil, false
	}
	return t, true
}

// Snapshot returns the ids currently in the directory, in ascending order.
func (d *Directory) Snapshot() []TaskID {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]TaskID, len(d.order))
	copy(out, d.order)
	return out
}
