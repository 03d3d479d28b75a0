// Copyright 2024 The gomicrokernel Authors. All Rights Reserved.

package ipc

import (
	"golang.org/x/sys/unix"
)

// Errno is the error type returned by the IPC core. It is compatible with
// errors.Is against the sentinel values below and against the underlying
// unix.Errno, the same way bazilfuse.Errno lets a FileSystem method return a
// raw kernel errno.
type Errno unix.Errno

func (e Errno) Error() string {
	return unix.Errno(e).Error()
}

// Is lets errors.Is(err, ErrHangUp) work regardless of which concrete Errno
// value wraps the same underlying errno.
func (e Errno) Is(target error) bool {
	other, ok := target.(Errno)
	if !ok {
		return false
	}
	return e == other
}

// Error kinds surfaced by the IPC core (spec.md §7).
const (
	// ErrOutOfMemory: slab exhaustion; returned synchronously from send if
	// allocation was non-blocking.
	ErrOutOfMemory = Errno(unix.ENOMEM)

	// ErrNotConnected: phone not in CONNECTED.
	ErrNotConnected = Errno(unix.ENXIO)

	// ErrHangUp: peer gone. Call returns it directly when the phone is
	// HUNGUP or SLAMMED or the callee's box is no longer active; it is not
	// turned into a synthetic answer on that path. Cleanup delivers it as
	// the Retval of synthetic answers to calls still queued on a dying box.
	ErrHangUp = Errno(unix.EPIPE)

	// ErrForwarded: seen by the original caller when a forward is in
	// progress and the forwarder's own send failed. CallSync also returns
	// it when its wait ends without an answer (timeout or ctx done).
	ErrForwarded = Errno(unix.ESRCH)

	// ErrLimit: ids exhausted, phone slots full.
	ErrLimit = Errno(unix.EMLINK)

	// ErrPermissionDenied: killing task 1 (init), unknown callee.
	ErrPermissionDenied = Errno(unix.EPERM)

	// ErrNoEntry: unknown task id.
	ErrNoEntry = Errno(unix.ENOENT)
)
