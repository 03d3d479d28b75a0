// Copyright 2024 The gomicrokernel Authors. All Rights Reserved.

// Package ipcops gives the kernel's small set of well-known system methods
// (the IPC_M_* constants of the original) typed Go structs instead of raw
// Call.Method/Args, the same way fuseops gives each FUSE opcode its own
// struct instead of leaving callers to poke at a raw fuse_in_header. Each
// type here knows how to read itself out of a *ipc.Call and how to write
// its reply back in terms of the five scalar Args and Retval, so handlers
// never hand-index Args directly.
package ipcops

import (
	"github.com/gomicrokernel/ipc"
)

// Method is one of the reserved system method ids. User-defined protocols
// start numbering at FirstUserMethod (spec.md's method-number space is
// shared between kernel and userspace callers).
type Method uint64

const (
	// MethodPhoneHungUp is pinned to ipc.MethodPhoneHungUp rather than
	// numbered independently, since Phone.Hangup itself stamps outgoing
	// notifications with that constant: the two packages must never
	// disagree about this one method number.
	MethodPhoneHungUp Method = Method(ipc.MethodPhoneHungUp)

	MethodConnectToMe          Method = 2
	MethodConnectMeTo          Method = 3
	MethodShareIn              Method = 4
	MethodShareOut             Method = 5
	MethodDataRead             Method = 6
	MethodDataWrite            Method = 7
	MethodStateChangeAuthorize Method = 8

	// MethodIRQNotification marks a call synthesized by RegisterIRQ's
	// pseudocode firing, carried through an answerbox's irqNotifs sequence
	// exactly like the kernel's own interrupt notifications (irq.h).
	MethodIRQNotification Method = 9

	// MethodEventNotification marks a call synthesized by EventSubscribe's
	// broadcaster, distinct from MethodIRQNotification per event.h's split
	// between per-interrupt notifications and task-lifetime events.
	MethodEventNotification Method = 10

	// FirstUserMethod is the smallest method number available to
	// userspace-defined protocols built on top of async.
	FirstUserMethod Method = 1000
)

// PhoneHungUpOp models IPC_M_PHONE_HUNGUP: the kernel-synthesized
// notification Phone.Hangup delivers to a box when one of its connected
// phones is hung up (transitions to HUNGUP). A phone slammed by Cleanup
// sends no such notification.
type PhoneHungUpOp struct {
	Phone *ipc.Phone
}

// ParsePhoneHungUp reads a PhoneHungUpOp out of c. c.Phone is the phone that
// hung up; ok is false if c is not actually a phone-hangup notification.
func ParsePhoneHungUp(c *ipc.Call) (op PhoneHungUpOp, ok bool) {
	if Method(c.Method) != MethodPhoneHungUp {
		return PhoneHungUpOp{}, false
	}
	return PhoneHungUpOp{Phone: c.Phone}, true
}

// ConnectToMeOp models IPC_M_CONNECT_TO_ME: the caller asks the callee to
// accept a phone pointed back at the caller, so the callee can make
// unsolicited calls to the caller (spec.md's async_connect_to_me).
type ConnectToMeOp struct {
	// CalleeArg0/CalleeArg1 are protocol-defined identifying arguments the
	// caller attaches for the callee to use with the new connection,
	// carried in Args[1] and Args[2].
	CalleeArg0 uint64
	CalleeArg1 uint64
}

// ParseConnectToMe reads a ConnectToMeOp out of c.
func ParseConnectToMe(c *ipc.Call) (op ConnectToMeOp, ok bool) {
	if Method(c.Method) != MethodConnectToMe {
		return ConnectToMeOp{}, false
	}
	return ConnectToMeOp{CalleeArg0: c.Args[1], CalleeArg1: c.Args[2]}, true
}

// FillConnectToMe writes a ConnectToMeOp's arguments into c in place,
// leaving c.Method set to MethodConnectToMe.
func FillConnectToMe(c *ipc.Call, op ConnectToMeOp) {
	c.Method = uint64(MethodConnectToMe)
	c.Args[1] = op.CalleeArg0
	c.Args[2] = op.CalleeArg1
}

// DataReadOp models IPC_M_DATA_READ: the data-read handshake, where the
// caller asks the callee to send back up to Size bytes, attached to the
// callee's answer.
type DataReadOp struct {
	Size uint64
}

// ParseDataRead reads a DataReadOp out of c.
func ParseDataRead(c *ipc.Call) (op DataReadOp, ok bool) {
	if Method(c.Method) != MethodDataRead {
		return DataReadOp{}, false
	}
	return DataReadOp{Size: c.Args[1]}, true
}

// FillDataRead writes a DataReadOp's arguments into c.
func FillDataRead(c *ipc.Call, op DataReadOp) {
	c.Method = uint64(MethodDataRead)
	c.Args[1] = op.Size
}

// DataWriteOp models IPC_M_DATA_WRITE: the mirror image of DataReadOp,
// where the caller sends Size bytes, attached to the request, for the
// callee to accept.
type DataWriteOp struct {
	Size uint64
}

// ParseDataWrite reads a DataWriteOp out of c.
func ParseDataWrite(c *ipc.Call) (op DataWriteOp, ok bool) {
	if Method(c.Method) != MethodDataWrite {
		return DataWriteOp{}, false
	}
	return DataWriteOp{Size: c.Args[1]}, true
}

// FillDataWrite writes a DataWriteOp's arguments into c.
func FillDataWrite(c *ipc.Call, op DataWriteOp) {
	c.Method = uint64(MethodDataWrite)
	c.Args[1] = op.Size
}

// ShareInOp and ShareOutOp model IPC_M_SHARE_IN/IPC_M_SHARE_OUT, the
// shared-memory setup handshake: one side offers a region of Size bytes
// with the given Flags, the other accepts or rejects it.
type ShareInOp struct {
	Size  uint64
	Flags uint64
}

func ParseShareIn(c *ipc.Call) (op ShareInOp, ok bool) {
	if Method(c.Method) != MethodShareIn {
		return ShareInOp{}, false
	}
	return ShareInOp{Size: c.Args[1], Flags: c.Args[2]}, true
}

func FillShareIn(c *ipc.Call, op ShareInOp) {
	c.Method = uint64(MethodShareIn)
	c.Args[1] = op.Size
	c.Args[2] = op.Flags
}

type ShareOutOp struct {
	Size  uint64
	Flags uint64
}

func ParseShareOut(c *ipc.Call) (op ShareOutOp, ok bool) {
	if Method(c.Method) != MethodShareOut {
		return ShareOutOp{}, false
	}
	return ShareOutOp{Size: c.Args[1], Flags: c.Args[2]}, true
}

func FillShareOut(c *ipc.Call, op ShareOutOp) {
	c.Method = uint64(MethodShareOut)
	c.Args[1] = op.Size
	c.Args[2] = op.Flags
}

// State-change actions carried in a StateChangeAuthorizeOp's Action field,
// distinguishing the three phases of the supplemented remote-state
// acquire/update/release feature that all share one wire method.
const (
	StateActionAcquire uint64 = 0
	StateActionUpdate  uint64 = 1
	StateActionRelease uint64 = 2
)

// StateChangeAuthorizeOp models IPC_M_STATE_CHANGE_AUTHORIZE, used to hand
// a capability for a remote-state object (spec.md's supplemented
// remote-state acquire/update/release feature) from one task to another
// across an existing phone.
type StateChangeAuthorizeOp struct {
	StateID   uint64
	Action    uint64
	TargetArg uint64
}

func ParseStateChangeAuthorize(c *ipc.Call) (op StateChangeAuthorizeOp, ok bool) {
	if Method(c.Method) != MethodStateChangeAuthorize {
		return StateChangeAuthorizeOp{}, false
	}
	return StateChangeAuthorizeOp{StateID: c.Args[1], Action: c.Args[2], TargetArg: c.Args[3]}, true
}

func FillStateChangeAuthorize(c *ipc.Call, op StateChangeAuthorizeOp) {
	c.Method = uint64(MethodStateChangeAuthorize)
	c.Args[1] = op.StateID
	c.Args[2] = op.Action
	c.Args[3] = op.TargetArg
}

// IRQNotificationOp models the pseudocode interrupt notification a
// RegisterIRQ subscription fires: the fixed method/args template the
// subscriber chose at registration time, carried verbatim.
type IRQNotificationOp struct {
	Args [5]uint64
}

func ParseIRQNotification(c *ipc.Call) (op IRQNotificationOp, ok bool) {
	if Method(c.Method) != MethodIRQNotification {
		return IRQNotificationOp{}, false
	}
	return IRQNotificationOp{Args: c.Args}, true
}

func FillIRQNotification(c *ipc.Call, op IRQNotificationOp) {
	c.Method = uint64(MethodIRQNotification)
	c.Args = op.Args
}

// EventNotificationOp models a task-lifetime event notification fired by
// EventSubscribe's broadcaster. EventID identifies which event kind fired
// (a caller-defined numbering, e.g. "task death", "task spawn"); Args
// carries the broadcaster's Notify args, except that Args[0] is overwritten
// with EventID, so Notify's own args[0] is not delivered.
type EventNotificationOp struct {
	EventID uint64
	Args    [5]uint64
}

func ParseEventNotification(c *ipc.Call) (op EventNotificationOp, ok bool) {
	if Method(c.Method) != MethodEventNotification {
		return EventNotificationOp{}, false
	}
	return EventNotificationOp{EventID: c.Args[0], Args: c.Args}, true
}

func FillEventNotification(c *ipc.Call, op EventNotificationOp) {
	c.Method = uint64(MethodEventNotification)
	c.Args = op.Args
	c.Args[0] = op.EventID
}
