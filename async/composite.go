// Copyright 2024 The gomicrokernel Authors. All Rights Reserved.

package async

import (
	"context"
	"time"

	"github.com/gomicrokernel/ipc"
	"github.com/gomicrokernel/ipc/ipcops"
)

// DataWrite performs the async_data_write_start handshake: it sends an
// IPC_M_DATA_WRITE request carrying data as the call's out-of-band buffer
// and waits synchronously for the callee to accept it.
func DataWrite(ctx context.Context, e *Exchange, data []byte) error {
	c := ipc.AllocCall(e.Phone().Owner(), false)
	ipcops.FillDataWrite(c, ipcops.DataWriteOp{Size: uint64(len(data))})
	c.Buffer = data
	return ipc.CallSync(ctx, e.Phone(), c, 0)
}

// DataRead performs the async_data_read_start handshake: it sends an
// IPC_M_DATA_READ request for up to maxSize bytes and returns whatever
// buffer the callee attached to its answer.
func DataRead(ctx context.Context, e *Exchange, maxSize uint64) ([]byte, error) {
	c := ipc.AllocCall(e.Phone().Owner(), false)
	ipcops.FillDataRead(c, ipcops.DataReadOp{Size: maxSize})
	if err := ipc.CallSync(ctx, e.Phone(), c, 0); err != nil {
		return nil, err
	}
	return c.Buffer, nil
}

// ServeDataRead answers a pending IPC_M_DATA_READ request with data,
// trimming it to the size the caller asked for, the callee-side half of
// DataRead.
func ServeDataRead(c *ipc.Call, data []byte) error {
	op, ok := ipcops.ParseDataRead(c)
	if ok && uint64(len(data)) > op.Size {
		data = data[:op.Size]
	}
	c.Buffer = data
	return ipc.Answer(c, 0)
}

// ServeDataWrite answers a pending IPC_M_DATA_WRITE request, returning the
// bytes the caller attached, the callee-side half of DataWrite.
func ServeDataWrite(c *ipc.Call) []byte {
	data := c.Buffer
	ipc.Answer(c, 0)
	return data
}

// ShareRegion describes a shared-memory region set up via ShareIn/ShareOut.
// This implementation models the region as an in-process byte slice rather
// than an actual mapped-memory segment, since the handshake's accounting
// (who offered how much, under what flags, and whether the peer accepted)
// is the part of the protocol package async exists to get right; the
// memory-mapping step itself is platform-specific and out of scope.
type ShareRegion struct {
	Data  []byte
	Flags uint64
}

// ShareIn performs the async_share_in handshake: the caller asks to map a
// region the callee owns.
func ShareIn(ctx context.Context, e *Exchange, size, flags uint64) (*ShareRegion, error) {
	c := ipc.AllocCall(e.Phone().Owner(), false)
	ipcops.FillShareIn(c, ipcops.ShareInOp{Size: size, Flags: flags})
	if err := ipc.CallSync(ctx, e.Phone(), c, 0); err != nil {
		return nil, err
	}
	return &ShareRegion{Data: c.Buffer, Flags: flags}, nil
}

// ServeShareIn answers a pending IPC_M_SHARE_IN request by offering region.
func ServeShareIn(c *ipc.Call, region *ShareRegion) error {
	c.Buffer = region.Data
	return ipc.Answer(c, 0)
}

// ShareOut performs the async_share_out handshake: the caller offers
// region to the callee.
func ShareOut(ctx context.Context, e *Exchange, region *ShareRegion) error {
	c := ipc.AllocCall(e.Phone().Owner(), false)
	ipcops.FillShareOut(c, ipcops.ShareOutOp{Size: uint64(len(region.Data)), Flags: region.Flags})
	c.Buffer = region.Data
	return ipc.CallSync(ctx, e.Phone(), c, 0)
}

// ConnectToMe performs the async_connect_to_me handshake: it asks the
// callee to accept a reverse connection so the callee can later call the
// caller back unsolicited. The reverse phone itself is supplied by the
// caller (already connected via ipc.ConnectDefault or an earlier
// CONNECT_ME_TO), since passing an actual phone capability across the wire
// has no Go-native representation; this call only carries the identifying
// arguments the callee will use to pick which phone slot to call back on.
func ConnectToMe(ctx context.Context, e *Exchange, calleeArg0, calleeArg1 uint64) error {
	c := ipc.AllocCall(e.Phone().Owner(), false)
	ipcops.FillConnectToMe(c, ipcops.ConnectToMeOp{CalleeArg0: calleeArg0, CalleeArg1: calleeArg1})
	return ipc.CallSync(ctx, e.Phone(), c, 0)
}

// RemoteState is a capability handed from one task to another authorizing
// access to some kernel- or server-held object, the supplemented
// acquire/update/release feature described alongside IPC_M_STATE_CHANGE_AUTHORIZE.
type RemoteState struct {
	ID uint64
}

// AcquireState asks the callee to authorize access to the remote state
// object named by stateID, blocking until it answers.
func AcquireState(ctx context.Context, e *Exchange, stateID uint64) (*RemoteState, error) {
	c := ipc.AllocCall(e.Phone().Owner(), false)
	ipcops.FillStateChangeAuthorize(c, ipcops.StateChangeAuthorizeOp{StateID: stateID, Action: ipcops.StateActionAcquire})
	if err := ipc.CallSync(ctx, e.Phone(), c, 5*time.Second); err != nil {
		return nil, err
	}
	return &RemoteState{ID: stateID}, nil
}

// UpdateState asks the callee to change s's authorized argument to arg,
// blocking until it answers. Unlike AcquireState/ReleaseState this is a
// mid-life operation on an already-acquired state object, so s must still be
// held by the caller.
func UpdateState(ctx context.Context, e *Exchange, s *RemoteState, arg uint64) error {
	c := ipc.AllocCall(e.Phone().Owner(), false)
	ipcops.FillStateChangeAuthorize(c, ipcops.StateChangeAuthorizeOp{StateID: s.ID, Action: ipcops.StateActionUpdate, TargetArg: arg})
	return ipc.CallSync(ctx, e.Phone(), c, 5*time.Second)
}

// ReleaseState notifies the callee that s is no longer needed. Unlike
// AcquireState this does not wait for an answer: it is fire-and-forget,
// matching the original's preference for not blocking task teardown on a
// remote peer's responsiveness.
func ReleaseState(e *Exchange, s *RemoteState) error {
	c := ipc.AllocCall(e.Phone().Owner(), false)
	ipcops.FillStateChangeAuthorize(c, ipcops.StateChangeAuthorizeOp{StateID: s.ID, Action: ipcops.StateActionRelease})
	c.Flags.DiscardAnswer = true
	return ipc.Call(e.Phone(), c)
}
