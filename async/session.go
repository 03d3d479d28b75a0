// Copyright 2024 The gomicrokernel Authors. All Rights Reserved.

// Package async is the userspace framework built on top of package ipc: it
// turns a Phone into a Session that can be shared by many goroutines, each
// borrowing an Exchange for the duration of one request instead of holding
// the phone itself, and it gives request/reply pairs async_send_*/
// async_wait_for/async_wait_timeout/async_forget semantics instead of
// forcing every caller through a blocking ipc.CallSync.
package async

import (
	"context"
	"sync"

	"github.com/gomicrokernel/ipc"
)

// ExchangeMode selects how concurrent callers share a Session's underlying
// phone(s), mirroring the three exchange-management strategies a HelenOS
// async client can pick between.
type ExchangeMode int

const (
	// ExchangeAtomic multiplexes all exchanges onto the session's single
	// phone. Begin takes no session-level lock for it: concurrent
	// exchanges share the phone and each send goes straight to ipc.Call.
	// Cheapest in phone slots.
	ExchangeAtomic ExchangeMode = iota

	// ExchangeSerialize also uses the single primary phone. Begin and End
	// behave exactly as for ExchangeAtomic: no per-session lock is held
	// between them and callers are not queued, so exchanges on a Serialize
	// session are not serialized against each other.
	ExchangeSerialize

	// ExchangeParallel hands out a distinct cloned phone per concurrent
	// Exchange, up to the session's configured clone limit, so independent
	// requests never block on each other's send.
	ExchangeParallel
)

// CloneFunc creates a new phone connected to the same callee as base, for
// ExchangeParallel sessions. Supplied by the caller because only the
// caller's task knows how to mint a new phone slot and repeat the
// CONNECT_ME_TO handshake.
type CloneFunc func(base *ipc.Phone) (*ipc.Phone, error)

// Session multiplexes exchanges over one or more phones to the same callee,
// per the ExchangeMode chosen at Open time.
type Session struct {
	mode  ExchangeMode
	clone CloneFunc

	mu       sync.Mutex
	primary  *ipc.Phone
	free     []*ipc.Phone // idle cloned phones (ExchangeParallel only)
	maxClones int
	nClones  int

	// stateMu forces the remote-state acquire/update/release operations
	// below to run one at a time regardless of s.mode, the "layered on
	// ExchangeSerialize" behavior the original gives async_remote_state_*:
	// a Parallel session must not let two concurrent exchanges race a
	// state object's acquire against its release.
	stateMu sync.Mutex
}

// Open wraps phone in a Session using mode. clone is required (and may be
// called concurrently) when mode is ExchangeParallel; it is ignored
// otherwise. maxClones bounds how many extra phones ExchangeParallel will
// mint; 0 means unbounded.
func Open(phone *ipc.Phone, mode ExchangeMode, clone CloneFunc, maxClones int) *Session {
	return &Session{
		mode:      mode,
		clone:     clone,
		primary:   phone,
		maxClones: maxClones,
	}
}

// Exchange is a borrowed right to send requests over one of a Session's
// phones. Callers must call End when done; the zero value is not usable.
type Exchange struct {
	session *Session
	phone   *ipc.Phone
	cloned  bool
}

// Phone returns the underlying phone this exchange sends over.
func (e *Exchange) Phone() *ipc.Phone { return e.phone }

// Begin borrows an exchange from s, selecting a phone according to s's
// mode: Atomic and Serialize both hand out the single primary phone (and
// rely on per-exchange external synchronization, i.e. the caller holding
// the exchange for the duration of one request); Parallel hands out an
// idle cloned phone, minting a new one if none is idle and the clone limit
// allows it, falling back to the primary phone otherwise.
func (s *Session) Begin() (*Exchange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.mode {
	case ExchangeAtomic, ExchangeSerialize:
		return &Exchange{session: s, phone: s.primary}, nil

	case ExchangeParallel:
		if n := len(s.free); n > 0 {
			p := s.free[n-1]
			s.free = s.free[:n-1]
			return &Exchange{session: s, phone: p, cloned: true}, nil
		}
		if s.maxClones == 0 || s.nClones < s.maxClones {
			p, err := s.clone(s.primary)
			if err != nil {
				return &Exchange{session: s, phone: s.primary}, nil
			}
			s.nClones++
			return &Exchange{session: s, phone: p, cloned: true}, nil
		}
		return &Exchange{session: s, phone: s.primary}, nil

	default:
		return &Exchange{session: s, phone: s.primary}, nil
	}
}

// End returns e's phone to the session for reuse. Safe to call exactly
// once per Exchange.
func (e *Exchange) End() {
	if !e.cloned {
		return
	}
	e.session.mu.Lock()
	e.session.free = append(e.session.free, e.phone)
	e.session.mu.Unlock()
}

// ConnectToMe borrows an exchange and performs the async_connect_to_me
// handshake over it, the Session-level convenience wrapping the lower-level
// ConnectToMe composite op so callers managing a long-lived Session don't
// have to juggle Begin/End themselves for this one-shot request.
func (s *Session) ConnectToMe(ctx context.Context, calleeArg0, calleeArg1 uint64) error {
	e, err := s.Begin()
	if err != nil {
		return err
	}
	defer e.End()
	return ConnectToMe(ctx, e, calleeArg0, calleeArg1)
}

// AcquireRemoteState asks s's callee to authorize access to the remote
// state object named by stateID, the Session-level counterpart to
// AcquireState. Serialized against UpdateRemoteState/ReleaseRemoteState on
// the same Session via stateMu.
func (s *Session) AcquireRemoteState(ctx context.Context, stateID uint64) (*RemoteState, error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	e, err := s.Begin()
	if err != nil {
		return nil, err
	}
	defer e.End()
	return AcquireState(ctx, e, stateID)
}

// UpdateRemoteState changes state's authorized argument to arg, the
// Session-level counterpart to UpdateState; state must have come from an
// earlier AcquireRemoteState on this same Session.
func (s *Session) UpdateRemoteState(ctx context.Context, state *RemoteState, arg uint64) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	e, err := s.Begin()
	if err != nil {
		return err
	}
	defer e.End()
	return UpdateState(ctx, e, state, arg)
}

// ReleaseRemoteState releases state, the Session-level counterpart to
// ReleaseState.
func (s *Session) ReleaseRemoteState(state *RemoteState) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	e, err := s.Begin()
	if err != nil {
		return err
	}
	defer e.End()
	return ReleaseState(e, state)
}
