// Copyright (c) 2024 authd authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package auth

import (
	"errors"
	"fmt"

	"authd/core"
	"authd/eapol"
)

/* authenticator port states, per supplicant session */
const (
	StateIdle          uint8 = 1
	StateAwaitIdentity uint8 = 2
	StateAwaitBackend  uint8 = 3
	StateAuthenticated uint8 = 4
	StateHeld          uint8 = 5
	StateLoggedOff     uint8 = 6
)

func StateName(s uint8) string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitIdentity:
		return "awaiting-identity"
	case StateAwaitBackend:
		return "awaiting-backend"
	case StateAuthenticated:
		return "authenticated"
	case StateHeld:
		return "held"
	case StateLoggedOff:
		return "logged-off"
	}
	return "unknown"
}

// SessionKey a supplicant is (switch port, source mac)
type SessionKey struct {
	Port uint16
	Mac  core.MACKey
}

func (k SessionKey) String() string {
	return fmt.Sprintf("%d/%v", k.Port, k.Mac)
}

// Trigger the event class asking for a session; only initial triggers
// may create one
type Trigger uint8

const (
	TriggerStart    Trigger = 1
	TriggerIdentity Trigger = 2
	TriggerMab      Trigger = 3
	TriggerOther    Trigger = 4
)

var (
	ErrNoSuchSession      = errors.New("no such session")
	ErrUnexpectedFragment = errors.New("unexpected eap fragment")
	ErrSessionTableFull   = errors.New("session table full")
)

/* fragBuffer tracks one multi-fragment EAP-TLS message. The first
fragment of a run declares the total; the buffer only ever grows by
what actually arrived and never past the declared total. Ordering
inside a run is implicit (each fragment round has its own EAP
identifier, checked before the buffer is touched). */
type fragBuffer struct {
	active bool
	total  uint32
	buf    []byte
}

func (o *fragBuffer) reset() {
	o.active = false
	o.total = 0
	o.buf = o.buf[:0]
}

// push validates f against the run in progress. done reports that the
// message completed. On error nothing is consumed.
func (o *fragBuffer) push(f *eapol.TLSFragment, maxTotal uint32) (done bool, err error) {
	if !o.active {
		if !f.More {
			// unfragmented message
			return true, nil
		}
		if !f.HasLength {
			return false, ErrUnexpectedFragment
		}
		if f.TotalLen > maxTotal {
			return false, ErrUnexpectedFragment
		}
		o.active = true
		o.total = f.TotalLen
		o.buf = append(o.buf[:0], f.Payload...)
		return false, nil
	}
	if f.Start {
		// new run in the middle of an active one
		return false, ErrUnexpectedFragment
	}
	if f.HasLength && f.TotalLen != o.total {
		return false, ErrUnexpectedFragment
	}
	n := uint32(len(o.buf)) + uint32(len(f.Payload))
	if n > o.total {
		return false, ErrUnexpectedFragment
	}
	if !f.More && n != o.total {
		return false, ErrUnexpectedFragment
	}
	o.buf = append(o.buf, f.Payload...)
	if !f.More {
		o.reset()
		return true, nil
	}
	return false, nil
}

//Session per-supplicant authenticator state, owned by one worker
type Session struct {
	Key    SessionKey
	worker *Worker
	state  uint8

	identity string
	method   eapol.EapType

	vlans     [2]uint32
	vlanCount uint8
	eapVer    uint8

	lastTxId     uint8
	pendingResp  bool // lastTxId expects a supplicant response
	awaitVerdict bool // a backend exchange is in flight
	retryCnt     uint8

	backendGen        uint32
	backendState      []byte
	sessionTimeoutSec uint32

	lastTx  []byte // encoded frame for retransmit
	granted bool

	frag   fragBuffer
	parked *core.NonBlockingChan

	timer core.CHTimerObj
	dlist core.DList
}

func (o *Session) State() uint8 {
	return o.state
}
