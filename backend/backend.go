// Copyright (c) 2024 authd authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package backend

/* Backend adapter boundary. The authenticator treats the credential
authority as an asynchronous oracle: Validate returns immediately and
the verdict arrives later on the Done channel carried in the request.

Correlation is (Port, Mac, Gen). The owning worker bumps Gen on
logoff/port-down; a result carrying a stale Gen is dropped by the
worker, which is how pending validations are cancelled without a
cross-goroutine handshake. */

import "errors"

type Verdict uint8

const (
	VerdictAccept Verdict = 1
	VerdictReject Verdict = 2
	// VerdictChallenge carries an EAP request to relay to the
	// supplicant; the exchange continues.
	VerdictChallenge Verdict = 3
)

func (v Verdict) String() string {
	switch v {
	case VerdictAccept:
		return "accept"
	case VerdictReject:
		return "reject"
	case VerdictChallenge:
		return "challenge"
	}
	return "unknown"
}

type Reason uint8

const (
	ReasonNone Reason = 0
	// ReasonCredentials the authority rejected the credentials
	ReasonCredentials Reason = 1
	// ReasonUnavailable the exchange itself failed (timeout,
	// unreachable); reported as a reject but counted apart
	ReasonUnavailable Reason = 2
)

var ErrBackendUnavailable = errors.New("backend unavailable")

// Request one validation round. Eap is the raw supplicant EAP message
// to relay, nil for a MAC-only (bypass) validation. State is the
// opaque blob the previous Challenge handed back, echoed verbatim.
type Request struct {
	Port     uint16
	Mac      [6]byte
	Gen      uint32
	Identity string
	Eap      []byte
	State    []byte
	Done     chan<- Result
}

type Result struct {
	Port    uint16
	Mac     [6]byte
	Gen     uint32
	Verdict Verdict
	Reason  Reason
	// Challenge raw EAP request bytes for VerdictChallenge
	Challenge []byte
	// State to store on the session and echo on the next round
	State []byte
	// SessionTimeoutSec reauthentication period granted by the
	// authority, 0 when it did not supply one
	SessionTimeoutSec uint32
}

// Adapter is implemented by the RADIUS client and by test fakes.
// Validate must not block; the verdict is posted to req.Done from the
// adapter's own goroutine.
type Adapter interface {
	Validate(req *Request) error
	Delete()
}
