// Copyright (c) 2024 authd authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package auth

import (
	"errors"

	"authd/eapol"
)

/* Closed method dispatch. The authenticator relays method payloads to
the backend opaquely; a handler only validates what the relay contract
needs (TLS fragment bookkeeping). Unknown types hit the unsupported
handler, which drops and counts, never default-constructs. */

type MethodIF interface {
	GetName() string

	// OnResponse validates the method payload before relay; an error
	// drops the frame with the session unchanged
	OnResponse(w *Worker, s *Session, m *eapol.EapMessage) error
}

type MethodToHandler map[eapol.EapType]MethodIF

var errUnsupportedMethod = errors.New("unsupported eap method")

// relayMethod payload is opaque to the authenticator
type relayMethod struct {
	name string
}

func (o *relayMethod) GetName() string { return o.name }

func (o *relayMethod) OnResponse(w *Worker, s *Session, m *eapol.EapMessage) error {
	return nil
}

type tlsMethod struct {
}

func (o *tlsMethod) GetName() string { return "eap-tls" }

func (o *tlsMethod) OnResponse(w *Worker, s *Session, m *eapol.EapMessage) error {
	f, err := eapol.ParseTLSFragment(m.TypeData)
	if err != nil {
		w.stats.pktRxMalformedEap++
		return err
	}
	if _, err = s.frag.push(&f, w.cfg().MaxTlsReassembly); err != nil {
		w.stats.pktRxUnexpectedFrag++
		return err
	}
	return nil
}

type unsupportedMethod struct {
}

func (o *unsupportedMethod) GetName() string { return "unsupported" }

func (o *unsupportedMethod) OnResponse(w *Worker, s *Session, m *eapol.EapMessage) error {
	w.stats.pktRxUnsupported++
	return errUnsupportedMethod
}

var unsupportedHandler = &unsupportedMethod{}

func newMethodHandlers() MethodToHandler {
	h := make(MethodToHandler)
	h[eapol.TypeMD5] = &relayMethod{name: "eap-md5"}
	h[eapol.TypeNak] = &relayMethod{name: "eap-nak"}
	h[eapol.TypeTLS] = &tlsMethod{}
	return h
}

func (o *Worker) methodFor(t eapol.EapType) MethodIF {
	if h, ok := o.methods[t]; ok {
		return h
	}
	return unsupportedHandler
}
