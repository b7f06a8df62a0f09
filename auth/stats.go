// Copyright (c) 2024 authd authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package auth

import (
	"authd/core"
)

type AuthStats struct {
	pktRxMalformedFrame uint64
	pktRxMalformedEap   uint64
	pktRxNoSession      uint64
	pktRxIdMismatch     uint64
	pktRxUnexpectedFrag uint64
	pktRxWrongState     uint64
	pktRxInvalidCode    uint64
	pktRxUnsupported    uint64
	pktRxIgnored        uint64
	pktRxStart          uint64
	pktRxLogoff         uint64
	pktRxIdentity       uint64
	pktRxMethodResp     uint64
	pktRxStartHeld      uint64

	pktTxIdentityReq uint64
	pktTxChallenge   uint64
	pktTxSuccess     uint64
	pktTxFailure     uint64
	pktRetransmit    uint64
	pktRespTimeout   uint64

	pktParked     uint64
	pktParkedDrop uint64
	pktReplayed   uint64

	sessionCreated       uint64
	sessionRemoved       uint64
	sessionTableFull     uint64
	sessionAuthenticated uint64
	sessionHeld          uint64
	sessionLoggedOff     uint64
	sessionReauth        uint64

	backendRequests    uint64
	backendAccept      uint64
	backendReject      uint64
	backendChallenge   uint64
	backendUnavailable uint64
	backendStale       uint64
	backendBadChal     uint64

	mabTrigger   uint64
	portDownWipe uint64
}

func NewAuthStatsDb(o *AuthStats, name string) *core.CCounterDb {
	db := core.NewCCounterDb(name)

	db.Add(&core.CCounterRec{
		Counter:  &o.pktRxMalformedFrame,
		Name:     "pktRxMalformedFrame",
		Help:     "rx eapol frame failed decode",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.pktRxMalformedEap,
		Name:     "pktRxMalformedEap",
		Help:     "rx eap message failed decode",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.pktRxNoSession,
		Name:     "pktRxNoSession",
		Help:     "rx non-initial frame for unknown key",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.pktRxIdMismatch,
		Name:     "pktRxIdMismatch",
		Help:     "rx response with stale identifier",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.pktRxUnexpectedFrag,
		Name:     "pktRxUnexpectedFrag",
		Help:     "rx tls fragment out of sequence",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.pktRxWrongState,
		Name:     "pktRxWrongState",
		Help:     "rx frame ignored in current state",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.pktRxInvalidCode,
		Name:     "pktRxInvalidCode",
		Help:     "rx eap code not a response",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.pktRxUnsupported,
		Name:     "pktRxUnsupported",
		Help:     "rx unsupported eap method",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.pktRxIgnored,
		Name:     "pktRxIgnored",
		Help:     "rx eapol type ignored",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.pktRxStart,
		Name:     "pktRxStart",
		Help:     "rx eapol start",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.pktRxLogoff,
		Name:     "pktRxLogoff",
		Help:     "rx eapol logoff",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.pktRxIdentity,
		Name:     "pktRxIdentity",
		Help:     "rx identity response",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.pktRxMethodResp,
		Name:     "pktRxMethodResp",
		Help:     "rx method response relayed",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.pktRxStartHeld,
		Name:     "pktRxStartHeld",
		Help:     "rx start while held",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.pktTxIdentityReq,
		Name:     "pktTxIdentityReq",
		Help:     "tx identity request",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.pktTxChallenge,
		Name:     "pktTxChallenge",
		Help:     "tx relayed challenge",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.pktTxSuccess,
		Name:     "pktTxSuccess",
		Help:     "tx eap success",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.pktTxFailure,
		Name:     "pktTxFailure",
		Help:     "tx eap failure",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.pktRetransmit,
		Name:     "pktRetransmit",
		Help:     "tx retransmit of last request",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.pktRespTimeout,
		Name:     "pktRespTimeout",
		Help:     "response retry bound exceeded",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.pktParked,
		Name:     "pktParked",
		Help:     "frames parked during backend wait",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.pktParkedDrop,
		Name:     "pktParkedDrop",
		Help:     "oldest parked frame dropped",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.pktReplayed,
		Name:     "pktReplayed",
		Help:     "parked frames replayed after verdict",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.sessionCreated,
		Name:     "sessionCreated",
		Help:     "sessions created",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.sessionRemoved,
		Name:     "sessionRemoved",
		Help:     "sessions removed",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.sessionTableFull,
		Name:     "sessionTableFull",
		Help:     "session create refused, table bound",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.sessionAuthenticated,
		Name:     "sessionAuthenticated",
		Help:     "sessions authenticated",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.sessionHeld,
		Name:     "sessionHeld",
		Help:     "sessions moved to held",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.sessionLoggedOff,
		Name:     "sessionLoggedOff",
		Help:     "sessions logged off",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.sessionReauth,
		Name:     "sessionReauth",
		Help:     "reauthentication rounds started",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.backendRequests,
		Name:     "backendRequests",
		Help:     "validation requests sent",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.backendAccept,
		Name:     "backendAccept",
		Help:     "accept verdicts",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.backendReject,
		Name:     "backendReject",
		Help:     "reject verdicts",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.backendChallenge,
		Name:     "backendChallenge",
		Help:     "challenge verdicts",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.backendUnavailable,
		Name:     "backendUnavailable",
		Help:     "verdicts lost to backend failure",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.backendStale,
		Name:     "backendStale",
		Help:     "verdicts dropped, stale generation",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.backendBadChal,
		Name:     "backendBadChal",
		Help:     "challenge without a relayable eap request",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.mabTrigger,
		Name:     "mabTrigger",
		Help:     "mac bypass sessions triggered",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.portDownWipe,
		Name:     "portDownWipe",
		Help:     "sessions wiped by port down",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScINFO})

	return db
}
