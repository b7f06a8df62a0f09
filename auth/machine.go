// Copyright (c) 2024 authd authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package auth

import (
	"time"

	"authd/access"
	"authd/backend"
	"authd/core"
	"authd/eapol"
)

/* Per-session authenticator state machine.

Everything here runs on the session's owning worker. Malformed input
and stale identifiers are counted and dropped without touching the
session; the only paths that transition state are well-formed frames
with matching identifiers, backend verdicts with a live generation,
and this worker's own timers. */

func (o *Worker) handleFrameJob(job *FrameJob) {
	if job.MabTrigger {
		o.onMabTrigger(job)
		return
	}

	var f eapol.Frame
	if err := f.DecodeFromBytes(job.Data); err != nil {
		o.stats.pktRxMalformedFrame++
		return
	}

	key := SessionKey{Port: job.Port, Mac: f.Src}

	// logoff never parks: it cancels a pending backend wait, the
	// generation bump turns the in-flight verdict stale
	if f.PacketType == eapol.PacketTypeLogoff {
		o.onLogoff(key)
		return
	}

	if s := o.table.Lookup(key); s != nil && s.awaitVerdict {
		o.parkFrame(s, job)
		return
	}

	switch f.PacketType {
	case eapol.PacketTypeStart:
		o.onStart(key, &f)
	case eapol.PacketTypeEAP:
		o.onEapFrame(key, &f)
	default:
		// key descriptors and asf alerts are not ours
		o.stats.pktRxIgnored++
	}
}

func (o *Worker) initSession(s *Session, f *eapol.Frame) {
	s.worker = o
	s.eapVer = eapol.MaxEapolVersion
	if f != nil {
		s.eapVer = f.Version
		s.vlans = f.Vlans
		s.vlanCount = f.VlanCount
	}
	s.timer.SetCB(&o.timerCb, s, 0)
	o.stats.sessionCreated++
	o.ctx.portSessionInc(s.Key.Port)
}

func (o *Worker) removeSession(s *Session) {
	o.stopTimer(s)
	if s.parked != nil {
		s.parked.Close()
		s.parked = nil
	}
	o.table.Remove(s.Key)
	o.stats.sessionRemoved++
	o.ctx.portSessionDec(s.Key.Port)
}

func (o *Worker) changeState(s *Session, newState uint8) {
	if s.state != newState {
		o.log.Debugf("session %v %s -> %s", s.Key, StateName(s.state), StateName(newState))
	}
	s.state = newState
}

/* rx events */

func (o *Worker) onStart(key SessionKey, f *eapol.Frame) {
	o.stats.pktRxStart++
	s, created, err := o.table.GetOrCreate(key, TriggerStart)
	if err != nil {
		o.stats.sessionTableFull++
		return
	}
	if created {
		o.initSession(s, f)
	} else {
		s.eapVer = f.Version
	}

	switch s.state {
	case StateIdle, StateAwaitIdentity, StateAuthenticated, StateLoggedOff:
		o.sendIdentityRequest(s)
	case StateAwaitBackend:
		o.stats.pktRxWrongState++
	case StateHeld:
		// the hold timer gates any retry
		o.stats.pktRxStartHeld++
	}
}

func (o *Worker) onLogoff(key SessionKey) {
	o.stats.pktRxLogoff++
	s := o.table.Lookup(key)
	if s == nil {
		o.stats.pktRxNoSession++
		return
	}
	o.logoffSession(s)
}

// logoffSession revoke exactly once and tear down; a pending backend
// verdict dies with the generation bump
func (o *Worker) logoffSession(s *Session) {
	s.backendGen++
	s.awaitVerdict = false
	o.changeState(s, StateLoggedOff)
	o.stats.sessionLoggedOff++
	o.ctx.access.Submit(access.Decision{Port: s.Key.Port, Mac: s.Key.Mac, Action: access.ActionRevoke})
	s.granted = false
	o.removeSession(s)
}

func (o *Worker) onEapFrame(key SessionKey, f *eapol.Frame) {
	var m eapol.EapMessage
	if err := m.DecodeFromBytes(f.Body); err != nil {
		o.stats.pktRxMalformedEap++
		return
	}
	if m.Code != eapol.CodeResponse {
		// the supplicant side only ever sends responses
		o.stats.pktRxInvalidCode++
		return
	}
	if m.Type == eapol.TypeIdentity {
		o.onIdentityResponse(key, f, &m)
		return
	}
	o.onMethodResponse(key, &m)
}

func (o *Worker) onIdentityResponse(key SessionKey, f *eapol.Frame, m *eapol.EapMessage) {
	o.stats.pktRxIdentity++
	s := o.table.Lookup(key)
	if s == nil {
		// answers a preemptive identity request sent to the group
		// address; this is an initial trigger
		var created bool
		var err error
		s, created, err = o.table.GetOrCreate(key, TriggerIdentity)
		if err != nil {
			o.stats.sessionTableFull++
			return
		}
		if created {
			o.initSession(s, f)
			s.lastTxId = m.Id
		}
	} else {
		if s.state != StateAwaitIdentity {
			o.stats.pktRxWrongState++
			return
		}
		if !s.pendingResp || m.Id != s.lastTxId {
			o.stats.pktRxIdMismatch++
			return
		}
	}
	s.identity = string(m.TypeData)
	s.method = eapol.TypeIdentity
	s.pendingResp = false
	o.forwardToBackend(s, m.Encode())
}

func (o *Worker) onMethodResponse(key SessionKey, m *eapol.EapMessage) {
	s := o.table.Lookup(key)
	if s == nil {
		o.stats.pktRxNoSession++
		return
	}
	if s.state != StateAwaitBackend {
		o.stats.pktRxWrongState++
		return
	}
	if !s.pendingResp || m.Id != s.lastTxId {
		o.stats.pktRxIdMismatch++
		return
	}
	if err := o.methodFor(m.Type).OnResponse(o, s, m); err != nil {
		return
	}
	o.stats.pktRxMethodResp++
	s.method = m.Type
	s.pendingResp = false
	o.forwardToBackend(s, m.Encode())
}

func (o *Worker) onMabTrigger(job *FrameJob) {
	key := SessionKey{Port: job.Port, Mac: job.Mac}
	s, created, err := o.table.GetOrCreate(key, TriggerMab)
	if err != nil {
		o.stats.sessionTableFull++
		return
	}
	if !created {
		// already tracked, the dhcp frame is just traffic
		return
	}
	o.stats.mabTrigger++
	o.initSession(s, nil)
	s.identity = backend.MabIdentity([6]byte(key.Mac))
	s.method = eapol.TypeMab
	o.forwardToBackend(s, nil)
}

/* backend */

func (o *Worker) forwardToBackend(s *Session, eapBytes []byte) {
	o.changeState(s, StateAwaitBackend)
	s.awaitVerdict = true
	o.stopTimer(s) // the adapter bounds its own exchange
	req := &backend.Request{
		Port:     s.Key.Port,
		Mac:      [6]byte(s.Key.Mac),
		Gen:      s.backendGen,
		Identity: s.identity,
		Eap:      eapBytes,
		State:    s.backendState,
		Done:     o.backendCh,
	}
	o.stats.backendRequests++
	if err := o.ctx.backend.Validate(req); err != nil {
		o.stats.backendUnavailable++
		o.toHeld(s)
	}
}

func (o *Worker) onBackendResult(res *backend.Result) {
	key := SessionKey{Port: res.Port, Mac: core.MACKey(res.Mac)}
	s := o.table.Lookup(key)
	if s == nil || res.Gen != s.backendGen || !s.awaitVerdict {
		o.stats.backendStale++
		return
	}
	s.awaitVerdict = false

	switch res.Verdict {
	case backend.VerdictAccept:
		o.stats.backendAccept++
		o.onAccept(s, res)
	case backend.VerdictChallenge:
		o.stats.backendChallenge++
		o.onChallenge(s, res)
	default:
		if res.Reason == backend.ReasonUnavailable {
			o.stats.backendUnavailable++
		} else {
			o.stats.backendReject++
		}
		o.toHeld(s)
	}
	o.replayParked(s)
}

func (o *Worker) onAccept(s *Session, res *backend.Result) {
	o.changeState(s, StateAuthenticated)
	o.stats.sessionAuthenticated++
	o.sendSuccess(s)
	if !s.granted {
		o.ctx.access.Submit(access.Decision{Port: s.Key.Port, Mac: s.Key.Mac, Action: access.ActionGrant})
		s.granted = true
	}
	s.retryCnt = 0
	s.backendState = nil
	s.sessionTimeoutSec = res.SessionTimeoutSec
	o.armReauthTimer(s)
}

func (o *Worker) onChallenge(s *Session, res *backend.Result) {
	if len(res.Challenge) < 2 {
		o.stats.backendBadChal++
		o.toHeld(s)
		return
	}
	s.backendState = res.State
	s.lastTxId = res.Challenge[1]
	o.sendRawEapBody(s, res.Challenge)
	s.pendingResp = true
	s.retryCnt = 0
	o.stats.pktTxChallenge++
	o.armResponseTimer(s)
}

// toHeld failure path: failure frame, deny (or revoke of an existing
// grant), hold timer. The caller counts the cause.
func (o *Worker) toHeld(s *Session) {
	s.backendGen++
	s.awaitVerdict = false
	s.pendingResp = false
	s.frag.reset()
	o.drainParked(s)
	o.sendFailure(s)
	if s.granted {
		o.ctx.access.Submit(access.Decision{Port: s.Key.Port, Mac: s.Key.Mac, Action: access.ActionRevoke})
		s.granted = false
	} else {
		o.ctx.access.Submit(access.Decision{Port: s.Key.Port, Mac: s.Key.Mac, Action: access.ActionDeny})
	}
	o.changeState(s, StateHeld)
	o.stats.sessionHeld++
	o.armHoldTimer(s)
}

/* timers */

func (o *Worker) stopTimer(s *Session) {
	if s.timer.IsRunning() {
		o.timerCtx.Stop(&s.timer)
	}
}

func (o *Worker) restartTimer(s *Session, d time.Duration) {
	o.stopTimer(s)
	o.timerCtx.Start(&s.timer, d)
}

func (o *Worker) armResponseTimer(s *Session) {
	o.restartTimer(s, time.Duration(o.cfg().ResponseTimeoutSec)*time.Second)
}

func (o *Worker) armHoldTimer(s *Session) {
	o.restartTimer(s, time.Duration(o.cfg().HoldSec)*time.Second)
}

func (o *Worker) armReauthTimer(s *Session) {
	period := o.cfg().ReauthSec
	if s.sessionTimeoutSec != 0 {
		period = s.sessionTimeoutSec
	}
	if period == 0 {
		o.stopTimer(s)
		return
	}
	o.restartTimer(s, time.Duration(period)*time.Second)
}

func (o *Worker) onTimerEvent(s *Session) {
	switch s.state {
	case StateAwaitIdentity:
		o.onResponseTimeout(s)
	case StateAwaitBackend:
		if !s.awaitVerdict {
			o.onResponseTimeout(s)
		}
	case StateHeld:
		// hold served; the next start re-authenticates from scratch
		o.removeSession(s)
	case StateAuthenticated:
		o.stats.sessionReauth++
		o.sendIdentityRequest(s)
	}
}

func (o *Worker) onResponseTimeout(s *Session) {
	s.retryCnt++
	if s.retryCnt <= o.cfg().MaxRetries && s.lastTx != nil {
		o.stats.pktRetransmit++
		o.ctx.veth.Send(s.Key.Port, s.lastTx)
		o.armResponseTimer(s)
		return
	}
	o.stats.pktRespTimeout++
	o.toHeld(s)
}

/* parking */

func (o *Worker) parkFrame(s *Session, job *FrameJob) {
	if s.parked == nil {
		bound := o.cfg().MaxParked
		p, err := core.NewNonBlockingChan(bound, bound/4, (bound/4)*3, o.timerCtx)
		if err != nil {
			o.stats.pktParkedDrop++
			return
		}
		s.parked = p
	}
	o.stats.pktParked++
	if err := s.parked.WriteDropOldest(job); err != nil {
		o.stats.pktParkedDrop++
	}
}

func (o *Worker) drainParked(s *Session) {
	if s.parked == nil {
		return
	}
	for {
		if _, err, _ := s.parked.Read(false); err != nil {
			return
		}
	}
}

// replayParked runs the frames that queued behind the verdict. Frames
// that arrive mid-replay park again for the next verdict.
func (o *Worker) replayParked(s *Session) {
	if s.parked == nil || s.parked.Len() == 0 {
		return
	}
	jobs := make([]*FrameJob, 0, s.parked.Len())
	for {
		v, err, _ := s.parked.Read(false)
		if err != nil {
			break
		}
		jobs = append(jobs, v.(*FrameJob))
	}
	for _, j := range jobs {
		o.stats.pktReplayed++
		o.handleFrameJob(j)
	}
}

/* tx */

func (o *Worker) sendIdentityRequest(s *Session) {
	s.lastTxId++
	m := eapol.EapMessage{Code: eapol.CodeRequest, Id: s.lastTxId, Type: eapol.TypeIdentity}
	o.sendEap(s, &m)
	s.pendingResp = true
	s.retryCnt = 0
	s.frag.reset()
	o.stats.pktTxIdentityReq++
	o.changeState(s, StateAwaitIdentity)
	o.armResponseTimer(s)
}

func (o *Worker) sendSuccess(s *Session) {
	m := eapol.EapMessage{Code: eapol.CodeSuccess, Id: s.lastTxId}
	o.sendEap(s, &m)
	o.stats.pktTxSuccess++
}

func (o *Worker) sendFailure(s *Session) {
	m := eapol.EapMessage{Code: eapol.CodeFailure, Id: s.lastTxId}
	o.sendEap(s, &m)
	o.stats.pktTxFailure++
}

func (o *Worker) sendEap(s *Session, m *eapol.EapMessage) {
	o.sendRawEapBody(s, m.Encode())
}

func (o *Worker) sendRawEapBody(s *Session, body []byte) {
	f := eapol.Frame{
		Dst:        s.Key.Mac,
		Src:        o.ctx.srcMac,
		Vlans:      s.vlans,
		VlanCount:  s.vlanCount,
		Version:    s.eapVer,
		PacketType: eapol.PacketTypeEAP,
		Body:       body,
	}
	b := f.Encode()
	s.lastTx = b
	o.ctx.veth.Send(s.Key.Port, b)
}

func (o *Worker) onPortDown(port uint16) {
	for _, s := range o.table.SessionsOnPort(port) {
		s.backendGen++
		s.awaitVerdict = false
		if s.granted {
			o.ctx.access.Submit(access.Decision{Port: s.Key.Port, Mac: s.Key.Mac, Action: access.ActionRevoke})
			s.granted = false
		}
		o.stats.portDownWipe++
		o.removeSession(s)
	}
}
