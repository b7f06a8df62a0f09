// Copyright (c) 2024 authd authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package auth

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"

	"authd/access"
	"authd/backend"
	"authd/cfg"
	"authd/core"
	"authd/eapol"
)

/* The tests drive one worker synchronously: frames, backend results
and timer ticks are delivered from the test goroutine, the way the
worker loop would. The access engine runs for real against a recording
controller. */

func mac(i byte) core.MACKey {
	return core.MACKey{0x00, 0x11, 0x22, 0x33, 0x44, i}
}

type fakeBackend struct {
	mu   sync.Mutex
	reqs []*backend.Request
	err  error
}

func (o *fakeBackend) Validate(r *backend.Request) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.reqs = append(o.reqs, r)
	return nil
}

func (o *fakeBackend) Delete() {}

func (o *fakeBackend) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.reqs)
}

func (o *fakeBackend) last() *backend.Request {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.reqs) == 0 {
		return nil
	}
	return o.reqs[len(o.reqs)-1]
}

type fakeController struct {
	mu      sync.Mutex
	applied []access.Decision
	fail    int
}

func (o *fakeController) Apply(d access.Decision) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail > 0 {
		o.fail--
		return access.ErrControllerFailure
	}
	o.applied = append(o.applied, d)
	return nil
}

func (o *fakeController) Delete() {}

func (o *fakeController) snapshot() []access.Decision {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := make([]access.Decision, len(o.applied))
	copy(r, o.applied)
	return r
}

type testEnv struct {
	ctx  *CAuthCtx
	w    *Worker
	veth *core.VethSim
	be   *fakeBackend
	fc   *fakeController
	eng  *access.Engine
}

func newTestEnv(t *testing.T, mut func(c *cfg.Config)) *testEnv {
	t.Helper()
	c := cfg.Default()
	c.Auth.Workers = 1
	if mut != nil {
		mut(c)
	}
	veth := core.NewVethSim(nil)
	be := &fakeBackend{}
	fc := &fakeController{}
	eng := access.NewEngine(fc, access.EngineCfg{}, true)
	eng.Start()
	t.Cleanup(eng.Delete)
	ctx := NewAuthCtx(c, veth, be, eng, true)
	return &testEnv{ctx: ctx, w: ctx.workers[0], veth: veth, be: be, fc: fc, eng: eng}
}

func (e *testEnv) injectEapol(port uint16, src core.MACKey, ptype eapol.PacketType, body []byte) {
	f := eapol.Frame{
		Dst:        eapol.PAEGroupAddress,
		Src:        src,
		Version:    1,
		PacketType: ptype,
		Body:       body,
	}
	e.w.handleFrameJob(&FrameJob{Port: port, Mac: src, Data: f.Encode()})
}

func (e *testEnv) injectEap(port uint16, src core.MACKey, m *eapol.EapMessage) {
	e.injectEapol(port, src, eapol.PacketTypeEAP, m.Encode())
}

// lastTxEap decode the most recent frame the authenticator sent
func (e *testEnv) lastTxEap(t *testing.T) (*eapol.Frame, *eapol.EapMessage) {
	t.Helper()
	frames := e.veth.TxFrames()
	if len(frames) == 0 {
		t.Fatalf("no tx frames")
	}
	var f eapol.Frame
	if err := f.DecodeFromBytes(frames[len(frames)-1]); err != nil {
		t.Fatalf("tx frame decode: %v", err)
	}
	var m eapol.EapMessage
	if err := m.DecodeFromBytes(f.Body); err != nil {
		t.Fatalf("tx eap decode: %v", err)
	}
	return &f, &m
}

func (e *testEnv) tick(d time.Duration) {
	n := e.w.timerCtx.DurationToTicks(d) + 1
	for i := uint32(0); i < n; i++ {
		e.w.timerCtx.HandleTicks()
	}
}

func (e *testEnv) session(port uint16, m core.MACKey) *Session {
	return e.w.table.Lookup(SessionKey{Port: port, Mac: m})
}

func (e *testEnv) waitDecisions(t *testing.T, n int) []access.Decision {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		d := e.fc.snapshot()
		if len(d) >= n {
			return d
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d decisions, got %v", n, d)
		}
		time.Sleep(time.Millisecond)
	}
}

func challengeFor(req *backend.Request, chal *eapol.EapMessage, state []byte) backend.Result {
	return backend.Result{
		Port:      req.Port,
		Mac:       req.Mac,
		Gen:       req.Gen,
		Verdict:   backend.VerdictChallenge,
		Challenge: chal.Encode(),
		State:     state,
	}
}

func acceptFor(req *backend.Request) backend.Result {
	return backend.Result{
		Port:    req.Port,
		Mac:     req.Mac,
		Gen:     req.Gen,
		Verdict: backend.VerdictAccept,
	}
}

func rejectFor(req *backend.Request) backend.Result {
	return backend.Result{
		Port:    req.Port,
		Mac:     req.Mac,
		Gen:     req.Gen,
		Verdict: backend.VerdictReject,
		Reason:  backend.ReasonCredentials,
	}
}

func TestStartToAuthenticated(t *testing.T) {
	e := newTestEnv(t, nil)
	src := mac(1)

	e.injectEapol(5, src, eapol.PacketTypeStart, nil)
	s := e.session(5, src)
	if s == nil || s.State() != StateAwaitIdentity {
		t.Fatalf("no session in awaiting-identity after start")
	}
	_, req := e.lastTxEap(t)
	if req.Code != eapol.CodeRequest || req.Type != eapol.TypeIdentity {
		t.Fatalf("expected identity request, got %+v", req)
	}

	e.injectEap(5, src, &eapol.EapMessage{
		Code: eapol.CodeResponse, Id: req.Id,
		Type: eapol.TypeIdentity, TypeData: []byte("alice"),
	})
	if e.be.count() != 1 {
		t.Fatalf("backend requests %d", e.be.count())
	}
	breq := e.be.last()
	if breq.Identity != "alice" || breq.Eap == nil {
		t.Fatalf("backend request %+v", breq)
	}
	if s.State() != StateAwaitBackend {
		t.Fatalf("state %s", StateName(s.State()))
	}

	chal := eapol.EapMessage{Code: eapol.CodeRequest, Id: req.Id + 1, Type: eapol.TypeMD5,
		TypeData: []byte{16, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}}
	res := challengeFor(breq, &chal, []byte("srv-state"))
	e.w.onBackendResult(&res)
	_, c := e.lastTxEap(t)
	if c.Code != eapol.CodeRequest || c.Type != eapol.TypeMD5 {
		t.Fatalf("challenge not relayed: %+v", c)
	}
	if !s.pendingResp || s.lastTxId != chal.Id {
		t.Fatalf("identifier not tracked: id=%d pending=%v", s.lastTxId, s.pendingResp)
	}

	e.injectEap(5, src, &eapol.EapMessage{
		Code: eapol.CodeResponse, Id: chal.Id,
		Type: eapol.TypeMD5, TypeData: []byte{16, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9},
	})
	if e.be.count() != 2 {
		t.Fatalf("method response not forwarded")
	}
	if string(e.be.last().State) != "srv-state" {
		t.Fatalf("server state not echoed")
	}

	res = acceptFor(e.be.last())
	e.w.onBackendResult(&res)
	if s.State() != StateAuthenticated || !s.granted {
		t.Fatalf("accept not applied: %s granted=%v", StateName(s.State()), s.granted)
	}
	_, fin := e.lastTxEap(t)
	if fin.Code != eapol.CodeSuccess {
		t.Fatalf("no success frame")
	}

	d := e.waitDecisions(t, 1)
	if d[0].Action != access.ActionGrant || d[0].Port != 5 || d[0].Mac != src {
		t.Fatalf("grant decision %+v", d[0])
	}
}

func TestRejectGoesHeld(t *testing.T) {
	e := newTestEnv(t, nil)
	src := mac(2)

	e.injectEapol(1, src, eapol.PacketTypeStart, nil)
	_, req := e.lastTxEap(t)
	e.injectEap(1, src, &eapol.EapMessage{
		Code: eapol.CodeResponse, Id: req.Id,
		Type: eapol.TypeIdentity, TypeData: []byte("mallory"),
	})
	res := rejectFor(e.be.last())
	e.w.onBackendResult(&res)

	s := e.session(1, src)
	if s == nil || s.State() != StateHeld {
		t.Fatalf("reject did not hold the session")
	}
	_, fin := e.lastTxEap(t)
	if fin.Code != eapol.CodeFailure {
		t.Fatalf("no failure frame")
	}
	d := e.waitDecisions(t, 1)
	if d[0].Action != access.ActionDeny {
		t.Fatalf("expected deny, got %v", d[0].Action)
	}

	// starts during hold are absorbed
	txBefore := len(e.veth.TxFrames())
	e.injectEapol(1, src, eapol.PacketTypeStart, nil)
	if e.w.stats.pktRxStartHeld != 1 {
		t.Fatalf("held start not counted")
	}
	if len(e.veth.TxFrames()) != txBefore {
		t.Fatalf("held session answered a start")
	}

	// hold expiry clears the slate
	e.tick(time.Duration(e.ctx.Cfg.Auth.HoldSec) * time.Second)
	if e.session(1, src) != nil {
		t.Fatalf("held session survived the hold timer")
	}

	e.injectEapol(1, src, eapol.PacketTypeStart, nil)
	if s = e.session(1, src); s == nil || s.State() != StateAwaitIdentity {
		t.Fatalf("fresh attempt after hold failed")
	}
}

func TestBackendUnavailableHolds(t *testing.T) {
	e := newTestEnv(t, nil)
	e.be.err = backend.ErrBackendUnavailable
	src := mac(3)

	e.injectEapol(1, src, eapol.PacketTypeStart, nil)
	_, req := e.lastTxEap(t)
	e.injectEap(1, src, &eapol.EapMessage{
		Code: eapol.CodeResponse, Id: req.Id,
		Type: eapol.TypeIdentity, TypeData: []byte("alice"),
	})

	s := e.session(1, src)
	if s == nil || s.State() != StateHeld {
		t.Fatalf("backend failure did not hold")
	}
	if e.w.stats.backendUnavailable != 1 {
		t.Fatalf("unavailable not counted")
	}
	d := e.waitDecisions(t, 1)
	if d[0].Action != access.ActionDeny {
		t.Fatalf("expected deny, got %v", d[0].Action)
	}
}

func TestIdentifierMismatchDropped(t *testing.T) {
	e := newTestEnv(t, nil)
	src := mac(4)

	e.injectEapol(1, src, eapol.PacketTypeStart, nil)
	_, req := e.lastTxEap(t)

	e.injectEap(1, src, &eapol.EapMessage{
		Code: eapol.CodeResponse, Id: req.Id + 7,
		Type: eapol.TypeIdentity, TypeData: []byte("alice"),
	})
	if e.w.stats.pktRxIdMismatch != 1 {
		t.Fatalf("mismatch not counted")
	}
	if e.be.count() != 0 {
		t.Fatalf("mismatched response reached the backend")
	}
	if e.session(1, src).State() != StateAwaitIdentity {
		t.Fatalf("mismatched response moved the state")
	}

	// the matching identifier still works
	e.injectEap(1, src, &eapol.EapMessage{
		Code: eapol.CodeResponse, Id: req.Id,
		Type: eapol.TypeIdentity, TypeData: []byte("alice"),
	})
	if e.be.count() != 1 {
		t.Fatalf("valid response dropped")
	}
}

func TestNoSilentSessionCreation(t *testing.T) {
	e := newTestEnv(t, nil)
	src := mac(5)

	// method response for an unknown supplicant
	e.injectEap(1, src, &eapol.EapMessage{
		Code: eapol.CodeResponse, Id: 1,
		Type: eapol.TypeMD5, TypeData: []byte{1},
	})
	if e.w.table.Len() != 0 {
		t.Fatalf("method response created a session")
	}
	if e.w.stats.pktRxNoSession != 1 {
		t.Fatalf("no-session drop not counted")
	}

	// logoff for an unknown supplicant
	e.injectEapol(1, src, eapol.PacketTypeLogoff, nil)
	if e.w.table.Len() != 0 || e.w.stats.pktRxNoSession != 2 {
		t.Fatalf("logoff created state")
	}

	// requests from the supplicant side are invalid
	e.injectEap(1, src, &eapol.EapMessage{
		Code: eapol.CodeRequest, Id: 1, Type: eapol.TypeIdentity,
	})
	if e.w.stats.pktRxInvalidCode != 1 {
		t.Fatalf("request code not rejected")
	}
}

func TestLogoffRevokesOnce(t *testing.T) {
	e := newTestEnv(t, nil)
	src := mac(6)
	authenticate(t, e, 1, src)

	e.injectEapol(1, src, eapol.PacketTypeLogoff, nil)
	if e.session(1, src) != nil {
		t.Fatalf("logoff left the session behind")
	}
	d := e.waitDecisions(t, 2)
	if d[1].Action != access.ActionRevoke {
		t.Fatalf("no revoke on logoff: %v", d)
	}

	// a second logoff has nothing to revoke
	e.injectEapol(1, src, eapol.PacketTypeLogoff, nil)
	time.Sleep(10 * time.Millisecond)
	if got := e.fc.snapshot(); len(got) != 2 {
		t.Fatalf("logoff revoked twice: %v", got)
	}
}

// authenticate drives a full md5 exchange to Authenticated
func authenticate(t *testing.T, e *testEnv, port uint16, src core.MACKey) {
	t.Helper()
	e.injectEapol(port, src, eapol.PacketTypeStart, nil)
	_, req := e.lastTxEap(t)
	e.injectEap(port, src, &eapol.EapMessage{
		Code: eapol.CodeResponse, Id: req.Id,
		Type: eapol.TypeIdentity, TypeData: []byte("alice"),
	})
	res := acceptFor(e.be.last())
	e.w.onBackendResult(&res)
	s := e.session(port, src)
	if s == nil || s.State() != StateAuthenticated {
		t.Fatalf("authenticate helper failed")
	}
}

func TestRetransmitThenHold(t *testing.T) {
	e := newTestEnv(t, func(c *cfg.Config) {
		c.Auth.MaxRetries = 2
	})
	src := mac(7)

	e.injectEapol(1, src, eapol.PacketTypeStart, nil)
	first := e.veth.TxFrames()
	respTimeout := time.Duration(e.ctx.Cfg.Auth.ResponseTimeoutSec) * time.Second

	e.tick(respTimeout)
	e.tick(respTimeout)
	if e.w.stats.pktRetransmit != 2 {
		t.Fatalf("retransmits %d", e.w.stats.pktRetransmit)
	}
	frames := e.veth.TxFrames()
	if string(frames[1]) != string(first[0]) || string(frames[2]) != string(first[0]) {
		t.Fatalf("retransmit differs from the original")
	}

	// retries exhausted
	e.tick(respTimeout)
	if e.w.stats.pktRespTimeout != 1 {
		t.Fatalf("timeout not counted")
	}
	s := e.session(1, src)
	if s == nil || s.State() != StateHeld {
		t.Fatalf("exhausted retries did not hold")
	}
}

func TestStaleVerdictIgnored(t *testing.T) {
	e := newTestEnv(t, nil)
	src := mac(8)

	e.injectEapol(1, src, eapol.PacketTypeStart, nil)
	_, req := e.lastTxEap(t)
	e.injectEap(1, src, &eapol.EapMessage{
		Code: eapol.CodeResponse, Id: req.Id,
		Type: eapol.TypeIdentity, TypeData: []byte("alice"),
	})
	breq := e.be.last()

	// the supplicant logs off while the verdict is in flight
	e.injectEapol(1, src, eapol.PacketTypeLogoff, nil)
	if e.session(1, src) != nil {
		t.Fatalf("logoff ignored")
	}

	res := acceptFor(breq)
	e.w.onBackendResult(&res)
	if e.w.stats.backendStale != 1 {
		t.Fatalf("stale verdict not counted")
	}
	// the dead verdict must not grant anything
	time.Sleep(10 * time.Millisecond)
	for _, d := range e.fc.snapshot() {
		if d.Action == access.ActionGrant {
			t.Fatalf("stale verdict granted access")
		}
	}
}

func TestParkedFramesReplay(t *testing.T) {
	e := newTestEnv(t, nil)
	src := mac(9)

	e.injectEapol(1, src, eapol.PacketTypeStart, nil)
	_, req := e.lastTxEap(t)
	e.injectEap(1, src, &eapol.EapMessage{
		Code: eapol.CodeResponse, Id: req.Id,
		Type: eapol.TypeIdentity, TypeData: []byte("alice"),
	})

	// frames raced with the in-flight verdict: parked, not processed
	e.injectEapol(1, src, eapol.PacketTypeStart, nil)
	if e.w.stats.pktParked != 1 {
		t.Fatalf("frame not parked")
	}
	if e.w.stats.pktRxStart != 1 {
		t.Fatalf("parked frame was processed early")
	}

	res := acceptFor(e.be.last())
	e.w.onBackendResult(&res)
	if e.w.stats.pktReplayed != 1 || e.w.stats.pktRxStart != 2 {
		t.Fatalf("parked frame not replayed")
	}
	// the replayed start restarts authentication
	s := e.session(1, src)
	if s.State() != StateAwaitIdentity {
		t.Fatalf("state after replay %s", StateName(s.State()))
	}
}

func TestParkedOverflowDropsOldest(t *testing.T) {
	e := newTestEnv(t, func(c *cfg.Config) {
		c.Auth.MaxParked = 4
	})
	src := mac(10)

	e.injectEapol(1, src, eapol.PacketTypeStart, nil)
	_, req := e.lastTxEap(t)
	e.injectEap(1, src, &eapol.EapMessage{
		Code: eapol.CodeResponse, Id: req.Id,
		Type: eapol.TypeIdentity, TypeData: []byte("alice"),
	})
	for i := 0; i < 6; i++ {
		e.injectEapol(1, src, eapol.PacketTypeStart, nil)
	}
	if e.w.stats.pktParked != 6 {
		t.Fatalf("parked %d", e.w.stats.pktParked)
	}
	if e.w.stats.pktParkedDrop != 2 {
		t.Fatalf("oldest-drop count %d", e.w.stats.pktParkedDrop)
	}
	s := e.session(1, src)
	if s.parked.Len() != 4 {
		t.Fatalf("parked queue len %d", s.parked.Len())
	}
}

func TestMabFlow(t *testing.T) {
	e := newTestEnv(t, nil)
	src := mac(11)
	e.ctx.applyPortCfg(cfg.PortCfg{Port: 3, Mode: "mab"})

	e.w.handleFrameJob(&FrameJob{Port: 3, Mac: src, MabTrigger: true})
	if e.w.stats.mabTrigger != 1 {
		t.Fatalf("trigger not counted")
	}
	breq := e.be.last()
	if breq == nil || breq.Eap != nil {
		t.Fatalf("mab request should carry no eap payload")
	}
	if !strings.Contains(breq.Identity, "-") || breq.Identity != strings.ToUpper(breq.Identity) {
		t.Fatalf("mab identity format %q", breq.Identity)
	}

	// a second trigger while tracked is a no-op
	e.w.handleFrameJob(&FrameJob{Port: 3, Mac: src, MabTrigger: true})
	if e.be.count() != 1 || e.w.stats.mabTrigger != 1 {
		t.Fatalf("duplicate trigger forwarded")
	}

	res := acceptFor(breq)
	e.w.onBackendResult(&res)
	s := e.session(3, src)
	if s == nil || s.State() != StateAuthenticated {
		t.Fatalf("mab accept not applied")
	}
	d := e.waitDecisions(t, 1)
	if d[0].Action != access.ActionGrant || d[0].Port != 3 {
		t.Fatalf("mab grant %+v", d[0])
	}
}

func TestPortDownWipes(t *testing.T) {
	e := newTestEnv(t, nil)
	authenticate(t, e, 4, mac(12))
	authenticate(t, e, 4, mac(13))
	authenticate(t, e, 9, mac(14))
	e.waitDecisions(t, 3)

	e.w.onPortDown(4)
	if e.w.stats.portDownWipe != 2 {
		t.Fatalf("wipe count %d", e.w.stats.portDownWipe)
	}
	if e.session(4, mac(12)) != nil || e.session(4, mac(13)) != nil {
		t.Fatalf("sessions survived port down")
	}
	if e.session(9, mac(14)) == nil {
		t.Fatalf("other port was wiped too")
	}

	d := e.waitDecisions(t, 5)
	revokes := 0
	for _, x := range d {
		if x.Action == access.ActionRevoke && x.Port == 4 {
			revokes++
		}
	}
	if revokes != 2 {
		t.Fatalf("revokes on port down: %v", d)
	}
}

func TestReauthAfterSessionTimeout(t *testing.T) {
	e := newTestEnv(t, nil)
	src := mac(15)

	e.injectEapol(1, src, eapol.PacketTypeStart, nil)
	_, req := e.lastTxEap(t)
	e.injectEap(1, src, &eapol.EapMessage{
		Code: eapol.CodeResponse, Id: req.Id,
		Type: eapol.TypeIdentity, TypeData: []byte("alice"),
	})
	res := acceptFor(e.be.last())
	res.SessionTimeoutSec = 2 // server override beats the config default
	e.w.onBackendResult(&res)

	e.tick(2 * time.Second)
	if e.w.stats.sessionReauth != 1 {
		t.Fatalf("reauth not fired")
	}
	s := e.session(1, src)
	if s.State() != StateAwaitIdentity {
		t.Fatalf("reauth state %s", StateName(s.State()))
	}
	if !s.granted {
		t.Fatalf("reauth must keep the grant until a verdict lands")
	}
	_, m := e.lastTxEap(t)
	if m.Code != eapol.CodeRequest || m.Type != eapol.TypeIdentity {
		t.Fatalf("reauth did not ask for identity")
	}
}

func TestMalformedInputNoMutation(t *testing.T) {
	e := newTestEnv(t, nil)
	src := mac(16)
	e.injectEapol(1, src, eapol.PacketTypeStart, nil)
	s := e.session(1, src)
	before := *s

	// garbage frame
	e.w.handleFrameJob(&FrameJob{Port: 1, Mac: src, Data: []byte{1, 2, 3}})
	if e.w.stats.pktRxMalformedFrame != 1 {
		t.Fatalf("malformed frame not counted")
	}

	// valid EAPOL, truncated EAP body
	f := eapol.Frame{Dst: eapol.PAEGroupAddress, Src: src, Version: 1,
		PacketType: eapol.PacketTypeEAP, Body: []byte{0x02, 0x01}}
	e.w.handleFrameJob(&FrameJob{Port: 1, Mac: src, Data: f.Encode()})
	if e.w.stats.pktRxMalformedEap != 1 {
		t.Fatalf("malformed eap not counted")
	}

	after := *s
	if before.state != after.state || before.lastTxId != after.lastTxId ||
		before.pendingResp != after.pendingResp || before.retryCnt != after.retryCnt {
		t.Fatalf("malformed input mutated the session")
	}
}

func TestSessionTableBound(t *testing.T) {
	e := newTestEnv(t, func(c *cfg.Config) {
		c.Auth.MaxSessions = 2
	})
	e.injectEapol(1, mac(20), eapol.PacketTypeStart, nil)
	e.injectEapol(1, mac(21), eapol.PacketTypeStart, nil)
	e.injectEapol(1, mac(22), eapol.PacketTypeStart, nil)
	if e.w.table.Len() != 2 {
		t.Fatalf("table len %d", e.w.table.Len())
	}
	if e.w.stats.sessionTableFull != 1 {
		t.Fatalf("full drop not counted")
	}
}

func TestVlanAndVersionEcho(t *testing.T) {
	e := newTestEnv(t, nil)
	src := mac(23)
	in := eapol.Frame{
		Dst:        eapol.PAEGroupAddress,
		Src:        src,
		Vlans:      [2]uint32{0x81000ace, 0},
		VlanCount:  1,
		Version:    2,
		PacketType: eapol.PacketTypeStart,
	}
	e.w.handleFrameJob(&FrameJob{Port: 1, Mac: src, Data: in.Encode()})

	f, _ := e.lastTxEap(t)
	if f.VlanCount != 1 || f.Vlans[0] != in.Vlans[0] {
		t.Fatalf("vlan not echoed: %+v", f)
	}
	if f.Version != 2 {
		t.Fatalf("version not echoed: %d", f.Version)
	}
	if f.Dst != src || f.Src != e.ctx.srcMac {
		t.Fatalf("addressing wrong: %+v", f)
	}
}

func TestTlsFragmentRelay(t *testing.T) {
	e := newTestEnv(t, nil)
	src := mac(24)

	e.injectEapol(1, src, eapol.PacketTypeStart, nil)
	_, req := e.lastTxEap(t)
	e.injectEap(1, src, &eapol.EapMessage{
		Code: eapol.CodeResponse, Id: req.Id,
		Type: eapol.TypeIdentity, TypeData: []byte("alice"),
	})

	// backend starts EAP-TLS
	chal := eapol.EapMessage{Code: eapol.CodeRequest, Id: req.Id + 1,
		Type: eapol.TypeTLS, TypeData: []byte{0x20}}
	res := challengeFor(e.be.last(), &chal, nil)
	e.w.onBackendResult(&res)

	// first fragment: L+M+S with a sane total
	tls := append([]byte{0xe0, 0x00, 0x00, 0x00, 0x08}, 1, 2, 3, 4)
	e.injectEap(1, src, &eapol.EapMessage{
		Code: eapol.CodeResponse, Id: chal.Id,
		Type: eapol.TypeTLS, TypeData: tls,
	})
	if e.be.count() != 2 {
		t.Fatalf("valid fragment not relayed")
	}

	// next round
	chal2 := eapol.EapMessage{Code: eapol.CodeRequest, Id: chal.Id + 1,
		Type: eapol.TypeTLS, TypeData: []byte{0x00}}
	res = challengeFor(e.be.last(), &chal2, nil)
	e.w.onBackendResult(&res)

	// a continuation that claims to start a new run is dropped
	bad := append([]byte{0x60}, 9, 9)
	e.injectEap(1, src, &eapol.EapMessage{
		Code: eapol.CodeResponse, Id: chal2.Id,
		Type: eapol.TypeTLS, TypeData: bad,
	})
	if e.w.stats.pktRxUnexpectedFrag != 1 {
		t.Fatalf("bad fragment not counted")
	}
	if e.be.count() != 2 {
		t.Fatalf("bad fragment reached the backend")
	}

	// the closing fragment completes the run
	good := append([]byte{0x00}, 5, 6, 7, 8)
	e.injectEap(1, src, &eapol.EapMessage{
		Code: eapol.CodeResponse, Id: chal2.Id,
		Type: eapol.TypeTLS, TypeData: good,
	})
	if e.be.count() != 3 {
		t.Fatalf("closing fragment not relayed")
	}
}

func TestStartWhileAwaitBackendParked(t *testing.T) {
	e := newTestEnv(t, nil)
	src := mac(25)

	e.injectEapol(1, src, eapol.PacketTypeStart, nil)
	_, req := e.lastTxEap(t)
	e.injectEap(1, src, &eapol.EapMessage{
		Code: eapol.CodeResponse, Id: req.Id,
		Type: eapol.TypeIdentity, TypeData: []byte("alice"),
	})
	s := e.session(1, src)
	if !s.awaitVerdict {
		t.Fatalf("verdict not in flight")
	}

	e.injectEapol(1, src, eapol.PacketTypeStart, nil)
	if e.w.stats.pktParked != 1 {
		t.Fatalf("start was not parked")
	}

	res := acceptFor(e.be.last())
	e.w.onBackendResult(&res)
	// the replayed start re-runs identity, the grant survives
	s = e.session(1, src)
	if s == nil || s.State() != StateAwaitIdentity {
		t.Fatalf("replayed start ignored, state %v", s.State())
	}
	if !s.granted {
		t.Fatalf("grant lost on replayed start")
	}
}

func TestLogoffWhileAwaitBackend(t *testing.T) {
	e := newTestEnv(t, nil)
	src := mac(26)

	e.injectEapol(1, src, eapol.PacketTypeStart, nil)
	_, req := e.lastTxEap(t)
	e.injectEap(1, src, &eapol.EapMessage{
		Code: eapol.CodeResponse, Id: req.Id,
		Type: eapol.TypeIdentity, TypeData: []byte("alice"),
	})
	breq := e.be.last()
	if !e.session(1, src).awaitVerdict {
		t.Fatalf("verdict not in flight")
	}

	// logoff cancels the backend wait instead of parking behind it
	e.injectEapol(1, src, eapol.PacketTypeLogoff, nil)
	if e.w.stats.pktParked != 0 {
		t.Fatalf("logoff was parked")
	}
	if e.session(1, src) != nil {
		t.Fatalf("logoff left the session behind")
	}
	if e.w.stats.sessionLoggedOff != 1 {
		t.Fatalf("sessionLoggedOff %d", e.w.stats.sessionLoggedOff)
	}
	d := e.waitDecisions(t, 1)
	if d[0].Action != access.ActionRevoke {
		t.Fatalf("no revoke on logoff: %v", d)
	}

	// the verdict lands late and must die stale, no grant
	res := acceptFor(breq)
	e.w.onBackendResult(&res)
	if e.w.stats.backendStale != 1 {
		t.Fatalf("stale verdict not dropped")
	}
	if e.session(1, src) != nil {
		t.Fatalf("stale verdict revived the session")
	}
	time.Sleep(10 * time.Millisecond)
	if got := e.fc.snapshot(); len(got) != 1 {
		t.Fatalf("stale verdict emitted a decision: %v", got)
	}
}

func TestConcurrentWorkers(t *testing.T) {
	e := newTestEnv(t, func(c *cfg.Config) {
		c.Auth.Workers = 4
	})
	e.ctx.Start()
	defer e.ctx.Delete()

	const nMacs = 50
	for i := 0; i < 1000; i++ {
		src := mac(byte(i % nMacs))
		f := eapol.Frame{Dst: eapol.PAEGroupAddress, Src: src, Version: 1,
			PacketType: eapol.PacketTypeStart}
		e.veth.InjectRx(uint16(i%4), f.Encode())
	}
	e.veth.SimulatorCheckRxQueue()

	// 50 macs spread over 4 ports; (i%4, i%50) repeats every 100 frames,
	// so exactly 100 distinct supplicants
	deadline := time.Now().Add(5 * time.Second)
	for {
		info, err := e.ctx.SessionInfo(-1)
		if err == nil && len(info) == 100 && allAwaitingIdentity(info) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sessions never settled: %s", spew.Sdump(info))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func allAwaitingIdentity(info []SessionInfo) bool {
	for _, s := range info {
		if s.State != StateName(StateAwaitIdentity) {
			return false
		}
	}
	return true
}
