// Copyright (c) 2024 authd authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package auth

import (
	"fmt"

	"authd/backend"
	"authd/cfg"
	"authd/core"
	"authd/eapol"

	"github.com/op/go-logging"
)

/* One worker owns a shard of the (port, mac) key space. Everything a
session does happens on its worker goroutine: frame handling, backend
completions, timers, admin wipes and info queries all funnel through
the same select loop, which is what gives per-key exclusivity without
a session lock. */

// FrameJob one classified ingress frame, sharded by (port, src mac)
type FrameJob struct {
	Port       uint16
	Mac        core.MACKey
	MabTrigger bool
	Data       []byte
}

// SessionInfo ops snapshot of one session
type SessionInfo struct {
	Port     uint16 `json:"port"`
	Mac      string `json:"mac"`
	State    string `json:"state"`
	Identity string `json:"identity"`
	Method   string `json:"method"`
	Granted  bool   `json:"granted"`
	Retries  uint8  `json:"retries"`
}

type queryJob struct {
	port  int // -1 for all ports
	reply chan<- []SessionInfo
}

const (
	adminPortDown uint8 = 1
)

type adminJob struct {
	kind uint8
	port uint16
}

// sessionTimer timer callback, a is the session
type sessionTimer struct {
}

func (o *sessionTimer) OnEvent(a, b interface{}) {
	s := a.(*Session)
	s.worker.onTimerEvent(s)
}

type Worker struct {
	id  int
	ctx *CAuthCtx

	ingress   chan *FrameJob
	backendCh chan backend.Result
	queryCh   chan queryJob
	adminCh   chan adminJob
	stopCh    chan struct{}
	doneCh    chan struct{}

	timerCtx *core.TimerCtx
	timerCb  sessionTimer
	table    *SessionTable
	methods  MethodToHandler

	stats AuthStats
	cdb   *core.CCounterDb
	log   *logging.Logger
}

func newWorker(id int, ctx *CAuthCtx) *Worker {
	o := new(Worker)
	o.id = id
	o.ctx = ctx
	c := ctx.Cfg.Auth
	o.ingress = make(chan *FrameJob, c.IngressQueue)
	o.backendCh = make(chan backend.Result, 64)
	o.queryCh = make(chan queryJob, 4)
	o.adminCh = make(chan adminJob, 16)
	o.stopCh = make(chan struct{})
	o.doneCh = make(chan struct{})
	o.timerCtx = core.NewTimerCtx(ctx.simulation)
	o.table = NewSessionTable(c.MaxSessions)
	o.methods = newMethodHandlers()
	o.cdb = NewAuthStatsDb(&o.stats, workerDbName(id))
	o.log = core.NewLogger("auth")
	return o
}

func workerDbName(id int) string {
	return fmt.Sprintf("auth-%d", id)
}

func (o *Worker) cfg() *cfg.AuthCfg {
	return &o.ctx.Cfg.Auth
}

func (o *Worker) Start() {
	go o.run()
}

func (o *Worker) Stop() {
	close(o.stopCh)
	<-o.doneCh
}

func (o *Worker) run() {
	for {
		select {
		case job := <-o.ingress:
			o.handleFrameJob(job)
		case res := <-o.backendCh:
			o.onBackendResult(&res)
		case job := <-o.adminCh:
			o.handleAdminJob(&job)
		case q := <-o.queryCh:
			q.reply <- o.collectInfo(q.port)
		case <-o.timerCtx.Timer.C:
			o.timerCtx.HandleTicks()
		case <-o.stopCh:
			close(o.doneCh)
			return
		}
	}
}

// submit called from the rx thread; never blocks
func (o *Worker) submit(job *FrameJob) bool {
	select {
	case o.ingress <- job:
		return true
	default:
		return false
	}
}

func (o *Worker) handleAdminJob(job *adminJob) {
	switch job.kind {
	case adminPortDown:
		o.onPortDown(job.port)
	}
}

func (o *Worker) collectInfo(port int) []SessionInfo {
	r := []SessionInfo{}
	o.table.ForEach(func(s *Session) {
		if port >= 0 && uint16(port) != s.Key.Port {
			return
		}
		r = append(r, SessionInfo{
			Port:     s.Key.Port,
			Mac:      s.Key.Mac.String(),
			State:    StateName(s.state),
			Identity: s.identity,
			Method:   o.methodName(s.method),
			Granted:  s.granted,
			Retries:  s.retryCnt,
		})
	})
	return r
}

func (o *Worker) methodName(t eapol.EapType) string {
	switch t {
	case 0:
		return ""
	case eapol.TypeMab:
		return "mab"
	case eapol.TypeIdentity:
		return "identity"
	}
	return o.methodFor(t).GetName()
}
