// Copyright (c) 2024 authd authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package auth

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"authd/access"
	"authd/backend"
	"authd/cfg"
	"authd/core"
	"authd/eapol"

	"github.com/op/go-logging"
)

/* CAuthCtx ties the pieces together: the rx classifier, the worker
shards, the port policy table and the admin loop. Workers own their
sessions; the ctx owns the ports map and the per-port preemptive
identity timers. */

const (
	PortModeDot1x uint8 = 1
	PortModeMab   uint8 = 2
	PortModeOpen  uint8 = 3
)

func portModeName(m uint8) string {
	switch m {
	case PortModeDot1x:
		return "dot1x"
	case PortModeMab:
		return "mab"
	case PortModeOpen:
		return "open"
	}
	return "unknown"
}

func parsePortMode(s string) uint8 {
	switch s {
	case "mab":
		return PortModeMab
	case "open":
		return PortModeOpen
	}
	return PortModeDot1x
}

/* portEntry per-port policy and liveness. active is touched by the
worker goroutines, everything else belongs to the admin loop. */
type portEntry struct {
	port    uint16
	mode    uint8
	up      bool
	active  uint32 // atomic, sessions on this port
	identId uint8
	timer   core.CHTimerObj
}

const (
	adminPortUp uint8 = iota + 1
	adminPortDownMsg
	adminPolicy
)

type adminMsg struct {
	kind   uint8
	port   uint16
	policy []cfg.PortCfg
}

// preemptiveTimer callback, a is the ctx, b the port entry
type preemptiveTimer struct {
}

func (o *preemptiveTimer) OnEvent(a, b interface{}) {
	ctx := a.(*CAuthCtx)
	e := b.(*portEntry)
	ctx.onPreemptiveTimer(e)
}

type CAuthCtx struct {
	Cfg        *cfg.Config
	veth       core.VethIF
	backend    backend.Adapter
	access     *access.Engine
	workers    []*Worker
	parser     *Parser
	timerCtx   *core.TimerCtx
	timerCb    preemptiveTimer
	portMu     sync.RWMutex
	ports      map[uint16]*portEntry
	adminCh    chan adminMsg
	stopCh     chan struct{}
	doneCh     chan struct{}
	simulation bool
	srcMac     core.MACKey
	Cdbv       *core.CCounterDbVec
	log        *logging.Logger
}

// NewAuthCtx wire the authenticator. The veth rx handler is installed
// here; frames may arrive as soon as the transport is started.
func NewAuthCtx(c *cfg.Config, veth core.VethIF, be backend.Adapter,
	ac *access.Engine, simulation bool) *CAuthCtx {
	o := new(CAuthCtx)
	o.Cfg = c
	o.veth = veth
	o.backend = be
	o.access = ac
	o.simulation = simulation
	o.log = core.NewLogger("auth")

	if hw, err := net.ParseMAC(c.Auth.SrcMac); err == nil {
		o.srcMac.SetHwAddr(hw)
	} else {
		// locally administered fallback
		o.srcMac = core.MACKey{0x02, 0x00, 0x00, 0xa1, 0xd0, 0x01}
	}

	o.timerCtx = core.NewTimerCtx(simulation)
	o.ports = make(map[uint16]*portEntry)
	o.adminCh = make(chan adminMsg, 32)
	o.stopCh = make(chan struct{})
	o.doneCh = make(chan struct{})

	nw := int(c.Auth.Workers)
	o.workers = make([]*Worker, nw)
	for i := 0; i < nw; i++ {
		o.workers[i] = newWorker(i, o)
	}
	o.parser = NewParser(o)

	o.Cdbv = core.NewCCounterDbVec("authd")
	o.Cdbv.Add(o.parser.cdb)
	for _, w := range o.workers {
		o.Cdbv.Add(w.cdb)
	}
	o.Cdbv.Add(core.NewVethStatsDb(veth.GetStats(), "veth"))
	o.Cdbv.Add(ac.Cdb())

	for _, p := range c.Ports {
		o.applyPortCfg(p)
	}

	veth.SetRxHandler(o.parser.OnRxFrame)
	return o
}

// AddCounters register an extra counters db on the ops surface
func (o *CAuthCtx) AddCounters(db *core.CCounterDb) {
	o.Cdbv.Add(db)
}

// Start launch the workers and the admin loop
func (o *CAuthCtx) Start() {
	for _, w := range o.workers {
		w.Start()
	}
	go o.mainLoop()
}

func (o *CAuthCtx) Delete() {
	close(o.stopCh)
	<-o.doneCh
	for _, w := range o.workers {
		w.Stop()
	}
}

func (o *CAuthCtx) mainLoop() {
	defer close(o.doneCh)
	for {
		select {
		case m := <-o.adminCh:
			o.handleAdmin(m)
		case <-o.timerCtx.Timer.C:
			o.timerCtx.HandleTicks()
		case <-o.stopCh:
			return
		}
	}
}

/* sharding: a (port,mac) pair always lands on the same worker, so one
supplicant's frames are strictly ordered. fnv1a over port then mac. */
func shardHash(port uint16, mac core.MACKey) uint32 {
	h := uint32(2166136261)
	h = (h ^ uint32(port&0xff)) * 16777619
	h = (h ^ uint32(port>>8)) * 16777619
	for _, b := range mac {
		h = (h ^ uint32(b)) * 16777619
	}
	return h
}

func (o *CAuthCtx) workerFor(port uint16, mac core.MACKey) *Worker {
	return o.workers[shardHash(port, mac)%uint32(len(o.workers))]
}

/* port table. Ports the policy never mentioned authenticate like
dot1x ports; only an explicit "open" entry bypasses the authenticator. */

func (o *CAuthCtx) getPort(port uint16) *portEntry {
	o.portMu.RLock()
	e := o.ports[port]
	o.portMu.RUnlock()
	return e
}

func (o *CAuthCtx) getOrCreatePort(port uint16) *portEntry {
	if e := o.getPort(port); e != nil {
		return e
	}
	o.portMu.Lock()
	e := o.ports[port]
	if e == nil {
		e = &portEntry{port: port, mode: PortModeDot1x, up: true}
		e.timer.SetCB(&o.timerCb, o, e)
		o.ports[port] = e
	}
	o.portMu.Unlock()
	return e
}

// portConsumes true when EAPOL on this port should reach a worker.
// Runs on the rx thread, so the entry fields read under the lock the
// admin loop writes them under.
func (o *CAuthCtx) portConsumes(port uint16) bool {
	o.portMu.RLock()
	defer o.portMu.RUnlock()
	e := o.ports[port]
	if e == nil {
		return true
	}
	return e.up && e.mode != PortModeOpen
}

func (o *CAuthCtx) portMabEnabled(port uint16) bool {
	o.portMu.RLock()
	defer o.portMu.RUnlock()
	e := o.ports[port]
	return e != nil && e.up && e.mode == PortModeMab
}

func (o *CAuthCtx) portSessionInc(port uint16) {
	e := o.getOrCreatePort(port)
	atomic.AddUint32(&e.active, 1)
}

func (o *CAuthCtx) portSessionDec(port uint16) {
	if e := o.getPort(port); e != nil {
		atomic.AddUint32(&e.active, ^uint32(0))
	}
}

/* admin operations, posted to the admin loop so the port timers stay
single threaded */

func (o *CAuthCtx) PortUp(port uint16) {
	o.adminCh <- adminMsg{kind: adminPortUp, port: port}
}

func (o *CAuthCtx) PortDown(port uint16) {
	o.adminCh <- adminMsg{kind: adminPortDownMsg, port: port}
}

func (o *CAuthCtx) SetPortPolicy(ports []cfg.PortCfg) {
	o.adminCh <- adminMsg{kind: adminPolicy, policy: ports}
}

func (o *CAuthCtx) handleAdmin(m adminMsg) {
	switch m.kind {
	case adminPortUp:
		e := o.getOrCreatePort(m.port)
		o.portMu.Lock()
		e.up = true
		o.portMu.Unlock()
		e.identId = 0
		o.armPreemptive(e, time.Duration(o.Cfg.Auth.PortUpWaitSec)*time.Second)
		o.log.Infof("port %d up, mode %s", e.port, portModeName(e.mode))
	case adminPortDownMsg:
		e := o.getOrCreatePort(m.port)
		o.portMu.Lock()
		e.up = false
		o.portMu.Unlock()
		if e.timer.IsRunning() {
			o.timerCtx.Stop(&e.timer)
		}
		for _, w := range o.workers {
			w.adminCh <- adminJob{kind: adminPortDown, port: m.port}
		}
		o.log.Infof("port %d down, sessions wiped", e.port)
	case adminPolicy:
		for _, p := range m.policy {
			o.applyPortCfg(p)
		}
	}
}

func (o *CAuthCtx) applyPortCfg(p cfg.PortCfg) {
	e := o.getOrCreatePort(p.Port)
	o.portMu.Lock()
	e.mode = parsePortMode(p.Mode)
	o.portMu.Unlock()
	if e.up && e.mode == PortModeDot1x {
		o.armPreemptive(e, time.Duration(o.Cfg.Auth.PortUpWaitSec)*time.Second)
	} else if e.timer.IsRunning() {
		o.timerCtx.Stop(&e.timer)
	}
}

/* preemptive identity: poke silent supplicants with a multicast
Request/Identity until someone answers. Fires on the admin loop. */

func (o *CAuthCtx) armPreemptive(e *portEntry, d time.Duration) {
	if d == 0 {
		return
	}
	if e.timer.IsRunning() {
		o.timerCtx.Stop(&e.timer)
	}
	o.timerCtx.Start(&e.timer, d)
}

func (o *CAuthCtx) onPreemptiveTimer(e *portEntry) {
	if !e.up || e.mode != PortModeDot1x {
		return
	}
	if atomic.LoadUint32(&e.active) == 0 {
		o.sendPreemptiveIdentity(e)
	}
	o.armPreemptive(e, time.Duration(o.Cfg.Auth.PreemptiveIntervalSec)*time.Second)
}

func (o *CAuthCtx) sendPreemptiveIdentity(e *portEntry) {
	e.identId++
	m := eapol.EapMessage{
		Code: eapol.CodeRequest,
		Id:   e.identId,
		Type: eapol.TypeIdentity,
	}
	f := eapol.Frame{
		Dst:        eapol.PAEGroupAddress,
		Src:        o.srcMac,
		Version:    eapol.MaxEapolVersion,
		PacketType: eapol.PacketTypeEAP,
		Body:       m.Encode(),
	}
	o.veth.Send(e.port, f.Encode())
}

// SessionInfo snapshot of the sessions on one port, or all ports when
// port is negative. Fans the query out to every worker.
func (o *CAuthCtx) SessionInfo(port int) ([]SessionInfo, error) {
	reply := make(chan []SessionInfo, len(o.workers))
	for _, w := range o.workers {
		select {
		case w.queryCh <- queryJob{port: port, reply: reply}:
		case <-time.After(2 * time.Second):
			return nil, fmt.Errorf("worker %d query queue stuck", w.id)
		}
	}
	var out []SessionInfo
	for range o.workers {
		select {
		case r := <-reply:
			out = append(out, r...)
		case <-time.After(2 * time.Second):
			return nil, fmt.Errorf("session query timed out")
		}
	}
	return out, nil
}
