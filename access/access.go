// Copyright (c) 2024 authd authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package access

import (
	"errors"
	"sync/atomic"
	"time"

	"authd/core"

	"github.com/op/go-logging"
)

/* Access controller boundary. Workers submit Decisions and move on;
the engine goroutine owns the controller connection, applies decisions
in order and retries failures with doubling backoff on its own timer
wheel. After RetryLimit attempts the decision is surfaced as a
standing alarm counter instead of being retried forever. */

type Action uint8

const (
	ActionGrant  Action = 1
	ActionDeny   Action = 2
	ActionRevoke Action = 3
)

func (a Action) String() string {
	switch a {
	case ActionGrant:
		return "grant"
	case ActionDeny:
		return "deny"
	case ActionRevoke:
		return "revoke"
	}
	return "unknown"
}

// Decision the only value crossing into the access controller
type Decision struct {
	Port   uint16
	Mac    core.MACKey
	Action Action
}

var ErrControllerFailure = errors.New("access controller failure")

// Controller is implemented by the OpenFlow client and by test fakes.
type Controller interface {
	Apply(d Decision) error
	Delete()
}

type EngineStats struct {
	submitted uint64
	queueDrop uint64
	applied   uint64
	applyErr  uint64
	retries   uint64
	alarms    uint64
}

func NewEngineStatsDb(o *EngineStats) *core.CCounterDb {
	db := core.NewCCounterDb("access")

	db.Add(&core.CCounterRec{
		Counter:  &o.submitted,
		Name:     "submitted",
		Help:     "decisions submitted",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.queueDrop,
		Name:     "queueDrop",
		Help:     "decisions dropped, queue full",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.applied,
		Name:     "applied",
		Help:     "decisions applied",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.applyErr,
		Name:     "applyErr",
		Help:     "controller apply failures",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.retries,
		Name:     "retries",
		Help:     "apply retries fired",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.alarms,
		Name:     "alarms",
		Help:     "decisions lost after retry bound, standing alarm",
		Unit:     "ops",
		DumpZero: false,
		Info:     core.ScERROR})

	return db
}

type EngineCfg struct {
	RetryLimit uint8
	RetryBase  time.Duration
	QueueSize  uint16
}

type retryItem struct {
	d       Decision
	attempt uint8
	timer   core.CHTimerObj
}

type Engine struct {
	cfg      EngineCfg
	ctrl     Controller
	ch       chan Decision
	stopCh   chan struct{}
	doneCh   chan struct{}
	timerCtx *core.TimerCtx
	stats    EngineStats
	cdb      *core.CCounterDb
	log      *logging.Logger
}

func NewEngine(ctrl Controller, cfg EngineCfg, simulation bool) *Engine {
	o := new(Engine)
	o.cfg = cfg
	if o.cfg.RetryLimit == 0 {
		o.cfg.RetryLimit = 4
	}
	if o.cfg.RetryBase == 0 {
		o.cfg.RetryBase = 500 * time.Millisecond
	}
	if o.cfg.QueueSize == 0 {
		o.cfg.QueueSize = 1024
	}
	o.ctrl = ctrl
	o.ch = make(chan Decision, o.cfg.QueueSize)
	o.stopCh = make(chan struct{})
	o.doneCh = make(chan struct{})
	o.timerCtx = core.NewTimerCtx(simulation)
	o.cdb = NewEngineStatsDb(&o.stats)
	o.log = core.NewLogger("access")
	return o
}

func (o *Engine) Cdb() *core.CCounterDb {
	return o.cdb
}

// Submit never blocks; overflow is counted and the decision dropped
// into the alarm path. Safe to call from any worker.
func (o *Engine) Submit(d Decision) {
	atomic.AddUint64(&o.stats.submitted, 1)
	select {
	case o.ch <- d:
	default:
		atomic.AddUint64(&o.stats.queueDrop, 1)
		atomic.AddUint64(&o.stats.alarms, 1)
	}
}

func (o *Engine) Start() {
	go o.loop()
}

func (o *Engine) Delete() {
	close(o.stopCh)
	<-o.doneCh
}

func (o *Engine) loop() {
	for {
		select {
		case d := <-o.ch:
			o.apply(d, 0)
		case <-o.timerCtx.Timer.C:
			o.timerCtx.HandleTicks()
		case <-o.stopCh:
			o.ctrl.Delete()
			close(o.doneCh)
			return
		}
	}
}

// OnEvent retry timer expiry, a is the retryItem
func (o *Engine) OnEvent(a, b interface{}) {
	it := a.(*retryItem)
	o.stats.retries++
	o.apply(it.d, it.attempt)
}

func (o *Engine) apply(d Decision, attempt uint8) {
	err := o.ctrl.Apply(d)
	if err == nil {
		o.stats.applied++
		return
	}
	o.stats.applyErr++
	if attempt >= o.cfg.RetryLimit {
		atomic.AddUint64(&o.stats.alarms, 1)
		o.log.Errorf("decision %v port %d mac %v lost after %d attempts: %v",
			d.Action, d.Port, d.Mac, attempt, err)
		return
	}
	it := &retryItem{d: d, attempt: attempt + 1}
	it.timer.SetCB(o, it, nil)
	o.timerCtx.Start(&it.timer, o.cfg.RetryBase<<attempt)
}
