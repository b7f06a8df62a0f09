// Copyright (c) 2024 authd authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package core

import (
	"time"
)

/* timer context, one per worker and one for the admin loop.
   tick is 100msec; authenticator timers are seconds scale. */

const (
	eTIMER_TICK     = 100 * time.Millisecond
	eTIMER_TICK_SIM = 100 * time.Millisecond
)

type TimerCtx struct {
	Timer        *time.Timer
	TickDuration time.Duration
	timerw       *TimerWheel
	Ticks        uint64
	Cdb          *CCounterDb
}

// NewTimerCtx create a context. simulation selects the deterministic
// tick used by tests, where HandleTicks is driven manually.
func NewTimerCtx(simulation bool) *TimerCtx {
	o := new(TimerCtx)
	if simulation {
		o.TickDuration = eTIMER_TICK_SIM
	} else {
		o.TickDuration = eTIMER_TICK
	}
	o.Timer = time.NewTimer(o.TickDuration)
	timerw, err := NewTimerWheel(1024)
	if err != nil {
		panic(err)
	}
	o.timerw = timerw
	o.Cdb = NewCCounterDb("timerw")
	o.Cdb.Add(&CCounterRec{
		Counter:  &o.timerw.totalEvents,
		Name:     "activeTimer",
		Help:     "active timers",
		Unit:     "timers",
		DumpZero: false,
		Info:     ScINFO})
	o.Cdb.Add(&CCounterRec{
		Counter:  &o.Ticks,
		Name:     "ticks",
		Help:     "ticks",
		Unit:     "ops",
		DumpZero: false,
		Info:     ScINFO})
	return o
}

func (o *TimerCtx) ActiveTimers() uint64 {
	return o.timerw.ActiveTimers()
}

func (o *TimerCtx) IsRunning(tmr *CHTimerObj) bool {
	return tmr.IsRunning()
}

// Stop the timer, make sure it is not running
func (o *TimerCtx) Stop(tmr *CHTimerObj) {
	o.timerw.Stop(tmr)
}

// DurationToTicks convert a duration to wheel ticks, rounding up
func (o *TimerCtx) DurationToTicks(duration time.Duration) uint32 {
	ticks := uint32((duration + o.TickDuration - 1) / o.TickDuration)
	return ticks
}

// StartTicks start the timer using ticks instead of time
func (o *TimerCtx) StartTicks(tmr *CHTimerObj, ticks uint32) {
	o.timerw.Start(tmr, ticks)
}

// Start timer by duration
func (o *TimerCtx) Start(tmr *CHTimerObj, duration time.Duration) {
	o.timerw.Start(tmr, o.DurationToTicks(duration))
}

// HandleTicks should be called only by the owning loop
func (o *TimerCtx) HandleTicks() {
	o.Ticks++
	o.timerw.OnTick()
	o.Timer.Reset(o.TickDuration)
}
