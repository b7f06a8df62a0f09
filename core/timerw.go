package core

/* Timer wheel for the authenticator timers (response retransmit, hold,
reauthentication, access-decision retry backoff).

Single wheel with rounds. The events here are seconds-scale and sparse,
so one wheel is enough; an event whose expiry is more than a full
rotation away keeps a rounds counter and is re-examined when its bucket
comes up.

	tw, _ := NewTimerWheel(1024)
	tmr.SetCB(cb, a, b)
	tw.Start(tmr, ticks)
	tw.Stop(tmr)
	tw.OnTick() // call once per tick
*/

import (
	"fmt"
)

// CHTimerOnEvent callback interface for timer expiry
type CHTimerOnEvent interface {
	OnEvent(a, b interface{})
}

// CHTimerObj a timer event, embedded in its owner
type CHTimerObj struct {
	next   *CHTimerObj
	prev   *CHTimerObj
	root   *timerBucket
	rounds uint32
	cb     CHTimerOnEvent
	cbA    interface{}
	cbB    interface{}
}

func (o *CHTimerObj) SetCB(cb CHTimerOnEvent, a interface{}, b interface{}) {
	o.cb = cb
	o.cbA = a
	o.cbB = b
}

func (o *CHTimerObj) IsRunning() bool {
	return o.root != nil
}

func (o *CHTimerObj) call() {
	o.cb.OnEvent(o.cbA, o.cbB)
}

func (o *CHTimerObj) detach() {
	o.root.count--
	o.root = nil
	next := o.next
	next.prev = o.prev
	o.prev.next = next
	o.next = nil
	o.prev = nil
}

type timerBucket struct {
	head  CHTimerObj // sentinel, next/prev only
	count uint32
}

func (o *timerBucket) init() {
	o.head.next = &o.head
	o.head.prev = &o.head
	o.count = 0
}

func (o *timerBucket) append(tmr *CHTimerObj) {
	h := &o.head
	tmr.next = h
	tmr.prev = h.prev
	h.prev.next = tmr
	h.prev = tmr
	tmr.root = o
	o.count++
}

func (o *timerBucket) isEmpty() bool {
	return o.head.next == &o.head
}

func isPowerOf2(n uint32) bool {
	return n != 0 && (n&(n-1)) == 0
}

// TimerWheel single-level wheel with a rounds counter per event
type TimerWheel struct {
	buckets     []timerBucket
	bucketIndex uint32
	wheelMask   uint32
	wheelSize   uint32
	ticks       uint64
	totalEvents uint64
}

func NewTimerWheel(size uint32) (*TimerWheel, error) {
	if !isPowerOf2(size) {
		return nil, fmt.Errorf("timer wheel size %d is not a power of 2", size)
	}
	o := new(TimerWheel)
	o.wheelSize = size
	o.wheelMask = size - 1
	o.buckets = make([]timerBucket, size)
	for i := range o.buckets {
		o.buckets[i].init()
	}
	return o, nil
}

func (o *TimerWheel) ActiveTimers() uint64 {
	return o.totalEvents
}

// Start schedule tmr to fire after ticks. ticks of 0 fires on the next tick.
func (o *TimerWheel) Start(tmr *CHTimerObj, ticks uint32) {
	if tmr.IsRunning() {
		tmr.detach()
		o.totalEvents--
	}
	if ticks == 0 {
		ticks = 1
	}
	// an exact multiple of the span lands on the current bucket; it
	// must fire on the rotation that reaches it, not one later
	tmr.rounds = (ticks - 1) / o.wheelSize
	cursor := (o.bucketIndex + ticks) & o.wheelMask
	o.buckets[cursor].append(tmr)
	o.totalEvents++
}

// Stop cancel tmr if armed
func (o *TimerWheel) Stop(tmr *CHTimerObj) {
	if tmr.IsRunning() {
		tmr.detach()
		o.totalEvents--
	}
}

// OnTick advance the wheel one tick and fire the due events
func (o *TimerWheel) OnTick() {
	o.ticks++
	o.bucketIndex = (o.bucketIndex + 1) & o.wheelMask
	b := &o.buckets[o.bucketIndex]
	if b.isEmpty() {
		return
	}
	// collect first: callbacks may re-arm into this bucket
	var due *CHTimerObj
	cur := b.head.next
	for cur != &b.head {
		next := cur.next
		if cur.rounds > 0 {
			cur.rounds--
		} else {
			cur.detach()
			o.totalEvents--
			cur.next = due // reuse link for the due chain
			due = cur
		}
		cur = next
	}
	for due != nil {
		ev := due
		due = due.next
		ev.next = nil
		ev.call()
	}
}
