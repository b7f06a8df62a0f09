package core

import (
	"errors"
	"time"
)

type NonBlockingChanErr error

var (
	ErrInvalidParam NonBlockingChanErr = errors.New("Invalid parameter")
	ErrIsFull       NonBlockingChanErr = errors.New("Channel is full")
	ErrIsEmpty      NonBlockingChanErr = errors.New("Channel is empty")
)

type NonBlockingChanEvent int

const (
	EvLowWatermark NonBlockingChanEvent = iota
	EvHighWatermark
)

func (s NonBlockingChanEvent) String() string {
	switch s {
	case EvLowWatermark:
		return "evLowWatermark"
	case EvHighWatermark:
		return "evHighWatermark"
	}
	return "unknown"
}

type nonBlockingChanObserver interface {
	Notify(event NonBlockingChanEvent)
}

/* NonBlockingChan bounded queue with watermark notifications. Producers
never block; a producer that prefers losing the oldest element over the
newest uses WriteDropOldest. The watermark poll timer runs on the
owner's TimerCtx. */
type NonBlockingChan struct {
	ch               chan interface{}
	capacity         uint16
	lowWatermarkThr  uint16
	highWatermarkThr uint16
	observer         nonBlockingChanObserver
	highWatermark    bool
	dropped          uint64
	timer            CHTimerObj
	timerCtx         *TimerCtx
}

func NewNonBlockingChan(capacity, lowWatermarkThr, highWatermarkThr uint16, timerCtx *TimerCtx) (*NonBlockingChan, NonBlockingChanErr) {
	if lowWatermarkThr >= highWatermarkThr {
		return nil, ErrInvalidParam
	}
	if lowWatermarkThr >= capacity || highWatermarkThr >= capacity {
		return nil, ErrInvalidParam
	}
	if timerCtx == nil {
		return nil, ErrInvalidParam
	}

	p := new(NonBlockingChan)
	p.capacity = capacity
	p.lowWatermarkThr = lowWatermarkThr
	p.highWatermarkThr = highWatermarkThr
	p.ch = make(chan interface{}, capacity)
	p.timerCtx = timerCtx
	p.timer.SetCB(p, 0, 0)

	return p, nil
}

func (p *NonBlockingChan) handleLowWatermark() {
	p.highWatermark = false
	if p.observer != nil {
		p.observer.Notify(EvLowWatermark)
	}
}

func (p *NonBlockingChan) OnEvent(a, b interface{}) {
	if len(p.ch) < int(p.lowWatermarkThr) && p.highWatermark {
		p.handleLowWatermark()
	} else {
		p.timerCtx.Start(&p.timer, time.Millisecond)
	}
}

func (p *NonBlockingChan) handleHighWatermark() {
	p.highWatermark = true
	if p.observer != nil {
		p.observer.Notify(EvHighWatermark)
	}
	p.timerCtx.Start(&p.timer, time.Millisecond)
}

func (p *NonBlockingChan) Write(obj interface{}, block bool) error {
	if !block {
		select {
		case p.ch <- obj:
		default:
			return ErrIsFull
		}
	} else {
		p.ch <- obj
	}

	if len(p.ch) > int(p.highWatermarkThr) && !p.highWatermark {
		p.handleHighWatermark()
	}
	return nil
}

// WriteDropOldest write obj, evicting the oldest element when full.
// Returns ErrIsFull when an eviction happened.
func (p *NonBlockingChan) WriteDropOldest(obj interface{}) error {
	for {
		if err := p.Write(obj, false); err == nil {
			return nil
		}
		select {
		case <-p.ch:
			p.dropped++
		default:
		}
		select {
		case p.ch <- obj:
			return ErrIsFull
		default:
		}
	}
}

func (p *NonBlockingChan) Dropped() uint64 {
	return p.dropped
}

func (p *NonBlockingChan) Len() int {
	return len(p.ch)
}

func (p *NonBlockingChan) Read(block bool) (interface{}, error, bool) {
	var obj interface{}
	var more bool

	if !block {
		select {
		case obj, more = <-p.ch:
		default:
			return nil, ErrIsEmpty, true
		}
	} else {
		obj, more = <-p.ch
	}

	if !more {
		return nil, nil, false
	}
	return obj, nil, true
}

func (p *NonBlockingChan) Close() {
	if p.timer.IsRunning() {
		p.timerCtx.Stop(&p.timer)
	}
	close(p.ch)
}

func (p *NonBlockingChan) RegisterObserver(o nonBlockingChanObserver) {
	p.observer = o
}
