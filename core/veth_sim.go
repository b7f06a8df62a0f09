package core

import "sync"

/* VethSim test transport: frames sent by the authenticator are handed
to a VethIFSim DUT model, responses queue until SimulatorCheckRxQueue
drains them into the rx handler. Also records tx frames for
assertions. */
type VethSim struct {
	Sim     VethIFSim
	rx      RxHandler
	stats   VethStats
	mu      sync.Mutex
	queue   []*FrameEvent
	TxCap   [][]byte // captured tx frames
	TxPorts []uint16
}

func NewVethSim(sim VethIFSim) *VethSim {
	return &VethSim{Sim: sim}
}

func (o *VethSim) SetRxHandler(rx RxHandler) {
	o.rx = rx
}

func (o *VethSim) Send(port uint16, b []byte) {
	o.mu.Lock()
	o.stats.TxPkts++
	o.stats.TxBytes += uint64(len(b))
	o.TxCap = append(o.TxCap, append([]byte(nil), b...))
	o.TxPorts = append(o.TxPorts, port)
	o.mu.Unlock()
	if o.Sim == nil {
		return
	}
	if ev := o.Sim.ProcessTxToRx(port, b); ev != nil {
		o.mu.Lock()
		o.queue = append(o.queue, ev)
		o.mu.Unlock()
	}
}

// InjectRx queue a frame as if it arrived from the wire
func (o *VethSim) InjectRx(port uint16, b []byte) {
	o.mu.Lock()
	o.queue = append(o.queue, &FrameEvent{Port: port, Data: b})
	o.mu.Unlock()
}

func (o *VethSim) SimulatorCheckRxQueue() {
	for {
		o.mu.Lock()
		if len(o.queue) == 0 {
			o.mu.Unlock()
			return
		}
		ev := o.queue[0]
		o.queue = o.queue[1:]
		o.stats.RxPkts++
		o.stats.RxBytes += uint64(len(ev.Data))
		o.mu.Unlock()
		if o.rx != nil {
			o.rx(ev)
		}
	}
}

func (o *VethSim) GetStats() *VethStats {
	return &o.stats
}

// TxFrames snapshot of the captured tx frames
func (o *VethSim) TxFrames() [][]byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := make([][]byte, len(o.TxCap))
	copy(r, o.TxCap)
	return r
}

func (o *VethSim) Delete() {}

// VethSink drops everything; a DUT model for drop-all tests
type VethSink struct{}

func (o *VethSink) ProcessTxToRx(port uint16, b []byte) *FrameEvent {
	return nil
}
