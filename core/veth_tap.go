package core

/* TAP transport: one tap device per switch port, for deployments where
the dataplane hands the EAPOL path to the host via taps rather than a
packet channel. */

import (
	"sync"

	"github.com/songgao/water"
)

const tapMaxFrame = 2048

type VethIFTap struct {
	rx    RxHandler
	stats VethStats
	cdb   *CCounterDb

	mu   sync.RWMutex
	taps map[uint16]*water.Interface
	wg   sync.WaitGroup
	stop chan struct{}
}

// NewVethTap open a tap per (port, device-name) pair
func NewVethTap(ports map[uint16]string) (*VethIFTap, error) {
	o := &VethIFTap{
		taps: make(map[uint16]*water.Interface),
		stop: make(chan struct{}),
	}
	o.cdb = NewVethStatsDb(&o.stats, "veth")
	for port, name := range ports {
		cfg := water.Config{DeviceType: water.TAP}
		cfg.Name = name
		ifce, err := water.New(cfg)
		if err != nil {
			o.Delete()
			return nil, err
		}
		o.taps[port] = ifce
	}
	return o, nil
}

func (o *VethIFTap) SetRxHandler(rx RxHandler) {
	o.rx = rx
}

func (o *VethIFTap) StartRxThread() {
	for port, ifce := range o.taps {
		o.wg.Add(1)
		go o.rxLoop(port, ifce)
	}
}

func (o *VethIFTap) rxLoop(port uint16, ifce *water.Interface) {
	defer o.wg.Done()
	buf := make([]byte, tapMaxFrame)
	for {
		select {
		case <-o.stop:
			return
		default:
		}
		n, err := ifce.Read(buf)
		if err != nil {
			return
		}
		o.stats.RxPkts++
		o.stats.RxBytes += uint64(n)
		if o.rx != nil {
			d := append([]byte(nil), buf[:n]...)
			o.rx(&FrameEvent{Port: port, Data: d})
		}
	}
}

func (o *VethIFTap) Send(port uint16, b []byte) {
	o.mu.RLock()
	ifce := o.taps[port]
	o.mu.RUnlock()
	if ifce == nil {
		o.stats.TxDropNoIf++
		return
	}
	o.stats.TxPkts++
	o.stats.TxBytes += uint64(len(b))
	ifce.Write(b)
}

func (o *VethIFTap) GetStats() *VethStats {
	return &o.stats
}

func (o *VethIFTap) GetCdb() *CCounterDb {
	return o.cdb
}

func (o *VethIFTap) SimulatorCheckRxQueue() {}

func (o *VethIFTap) Delete() {
	close(o.stop)
	o.mu.Lock()
	for _, ifce := range o.taps {
		ifce.Close()
	}
	o.taps = map[uint16]*water.Interface{}
	o.mu.Unlock()
}
