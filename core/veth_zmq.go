package core

/* ZMQ PAIR dataplane transport.

message format

uint32 - message header

  MAGIC
  uint16 0xBEEF -- MAGIC
  uint16 number of packets

each packet is like this

uint8 0xAA -- MAGIC
uint8 vport
uint16 pkt_size
*/

import (
	"encoding/binary"
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"
)

const (
	ZMQ_PACKET_HEADER_MAGIC = 0xBEEF
	ZMQ_PACKET_MAGIC        = 0xAA
	ZMQ_TX_MAX_BUFFER_SIZE  = 32 * 1024
	ZMQ_MAX_FRAME_SIZE      = 2048
)

type VethIFZmq struct {
	rxCtx    *zmq.Context
	txCtx    *zmq.Context
	rxSocket *zmq.Socket
	txSocket *zmq.Socket
	rxPort   uint16 // in respect to authd. rx->authd
	txPort   uint16 // authd->tx

	rx    RxHandler
	stats VethStats
	cdb   *CCounterDb
	buf   []byte
}

func (o *VethIFZmq) createSocket(server string, port uint16) (*zmq.Context, *zmq.Socket) {
	context, err := zmq.NewContext()
	if err != nil || context == nil {
		panic(err)
	}
	socket, err := context.NewSocket(zmq.PAIR)
	if err != nil || socket == nil {
		panic(err)
	}
	str := fmt.Sprintf("tcp://%s:%d", server, port)
	if err = socket.Connect(str); err != nil {
		panic(fmt.Sprintf("failed to connect zmq veth %s - %v", str, err))
	}
	return context, socket
}

func (o *VethIFZmq) Create(server string, port uint16) {
	o.rxPort = port
	o.txPort = port + 1
	o.rxCtx, o.rxSocket = o.createSocket(server, o.rxPort)
	o.txCtx, o.txSocket = o.createSocket(server, o.txPort)
	o.buf = make([]byte, 0, ZMQ_TX_MAX_BUFFER_SIZE)
	o.cdb = NewVethStatsDb(&o.stats, "veth")
}

func (o *VethIFZmq) SetRxHandler(rx RxHandler) {
	o.rx = rx
}

func (o *VethIFZmq) StartRxThread() {
	go o.rxThread()
}

func (o *VethIFZmq) rxThread() {
	for {
		msg, err := o.rxSocket.RecvBytes(0)
		if err != nil {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		o.handleRxMsg(msg)
	}
}

func (o *VethIFZmq) handleRxMsg(msg []byte) {
	if len(msg) < 4 {
		o.stats.RxParserErr++
		return
	}
	if binary.BigEndian.Uint16(msg[0:2]) != ZMQ_PACKET_HEADER_MAGIC {
		o.stats.RxParserErr++
		return
	}
	pkts := int(binary.BigEndian.Uint16(msg[2:4]))
	off := 4
	for i := 0; i < pkts; i++ {
		if len(msg)-off < 4 {
			o.stats.RxParserErr++
			return
		}
		if msg[off] != ZMQ_PACKET_MAGIC {
			o.stats.RxParserErr++
			return
		}
		vport := uint16(msg[off+1])
		size := int(binary.BigEndian.Uint16(msg[off+2 : off+4]))
		off += 4
		if size > len(msg)-off {
			o.stats.RxParserErr++
			return
		}
		if size > ZMQ_MAX_FRAME_SIZE {
			o.stats.RxTooBig++
			off += size
			continue
		}
		o.stats.RxPkts++
		o.stats.RxBytes += uint64(size)
		if o.rx != nil {
			// each frame gets its own copy; the worker owns it
			d := append([]byte(nil), msg[off:off+size]...)
			o.rx(&FrameEvent{Port: vport, Data: d})
		}
		off += size
	}
}

func (o *VethIFZmq) Send(port uint16, b []byte) {
	o.buf = o.buf[:0]
	var hdr [4]byte
	binary.BigEndian.PutUint16(hdr[0:2], ZMQ_PACKET_HEADER_MAGIC)
	binary.BigEndian.PutUint16(hdr[2:4], 1)
	o.buf = append(o.buf, hdr[:]...)
	var phdr [4]byte
	phdr[0] = ZMQ_PACKET_MAGIC
	phdr[1] = uint8(port)
	binary.BigEndian.PutUint16(phdr[2:4], uint16(len(b)))
	o.buf = append(o.buf, phdr[:]...)
	o.buf = append(o.buf, b...)
	o.stats.TxPkts++
	o.stats.TxBytes += uint64(len(b))
	o.txSocket.SendBytes(o.buf, 0)
}

func (o *VethIFZmq) GetStats() *VethStats {
	return &o.stats
}

func (o *VethIFZmq) GetCdb() *CCounterDb {
	return o.cdb
}

func (o *VethIFZmq) SimulatorCheckRxQueue() {}

func (o *VethIFZmq) Delete() {
	o.rxSocket.Close()
	o.txSocket.Close()
	o.rxCtx.Term()
	o.txCtx.Term()
}

func NewVethStatsDb(s *VethStats, name string) *CCounterDb {
	db := NewCCounterDb(name)
	db.Add(&CCounterRec{
		Counter:  &s.TxPkts,
		Name:     "txPkts",
		Help:     "tx packets",
		Unit:     "pkts",
		DumpZero: false,
		Info:     ScINFO})
	db.Add(&CCounterRec{
		Counter:  &s.TxBytes,
		Name:     "txBytes",
		Help:     "tx bytes",
		Unit:     "bytes",
		DumpZero: false,
		Info:     ScINFO})
	db.Add(&CCounterRec{
		Counter:  &s.RxPkts,
		Name:     "rxPkts",
		Help:     "rx packets",
		Unit:     "pkts",
		DumpZero: false,
		Info:     ScINFO})
	db.Add(&CCounterRec{
		Counter:  &s.RxBytes,
		Name:     "rxBytes",
		Help:     "rx bytes",
		Unit:     "bytes",
		DumpZero: false,
		Info:     ScINFO})
	db.Add(&CCounterRec{
		Counter:  &s.RxParserErr,
		Name:     "rxParserErr",
		Help:     "rx transport framing error",
		Unit:     "pkts",
		DumpZero: false,
		Info:     ScERROR})
	db.Add(&CCounterRec{
		Counter:  &s.RxTooBig,
		Name:     "rxTooBig",
		Help:     "rx frame larger than the link mtu",
		Unit:     "pkts",
		DumpZero: false,
		Info:     ScERROR})
	db.Add(&CCounterRec{
		Counter:  &s.TxDropNoIf,
		Name:     "txDropNoIf",
		Help:     "tx to a port with no interface",
		Unit:     "pkts",
		DumpZero: false,
		Info:     ScERROR})
	return db
}
