package core

/* VethIF is the dataplane attachment: raw Ethernet frames in and out,
tagged with the switch port they belong to. */

// FrameEvent one received frame; Data is owned by the receiver
type FrameEvent struct {
	Port uint16
	Data []byte
}

// RxHandler invoked by the transport rx thread for every frame
type RxHandler func(ev *FrameEvent)

type VethStats struct {
	TxPkts      uint64
	TxBytes     uint64
	RxPkts      uint64
	RxBytes     uint64
	RxTooBig    uint64
	TxDropNoIf  uint64
	RxParserErr uint64
}

//VethIF represent a way to send and receive raw frames per port
type VethIF interface {

	/* the frame should be fully encoded; ownership moves to the veth */
	Send(port uint16, b []byte)

	/* get the veth stats */
	GetStats() *VethStats

	SetRxHandler(rx RxHandler)

	SimulatorCheckRxQueue()

	Delete()
}

type VethIFSim interface {

	/* simulate the DUT: take a tx frame and return the response frame,
	   or nil when there is none */
	ProcessTxToRx(port uint16, b []byte) *FrameEvent
}
