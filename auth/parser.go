// Copyright (c) 2024 authd authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package auth

import (
	"encoding/binary"

	"authd/core"
	"authd/eapol"
)

/* rx-side L2 classifier, runs on the veth rx thread. It looks at just
enough of the frame to shard it: EAPOL goes to the owning worker as a
frame job, a DHCP discover from an unknown MAC on a bypass-enabled
port becomes a MAB trigger. Everything else is not ours. */

const (
	etherTypeIPv4  = 0x0800
	etherTypeDot1Q = 0x8100
	etherTypeQinQ  = 0x88a8

	ipProtoUDP   = 17
	dhcpPortSrv  = 67
	dhcpPortCli  = 68
	l2HeaderSize = 14
)

type ParserStats struct {
	rxFrames     uint64
	rxTooShort   uint64
	rxBadSrcMac  uint64
	rxEapol      uint64
	rxDhcp       uint64
	rxOtherType  uint64
	rxPortClosed uint64
	ingressDrop  uint64
}

func NewParserStatsDb(o *ParserStats) *core.CCounterDb {
	db := core.NewCCounterDb("parser")

	db.Add(&core.CCounterRec{
		Counter:  &o.rxFrames,
		Name:     "rxFrames",
		Help:     "rx frames seen",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.rxTooShort,
		Name:     "rxTooShort",
		Help:     "rx frame below l2 header",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.rxBadSrcMac,
		Name:     "rxBadSrcMac",
		Help:     "rx source mac zero or multicast",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScERROR})

	db.Add(&core.CCounterRec{
		Counter:  &o.rxEapol,
		Name:     "rxEapol",
		Help:     "rx eapol frames sharded",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.rxDhcp,
		Name:     "rxDhcp",
		Help:     "rx dhcp frames, mab triggers",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.rxOtherType,
		Name:     "rxOtherType",
		Help:     "rx ethertype not consumed",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.rxPortClosed,
		Name:     "rxPortClosed",
		Help:     "rx on an open-mode or down port",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScINFO})

	db.Add(&core.CCounterRec{
		Counter:  &o.ingressDrop,
		Name:     "ingressDrop",
		Help:     "worker ingress queue full",
		Unit:     "pkts",
		DumpZero: false,
		Info:     core.ScERROR})

	return db
}

type Parser struct {
	ctx   *CAuthCtx
	stats ParserStats
	cdb   *core.CCounterDb
}

func NewParser(ctx *CAuthCtx) *Parser {
	o := new(Parser)
	o.ctx = ctx
	o.cdb = NewParserStatsDb(&o.stats)
	return o
}

// OnRxFrame the veth rx handler
func (o *Parser) OnRxFrame(ev *core.FrameEvent) {
	p := ev.Data
	o.stats.rxFrames++
	if len(p) < l2HeaderSize {
		o.stats.rxTooShort++
		return
	}
	var src core.MACKey
	copy(src[:], p[6:12])
	if src.IsZero() || src.IsMulticast() {
		o.stats.rxBadSrcMac++
		return
	}

	offset := 12
	et := binary.BigEndian.Uint16(p[offset : offset+2])
	offset += 2
	vlans := 0
	for et == etherTypeDot1Q || et == etherTypeQinQ {
		if vlans == 2 || len(p) < offset+4 {
			o.stats.rxTooShort++
			return
		}
		et = binary.BigEndian.Uint16(p[offset+2 : offset+4])
		offset += 4
		vlans++
	}

	switch et {
	case eapol.EtherTypeEAPOL:
		if !o.ctx.portConsumes(ev.Port) {
			o.stats.rxPortClosed++
			return
		}
		o.stats.rxEapol++
		b := make([]byte, len(p))
		copy(b, p)
		o.submit(&FrameJob{Port: ev.Port, Mac: src, Data: b})
	case etherTypeIPv4:
		o.classifyIPv4(ev.Port, src, p[offset:])
	default:
		o.stats.rxOtherType++
	}
}

// classifyIPv4 only cares about DHCP client traffic on bypass ports
func (o *Parser) classifyIPv4(port uint16, src core.MACKey, p []byte) {
	if !o.ctx.portMabEnabled(port) {
		o.stats.rxOtherType++
		return
	}
	if len(p) < 20 {
		o.stats.rxTooShort++
		return
	}
	if p[0]>>4 != 4 {
		o.stats.rxOtherType++
		return
	}
	ihl := int(p[0]&0x0f) * 4
	if ihl < 20 || len(p) < ihl+8 {
		o.stats.rxTooShort++
		return
	}
	if p[9] != ipProtoUDP {
		o.stats.rxOtherType++
		return
	}
	sport := binary.BigEndian.Uint16(p[ihl : ihl+2])
	dport := binary.BigEndian.Uint16(p[ihl+2 : ihl+4])
	if sport != dhcpPortCli || dport != dhcpPortSrv {
		o.stats.rxOtherType++
		return
	}
	o.stats.rxDhcp++
	o.submit(&FrameJob{Port: port, Mac: src, MabTrigger: true})
}

func (o *Parser) submit(job *FrameJob) {
	w := o.ctx.workerFor(job.Port, job.Mac)
	if !w.submit(job) {
		o.stats.ingressDrop++
	}
}
