// Copyright (c) 2024 authd authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package eapol

import (
	"encoding/binary"
	"errors"

	"authd/core"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

/* EAPOL frame codec. Every length field is validated against the bytes
actually present before it is used; the decoder never allocates
according to a claim it has not checked. */

const (
	EtherTypeEAPOL = 0x888e

	MaxEapolVersion = 3

	l2HeaderSize    = 14
	eapolHeaderSize = 4
	minFrameSize    = l2HeaderSize + eapolHeaderSize
)

// PAEGroupAddress the well-known 802.1X destination MAC
var PAEGroupAddress = core.MACKey{0x01, 0x80, 0xc2, 0x00, 0x00, 0x03}

type PacketType uint8

const (
	PacketTypeEAP      PacketType = 0
	PacketTypeStart    PacketType = 1
	PacketTypeLogoff   PacketType = 2
	PacketTypeKey      PacketType = 3
	PacketTypeASFAlert PacketType = 4
)

func (t PacketType) String() string {
	switch t {
	case PacketTypeEAP:
		return "eap"
	case PacketTypeStart:
		return "start"
	case PacketTypeLogoff:
		return "logoff"
	case PacketTypeKey:
		return "key"
	case PacketTypeASFAlert:
		return "asf-alert"
	}
	return "unknown"
}

var ErrMalformedFrame = errors.New("malformed eapol frame")

// Frame a decoded Ethernet-encapsulated EAPOL frame
type Frame struct {
	Dst        core.MACKey
	Src        core.MACKey
	Vlans      [2]uint32 // tpid<<16 | tci, outer first
	VlanCount  uint8
	Version    uint8
	PacketType PacketType
	Body       []byte
}

// DecodeFromBytes parse p into o. Body aliases p; the caller owns p for
// the lifetime of the frame.
func (o *Frame) DecodeFromBytes(p []byte) error {
	if len(p) < minFrameSize {
		return ErrMalformedFrame
	}
	copy(o.Dst[:], p[0:6])
	copy(o.Src[:], p[6:12])

	offset := 12
	o.VlanCount = 0
	nextType := binary.BigEndian.Uint16(p[offset : offset+2])
	offset += 2
	for nextType == uint16(layers.EthernetTypeDot1Q) || nextType == uint16(layers.EthernetTypeQinQ) {
		if o.VlanCount == 2 {
			return ErrMalformedFrame
		}
		if len(p) < offset+4 {
			return ErrMalformedFrame
		}
		tci := binary.BigEndian.Uint16(p[offset : offset+2])
		o.Vlans[o.VlanCount] = uint32(nextType)<<16 | uint32(tci)
		o.VlanCount++
		nextType = binary.BigEndian.Uint16(p[offset+2 : offset+4])
		offset += 4
	}
	if nextType != EtherTypeEAPOL {
		return ErrMalformedFrame
	}
	if len(p) < offset+eapolHeaderSize {
		return ErrMalformedFrame
	}
	o.Version = p[offset]
	if o.Version == 0 || o.Version > MaxEapolVersion {
		return ErrMalformedFrame
	}
	ptype := PacketType(p[offset+1])
	if ptype > PacketTypeASFAlert {
		return ErrMalformedFrame
	}
	o.PacketType = ptype
	bodyLen := int(binary.BigEndian.Uint16(p[offset+2 : offset+4]))
	offset += eapolHeaderSize
	if bodyLen > len(p)-offset {
		// the declared body overruns the frame; never truncate-read
		return ErrMalformedFrame
	}
	// trailing bytes beyond the declared body are Ethernet pad
	o.Body = nil
	if bodyLen > 0 {
		o.Body = p[offset : offset+bodyLen]
	}
	return nil
}

// Encode serialize o; the EAPOL length is recomputed from Body.
func (o *Frame) Encode() []byte {
	sl := make([]gopacket.SerializableLayer, 0, 4)
	eth := &layers.Ethernet{
		DstMAC:       o.Dst.HwAddr(),
		SrcMAC:       o.Src.HwAddr(),
		EthernetType: layers.EthernetTypeEAPOL,
	}
	if o.VlanCount > 0 {
		eth.EthernetType = layers.EthernetType(o.Vlans[0] >> 16)
	}
	sl = append(sl, eth)
	for i := 0; i < int(o.VlanCount); i++ {
		tci := uint16(o.Vlans[i] & 0xffff)
		next := layers.EthernetTypeEAPOL
		if i+1 < int(o.VlanCount) {
			next = layers.EthernetType(o.Vlans[i+1] >> 16)
		}
		sl = append(sl, &layers.Dot1Q{
			Priority:       uint8(tci >> 13),
			DropEligible:   tci&0x1000 != 0,
			VLANIdentifier: tci & 0x0fff,
			Type:           next,
		})
	}
	sl = append(sl, &layers.EAPOL{
		Version: o.Version,
		Type:    layers.EAPOLType(o.PacketType),
		Length:  uint16(len(o.Body)),
	})
	if len(o.Body) > 0 {
		sl = append(sl, gopacket.Payload(o.Body))
	}
	buf := gopacket.NewSerializeBuffer()
	gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, sl...)
	return buf.Bytes()
}
