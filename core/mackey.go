package core

import (
	"fmt"
	"net"
)

type MACKey [6]byte // mac key

func (key *MACKey) Clear() {
	*key = MACKey{}
}

func (key *MACKey) IsZero() bool {
	return *key == MACKey{}
}

func (key *MACKey) IsBroadcast() bool {
	return *key == MACKey{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
}

func (key *MACKey) IsMulticast() bool {
	return key[0]&0x01 == 0x01
}

func (key MACKey) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		key[0], key[1], key[2], key[3], key[4], key[5])
}

func (key MACKey) HwAddr() net.HardwareAddr {
	return net.HardwareAddr(key[:])
}

func (key *MACKey) SetHwAddr(a net.HardwareAddr) {
	copy(key[:], a[0:6])
}
