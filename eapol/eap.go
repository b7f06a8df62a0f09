package eapol

import (
	"encoding/binary"
	"errors"
)

/* EAP message codec. Codes and types are closed enumerations; anything
outside them is rejected at decode, never defaulted. */

type EapCode uint8

const (
	CodeRequest  EapCode = 1
	CodeResponse EapCode = 2
	CodeSuccess  EapCode = 3
	CodeFailure  EapCode = 4
)

func (c EapCode) String() string {
	switch c {
	case CodeRequest:
		return "request"
	case CodeResponse:
		return "response"
	case CodeSuccess:
		return "success"
	case CodeFailure:
		return "failure"
	}
	return "unknown"
}

type EapType uint8

const (
	TypeIdentity EapType = 1
	TypeNak      EapType = 3
	TypeMD5      EapType = 4
	TypeTLS      EapType = 13

	// TypeMab is the MAC-authentication-bypass pseudo method. It never
	// appears on the wire; sessions created from a MAB trigger carry it
	// as their selected method.
	TypeMab EapType = 255
)

const (
	eapHeaderSize = 4
	// code+id+length+type
	eapMinTypedSize = 5
)

// EapMessage a decoded EAP packet carried inside an EAPOL body
type EapMessage struct {
	Code     EapCode
	Id       uint8
	Type     EapType
	TypeData []byte
}

var ErrMalformedEap = errors.New("malformed eap message")

// DecodeFromBytes parse p into o. The embedded length field governs;
// it must fit inside p and cover the mandatory fields for the code.
func (o *EapMessage) DecodeFromBytes(p []byte) error {
	if len(p) < eapHeaderSize {
		return ErrMalformedEap
	}
	length := int(binary.BigEndian.Uint16(p[2:4]))
	if length < eapHeaderSize || length > len(p) {
		return ErrMalformedEap
	}
	code := EapCode(p[0])
	switch code {
	case CodeSuccess, CodeFailure:
		if length != eapHeaderSize {
			return ErrMalformedEap
		}
		o.Code = code
		o.Id = p[1]
		o.Type = 0
		o.TypeData = nil
		return nil
	case CodeRequest, CodeResponse:
		if length < eapMinTypedSize {
			return ErrMalformedEap
		}
		o.Code = code
		o.Id = p[1]
		o.Type = EapType(p[4])
		o.TypeData = nil
		if length > eapMinTypedSize {
			o.TypeData = p[eapMinTypedSize:length]
		}
		return nil
	}
	return ErrMalformedEap
}

// Encode serialize o; the length field is recomputed from the content.
func (o *EapMessage) Encode() []byte {
	if o.Code == CodeSuccess || o.Code == CodeFailure {
		b := make([]byte, eapHeaderSize)
		b[0] = uint8(o.Code)
		b[1] = o.Id
		binary.BigEndian.PutUint16(b[2:4], eapHeaderSize)
		return b
	}
	length := eapMinTypedSize + len(o.TypeData)
	b := make([]byte, length)
	b[0] = uint8(o.Code)
	b[1] = o.Id
	binary.BigEndian.PutUint16(b[2:4], uint16(length))
	b[4] = uint8(o.Type)
	copy(b[eapMinTypedSize:], o.TypeData)
	return b
}

// KnownMethod reports whether t is a method this authenticator relays.
func KnownMethod(t EapType) bool {
	switch t {
	case TypeIdentity, TypeNak, TypeMD5, TypeTLS:
		return true
	}
	return false
}

/* EAP-TLS fragment header: flags byte, then a 4-byte total length when
the L flag is set. Reassembly ordering lives with the session; here
only the framing of a single fragment is validated. */

const (
	tlsFlagLength = 0x80
	tlsFlagMore   = 0x40
	tlsFlagStart  = 0x20
)

type TLSFragment struct {
	HasLength bool
	More      bool
	Start     bool
	TotalLen  uint32
	Payload   []byte
}

// ParseTLSFragment validate and split one EAP-TLS type-data blob.
func ParseTLSFragment(d []byte) (TLSFragment, error) {
	var f TLSFragment
	if len(d) < 1 {
		return f, ErrMalformedEap
	}
	flags := d[0]
	f.More = flags&tlsFlagMore != 0
	f.Start = flags&tlsFlagStart != 0
	f.HasLength = flags&tlsFlagLength != 0
	payload := d[1:]
	if f.HasLength {
		if len(payload) < 4 {
			return f, ErrMalformedEap
		}
		f.TotalLen = binary.BigEndian.Uint32(payload[0:4])
		payload = payload[4:]
		if uint32(len(payload)) > f.TotalLen {
			// fragment larger than the declared message
			return f, ErrMalformedEap
		}
	}
	f.Payload = payload
	return f, nil
}
