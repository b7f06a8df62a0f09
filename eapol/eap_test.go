// Copyright (c) 2024 authd authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package eapol

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEapRoundTrip(t *testing.T) {
	in := EapMessage{
		Code:     CodeResponse,
		Id:       7,
		Type:     TypeIdentity,
		TypeData: []byte("alice"),
	}
	b := in.Encode()

	var out EapMessage
	if err := out.DecodeFromBytes(b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Code != in.Code || out.Id != in.Id || out.Type != in.Type {
		t.Fatalf("header mismatch %+v", out)
	}
	if !bytes.Equal(out.TypeData, in.TypeData) {
		t.Fatalf("type data mismatch %v", out.TypeData)
	}
}

func TestEapSuccessNoType(t *testing.T) {
	in := EapMessage{Code: CodeSuccess, Id: 3}
	b := in.Encode()
	if len(b) != 4 {
		t.Fatalf("success should be 4 bytes, got %d", len(b))
	}
	var out EapMessage
	if err := out.DecodeFromBytes(b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Code != CodeSuccess || out.Id != 3 || out.Type != 0 || out.TypeData != nil {
		t.Fatalf("success decoded as %+v", out)
	}
}

func TestEapDecodeMalformed(t *testing.T) {
	resp := func(mutate func(b []byte)) []byte {
		m := EapMessage{Code: CodeResponse, Id: 1, Type: TypeMD5, TypeData: []byte{1, 2, 3}}
		b := m.Encode()
		if mutate != nil {
			mutate(b)
		}
		return b
	}
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", []byte{2, 1, 0}},
		{"length below header", resp(func(b []byte) { binary.BigEndian.PutUint16(b[2:4], 3) })},
		{"length past buffer", resp(func(b []byte) { binary.BigEndian.PutUint16(b[2:4], 200) })},
		{"unknown code", resp(func(b []byte) { b[0] = 9 })},
		{"success with payload", func() []byte {
			b := (&EapMessage{Code: CodeSuccess, Id: 1}).Encode()
			binary.BigEndian.PutUint16(b[2:4], 6)
			return append(b, 0, 0)
		}()},
		{"response without type", []byte{2, 1, 0, 4}},
	}
	for _, tc := range tests {
		var m EapMessage
		if err := m.DecodeFromBytes(tc.data); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestEapLengthGoverns(t *testing.T) {
	// trailing bytes beyond the embedded length are not type data
	m := EapMessage{Code: CodeResponse, Id: 1, Type: TypeIdentity, TypeData: []byte("bob")}
	b := append(m.Encode(), 0xde, 0xad)

	var out EapMessage
	if err := out.DecodeFromBytes(b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(out.TypeData) != "bob" {
		t.Fatalf("type data %q", out.TypeData)
	}
}

func TestParseTLSFragment(t *testing.T) {
	// L+M+S with total length
	d := []byte{0xe0, 0x00, 0x00, 0x01, 0x00}
	d = append(d, make([]byte, 100)...)
	f, err := ParseTLSFragment(d)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !f.HasLength || !f.More || !f.Start {
		t.Fatalf("flags %+v", f)
	}
	if f.TotalLen != 256 || len(f.Payload) != 100 {
		t.Fatalf("length %d payload %d", f.TotalLen, len(f.Payload))
	}

	// continuation, no flags
	f, err = ParseTLSFragment(append([]byte{0x00}, make([]byte, 50)...))
	if err != nil {
		t.Fatalf("parse continuation: %v", err)
	}
	if f.HasLength || f.More || f.Start || len(f.Payload) != 50 {
		t.Fatalf("continuation %+v", f)
	}

	// empty blob
	if _, err = ParseTLSFragment(nil); err == nil {
		t.Fatalf("empty blob accepted")
	}
	// L flag without the length field
	if _, err = ParseTLSFragment([]byte{0x80, 0x00}); err == nil {
		t.Fatalf("truncated length accepted")
	}
	// payload larger than the declared total
	bad := []byte{0x80, 0x00, 0x00, 0x00, 0x02, 1, 2, 3}
	if _, err = ParseTLSFragment(bad); err == nil {
		t.Fatalf("oversized fragment accepted")
	}
}

func FuzzDecodeEap(f *testing.F) {
	f.Add([]byte{2, 1, 0, 10, 1, 'a', 'l', 'i', 'c', 'e'})
	f.Add([]byte{3, 1, 0, 4})
	f.Add([]byte{})
	f.Fuzz(func(t *testing.T, data []byte) {
		var m EapMessage
		if err := m.DecodeFromBytes(data); err != nil {
			return
		}
		out := m.Encode()
		var m2 EapMessage
		if err := m2.DecodeFromBytes(out); err != nil {
			t.Fatalf("re-decode of %v failed: %v", out, err)
		}
	})
}
