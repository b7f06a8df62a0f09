// Copyright (c) 2024 authd authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package auth

import (
	"bytes"
	"testing"

	"authd/eapol"
)

const fragMax = 1 << 16

func frag(flags byte, total uint32, payload []byte) *eapol.TLSFragment {
	f := eapol.TLSFragment{
		HasLength: flags&0x80 != 0,
		More:      flags&0x40 != 0,
		Start:     flags&0x20 != 0,
		TotalLen:  total,
		Payload:   payload,
	}
	return &f
}

func TestFragUnfragmented(t *testing.T) {
	var b fragBuffer
	done, err := b.push(frag(0x00, 0, []byte{1, 2, 3}), fragMax)
	if err != nil || !done {
		t.Fatalf("done=%v err=%v", done, err)
	}
	if b.active {
		t.Fatalf("buffer should stay inactive")
	}
}

func TestFragRun(t *testing.T) {
	var b fragBuffer
	done, err := b.push(frag(0xe0, 6, []byte{1, 2}), fragMax)
	if err != nil || done {
		t.Fatalf("first: done=%v err=%v", done, err)
	}
	done, err = b.push(frag(0x40, 0, []byte{3, 4}), fragMax)
	if err != nil || done {
		t.Fatalf("middle: done=%v err=%v", done, err)
	}
	done, err = b.push(frag(0x00, 0, []byte{5, 6}), fragMax)
	if err != nil || !done {
		t.Fatalf("final: done=%v err=%v", done, err)
	}
	// completion resets the run
	if b.active || len(b.buf) != 0 {
		t.Fatalf("buffer not reset: %+v", b)
	}
}

func TestFragAccumulates(t *testing.T) {
	var b fragBuffer
	b.push(frag(0xe0, 4, []byte{1, 2}), fragMax)
	if !bytes.Equal(b.buf, []byte{1, 2}) {
		t.Fatalf("buf %v", b.buf)
	}
	b.push(frag(0x40, 0, []byte{3}), fragMax)
	if !bytes.Equal(b.buf, []byte{1, 2, 3}) {
		t.Fatalf("buf %v", b.buf)
	}
}

func TestFragRejects(t *testing.T) {
	start := func() *fragBuffer {
		var b fragBuffer
		if _, err := b.push(frag(0xe0, 8, []byte{1, 2}), fragMax); err != nil {
			t.Fatalf("setup: %v", err)
		}
		return &b
	}

	// first fragment of a run without the length field
	var b fragBuffer
	if _, err := b.push(frag(0x40, 0, []byte{1}), fragMax); err == nil {
		t.Fatalf("more without length accepted")
	}
	// declared total above the reassembly bound
	b = fragBuffer{}
	if _, err := b.push(frag(0xe0, fragMax+1, []byte{1}), fragMax); err == nil {
		t.Fatalf("oversized total accepted")
	}
	// start flag inside an active run
	if _, err := start().push(frag(0x60, 8, []byte{3}), fragMax); err == nil {
		t.Fatalf("restart mid-run accepted")
	}
	// continuation declaring a different total
	if _, err := start().push(frag(0xc0, 9, []byte{3}), fragMax); err == nil {
		t.Fatalf("total mismatch accepted")
	}
	// run overflowing the declared total
	if _, err := start().push(frag(0x40, 0, make([]byte, 7)), fragMax); err == nil {
		t.Fatalf("overflow accepted")
	}
	// final fragment short of the declared total
	if _, err := start().push(frag(0x00, 0, []byte{3}), fragMax); err == nil {
		t.Fatalf("short final accepted")
	}
	// an error consumes nothing
	sb := start()
	sb.push(frag(0x60, 8, []byte{9}), fragMax)
	if !bytes.Equal(sb.buf, []byte{1, 2}) {
		t.Fatalf("rejected fragment mutated the buffer: %v", sb.buf)
	}
}

func TestSessionTable(t *testing.T) {
	tbl := NewSessionTable(2)
	k1 := SessionKey{Port: 1, Mac: mac(1)}
	k2 := SessionKey{Port: 1, Mac: mac(2)}
	k3 := SessionKey{Port: 2, Mac: mac(3)}

	if tbl.Lookup(k1) != nil {
		t.Fatalf("ghost session")
	}
	// non-initial triggers never create
	if _, _, err := tbl.GetOrCreate(k1, TriggerOther); err != ErrNoSuchSession {
		t.Fatalf("non-initial trigger created a session: %v", err)
	}

	s1, created, err := tbl.GetOrCreate(k1, TriggerStart)
	if err != nil || !created || s1 == nil {
		t.Fatalf("create: %v", err)
	}
	if s1.State() != StateIdle {
		t.Fatalf("new session state %d", s1.State())
	}
	if s2, created, _ := tbl.GetOrCreate(k1, TriggerStart); created || s2 != s1 {
		t.Fatalf("lookup created a duplicate")
	}

	if _, _, err = tbl.GetOrCreate(k2, TriggerIdentity); err != nil {
		t.Fatalf("second create: %v", err)
	}
	if _, _, err = tbl.GetOrCreate(k3, TriggerMab); err != ErrSessionTableFull {
		t.Fatalf("bound not enforced: %v", err)
	}

	tbl.Remove(k1)
	if tbl.Lookup(k1) != nil || tbl.Len() != 1 {
		t.Fatalf("remove failed")
	}
	if _, _, err = tbl.GetOrCreate(k3, TriggerMab); err != nil {
		t.Fatalf("create after remove: %v", err)
	}

	var seen []SessionKey
	tbl.ForEach(func(s *Session) { seen = append(seen, s.Key) })
	if len(seen) != 2 || seen[0] != k2 || seen[1] != k3 {
		t.Fatalf("iteration order %v", seen)
	}

	onPort := tbl.SessionsOnPort(2)
	if len(onPort) != 1 || onPort[0].Key != k3 {
		t.Fatalf("port filter %v", onPort)
	}
}
