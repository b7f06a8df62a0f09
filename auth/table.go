// Copyright (c) 2024 authd authors.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package auth

import (
	"unsafe"

	"authd/core"
)

/* SessionTable owns every Session of one worker: map for lookup, an
intrusive dlist for iteration in creation order. A key lands on
exactly one worker (sharded rx), so the table needs no locking. */

func toSession(l *core.DList) *Session {
	var s Session
	return (*Session)(unsafe.Pointer(uintptr(unsafe.Pointer(l)) - unsafe.Offsetof(s.dlist)))
}

type SessionTable struct {
	m           map[SessionKey]*Session
	head        core.DList
	maxSessions uint32
}

func NewSessionTable(maxSessions uint32) *SessionTable {
	o := new(SessionTable)
	o.m = make(map[SessionKey]*Session)
	o.head.SetSelf()
	o.maxSessions = maxSessions
	return o
}

func (o *SessionTable) Len() int {
	return len(o.m)
}

func (o *SessionTable) Lookup(key SessionKey) *Session {
	return o.m[key]
}

// GetOrCreate returns the session for key, creating it only when the
// trigger is an initial one. Unsolicited non-initial frames for an
// unknown key never spawn state.
func (o *SessionTable) GetOrCreate(key SessionKey, trigger Trigger) (s *Session, created bool, err error) {
	if s = o.m[key]; s != nil {
		return s, false, nil
	}
	switch trigger {
	case TriggerStart, TriggerIdentity, TriggerMab:
	default:
		return nil, false, ErrNoSuchSession
	}
	if uint32(len(o.m)) >= o.maxSessions {
		return nil, false, ErrSessionTableFull
	}
	s = new(Session)
	s.Key = key
	s.state = StateIdle
	o.m[key] = s
	o.head.AddLast(&s.dlist)
	return s, true, nil
}

func (o *SessionTable) Remove(key SessionKey) {
	s := o.m[key]
	if s == nil {
		return
	}
	delete(o.m, key)
	o.head.RemoveNode(&s.dlist)
}

// SessionsOnPort collects the sessions living on port; removal is the
// caller's, session teardown has side effects the table does not own
func (o *SessionTable) SessionsOnPort(port uint16) []*Session {
	var r []*Session
	var it core.DListIterHead
	for it.Init(&o.head); it.IsCont(); it.Next() {
		s := toSession(it.Val())
		if s.Key.Port == port {
			r = append(r, s)
		}
	}
	return r
}

// ForEach visits sessions in creation order
func (o *SessionTable) ForEach(f func(s *Session)) {
	var it core.DListIterHead
	for it.Init(&o.head); it.IsCont(); it.Next() {
		f(toSession(it.Val()))
	}
}
