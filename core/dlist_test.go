package core

import (
	"testing"
	"unsafe"
)

type dlNode struct {
	val   int
	dlist DList
}

func toDlNode(l *DList) *dlNode {
	var n dlNode
	return (*dlNode)(unsafe.Pointer(uintptr(unsafe.Pointer(l)) - unsafe.Offsetof(n.dlist)))
}

func TestDListOrder(t *testing.T) {
	var head DList
	head.SetSelf()
	if !head.IsEmpty() {
		t.Fatalf("fresh head not empty")
	}

	nodes := make([]*dlNode, 5)
	for i := range nodes {
		nodes[i] = &dlNode{val: i}
		head.AddLast(&nodes[i].dlist)
	}

	var got []int
	var it DListIterHead
	for it.Init(&head); it.IsCont(); it.Next() {
		got = append(got, toDlNode(it.Val()).val)
	}
	if len(got) != 5 {
		t.Fatalf("len %d", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("order %v", got)
		}
	}
}

func TestDListRemove(t *testing.T) {
	var head DList
	head.SetSelf()

	nodes := make([]*dlNode, 3)
	for i := range nodes {
		nodes[i] = &dlNode{val: i}
		head.AddLast(&nodes[i].dlist)
	}

	// remove the middle element
	head.RemoveNode(&nodes[1].dlist)
	var got []int
	var it DListIterHead
	for it.Init(&head); it.IsCont(); it.Next() {
		got = append(got, toDlNode(it.Val()).val)
	}
	if len(got) != 2 || got[0] != 0 || got[1] != 2 {
		t.Fatalf("after remove %v", got)
	}

	// a detached node points at itself; removing it again is a no-op
	if !nodes[1].dlist.IsSelf() {
		t.Fatalf("removed node not reset")
	}
	head.RemoveNode(&nodes[1].dlist)

	head.RemoveNode(&nodes[0].dlist)
	head.RemoveNode(&nodes[2].dlist)
	if !head.IsEmpty() {
		t.Fatalf("head not empty after removals")
	}
}
