package core

/*DList doubly-linked list embedded inside another object so that list
membership costs no extra allocation.

	type session struct {
		key   uint32
		dlist DList
	}

	func toSession(l *DList) *session {
		var s session
		return (*session)(unsafe.Pointer(uintptr(unsafe.Pointer(l)) - unsafe.Offsetof(s.dlist)))
	}

A head node is initialized with SetSelf() and is not itself an element;
iterate with DListIterHead.
*/
type DList struct {
	next *DList
	prev *DList
}

// SetSelf init the node by pointing to itself
func (o *DList) SetSelf() {
	o.next = o
	o.prev = o
}

func (o *DList) IsSelf() bool {
	return o.next == o && o.prev == o
}

// IsEmpty return true if only the head exists
func (o *DList) IsEmpty() bool {
	return o.IsSelf()
}

// AddLast append obj at the end of the list
func (o *DList) AddLast(obj *DList) {
	obj.next = o
	obj.prev = o.prev
	o.prev.next = obj
	o.prev = obj
}

func (o *DList) Next() *DList {
	return o.next
}

// RemoveNode detach n from the list headed by o
func (o *DList) RemoveNode(n *DList) {
	if n.IsSelf() || n == o {
		return
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	n.SetSelf()
}

// DListIterHead iterator for a list with a head node that is not an element
type DListIterHead struct {
	head *DList
	cur  *DList
}

func (o *DListIterHead) Init(obj *DList) {
	o.cur = obj.Next()
	o.head = obj
}

func (o *DListIterHead) IsCont() bool {
	return o.cur != o.head
}

func (o *DListIterHead) Next() {
	o.cur = o.cur.Next()
}

func (o *DListIterHead) Val() *DList {
	return o.cur
}
