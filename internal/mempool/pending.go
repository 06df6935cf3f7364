package mempool

import (
	"sync/atomic"

	"github.com/samcharles93/strata/internal/native"
)

// freeList is an unbounded lock-free stack of device regions awaiting
// release. push is safe from any goroutine, including finalizers, and
// never blocks. takeAll atomically detaches the whole chain, transferring
// ownership of every node to the caller.
type freeList struct {
	head atomic.Pointer[freeNode]
}

type freeNode struct {
	buf   native.DeviceBuffer
	bytes int64
	next  *freeNode
}

func (l *freeList) push(buf native.DeviceBuffer, bytes int64) {
	n := &freeNode{buf: buf, bytes: bytes}
	for {
		old := l.head.Load()
		n.next = old
		if l.head.CompareAndSwap(old, n) {
			return
		}
	}
}

func (l *freeList) takeAll() *freeNode {
	for {
		old := l.head.Load()
		if old == nil {
			return nil
		}
		if l.head.CompareAndSwap(old, nil) {
			return old
		}
	}
}

// pinList is the same lock-free stack for pinned host buffers awaiting
// unregistration.
type pinList struct {
	head atomic.Pointer[pinNode]
}

type pinNode struct {
	h    *PinnedHost
	next *pinNode
}

func (l *pinList) push(h *PinnedHost) {
	n := &pinNode{h: h}
	for {
		old := l.head.Load()
		n.next = old
		if l.head.CompareAndSwap(old, n) {
			return
		}
	}
}

func (l *pinList) takeAll() *pinNode {
	for {
		old := l.head.Load()
		if old == nil {
			return nil
		}
		if l.head.CompareAndSwap(old, nil) {
			return old
		}
	}
}
