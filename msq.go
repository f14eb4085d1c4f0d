// Copyright 2026 The go-cds Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cds

import (
	"sync"
	"sync/atomic"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// arenaChunkSize is the number of nodes per arena chunk. Chosen so a chunk
// is a handful of cache lines' worth of allocation events, not so small
// that growth happens every few pushes.
const arenaChunkSize = 1024

// msqNode is one link in an MSQ chain. Its address, in the TaggedPointer
// sense, is its 1-based slot index in the owning queue's arena rather than
// a raw memory address: see arena below.
type msqNode[T any] struct {
	value T
	next  AtomicTaggedPointer
}

// arena is an append-only, chunked node pool addressed by a monotonically
// increasing slot index instead of a pointer.
//
// Packing a live Go pointer into the 48-bit address field of a
// TaggedPointer would hide it from the garbage collector, and classic
// malloc/free-style node reuse is exactly the unsafe-to-the-GC pattern
// the original library relies on. An arena sidesteps both problems: slots
// are never reused, so the address field is just an opaque, GC-irrelevant
// index, and the backing chunks stay referenced for the arena's lifetime
// so the collector never has reason to reclaim a live node.
//
// Growth (appending a new chunk) takes growMu; this happens once per
// arenaChunkSize pushes and is the only blocking moment in an otherwise
// lock-free allocator. Lookups and the common allocation path never block.
type arena[T any] struct {
	header atomic.Pointer[arenaHeader[T]]
	growMu sync.Mutex
	next   atomix.Uint64
}

type arenaHeader[T any] struct {
	chunks []*[arenaChunkSize]msqNode[T]
}

// alloc reserves the next slot and returns its 1-based index together with
// a pointer to its node. Slot 0 is reserved to mean "no node" so it can
// double as the null address in a TaggedPointer.
func (a *arena[T]) alloc() (uint64, *msqNode[T]) {
	idx := a.next.AddAcqRel(1) - 1
	chunkIdx := idx / arenaChunkSize
	offset := idx % arenaChunkSize

	hdr := a.header.Load()
	for hdr == nil || uint64(len(hdr.chunks)) <= chunkIdx {
		a.growMu.Lock()
		cur := a.header.Load()
		for cur == nil || uint64(len(cur.chunks)) <= chunkIdx {
			chunks := make([]*[arenaChunkSize]msqNode[T], 0, len(cur.chunksOrNil())+1)
			if cur != nil {
				chunks = append(chunks, cur.chunks...)
			}
			chunks = append(chunks, new([arenaChunkSize]msqNode[T]))
			next := &arenaHeader[T]{chunks: chunks}
			a.header.Store(next)
			cur = next
		}
		a.growMu.Unlock()
		hdr = a.header.Load()
	}
	return idx + 1, &hdr.chunks[chunkIdx][offset]
}

// chunksOrNil lets alloc size its append hint without a nil check at the
// call site above.
func (h *arenaHeader[T]) chunksOrNil() []*[arenaChunkSize]msqNode[T] {
	if h == nil {
		return nil
	}
	return h.chunks
}

// node returns the node at slot. slot must be a value previously returned
// by alloc.
func (a *arena[T]) node(slot uint64) *msqNode[T] {
	idx := slot - 1
	hdr := a.header.Load()
	return &hdr.chunks[idx/arenaChunkSize][idx%arenaChunkSize]
}

// MSQ is a Michael-Scott lock-free MPMC FIFO queue. The queue always
// holds at least one node (a sentinel); head points at the sentinel, tail
// points at the last node unless a push is in flight, in which case
// consumers help advance it before dequeuing.
type MSQ[T any] struct {
	_     pad
	head  AtomicTaggedPointer
	_     pad
	tail  AtomicTaggedPointer
	_     pad
	arena arena[T]
}

// NewMSQ creates an empty MSQ with a single sentinel node installed.
func NewMSQ[T any]() *MSQ[T] {
	q := &MSQ[T]{}
	slot, node := q.arena.alloc()
	node.next.Store(NewTaggedPointer(0, 0))
	q.head.Store(NewTaggedPointer(slot, 0))
	q.tail.Store(NewTaggedPointer(slot, 0))
	return q
}

// Push enqueues value, retrying until it links in. Lock-free: a stuck
// thread never prevents another from making progress.
func (q *MSQ[T]) Push(value T) {
	slot, node := q.arena.alloc()
	node.value = value
	node.next.Store(NewTaggedPointer(0, 0))

	sw := spin.Wait{}
	for {
		t := q.tail.Load()
		tNode := q.arena.node(t.Addr())
		x := tNode.next.Load()
		if t != q.tail.Load() {
			sw.Once()
			continue
		}
		if x.Addr() == 0 {
			next := NewTaggedPointer(slot, x.NextTag())
			if tNode.next.CompareAndSwap(x, next) {
				q.tail.CompareAndSwap(t, NewTaggedPointer(slot, t.NextTag()))
				return
			}
		} else {
			q.tail.CompareAndSwap(t, NewTaggedPointer(x.Addr(), t.NextTag()))
		}
		sw.Once()
	}
}

// Put implements Backend[T]; MSQ.Push never fails.
func (q *MSQ[T]) Put(element T) bool {
	q.Push(element)
	return true
}

// TryPush is a single-shot push attempt, failing rather than retrying if
// tail does not carry expectedTailTag or the linking CAS loses a race.
func (q *MSQ[T]) TryPush(value T, expectedTailTag uint16) bool {
	slot, node := q.arena.alloc()
	node.value = value
	node.next.Store(NewTaggedPointer(0, 0))

	t := q.tail.Load()
	if t.Tag() != expectedTailTag {
		return false
	}
	tNode := q.arena.node(t.Addr())
	x := tNode.next.Load()
	if t != q.tail.Load() {
		return false
	}
	if x.Addr() != 0 {
		q.tail.CompareAndSwap(t, NewTaggedPointer(x.Addr(), t.NextTag()))
		return false
	}
	next := NewTaggedPointer(slot, x.NextTag())
	if !tNode.next.CompareAndSwap(x, next) {
		return false
	}
	q.tail.CompareAndSwap(t, NewTaggedPointer(slot, t.NextTag()))
	return true
}

// pop is the shared implementation behind Get and Pop: state, if non-nil,
// receives the head tag observed immediately before a successful pop, or
// the tail tag at the moment the queue was found empty.
func (q *MSQ[T]) pop(out *T, state *uint64) bool {
	sw := spin.Wait{}
	for {
		h := q.head.Load()
		t := q.tail.Load()
		hNode := q.arena.node(h.Addr())
		x := hNode.next.Load()
		if h != q.head.Load() {
			sw.Once()
			continue
		}
		if h.Addr() == t.Addr() {
			if x.Addr() == 0 {
				if state != nil {
					*state = uint64(t.Tag())
				}
				return false
			}
			q.tail.CompareAndSwap(t, NewTaggedPointer(x.Addr(), t.NextTag()))
			sw.Once()
			continue
		}
		xNode := q.arena.node(x.Addr())
		val := xNode.value
		if q.head.CompareAndSwap(h, NewTaggedPointer(x.Addr(), h.NextTag())) {
			*out = val
			if state != nil {
				*state = uint64(h.Tag())
			}
			return true
		}
		sw.Once()
	}
}

// Get dequeues a value without reporting tail/head state.
func (q *MSQ[T]) Get(out *T) bool {
	return q.pop(out, nil)
}

// Pop dequeues a value, recording the observed state token: the head tag
// (pre-increment) on success, or the tail tag if the queue was empty.
func (q *MSQ[T]) Pop(out *T, state *uint64) bool {
	return q.pop(out, state)
}

// TryPop is a single-shot pop attempt parameterized by an expected head
// tag; it never retries and reports which of Success, EmptyQueue, or
// Failure occurred.
func (q *MSQ[T]) TryPop(out *T, expectedHeadTag uint16, state *uint64) PopResult {
	h := q.head.Load()
	if h.Tag() != expectedHeadTag {
		return Failure
	}
	t := q.tail.Load()
	hNode := q.arena.node(h.Addr())
	x := hNode.next.Load()
	if h != q.head.Load() {
		return Failure
	}
	if h.Addr() == t.Addr() {
		if x.Addr() == 0 {
			if state != nil {
				*state = uint64(t.Tag())
			}
			return EmptyQueue
		}
		q.tail.CompareAndSwap(t, NewTaggedPointer(x.Addr(), t.NextTag()))
		return Failure
	}
	xNode := q.arena.node(x.Addr())
	val := xNode.value
	if !q.head.CompareAndSwap(h, NewTaggedPointer(x.Addr(), h.NextTag())) {
		return Failure
	}
	*out = val
	if state != nil {
		*state = uint64(h.Tag())
	}
	return Success
}

// TailState returns the current tail tag, used by LLDD to certify that no
// push raced a scan between two observations.
func (q *MSQ[T]) TailState() uint64 {
	return uint64(q.tail.Load().Tag())
}

// Empty reports a stable snapshot: head and tail point at the same node
// and that node has no successor.
func (q *MSQ[T]) Empty() bool {
	sw := spin.Wait{}
	for {
		h := q.head.Load()
		t := q.tail.Load()
		hNode := q.arena.node(h.Addr())
		x := hNode.next.Load()
		if h == q.head.Load() && t == q.tail.Load() {
			return h.Addr() == t.Addr() && x.Addr() == 0
		}
		sw.Once()
	}
}
