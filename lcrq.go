// Copyright 2026 The go-cds Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cds

import (
	"sync/atomic"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

const (
	// lcrqTagMask flags a ring cell index as unsafe, or a segment tail as
	// closed, depending on which field it is read from.
	lcrqTagMask = uint64(1) << 63
	// lcrqIndexMask isolates the index/counter bits.
	lcrqIndexMask = ^lcrqTagMask
	// lcrqCloseAttempts bounds the CAS-based close attempts before
	// falling back to an unconditional set.
	lcrqCloseAttempts = 10
	// lcrqRetrySample is how often pop re-samples the segment's tail
	// while spinning on an empty cell.
	lcrqRetrySample = 1 << 10
	// lcrqRetryGiveUp is the retry count after which pop gives up waiting
	// on a producer, advances the empty cell to its next round, and closes
	// the segment if its tail counter exceeds the ring size.
	lcrqRetryGiveUp = 200000
)

// lcrqIndex returns index with the tag bit masked off.
func lcrqIndex(index uint64) uint64 { return index & lcrqIndexMask }

// lcrqTag reports whether index's tag bit is set.
func lcrqTag(index uint64) bool { return index&lcrqTagMask != 0 }

// lcrqSetTag ORs the tag bit into index.
func lcrqSetTag(index uint64) uint64 { return index | lcrqTagMask }

// lcrqSetTagIf conditionally ORs the tag bit into index.
func lcrqSetTagIf(index uint64, tag bool) uint64 {
	if tag {
		return lcrqSetTag(index)
	}
	return index
}

// lcrqCloseTail sets the closed bit on a segment's tail counter. The
// original implementation uses a locked bit-test-and-set instruction for
// this fast path; a portable rewrite uses a CAS loop instead, reporting
// whether this call is the one that flipped the bit from clear to set.
func lcrqCloseTail(tail *atomix.Uint64) bool {
	for {
		t := tail.LoadAcquire()
		if lcrqTag(t) {
			return false
		}
		if tail.CompareAndSwapAcqRel(t, t|lcrqTagMask) {
			return true
		}
	}
}

// ringSegment is a fixed-size, power-of-two MPMC ring. Producers and
// consumers race on a single 128-bit CAS per cell; the top bit of tail
// marks the segment closed (no more slots will be handed out), and the
// top bit of a cell's index marks it unsafe (a slow producer may have
// abandoned it; consumers must not wait on it).
type ringSegment struct {
	_     pad
	head  atomix.Uint64
	_     pad
	tail  atomix.Uint64
	_     pad
	next  atomic.Pointer[ringSegment]
	_     pad
	cells []ringCell
	size  uint64
	mask  uint64
	empty uint64
}

type ringCell struct {
	slot atomix.Uint128 // lo=index, hi=value
	_    [64 - 16]byte
}

func newRingSegment(sizePower uint, empty uint64) *ringSegment {
	size := uint64(1) << sizePower
	s := &ringSegment{
		cells: make([]ringCell, size),
		size:  size,
		mask:  size - 1,
		empty: empty,
	}
	for i := uint64(0); i < size; i++ {
		s.cells[i].slot.StoreRelaxed(i, empty)
	}
	return s
}

func (s *ringSegment) cell(index uint64) *ringCell {
	return &s.cells[index&s.mask]
}

// fixState raises tail to head when head has run past it, which happens
// when pops take tickets on an empty segment and so bump head without a
// matching push. It does nothing while head <= tail.
func (s *ringSegment) fixState() {
	for {
		t := s.tail.LoadRelaxed()
		h := s.head.LoadRelaxed()
		if s.tail.LoadRelaxed() != t {
			continue
		}
		if h <= t || s.tail.CompareAndSwapAcqRel(t, h) {
			return
		}
	}
}

// LCRQ is a Linked Concurrent Ring Queue: a singly-linked chain of ring
// segments, each a bounded MPMC ring with a closable tail. When a segment
// fills or closes, producers link a fresh one. A single reserved EMPTY
// value distinguishes "no element" from a stored element; callers must
// never push it.
//
// Reference: Fast Concurrent Queues for x86 Processors, Morrison and
// Afek, PPoPP 2013.
type LCRQ struct {
	_         pad
	head      atomic.Pointer[ringSegment]
	_         pad
	tail      atomic.Pointer[ringSegment]
	sizePower uint
	empty     uint64
}

// defaultRingSizePower is the spec's default ring-size exponent (2^10 =
// 1024 cells per segment).
const defaultRingSizePower = 10

// RingSizePower rounds minCells up to the next power of 2 and returns its
// exponent, for callers who'd rather size a segment by cell count than by
// exponent directly.
func RingSizePower(minCells int) uint {
	n := uint64(roundToPow2(minCells))
	power := uint(0)
	for uint64(1)<<power < n {
		power++
	}
	return power
}

// NewLCRQDefault creates an empty LCRQ with the spec's default segment
// size (1024 cells) and EMPTY sentinel.
func NewLCRQDefault() *LCRQ {
	return NewLCRQ(defaultRingSizePower, 0)
}

// NewLCRQ creates an empty LCRQ. sizePower is the log2 of each segment's
// ring size (spec default 10, i.e. 1024 cells); empty is the reserved
// sentinel value (spec default 0).
func NewLCRQ(sizePower uint, empty uint64) *LCRQ {
	seg := newRingSegment(sizePower, empty)
	q := &LCRQ{sizePower: sizePower, empty: empty}
	q.head.Store(seg)
	q.tail.Store(seg)
	return q
}

// Push enqueues v, linking a new segment if the current tail segment is
// full or closed. v must not equal the queue's EMPTY sentinel.
func (q *LCRQ) Push(v uint64) bool {
	closeAttempts := 0
	sw := spin.Wait{}

	for {
		queue := q.tail.Load()

		if next := queue.next.Load(); next != nil {
			q.tail.CompareAndSwap(queue, next)
			continue
		}

		tail := queue.tail.AddAcqRel(1) - 1

		if lcrqTag(tail) {
			if q.addSegment(queue, v) {
				return true
			}
			continue
		}

		cell := queue.cell(tail)
		index, value := cell.slot.LoadRelaxed()

		if value == queue.empty && lcrqIndex(index) <= tail &&
			(!lcrqTag(index) || queue.head.LoadAcquire() < tail) {
			if cell.slot.CompareAndSwapAcqRel(index, value, tail, v) {
				return true
			}
		}

		head := queue.head.LoadRelaxed()
		if tail-head > queue.size {
			tail++
			closed := false
			if closeAttempts < lcrqCloseAttempts {
				closeAttempts++
				closed = queue.tail.CompareAndSwapAcqRel(tail, tail|lcrqTagMask)
			} else {
				closed = lcrqCloseTail(&queue.tail)
			}
			if closed {
				if q.addSegment(queue, v) {
					return true
				}
				continue
			}
		}
		sw.Once()
	}
}

// addSegment links a fresh ring segment after queue, pre-populating its
// cell 0 with v so the push that triggered the link completes without an
// extra round trip. Returns false if another thread linked first, in
// which case the caller retries push from scratch.
func (q *LCRQ) addSegment(queue *ringSegment, v uint64) bool {
	next := newRingSegment(q.sizePower, q.empty)
	next.tail.StoreRelaxed(1)
	next.cell(0).slot.StoreRelaxed(0, v)

	if queue.next.CompareAndSwap(nil, next) {
		q.tail.CompareAndSwap(queue, next)
		return true
	}
	return false
}

// Put is Push, satisfying Backend[uint64] for use as an LLDD backend.
func (q *LCRQ) Put(element uint64) bool {
	return q.Push(element)
}

// Get dequeues a value from the oldest non-empty segment without
// reporting tail state.
func (q *LCRQ) Get(out *uint64) bool {
	return q.pop(out, nil)
}

// Pop dequeues a value, recording the tail state observed at the moment
// of the attempt (success or not). Satisfies Backend[uint64].
func (q *LCRQ) Pop(out *uint64, state *uint64) bool {
	return q.pop(out, state)
}

// TailState returns a token summarizing the current tail segment's tail
// counter, used by LLDD's emptiness certificate to detect a concurrent
// push racing a scan.
func (q *LCRQ) TailState() uint64 {
	seg := q.tail.Load()
	return lcrqIndex(seg.tail.LoadAcquire())
}

// Empty reports a best-effort snapshot: the head and tail segment are the
// same segment and its head counter has caught up to its tail counter.
func (q *LCRQ) Empty() bool {
	head := q.head.Load()
	tail := q.tail.Load()
	if head != tail {
		return false
	}
	return head.head.LoadAcquire() >= lcrqIndex(tail.tail.LoadAcquire())
}

// pop is the shared implementation behind Get and Pop.
func (q *LCRQ) pop(out *uint64, state *uint64) bool {
	for {
		queue := q.head.Load()
		head := queue.head.AddAcqRel(1) - 1
		cell := queue.cell(head)

		var tail uint64
		retry := 0

	cellLoop:
		for {
			index, value := cell.slot.LoadRelaxed()
			idx := lcrqIndex(index)
			unsafe := lcrqTag(index)

			if idx > head {
				break cellLoop
			}

			if value != queue.empty {
				if idx == head {
					if cell.slot.CompareAndSwapAcqRel(index, value, lcrqSetTagIf(head+queue.size, unsafe), queue.empty) {
						*out = value
						if state != nil {
							*state = lcrqIndex(queue.tail.LoadRelaxed())
						}
						return true
					}
					continue
				}
				if cell.slot.CompareAndSwapAcqRel(index, value, lcrqSetTag(idx), value) {
					break cellLoop
				}
				continue
			}

			if retry&(lcrqRetrySample-1) == 0 {
				tail = queue.tail.LoadRelaxed()
			}

			desired := lcrqSetTagIf(head+queue.size, unsafe)
			switch {
			case unsafe:
				if cell.slot.CompareAndSwapAcqRel(index, value, desired, queue.empty) {
					break cellLoop
				}
			case tail < head+1 || retry > lcrqRetryGiveUp || lcrqTag(tail):
				if cell.slot.CompareAndSwapAcqRel(index, value, desired, queue.empty) {
					if retry > lcrqRetryGiveUp && tail > queue.size {
						lcrqCloseTail(&queue.tail)
					}
					break cellLoop
				}
			default:
				retry++
			}
		}

		if lcrqIndex(queue.tail.LoadRelaxed()) > head+1 {
			continue
		}

		queue.fixState()

		next := queue.next.Load()
		if next == nil {
			if state != nil {
				*state = lcrqIndex(queue.tail.LoadRelaxed())
			}
			return false
		}

		if lcrqIndex(queue.tail.LoadRelaxed()) > head+1 {
			continue
		}

		q.head.CompareAndSwap(queue, next)
	}
}
