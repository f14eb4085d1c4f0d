// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cds provides lock-free concurrent queues and the distributed
// container that composes them.
//
// Three components are provided:
//
//   - MSQ[T]: a Michael-Scott linked MPMC FIFO queue.
//   - LCRQ: a Linked Concurrent Ring Queue, a chain of fixed-size ring
//     segments, for workloads that need a strict single shared FIFO.
//   - LLDD[T, B]: a Locally-Linearizable Dynamic Distributed container
//     that federates one backend (typically an MSQ) per producer thread
//     to scale throughput, at the cost of relaxing strict FIFO to local
//     linearizability.
//
// # Quick Start
//
//	msq := cds.NewMSQ[int]()
//	msq.Push(42)
//	var v int
//	ok := msq.Get(&v)
//
//	rq := cds.NewLCRQDefault() // 1024-cell segments, EMPTY sentinel 0
//	rq.Push(1)
//	var out uint64
//	ok = rq.Get(&out)
//
//	dist := cds.NewLLDD[int](64, func() *cds.MSQ[int] { return cds.NewMSQ[int]() })
//	var local cds.BackendPtr[int, *cds.MSQ[int]]
//	dist.Put(&local, 7)
//	var v2 int
//	ok = dist.Get(&local, &v2)
//	dist.DeregisterThread(&local)
//
// # Choosing a component
//
// MSQ is the building block: use it directly for a single shared queue
// when every thread is willing to contend on the same head/tail pair.
//
// LCRQ trades MSQ's per-node allocation for a ring of cells CAS'd with a
// single 128-bit compare-exchange; it scales better than MSQ under
// moderate contention but is not designed for more than about 20
// threads, and its element type is a bare uint64 with one reserved
// sentinel value rather than an arbitrary T.
//
// LLDD is for workloads where strict global FIFO is not required: each
// producer thread gets its own backend, eliminating cross-thread
// contention on pushes entirely. Consumers drain their own backend first
// and fall back to a randomized scan across every other registered
// backend. The tradeoff is LLDD's relaxation to local linearizability:
// see [LLDD] for what that does and does not guarantee.
//
// # Tagged Pointers
//
// [TaggedPointer] and [AtomicTaggedPointer] pack a 48-bit address and a
// 16-bit ABA counter into one atomic 64-bit word; MSQ uses this
// internally to keep a node's link and its generation counter CAS'd
// together as a single hardware atomic. [DoubleTaggedPointer] is the
// two-tag variant for pointees with spare low alignment bits; it is
// provided as a complete, independently tested component even though
// MSQ/LCRQ/LLDD in this package do not need the second tag.
//
// # State Tokens and try_push/try_pop
//
// Push/Pop retry internally until they succeed or the queue is
// definitively empty. TryPush/TryPop are single-shot: they attempt
// exactly one CAS against a caller-supplied expected tag and report
// [PopResult]'s three states — Success, EmptyQueue, or Failure — rather
// than retrying. LLDD uses the tag ("state") returned by Pop to prove
// that no other thread modified a backend's tail between two
// observations, the core of its emptiness certificate.
//
// # Error Handling
//
// Put/Get/Pop family methods return a plain bool, matching the
// underlying algorithms' lock-free, non-blocking contract (a queue being
// empty or a container being at capacity is not a failure). For
// ecosystem consistency with the rest of the lock-free queue family,
// error-returning wrappers ([LLDD.PutErr], [LLDD.GetErr]) are also
// provided, sourcing [ErrWouldBlock] from [code.hybscloud.com/iox]:
//
//	backoff := iox.Backoff{}
//	for {
//	    err := dist.GetErr(&local, &v2)
//	    if err == nil {
//	        backoff.Reset()
//	        break
//	    }
//	    if !cds.IsWouldBlock(err) {
//	        return err
//	    }
//	    backoff.Wait()
//	}
//
// # Thread Registration
//
// Every thread that calls Put or Get on an [LLDD] must call
// [LLDD.DeregisterThread] before exiting. Failing to do so leaks that
// thread's backend: it stays marked alive, keeps its slot, and is never
// swept. A deregistered backend that still holds elements is swept lazily
// once drained, by a Put (when the segment array is full) or a Get
// (during a scan) from another thread.
//
// # Memory Reclamation
//
// MSQ nodes are never freed back to the general-purpose allocator: each
// queue owns an append-only arena addressed by slot index rather than by
// pointer, so the ABA tag in a [TaggedPointer] can travel with the
// address it protects as one atomic word without risking a live Go
// pointer being hidden from the garbage collector. LCRQ segments and
// LLDD backend nodes use ordinary Go pointers and are reclaimed safely by
// the garbage collector once unlinked, as in the original algorithms'
// reliance on "the freeing thread is the unique winner of the relevant
// CAS".
//
// # Race Detection
//
// Go's race detector is not designed for lock-free algorithm
// verification: it tracks explicit synchronization primitives (mutex,
// channels, WaitGroup) but cannot observe happens-before relationships
// established purely through acquire-release atomics on independent
// words. MSQ, LCRQ, and LLDD establish ordering this way, so some
// concurrency tests are excluded under race detection via
// [RaceEnabled]/`//go:build !race`; this does not indicate the
// algorithms are unsafe, only that the detector's model does not cover
// them.
//
// # Dependencies
//
// This package uses [code.hybscloud.com/atomix] for every hot-path
// atomic (tagged pointers, ring cells, FAA counters) with explicit
// memory ordering, [code.hybscloud.com/spin] for the CPU-pause primitive
// in CAS retry loops, and [code.hybscloud.com/iox] for the would-block
// error-classification scheme.
package cds
