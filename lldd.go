// Copyright 2026 The go-cds Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cds

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/atomix"
)

// backendNode owns one backend instance and its liveness flag.
//
// The original library packs the liveness bit into the low tag of a
// tagged pointer to the backend, because in C++ the pointer and its tag
// must travel together as one atomic word to stay ABA-safe under
// concurrent registration/deregistration. In Go, the backend is never
// replaced once installed (deregistration only ever clears a flag; the
// slot itself is only ever reassigned under the container's lock), so a
// plain struct with its own atomic.Bool is sufficient and does not need
// TaggedPointer's joint CAS (see DESIGN.md).
type backendNode[T any, B Backend[T]] struct {
	backend B
	alive   atomix.Bool
}

// BackendPtr is a thread-local handle bound to one backend on first use.
// There is no thread-local storage in this package: callers hold their
// own BackendPtr value and pass it to Put/Get/DeregisterThread explicitly,
// matching the library's "no global mutable state" design.
type BackendPtr[T any, B Backend[T]] struct {
	node *backendNode[T, B]
}

// Bound reports whether local has been assigned a backend yet.
func (p *BackendPtr[T, B]) Bound() bool {
	return p.node != nil
}

// LLDD is a locally-linearizable dynamic distributed container: it binds
// each producer thread to its own backend (typically an MSQ) and lets
// consumers drain their own backend first, falling back to a randomized
// scan across every registered backend.
//
// Reference: Local Linearizability for Concurrent Container-Type Data
// Structures, Haas et al., CoRR abs/1502.07118, 2015.
type LLDD[T any, B Backend[T]] struct {
	mu         sync.Mutex
	segment    []atomic.Pointer[backendNode[T, B]]
	length     atomix.Uint64
	capacity   int
	version    atomix.Uint64
	newBackend func() B
}

// NewLLDD creates a container with room for at most capacity concurrently
// registered backends. newBackend constructs a fresh backend instance the
// first time a given producer thread calls Put.
func NewLLDD[T any, B Backend[T]](capacity int, newBackend func() B) *LLDD[T, B] {
	if capacity < 1 {
		panic("cds: LLDD capacity must be >= 1")
	}
	return &LLDD[T, B]{
		segment:    make([]atomic.Pointer[backendNode[T, B]], capacity),
		capacity:   capacity,
		newBackend: newBackend,
	}
}

// Put routes element to local's bound backend, creating and installing one
// under the lock on first use. Returns false only if the segment array is
// full and no abandoned, empty backend could be reclaimed to make room.
func (l *LLDD[T, B]) Put(local *BackendPtr[T, B], element T) bool {
	if local.node == nil {
		l.mu.Lock()
		length := int(l.length.LoadRelaxed())
		if length >= l.capacity {
			for i := 0; i < length; i++ {
				n := l.segment[i].Load()
				if !n.alive.LoadAcquire() && n.backend.Empty() {
					l.removeBackendLocked(i)
					length = int(l.length.LoadRelaxed())
				}
			}
		}
		if length >= l.capacity {
			l.mu.Unlock()
			return false
		}

		node := &backendNode[T, B]{backend: l.newBackend()}
		node.alive.StoreRelease(true)
		l.segment[length].Store(node)
		l.length.StoreRelease(uint64(length + 1))
		l.version.AddAcqRel(1)
		l.mu.Unlock()

		local.node = node
	}
	return local.node.backend.Put(element)
}

// PutErr is Put with iox-style error reporting: nil on success,
// ErrCapacityExceeded if the segment array is full.
func (l *LLDD[T, B]) PutErr(local *BackendPtr[T, B], element T) error {
	if l.Put(local, element) {
		return nil
	}
	return ErrCapacityExceeded
}

// Get drains local's bound backend first; failing that, it performs a
// randomized scan across every registered backend, certifying emptiness
// via a version check and a per-backend tail-state comparison before
// reporting the container empty.
func (l *LLDD[T, B]) Get(local *BackendPtr[T, B], out *T) bool {
	if local.node != nil && local.node.backend.Get(out) {
		return true
	}

	for {
		length := int(l.length.LoadAcquire())
		if length == 0 {
			return false
		}

		start := rand.IntN(length)
		version := l.version.LoadAcquire()
		tailStates := make([]uint64, length)

		restart := false
		for i := 0; i < length; i++ {
			idx := (start + i) % length
			node := l.segment[idx].Load()
			if node == nil {
				restart = true
				break
			}
			if node.backend.Pop(out, &tailStates[i]) {
				return true
			}
			if !node.alive.LoadAcquire() {
				l.mu.Lock()
				l.removeBackendLocked(idx)
				l.mu.Unlock()
				restart = true
				break
			}
		}
		if restart {
			continue
		}

		if l.version.LoadAcquire() != version {
			continue
		}

		mismatch := false
		for i := 0; i < length; i++ {
			idx := (start + i) % length
			node := l.segment[idx].Load()
			if node == nil || node.backend.TailState() != tailStates[i] {
				mismatch = true
				break
			}
		}
		if mismatch {
			continue
		}
		return false
	}
}

// GetErr is Get with iox-style error reporting: nil on success,
// ErrWouldBlock if every backend was observed empty.
func (l *LLDD[T, B]) GetErr(local *BackendPtr[T, B], out *T) error {
	if l.Get(local, out) {
		return nil
	}
	return ErrWouldBlock
}

// DeregisterThread clears the alive flag on local's bound backend. Every
// thread that called Put or Get must call this before exiting; a backend
// that is never deregistered stays marked alive in the segment array and
// is never swept. If the backend is already empty it is removed
// immediately under the lock; otherwise it is left for a consumer to
// drain first, and a later Put or Get sweeps it once it is empty.
func (l *LLDD[T, B]) DeregisterThread(local *BackendPtr[T, B]) {
	if local.node == nil {
		return
	}
	node := local.node
	local.node = nil
	node.alive.StoreRelease(false)
	if !node.backend.Empty() {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	length := int(l.length.LoadRelaxed())
	for i := 0; i < length; i++ {
		if l.segment[i].Load() == node {
			l.removeBackendLocked(i)
			break
		}
	}
}

// removeBackendLocked deletes the backend at index, swapping the trailing
// slot into its place. Callers must hold mu and must have already
// verified the node at index is !alive && backend.Empty().
func (l *LLDD[T, B]) removeBackendLocked(index int) {
	length := int(l.length.LoadRelaxed())
	node := l.segment[index].Load()
	if node == nil || node.alive.LoadAcquire() || !node.backend.Empty() {
		return
	}

	last := length - 1
	l.segment[index].Store(l.segment[last].Load())
	l.segment[last].Store(nil)
	l.length.StoreRelease(uint64(last))
	l.version.AddAcqRel(1)
}

// Len reports the number of currently registered backends (alive or
// abandoned-but-undrained). Intended for tests and diagnostics.
func (l *LLDD[T, B]) Len() int {
	return int(l.length.LoadAcquire())
}
