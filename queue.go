// Copyright 2026 The go-cds Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cds

// PopResult is the three-state outcome of a single-shot pop attempt.
//
// Unlike Pop, TryPop never retries internally: a single failed CAS against
// the caller-supplied expected state is reported as Failure rather than
// being retried in a loop, so the caller can decide whether to retry, back
// off, or treat contention as informative.
type PopResult int

const (
	// Success means a value was dequeued and stored in the caller's out
	// parameter.
	Success PopResult = iota
	// EmptyQueue means the queue was observed empty; out is unmodified.
	EmptyQueue
	// Failure means the single-shot CAS lost a race; out is unmodified
	// and the caller's expected state is stale.
	Failure
)

// String renders the result for diagnostics and test failure messages.
func (r PopResult) String() string {
	switch r {
	case Success:
		return "Success"
	case EmptyQueue:
		return "EmptyQueue"
	case Failure:
		return "Failure"
	default:
		return "PopResult(?)"
	}
}

// Backend is the capability set an LLDD container requires of its
// per-thread inner queues. MSQ[T] and LCRQ both satisfy it directly; LLDD
// is generic over any type providing it.
//
// State is a lightweight comparable token summarizing the backend's tail
// position at the moment a Pop call finds it empty; it is used by LLDD's
// emptiness certificate to detect whether a concurrent push raced a scan.
type Backend[T any] interface {
	// Put enqueues element, returning false only if the backend itself
	// refuses it (the backends this library ships never do; the false
	// return exists for backends that are themselves bounded).
	Put(element T) bool
	// Get dequeues a value without reporting tail state.
	Get(out *T) bool
	// Pop dequeues a value and records a state token. When the backend is
	// found empty the token is its tail state, comparable with TailState;
	// on success the token is backend-specific (MSQ records its head tag,
	// LCRQ its tail counter).
	Pop(out *T, state *uint64) bool
	// TailState returns the backend's current tail state without
	// performing a pop. Used to re-certify emptiness after a scan.
	TailState() uint64
	// Empty reports a stable snapshot of emptiness.
	Empty() bool
}
