// Copyright 2026 The go-cds Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cds

import (
	"errors"

	"code.hybscloud.com/iox"
)

// ErrWouldBlock indicates the operation cannot proceed immediately.
//
// Returned by [LLDD.GetErr] when every backend was observed empty.
//
// ErrWouldBlock is a control flow signal, not a failure. This is an alias
// for [iox.ErrWouldBlock] for ecosystem consistency with the rest of the
// lock-free queue family.
var ErrWouldBlock = iox.ErrWouldBlock

// ErrCapacityExceeded is returned by [LLDD.PutErr] when the backend segment
// array is full and no abandoned, empty backend could be reclaimed to make
// room for a new producer. It is not part of iox's would-block/semantic
// error scheme: capacity exhaustion is a caller-visible condition, not a
// transient retry signal.
var ErrCapacityExceeded = errors.New("cds: capacity exceeded")

// IsWouldBlock reports whether err indicates the operation would block.
// Delegates to [iox.IsWouldBlock] for wrapped error support.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsSemantic reports whether err is a control flow signal (not a failure).
// Delegates to [iox.IsSemantic].
func IsSemantic(err error) bool {
	return iox.IsSemantic(err)
}

// IsNonFailure reports whether err represents a non-failure condition.
// Delegates to [iox.IsNonFailure].
func IsNonFailure(err error) bool {
	return iox.IsNonFailure(err)
}
