// Copyright 2026 The go-cds Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cds

import "code.hybscloud.com/atomix"

// addrBits is the width of the address field; the tag occupies the
// remaining high bits of the 64-bit word.
const addrBits = 48

// addrMask isolates the low 48 bits of a packed word.
const addrMask = (uint64(1) << addrBits) - 1

// TaggedPointer packs a 48-bit address and a 16-bit tag into a single
// 64-bit word so both can be read, written, and CAS'd as one atomic unit.
// The tag is the ABA counter for the address it travels with: any CAS that
// observes the same word observes address and tag as they were together,
// never a torn combination of an old address with a new tag.
//
// addr need not be a real memory address; any caller-chosen 48-bit value
// (an arena slot index, for instance) is a valid address field.
type TaggedPointer uint64

// NewTaggedPointer packs addr and tag into a TaggedPointer.
// addr must fit in 48 bits; only the low 16 bits of tag are used.
func NewTaggedPointer(addr uint64, tag uint16) TaggedPointer {
	return TaggedPointer((uint64(tag) << addrBits) | (addr & addrMask))
}

// Addr returns the packed address.
func (p TaggedPointer) Addr() uint64 {
	return uint64(p) & addrMask
}

// Tag returns the packed tag.
func (p TaggedPointer) Tag() uint16 {
	return uint16(uint64(p) >> addrBits)
}

// Equal reports whether p and q carry the same address and tag.
func (p TaggedPointer) Equal(q TaggedPointer) bool {
	return p == q
}

// NextTag returns p's tag incremented modulo 2^16, the value to use for
// the next successful CAS involving this address.
func (p TaggedPointer) NextTag() uint16 {
	return p.Tag() + 1
}

// AtomicTaggedPointer is an atomically accessed TaggedPointer, backed by
// an atomix.Uint64 so load/store/CAS on the combined address+tag word is a
// single hardware atomic operation.
type AtomicTaggedPointer struct {
	word atomix.Uint64
}

// NewAtomicTaggedPointer returns an AtomicTaggedPointer initialized to the
// given address and tag.
func NewAtomicTaggedPointer(addr uint64, tag uint16) AtomicTaggedPointer {
	a := AtomicTaggedPointer{}
	a.word.StoreRelaxed(uint64(NewTaggedPointer(addr, tag)))
	return a
}

// Load reads the current value with acquire ordering.
func (a *AtomicTaggedPointer) Load() TaggedPointer {
	return TaggedPointer(a.word.LoadAcquire())
}

// LoadRelaxed reads the current value with relaxed ordering. Callers must
// pair a relaxed read with a subsequent consistency re-check.
func (a *AtomicTaggedPointer) LoadRelaxed() TaggedPointer {
	return TaggedPointer(a.word.LoadRelaxed())
}

// Store writes a new value with release ordering.
func (a *AtomicTaggedPointer) Store(p TaggedPointer) {
	a.word.StoreRelease(uint64(p))
}

// CompareAndSwap atomically sets the value to next if the current value
// equals old, using acquire-release ordering, and reports whether it did.
func (a *AtomicTaggedPointer) CompareAndSwap(old, next TaggedPointer) bool {
	return a.word.CompareAndSwapAcqRel(uint64(old), uint64(next))
}

// doubleTagLowBits is the number of low bits stolen from addr for the
// second tag; callers must only use DoubleTaggedPointer when the pointee
// has at least 2^doubleTagLowBits-byte alignment.
const doubleTagLowBits = 2

// doubleTagLowMask isolates the stolen low bits.
const doubleTagLowMask = (uint64(1) << doubleTagLowBits) - 1

// DoubleTaggedPointer packs a 48-bit address, a 16-bit high tag, and a
// small second tag stolen from the address's low alignment bits, into one
// 64-bit word. It exists alongside TaggedPointer for pointees whose
// natural alignment leaves spare low bits unused; this library's own
// MSQ/LCRQ/LLDD implementations do not need the second tag (see DESIGN.md)
// but the type is provided as a complete, independently tested component.
type DoubleTaggedPointer uint64

// NewDoubleTaggedPointer packs an aligned addr, a 16-bit tag, and a
// doubleTagLowBits-wide low tag into a DoubleTaggedPointer. addr's low
// doubleTagLowBits bits must be zero (natural alignment); low must fit in
// doubleTagLowBits bits.
func NewDoubleTaggedPointer(addr uint64, tag uint16, low uint8) DoubleTaggedPointer {
	packed := (uint64(tag) << addrBits) | (addr & addrMask &^ doubleTagLowMask) | (uint64(low) & doubleTagLowMask)
	return DoubleTaggedPointer(packed)
}

// Addr returns the packed address with the low tag bits masked off.
func (p DoubleTaggedPointer) Addr() uint64 {
	return uint64(p) & addrMask &^ doubleTagLowMask
}

// Tag returns the packed high tag.
func (p DoubleTaggedPointer) Tag() uint16 {
	return uint16(uint64(p) >> addrBits)
}

// LowTag returns the packed low tag, stolen from the address's alignment
// bits.
func (p DoubleTaggedPointer) LowTag() uint8 {
	return uint8(uint64(p) & doubleTagLowMask)
}

// AtomicDoubleTaggedPointer is an atomically accessed DoubleTaggedPointer.
type AtomicDoubleTaggedPointer struct {
	word atomix.Uint64
}

// Load reads the current value with acquire ordering.
func (a *AtomicDoubleTaggedPointer) Load() DoubleTaggedPointer {
	return DoubleTaggedPointer(a.word.LoadAcquire())
}

// Store writes a new value with release ordering.
func (a *AtomicDoubleTaggedPointer) Store(p DoubleTaggedPointer) {
	a.word.StoreRelease(uint64(p))
}

// CompareAndSwap atomically sets the value to next if the current value
// equals old, using acquire-release ordering, and reports whether it did.
func (a *AtomicDoubleTaggedPointer) CompareAndSwap(old, next DoubleTaggedPointer) bool {
	return a.word.CompareAndSwapAcqRel(uint64(old), uint64(next))
}
