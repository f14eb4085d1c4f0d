// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build race

package cds

// RaceEnabled is true when the race detector is active.
// Used by tests to skip concurrency scenarios the race detector cannot
// reason about: MSQ/LCRQ linearize through independent atomic words
// (tagged pointers, ring cells) whose ordering the detector's
// happens-before model does not model as a single synchronization point,
// producing false positives on otherwise-correct lock-free code.
const RaceEnabled = true
