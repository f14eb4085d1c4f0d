// Copyright 2026 The go-cds Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cds_test

import (
	"errors"
	"sync"
	"testing"

	"code.hybscloud.com/iox"

	"github.com/sam0737/go-cds"
)

func newIntLLDD(capacity int) *cds.LLDD[int, *cds.MSQ[int]] {
	return cds.NewLLDD[int](capacity, func() *cds.MSQ[int] { return cds.NewMSQ[int]() })
}

func TestLLDDPutGetSingleThread(t *testing.T) {
	d := newIntLLDD(4)
	var local cds.BackendPtr[int, *cds.MSQ[int]]
	defer d.DeregisterThread(&local)

	if !d.Put(&local, 1) {
		t.Fatal("Put: unexpected failure")
	}
	if !d.Put(&local, 2) {
		t.Fatal("Put: unexpected failure")
	}

	var out int
	if !d.Get(&local, &out) {
		t.Fatal("Get: unexpected failure")
	}
	if out != 1 {
		t.Fatalf("Get: got %d, want 1", out)
	}
	if !d.Get(&local, &out) {
		t.Fatal("Get: unexpected failure")
	}
	if out != 2 {
		t.Fatalf("Get: got %d, want 2", out)
	}
	if d.Get(&local, &out) {
		t.Fatal("Get: succeeded on empty container")
	}
}

// TestLLDDOneThreadEach has each of several producer goroutines bind its own
// backend and push its own items, while the test goroutine, as the single
// consumer, holds a handle with no backend of its own (Get never binds one),
// so every Get goes through LLDD's cross-backend randomized scan.
func TestLLDDOneThreadEach(t *testing.T) {
	if cds.RaceEnabled {
		t.Skip("skip: linearizability test requires concurrent access")
	}

	const producers = 6
	const itemsPerProducer = 1000
	const total = producers * itemsPerProducer
	d := newIntLLDD(producers + 1)

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			var local cds.BackendPtr[int, *cds.MSQ[int]]
			defer d.DeregisterThread(&local)
			for i := 0; i < itemsPerProducer; i++ {
				if !d.Put(&local, p*itemsPerProducer+i) {
					t.Errorf("Put: unexpected failure")
					return
				}
			}
		}(p)
	}

	var consumerLocal cds.BackendPtr[int, *cds.MSQ[int]]
	defer d.DeregisterThread(&consumerLocal)

	seen := make([]bool, total)
	got := 0
	backoff := iox.Backoff{}
	for got < total {
		var out int
		if d.Get(&consumerLocal, &out) {
			if seen[out] {
				t.Fatalf("value %d observed twice", out)
			}
			seen[out] = true
			got++
			backoff.Reset()
			continue
		}
		backoff.Wait()
	}
	wg.Wait()
}

func TestLLDDReclaimOnFull(t *testing.T) {
	const capacity = 2
	d := newIntLLDD(capacity)

	var a, b cds.BackendPtr[int, *cds.MSQ[int]]
	if !d.Put(&a, 1) {
		t.Fatal("Put a: unexpected failure")
	}
	if !d.Put(&b, 2) {
		t.Fatal("Put b: unexpected failure")
	}
	if got := d.Len(); got != capacity {
		t.Fatalf("Len: got %d, want %d", got, capacity)
	}

	// a's backend still holds an unconsumed element: deregistering it must
	// not free its slot immediately.
	d.DeregisterThread(&a)
	if got := d.Len(); got != capacity {
		t.Fatalf("Len after deregister of non-empty backend: got %d, want %d", got, capacity)
	}

	// b's backend is empty after this drain: deregistering it frees its slot.
	var out int
	if !d.Get(&b, &out) {
		t.Fatal("Get b: unexpected failure")
	}
	d.DeregisterThread(&b)
	if got := d.Len(); got != capacity-1 {
		t.Fatalf("Len after deregister of empty backend: got %d, want %d", got, capacity-1)
	}

	// The container is at capacity-1 now (a's abandoned, non-empty backend
	// is still registered). A third registrant can take the freed slot.
	var c cds.BackendPtr[int, *cds.MSQ[int]]
	if !d.Put(&c, 3) {
		t.Fatal("Put c: unexpected failure, expected freed slot to be reused")
	}
	defer d.DeregisterThread(&c)

	// Get drains c's own backend before scanning the others.
	var own int
	if !d.Get(&c, &own) {
		t.Fatal("Get: unexpected failure draining c's own backend")
	}
	if own != 3 {
		t.Fatalf("Get: got %d, want 3 (c's own element)", own)
	}

	// With c's backend empty, Get falls back to the scan and finds a's
	// leftover value.
	var leftover int
	if !d.Get(&c, &leftover) {
		t.Fatal("Get: expected to find a's leftover element via scan")
	}
	if leftover != 1 {
		t.Fatalf("Get: got %d, want 1 (a's abandoned element)", leftover)
	}

	// a's backend is now abandoned and empty but still registered, so the
	// container is full; a new registrant's Put sweeps it out and reuses
	// its slot.
	if got := d.Len(); got != capacity {
		t.Fatalf("Len before sweep: got %d, want %d", got, capacity)
	}
	var e cds.BackendPtr[int, *cds.MSQ[int]]
	if !d.Put(&e, 4) {
		t.Fatal("Put e: unexpected failure, expected the full container to reclaim a's slot")
	}
	defer d.DeregisterThread(&e)
}

func TestLLDDPutErrGetErr(t *testing.T) {
	d := newIntLLDD(1)
	var a, b cds.BackendPtr[int, *cds.MSQ[int]]
	defer d.DeregisterThread(&a)

	if err := d.PutErr(&a, 1); err != nil {
		t.Fatalf("PutErr: unexpected error %v", err)
	}
	if err := d.PutErr(&b, 2); !errors.Is(err, cds.ErrCapacityExceeded) {
		t.Fatalf("PutErr on full container: got %v, want ErrCapacityExceeded", err)
	}

	var out int
	if err := d.GetErr(&a, &out); err != nil {
		t.Fatalf("GetErr: unexpected error %v", err)
	}
	if out != 1 {
		t.Fatalf("GetErr: got %d, want 1", out)
	}
	if err := d.GetErr(&a, &out); !errors.Is(err, cds.ErrWouldBlock) {
		t.Fatalf("GetErr on empty container: got %v, want ErrWouldBlock", err)
	}
}
