// Copyright 2026 The go-cds Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package cds_test

import (
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"

	"github.com/sam0737/go-cds"
)

func TestMSQEmptyOnCreation(t *testing.T) {
	q := cds.NewMSQ[int]()
	if !q.Empty() {
		t.Fatal("Empty: new queue reported non-empty")
	}
	var out int
	if q.Get(&out) {
		t.Fatal("Get: succeeded on empty queue")
	}
}

func TestMSQFIFOSingleConsumer(t *testing.T) {
	q := cds.NewMSQ[int]()
	const n = 1000

	var wg sync.WaitGroup
	const producers = 4
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				q.Push(p*n + i)
			}
		}(p)
	}
	wg.Wait()

	seen := make([]bool, producers*n)
	next := make([]int, producers) // next expected offset per producer
	got := 0
	backoff := iox.Backoff{}
	for got < producers*n {
		var v int
		if q.Get(&v) {
			if seen[v] {
				t.Fatalf("Get: value %d observed twice", v)
			}
			p, i := v/n, v%n
			if i != next[p] {
				t.Fatalf("Get: producer %d offset %d out of order, want %d", p, i, next[p])
			}
			next[p]++
			seen[v] = true
			got++
			backoff.Reset()
			continue
		}
		backoff.Wait()
	}
	if !q.Empty() {
		t.Fatal("Empty: queue non-empty after draining all pushed values")
	}
}

// TestMSQABACounter runs more push/pop rounds than the 16-bit tag can
// count, so the ABA counters on head and tail wrap around twice, and checks
// that every pop still returns the value just pushed.
func TestMSQABACounter(t *testing.T) {
	q := cds.NewMSQ[int]()
	const rounds = 1 << 17

	for i := 0; i < rounds; i++ {
		q.Push(i)
		var out int
		var state uint64
		if !q.Pop(&out, &state) {
			t.Fatalf("Pop round %d: unexpected empty", i)
		}
		if out != i {
			t.Fatalf("Pop round %d: got %d, want %d", i, out, i)
		}
	}
	if !q.Empty() {
		t.Fatal("Empty: queue non-empty after equal push/pop rounds")
	}
}

func TestMSQTryPushTryPop(t *testing.T) {
	q := cds.NewMSQ[int]()

	tailTag := q.TailState()
	if !q.TryPush(1, uint16(tailTag)) {
		t.Fatal("TryPush: expected success against current tail tag")
	}
	if q.TryPush(2, uint16(tailTag)) {
		t.Fatal("TryPush: expected failure against stale tail tag")
	}

	var out int
	var state uint64
	result := q.TryPop(&out, 0, &state)
	if result != cds.Success {
		t.Fatalf("TryPop: got %v, want Success", result)
	}
	if out != 1 {
		t.Fatalf("TryPop: got %d, want 1", out)
	}

	// A successful pop reports the pre-increment head tag, so head now
	// carries state+1.
	result = q.TryPop(&out, uint16(state)+1, &state)
	if result != cds.EmptyQueue {
		t.Fatalf("TryPop on empty: got %v, want EmptyQueue", result)
	}
}

func TestMSQConcurrentProducersConsumers(t *testing.T) {
	if cds.RaceEnabled {
		t.Skip("skip: linearizability test requires concurrent access")
	}

	q := cds.NewMSQ[int]()
	const producers = 8
	const consumers = 8
	const itemsPerProducer = 5000
	const total = producers * itemsPerProducer

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < itemsPerProducer; i++ {
				q.Push(p*itemsPerProducer + i)
			}
		}(p)
	}

	var consumed atomix.Int64
	var cwg sync.WaitGroup
	cwg.Add(consumers)
	for c := 0; c < consumers; c++ {
		go func() {
			defer cwg.Done()
			backoff := iox.Backoff{}
			var out int
			for consumed.LoadAcquire() < total {
				if q.Get(&out) {
					consumed.AddAcqRel(1)
					backoff.Reset()
					continue
				}
				backoff.Wait()
			}
		}()
	}

	wg.Wait()
	done := make(chan struct{})
	go func() { cwg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("timeout: consumed %d of %d", consumed.LoadAcquire(), total)
	}

	if got := consumed.LoadAcquire(); got != total {
		t.Fatalf("consumed: got %d, want %d", got, total)
	}
}
