// Package ratehist implements the fixed-length ring of (elapsed, total
// bytes) samples used to compute a smoothed average-rate over a
// configurable window, per spec.md §4.4.
package ratehist

import "github.com/samber/lo"

// Sample is one entry in the ring: elapsed seconds since transfer start,
// and cumulative bytes transferred at that instant.
type Sample struct {
	Elapsed float64
	Total   int64
}

// History is the ring buffer. It is reallocated whenever the average-rate
// window changes, since the ring length is derived from the window.
type History struct {
	entries  []Sample
	head     int
	length   int
	interval float64
	lastSeen float64
}

// New builds a history sized for a window of windowSeconds, following the
// spec's length/interval mapping: W>=20 uses one sample every 5s over
// W/5+1 slots, otherwise one sample per second over W+1 slots.
func New(windowSeconds float64) *History {
	var size int
	var interval float64
	if windowSeconds >= 20 {
		size = int(windowSeconds/5) + 1
		interval = 5
	} else {
		size = int(windowSeconds) + 1
		interval = 1
	}
	size = lo.Max([]int{size, 1})
	return &History{
		entries:  make([]Sample, size),
		interval: interval,
	}
}

// Add appends a new (elapsed, total) sample if at least Interval seconds
// have passed since the last recorded sample; otherwise it is a no-op (the
// sample is too close to the previous one to be worth recording).
func (h *History) Add(elapsed float64, total int64) {
	if h.length > 0 && elapsed-h.lastSeen < h.interval {
		return
	}
	idx := (h.head + h.length) % len(h.entries)
	h.entries[idx] = Sample{Elapsed: elapsed, Total: total}
	if h.length < len(h.entries) {
		h.length++
	} else {
		h.head = (h.head + 1) % len(h.entries)
	}
	h.lastSeen = elapsed
}

// Average returns the smoothed rate across the ring: (total_tail -
// total_head) / (elapsed_tail - elapsed_head). If the ring holds fewer than
// two samples, instantaneous is returned instead (the caller's current
// single-tick rate), since no window exists yet to smooth over.
func (h *History) Average(instantaneous float64) float64 {
	if h.length < 2 {
		return instantaneous
	}
	tailIdx := (h.head + h.length - 1) % len(h.entries)
	head := h.entries[h.head]
	tail := h.entries[tailIdx]
	dt := tail.Elapsed - head.Elapsed
	if dt <= 0 {
		return instantaneous
	}
	return float64(tail.Total-head.Total) / dt
}

// Len reports the number of live samples currently in the ring.
func (h *History) Len() int {
	return h.length
}

// Samples returns the live samples in chronological (head-to-tail) order.
// Used by tests asserting the monotonicity invariant from spec.md §3.
func (h *History) Samples() []Sample {
	out := make([]Sample, 0, h.length)
	for i := 0; i < h.length; i++ {
		out = append(out, h.entries[(h.head+i)%len(h.entries)])
	}
	return out
}
