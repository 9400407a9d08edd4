package metrics

import (
	"math/rand"
	"sort"
)

// P2Estimator is a streaming quantile estimator using the P-squared
// algorithm (Jain & Chlamtac, 1985). It maintains five markers whose
// positions are adjusted with piecewise-parabolic interpolation, giving
// an O(1)-memory estimate whose error is bounded by the spacing of
// adjacent markers rather than growing with the stream length.
//
// It is used when aggregating over raw event windows, where the scan is
// streaming and materializing the full window for an exact sort would
// defeat the bounded-latency goal. Rollup jobs over a single 1-minute
// window use exact sorted percentiles instead; see SortedQuantile.
type P2Estimator struct {
	q       float64
	heights [5]float64
	pos     [5]float64
	desired [5]float64
	incr    [5]float64
	count   int
	initial []float64
}

// NewP2Estimator creates an estimator for quantile q in (0,1).
func NewP2Estimator(q float64) *P2Estimator {
	e := &P2Estimator{q: q}
	e.pos = [5]float64{1, 2, 3, 4, 5}
	e.desired = [5]float64{1, 1 + 2*q, 1 + 4*q, 3 + 2*q, 5}
	e.incr = [5]float64{0, q / 2, q, (1 + q) / 2, 1}
	e.initial = make([]float64, 0, 5)
	return e
}

// Observe adds a value to the stream.
func (e *P2Estimator) Observe(v float64) {
	e.count++

	// Bootstrap: collect the first five observations exactly.
	if len(e.initial) < 5 {
		e.initial = append(e.initial, v)
		if len(e.initial) == 5 {
			sort.Float64s(e.initial)
			copy(e.heights[:], e.initial)
		}
		return
	}

	// Find the cell containing v and update extremes.
	var k int
	switch {
	case v < e.heights[0]:
		e.heights[0] = v
		k = 0
	case v >= e.heights[4]:
		e.heights[4] = v
		k = 3
	default:
		for i := 0; i < 4; i++ {
			if v < e.heights[i+1] {
				k = i
				break
			}
		}
	}

	for i := k + 1; i < 5; i++ {
		e.pos[i]++
	}
	for i := 0; i < 5; i++ {
		e.desired[i] += e.incr[i]
	}

	// Adjust interior markers toward their desired positions.
	for i := 1; i <= 3; i++ {
		d := e.desired[i] - e.pos[i]
		if (d >= 1 && e.pos[i+1]-e.pos[i] > 1) || (d <= -1 && e.pos[i-1]-e.pos[i] < -1) {
			sign := 1.0
			if d < 0 {
				sign = -1.0
			}
			h := e.parabolic(i, sign)
			if e.heights[i-1] < h && h < e.heights[i+1] {
				e.heights[i] = h
			} else {
				e.heights[i] = e.linear(i, sign)
			}
			e.pos[i] += sign
		}
	}
}

// parabolic computes the piecewise-parabolic height adjustment.
func (e *P2Estimator) parabolic(i int, d float64) float64 {
	return e.heights[i] + d/(e.pos[i+1]-e.pos[i-1])*
		((e.pos[i]-e.pos[i-1]+d)*(e.heights[i+1]-e.heights[i])/(e.pos[i+1]-e.pos[i])+
			(e.pos[i+1]-e.pos[i]-d)*(e.heights[i]-e.heights[i-1])/(e.pos[i]-e.pos[i-1]))
}

// linear computes the fallback linear height adjustment.
func (e *P2Estimator) linear(i int, d float64) float64 {
	j := i + int(d)
	return e.heights[i] + d*(e.heights[j]-e.heights[i])/(e.pos[j]-e.pos[i])
}

// Value returns the current quantile estimate. With fewer than five
// observations it falls back to an exact computation.
func (e *P2Estimator) Value() float64 {
	if e.count == 0 {
		return 0
	}
	if len(e.initial) < 5 {
		sorted := make([]float64, len(e.initial))
		copy(sorted, e.initial)
		sort.Float64s(sorted)
		return SortedQuantile(sorted, e.q)
	}
	return e.heights[2]
}

// Count returns the number of observed values.
func (e *P2Estimator) Count() int {
	return e.count
}

// SortedQuantile returns the q-quantile of an ascending-sorted slice
// using linear interpolation between closest ranks. Exact; used at
// 1-minute rollup granularity where the raw window is available.
func SortedQuantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := q * float64(n-1)
	lo := int(rank)
	if lo >= n-1 {
		return sorted[n-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

// reservoirSize bounds the per-bucket sample retained for mergeable
// percentile re-derivation in coarser rollups.
const reservoirSize = 256

// Reservoir is a fixed-size uniform random sample (Vitter's algorithm R).
// Rolling 1-minute buckets into 1-hour and 1-day buckets merges these
// samples and re-derives percentiles from the merged sample, instead of
// averaging per-bucket percentiles (which has no error bound).
type Reservoir struct {
	samples []float64
	seen    int64
	rng     *rand.Rand
}

// NewReservoir creates an empty reservoir.
func NewReservoir(seed int64) *Reservoir {
	return &Reservoir{
		samples: make([]float64, 0, reservoirSize),
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Add offers one value to the reservoir.
func (r *Reservoir) Add(v float64) {
	r.seen++
	if len(r.samples) < reservoirSize {
		r.samples = append(r.samples, v)
		return
	}
	if j := r.rng.Int63n(r.seen); j < reservoirSize {
		r.samples[j] = v
	}
}

// AddAll offers every value in vs.
func (r *Reservoir) AddAll(vs []float64) {
	for _, v := range vs {
		r.Add(v)
	}
}

// Samples returns the retained sample. The slice is owned by the
// reservoir; callers must copy before retaining.
func (r *Reservoir) Samples() []float64 {
	return r.samples
}

// MergeSamples combines retained samples from multiple buckets, weighted
// by their observation counts, and downsamples to the reservoir bound.
// Weighting keeps a bucket with 10x the traffic contributing 10x the
// representation even though both stored at most reservoirSize values.
func MergeSamples(buckets []*AggregateBucket, seed int64) []float64 {
	var total int64
	for _, b := range buckets {
		total += b.Count
	}
	if total == 0 {
		return nil
	}

	r := NewReservoir(seed)
	for _, b := range buckets {
		if len(b.Samples) == 0 {
			continue
		}
		// Each retained value represents count/len(samples) raw
		// observations; replay it that many times against the
		// reservoir (capped to keep merge cost bounded).
		weight := int(b.Count) / len(b.Samples)
		if weight < 1 {
			weight = 1
		}
		if weight > 16 {
			weight = 16
		}
		for _, v := range b.Samples {
			for i := 0; i < weight; i++ {
				r.Add(v)
			}
		}
	}

	out := make([]float64, len(r.samples))
	copy(out, r.samples)
	sort.Float64s(out)
	return out
}
