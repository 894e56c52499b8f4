package util

import (
	"math"
	"sort"
	"sync"
)

// ----------------------------------------------------------------------------
// Summary statistics
// ----------------------------------------------------------------------------

type Stats struct {
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
	MinMaxRatio  float64 `json:"min_max_ratio"`
}

// NewStats computes mean, population standard deviation, min and max of values.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	lo, hi := values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}

	ratio := 1.0
	if hi > 0 {
		ratio = lo / hi
	}

	return Stats{
		StdDeviation: math.Sqrt(sq / float64(len(values))),
		Min:          lo,
		Max:          hi,
		Mean:         mean,
		MinMaxRatio:  ratio,
	}
}

// Balance rates how evenly load is spread, 1 is perfect. It combines the
// coefficient of variation with the min/max ratio, e.g. for records per target.
func Balance(load []float64) float64 {
	s := NewStats(load)
	var cv float64
	if s.Mean > 0 {
		cv = s.StdDeviation / s.Mean
	}
	return (1.0-math.Min(1.0, cv))*0.5 + s.MinMaxRatio*0.5
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// SizeHistogram tracks the distribution of record sizes in exponential buckets
// from 16 bytes to 4 GiB. Safe for concurrent use.
type SizeHistogram struct {
	mutex      sync.RWMutex
	boundaries []int
	buckets    []int64 // len(boundaries)+1, the last one holds everything larger
	count      int64
	sum        int64
}

// NewSizeHistogram creates a histogram with the default boundaries.
func NewSizeHistogram() *SizeHistogram {
	boundaries := []int{
		16, 64, 256, 1024, 4096,
		16384, 65536, 262144, 1048576,
		4194304, 16777216, 67108864,
		268435456, 1073741824, 4294967296,
	}
	return &SizeHistogram{
		boundaries: boundaries,
		buckets:    make([]int64, len(boundaries)+1),
	}
}

// AddSample records one size.
func (h *SizeHistogram) AddSample(size int) {
	idx := sort.SearchInts(h.boundaries, size)

	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.buckets[idx]++
	h.count++
	h.sum += int64(size)
}

// RemoveSample forgets one previously added size.
func (h *SizeHistogram) RemoveSample(size int) {
	idx := sort.SearchInts(h.boundaries, size)

	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.buckets[idx] == 0 {
		return
	}
	h.buckets[idx]--
	h.count--
	h.sum -= int64(size)
}

// Count returns the number of samples.
func (h *SizeHistogram) Count() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.count
}

// Sum returns the total of all samples.
func (h *SizeHistogram) Sum() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.sum
}

// AverageSize returns the mean sample.
func (h *SizeHistogram) AverageSize() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// Percentile estimates the given percentile (0-100) from the bucket midpoints.
func (h *SizeHistogram) Percentile(p int) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 || p < 0 || p > 100 {
		return 0
	}
	target := int64(math.Ceil(float64(h.count) * float64(p) / 100.0))
	var cumulative int64
	for i, c := range h.buckets {
		cumulative += c
		if cumulative >= target && c > 0 {
			switch {
			case i == 0:
				return h.boundaries[0] / 2
			case i < len(h.boundaries):
				return (h.boundaries[i-1] + h.boundaries[i]) / 2
			default:
				return h.boundaries[len(h.boundaries)-1] * 2
			}
		}
	}
	return int(h.sum / h.count)
}

// Reset clears all samples.
func (h *SizeHistogram) Reset() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.count, h.sum = 0, 0
	for i := range h.buckets {
		h.buckets[i] = 0
	}
}
