package background

import (
	"math"
	"sort"
)

// median returns the middle value of xs (mean of the two middle values
// for even lengths). xs is not modified.
func median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return math.NaN()
	}
	tmp := make([]float64, n)
	copy(tmp, xs)
	sort.Float64s(tmp)
	if n%2 == 1 {
		return tmp[n/2]
	}
	return (tmp[n/2-1] + tmp[n/2]) / 2
}

// variance returns the population variance of xs.
func variance(xs []float64) float64 {
	n := float64(len(xs))
	if n == 0 {
		return math.NaN()
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= n
	v := 0.0
	for _, x := range xs {
		v += (x - mean) * (x - mean)
	}
	return v / n
}

// quantile returns the q-quantile of xs with linear interpolation
// between order statistics. xs is not modified.
func quantile(xs []float64, q float64) float64 {
	n := len(xs)
	if n == 0 {
		return math.NaN()
	}
	tmp := make([]float64, n)
	copy(tmp, xs)
	sort.Float64s(tmp)
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	if lo >= n-1 {
		return tmp[n-1]
	}
	frac := pos - float64(lo)
	return tmp[lo]*(1-frac) + tmp[lo+1]*frac
}

// medianFilter1D applies a windowed median filter with reflect
// boundary handling. For an even size the window extends one element
// further to the left, matching the usual centered convention.
func medianFilter1D(xs []float64, size int) []float64 {
	n := len(xs)
	out := make([]float64, n)
	left := size / 2
	window := make([]float64, size)
	for i := 0; i < n; i++ {
		for k := 0; k < size; k++ {
			idx := i - left + k
			// reflect: ...2 1 0 | 0 1 2... n-1 | n-1 n-2...
			for idx < 0 || idx >= n {
				if idx < 0 {
					idx = -idx - 1
				}
				if idx >= n {
					idx = 2*n - idx - 1
				}
			}
			window[k] = xs[idx]
		}
		out[i] = median(window)
	}
	return out
}
