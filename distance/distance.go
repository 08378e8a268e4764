package distance

import (
	"fmt"
	"math"
	"math/bits"
)

// L2 is the Euclidean distance. Vectors must have the same length.
func L2(a, b []float32) float32 {
	return float32(math.Sqrt(float64(SquaredL2(a, b))))
}

// SquaredL2 is the squared Euclidean distance. It preserves the ordering of
// L2 but violates the triangle inequality, so it must not be used for
// pruning.
func SquaredL2(a, b []float32) float32 {
	b = b[:len(a)]
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// L1 is the Manhattan distance.
func L1(a, b []float32) float32 {
	b = b[:len(a)]
	var sum float32
	for i := range a {
		sum += float32(math.Abs(float64(a[i] - b[i])))
	}
	return sum
}

// LInf is the Chebyshev distance, the largest coordinate difference.
func LInf(a, b []float32) float32 {
	b = b[:len(a)]
	var m float32
	for i := range a {
		m = max(m, float32(math.Abs(float64(a[i]-b[i]))))
	}
	return m
}

// Hamming counts differing bits. Slices must have the same length.
func Hamming(a, b []byte) float32 {
	b = b[:len(a)]
	n := 0
	i := 0
	for ; i+8 <= len(a); i += 8 {
		x := uint64(a[i]) | uint64(a[i+1])<<8 | uint64(a[i+2])<<16 | uint64(a[i+3])<<24 |
			uint64(a[i+4])<<32 | uint64(a[i+5])<<40 | uint64(a[i+6])<<48 | uint64(a[i+7])<<56
		y := uint64(b[i]) | uint64(b[i+1])<<8 | uint64(b[i+2])<<16 | uint64(b[i+3])<<24 |
			uint64(b[i+4])<<32 | uint64(b[i+5])<<40 | uint64(b[i+6])<<48 | uint64(b[i+7])<<56
		n += bits.OnesCount64(x ^ y)
	}
	for ; i < len(a); i++ {
		n += bits.OnesCount8(a[i] ^ b[i])
	}
	return float32(n)
}

// Metric identifies a distance function.
type Metric int

const (
	MetricL2 Metric = iota
	MetricL1
	MetricLInf
	MetricHamming
)

func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "L2"
	case MetricL1:
		return "L1"
	case MetricLInf:
		return "LInf"
	case MetricHamming:
		return "Hamming"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

// ParseMetric is the inverse of Metric.String, case sensitive.
func ParseMetric(s string) (Metric, error) {
	for _, m := range []Metric{MetricL2, MetricL1, MetricLInf, MetricHamming} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown metric %q", s)
}

// Func is a distance function on float32 vectors.
type Func func(a, b []float32) float32

// FuncBytes is a distance function on byte strings.
type FuncBytes func(a, b []byte) float32

// Provider returns the distance function for a vector metric.
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricL2:
		return L2, nil
	case MetricL1:
		return L1, nil
	case MetricLInf:
		return LInf, nil
	default:
		return nil, fmt.Errorf("unsupported metric for float32: %v", m)
	}
}

// ProviderBytes returns the distance function for a byte-string metric.
func ProviderBytes(m Metric) (FuncBytes, error) {
	switch m {
	case MetricHamming:
		return Hamming, nil
	default:
		return nil, fmt.Errorf("unsupported metric for bytes: %v", m)
	}
}
