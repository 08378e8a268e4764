// Package distance provides metric distance functions for the split layer.
//
// Every function except SquaredL2 satisfies the metric axioms (identity,
// symmetry, triangle inequality), which ball and vantage-point partitioning
// rely on.
//
// # Supported Metrics
//
//   - MetricL2: Euclidean distance (default)
//   - MetricL1: Manhattan distance
//   - MetricLInf: Chebyshev distance
//   - MetricHamming: bit difference count on byte strings
//
// # Usage
//
//	fn, _ := distance.Provider(distance.MetricL2)
//	d := fn(a, b)
package distance
