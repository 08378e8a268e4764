// Package testutil provides testing utilities for mamstore.
//
// This package is intended for use in tests and benchmarks only.
// It provides deterministic random vectors and payloads and exact
// range queries for checking splits.
//
// # Random Data
//
//	rng := testutil.NewRNG(seed)
//	vecs := rng.UniformVectors(1000, 16)
//	payloads := rng.Payloads(100, 8, 64)
//
// # Entries
//
//	n.AddEntry(testutil.EncodeVector(vec))
//	vec := testutil.DecodeVector(entry)
package testutil
