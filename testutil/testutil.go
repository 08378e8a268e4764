package testutil

import (
	"encoding/binary"
	"math"
	"math/rand"
	"sync"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Float32 returns, as a float32, a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// UniformVectors generates random vectors with values in range [0, 1).
// Uses a single backing array for efficiency.
func (r *RNG) UniformVectors(num int, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dimensions)
	vectors := make([][]float32, num)

	for i := range num {
		vec := data[i*dimensions : (i+1)*dimensions]
		for j := range vec {
			vec[j] = r.rand.Float32()
		}
		vectors[i] = vec
	}

	return vectors
}

// UnitVectors generates L2-normalized random vectors (on the hypersphere).
func (r *RNG) UnitVectors(num int, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dimensions)
	vectors := make([][]float32, num)

	for i := range num {
		vec := data[i*dimensions : (i+1)*dimensions]
		var norm float64
		for j := range vec {
			v := r.rand.NormFloat64()
			vec[j] = float32(v)
			norm += v * v
		}

		if norm == 0 {
			norm = 1
		}

		inv := float32(1.0 / math.Sqrt(norm))
		for j := range vec {
			vec[j] *= inv
		}
		vectors[i] = vec
	}

	return vectors
}

// ClusteredVectors generates vectors clustered around random centroids.
// Metric trees split such data very differently from uniform noise.
func (r *RNG) ClusteredVectors(num, dim, clusters int, spread float32) [][]float32 {
	// UnitVectors takes the lock itself.
	centroids := r.UnitVectors(clusters, dim)

	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	vectors := make([][]float32, num)

	for i := range num {
		centroid := centroids[i%clusters]
		vec := data[i*dim : (i+1)*dim]

		for j := range dim {
			vec[j] = centroid[j] + float32(r.rand.NormFloat64())*spread
		}
		vectors[i] = vec
	}

	return vectors
}

// Payloads generates num random byte strings with lengths in [minLen, maxLen].
func (r *RNG) Payloads(num, minLen, maxLen int) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([][]byte, num)
	for i := range out {
		n := minLen
		if maxLen > minLen {
			n += r.rand.Intn(maxLen - minLen + 1)
		}
		b := make([]byte, n)
		_, _ = r.rand.Read(b)
		out[i] = b
	}
	return out
}

// EncodeVector serializes vec as little-endian float32s, the way index
// entries store feature vectors.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector. Trailing bytes are ignored.
func DecodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec
}

// Neighbor is an exact search result.
type Neighbor struct {
	Index    int
	Distance float32
}

// ExactRange returns every vector within radius of query, in index order.
// It is the ground truth for range queries over a metric tree.
func ExactRange(query []float32, dataset [][]float32, radius float32, dist func(a, b []float32) float32) []Neighbor {
	var out []Neighbor
	for i, v := range dataset {
		if d := dist(query, v); d <= radius {
			out = append(out, Neighbor{Index: i, Distance: d})
		}
	}
	return out
}
