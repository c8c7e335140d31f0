package spatial

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomPoints(rng *rand.Rand, n int) [][3]float64 {
	pts := make([][3]float64, n)
	for i := range pts {
		pts[i] = [3]float64{rng.Float64() * 10, rng.Float64() * 10, rng.Float64() * 10}
	}
	return pts
}

func bruteForce(pts [][3]float64, q [3]float64, k int, radius float64) []Neighbor {
	var out []Neighbor
	for i, p := range pts {
		var sum float64
		for d := range p {
			sum += (p[d] - q[d]) * (p[d] - q[d])
		}
		dist := math.Sqrt(sum)
		if radius > 0 && dist > radius {
			continue
		}
		out = append(out, Neighbor{Index: i, Dist: dist})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dist < out[j].Dist })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

func indices(ns []Neighbor) []int {
	out := make([]int, len(ns))
	for i, n := range ns {
		out[i] = n.Index
	}
	return out
}

func TestIndex_Query_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pts := randomPoints(rng, 500)
	idx := New(pts)
	require.Equal(t, 500, idx.Len())

	tests := []struct {
		name   string
		k      int
		radius float64
	}{
		{"k only", 8, 0},
		{"radius only", 0, 1.5},
		{"k and radius", 5, 2.0},
		{"k larger than radius set", 50, 0.8},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for trial := 0; trial < 20; trial++ {
				q := [3]float64{rng.Float64() * 10, rng.Float64() * 10, rng.Float64() * 10}
				got := idx.Query(q, tc.k, tc.radius, 0, 0)
				want := bruteForce(pts, q, tc.k, tc.radius)
				assert.Equal(t, indices(want), indices(got))
			}
		})
	}
}

func TestIndex_Query_NeverExceedsRadius(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	pts := randomPoints(rng, 300)
	idx := New(pts)
	const r = 1.25
	for trial := 0; trial < 50; trial++ {
		q := pts[rng.Intn(len(pts))]
		for _, eps := range []float64{0, 0.5, 2} {
			for _, n := range idx.Query(q, 10, r, eps, 0) {
				assert.LessOrEqual(t, n.Dist, r)
			}
		}
	}
}

func TestIndex_Query_ApproximateIsSubsetWithinTolerance(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	pts := randomPoints(rng, 400)
	idx := New(pts)
	const eps = 0.5
	for trial := 0; trial < 30; trial++ {
		q := [3]float64{rng.Float64() * 10, rng.Float64() * 10, rng.Float64() * 10}
		exact := idx.Query(q, 1, 0, 0, 0)
		approx := idx.Query(q, 1, 0, eps, 0)
		require.Len(t, approx, 1)
		assert.LessOrEqual(t, approx[0].Dist, exact[0].Dist*(1+eps)+1e-12)
	}
}

func TestIndex_Query_MaxVisitsBoundsWork(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	pts := randomPoints(rng, 1000)
	idx := New(pts)
	got := idx.Query([3]float64{5, 5, 5}, 0, 0, 0, 10)
	assert.LessOrEqual(t, len(got), 10)
	assert.NotEmpty(t, got)
}

func TestIndex_Query_SortedByDistance(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	idx := New(randomPoints(rng, 200))
	got := idx.Query([3]float64{1, 2, 3}, 20, 0, 0, 0)
	require.Len(t, got, 20)
	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, got[i-1].Dist, got[i].Dist)
	}
}

func TestIndex_Empty(t *testing.T) {
	idx := New(nil)
	assert.Equal(t, 0, idx.Len())
	assert.Empty(t, idx.Query([3]float64{}, 3, 1, 0, 0))
}
