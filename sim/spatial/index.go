// Package spatial provides the 3-D nearest-neighbor index used to filter
// connection candidates by distance.
package spatial

import (
	"container/heap"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// Neighbor is a single query result. Index is the position of the point in
// the slice passed to New; Dist is the Euclidean distance to the query point.
type Neighbor struct {
	Index int
	Dist  float64
}

// Index is an immutable kd-tree over a fixed point set.
type Index struct {
	tree *kdtree.Tree
	n    int
}

// New builds an index over points. The payload of each point is its position
// in points.
func New(points [][3]float64) *Index {
	s := make(sites, len(points))
	for i, p := range points {
		s[i] = site{pos: p, index: i}
	}
	idx := &Index{n: len(points)}
	if len(s) > 0 {
		idx.tree = kdtree.New(s, false)
	}
	return idx
}

// Len returns the number of indexed points.
func (x *Index) Len() int { return x.n }

// Query returns up to k points within radius of q, nearest first.
// k <= 0 means no count limit and radius <= 0 means no distance limit.
// epsilon > 0 allows approximate results: a subtree is skipped unless it may
// contain a point closer than bound/(1+epsilon). maxVisits > 0 caps the number
// of tree nodes examined. The radius is always enforced exactly.
func (x *Index) Query(q [3]float64, k int, radius, epsilon float64, maxVisits int) []Neighbor {
	if x.tree == nil {
		return nil
	}
	keeper := newBoundedKeeper(site{pos: q, index: -1}, k, radius, epsilon, maxVisits)
	x.tree.NearestSet(keeper, keeper.query)

	out := make([]Neighbor, 0, len(keeper.Heap))
	for _, cd := range keeper.Heap {
		s, ok := cd.Comparable.(site)
		if !ok || s.index < 0 {
			continue
		}
		out = append(out, Neighbor{Index: s.index, Dist: math.Sqrt(cd.Dist)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Dist != out[j].Dist {
			return out[i].Dist < out[j].Dist
		}
		return out[i].Index < out[j].Index
	})
	return out
}

// site is a point with its payload. Distance is squared Euclidean, as the
// kd-tree pruning compares it against squared plane offsets.
type site struct {
	pos   [3]float64
	index int
}

func (s site) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return s.pos[d] - c.(site).pos[d]
}

func (s site) Dims() int { return 3 }

func (s site) Distance(c kdtree.Comparable) float64 {
	o := c.(site)
	var sum float64
	for i := range s.pos {
		d := s.pos[i] - o.pos[i]
		sum += d * d
	}
	return sum
}

type sites []site

func (s sites) Index(i int) kdtree.Comparable         { return s[i] }
func (s sites) Len() int                              { return len(s) }
func (s sites) Slice(start, end int) kdtree.Interface { return s[start:end] }
func (s sites) Pivot(d kdtree.Dim) int {
	return plane{sites: s, dim: d}.Pivot()
}

// plane sorts sites along a single dimension.
type plane struct {
	sites
	dim kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	return p.sites[i].pos[p.dim] < p.sites[j].pos[p.dim]
}

func (p plane) Pivot() int { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{sites: p.sites[start:end], dim: p.dim}
}

func (p plane) Swap(i, j int) { p.sites[i], p.sites[j] = p.sites[j], p.sites[i] }

// boundedKeeper retains the k nearest sites inside a radius. It never holds a
// sentinel: Max reports the current pruning bound on the query site itself.
type boundedKeeper struct {
	kdtree.Heap
	query     site
	k         int
	r2        float64
	shrink    float64
	maxVisits int
	visits    int
}

func newBoundedKeeper(q site, k int, radius, epsilon float64, maxVisits int) *boundedKeeper {
	r2 := math.Inf(1)
	if radius > 0 {
		r2 = radius * radius
	}
	shrink := 1.0
	if epsilon > 0 {
		shrink = (1 + epsilon) * (1 + epsilon)
	}
	return &boundedKeeper{query: q, k: k, r2: r2, shrink: shrink, maxVisits: maxVisits}
}

func (b *boundedKeeper) full() bool { return b.k > 0 && len(b.Heap) >= b.k }

func (b *boundedKeeper) bound() float64 {
	if b.full() {
		return b.Heap[0].Dist
	}
	return b.r2
}

func (b *boundedKeeper) exhausted() bool {
	return b.maxVisits > 0 && b.visits >= b.maxVisits
}

// Keep implements kdtree.Keeper.
func (b *boundedKeeper) Keep(c kdtree.ComparableDist) {
	if b.exhausted() {
		return
	}
	b.visits++
	if c.Dist > b.r2 {
		return
	}
	if b.full() {
		if c.Dist >= b.Heap[0].Dist {
			return
		}
		heap.Pop(&b.Heap)
	}
	heap.Push(&b.Heap, c)
}

// Max implements kdtree.Keeper.
func (b *boundedKeeper) Max() kdtree.ComparableDist {
	if b.exhausted() {
		return kdtree.ComparableDist{Comparable: b.query, Dist: -1}
	}
	return kdtree.ComparableDist{Comparable: b.query, Dist: b.bound() / b.shrink}
}
