package sim

import (
	"sort"

	"gonum.org/v1/gonum/mat"
)

type matrixEntry struct {
	row, col int
	value    float64
}

// matrixEntries lists the nonzero entries of m in row-major order.
func matrixEntries(m mat.Matrix) []matrixEntry {
	var out []matrixEntry
	if nz, ok := m.(mat.NonZeroDoer); ok {
		nz.DoNonZero(func(i, j int, v float64) {
			if v != 0 {
				out = append(out, matrixEntry{row: i, col: j, value: v})
			}
		})
	} else {
		r, c := m.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				if v := m.At(i, j); v != 0 {
					out = append(out, matrixEntry{row: i, col: j, value: v})
				}
			}
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].row != out[b].row {
			return out[a].row < out[b].row
		}
		return out[a].col < out[b].col
	})
	return out
}

// ConnectMatrix enumerates the nonzero entries of a connectivity matrix.
// Rows and columns map to endpoint instances through Connection.MapIndex.
// In incremental mode, entries between two old instances are skipped.
type ConnectMatrix[T any] struct {
	entries     []matrixEntry
	endpoints   []Endpoint[T]
	pos         int
	probe       Connection[T]
	incremental bool
}

func newConnectMatrix[T any](probe Connection[T], eps []Endpoint[T], entries []matrixEntry, incremental bool) *ConnectMatrix[T] {
	return &ConnectMatrix[T]{entries: entries, endpoints: eps, pos: -1, probe: probe, incremental: incremental}
}

func (c *ConnectMatrix[T]) setInner(connectLevel[T]) {}

func (c *ConnectMatrix[T]) probeOf() Connection[T] { return c.probe }

func (c *ConnectMatrix[T]) reset() bool {
	c.pos = -1
	return c.Next()
}

func (c *ConnectMatrix[T]) bind(e matrixEntry) bool {
	a := c.endpoints[0].Population.At(c.probe.MapIndex(0, e.row))
	b := c.endpoints[1].Population.At(c.probe.MapIndex(1, e.col))
	if a == nil || b == nil {
		return false
	}
	if c.incremental && !a.Base().newborn && !b.Base().newborn {
		return false
	}
	c.probe.SetPart(0, a)
	if m := c.endpoints[0].Max; m > 0 && c.probe.GetCount(0) >= m {
		return false
	}
	c.probe.SetPart(1, b)
	if m := c.endpoints[1].Max; m > 0 && c.probe.GetCount(1) >= m {
		return false
	}
	if w, ok := c.probe.(Weighted); ok {
		w.SetWeight(e.value)
	}
	return true
}

// Next implements ConnectIterator.
func (c *ConnectMatrix[T]) Next() bool {
	for c.pos++; c.pos < len(c.entries); c.pos++ {
		if c.bind(c.entries[c.pos]) {
			return true
		}
	}
	return false
}

// SetProbe implements ConnectIterator. Entries are visited once, so the
// current binding never needs skipping.
func (c *ConnectMatrix[T]) SetProbe(probe Connection[T]) bool {
	c.probe = probe
	return false
}
