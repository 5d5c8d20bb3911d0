package gridpsf

import (
	"fmt"
	"math"
	"sort"
)

// referenceGrid indexes the reference sample positions: the raw per-sample
// coordinates for nearest-neighbor search plus the sorted unique axis
// values. Immutable after construction.
type referenceGrid struct {
	points []GridPoint
	xs     []float64 // sorted unique x values
	ys     []float64 // sorted unique y values
}

// newReferenceGrid validates that the positions form a complete rectangular
// grid: the Cartesian product of the unique x and y values must have
// exactly len(points) elements. The comparison is exact, not tolerance
// based; grid coordinates are expected to be exactly representable.
func newReferenceGrid(points []GridPoint) (*referenceGrid, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no grid positions", ErrInvalidBundle)
	}

	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.X
		ys[i] = p.Y
	}
	xs = sortedUnique(xs)
	ys = sortedUnique(ys)

	if len(xs)*len(ys) != len(points) {
		return nil, fmt.Errorf("%w: %d x-values and %d y-values cannot cover %d positions",
			ErrIrregularGrid, len(xs), len(ys), len(points))
	}

	return &referenceGrid{points: points, xs: xs, ys: ys}, nil
}

// nearest returns the index of the sample closest to (x, y) by Euclidean
// distance. Ties resolve to the first occurrence in storage order.
func (g *referenceGrid) nearest(x, y float64) int {
	best := 0
	bestDist := math.Inf(1)
	for i, p := range g.points {
		d := math.Hypot(p.X-x, p.Y-y)
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

// contains reports whether (x, y) lies within the grid's axis span,
// bounds inclusive.
func (g *referenceGrid) contains(x, y float64) bool {
	return x >= g.xs[0] && x <= g.xs[len(g.xs)-1] &&
		y >= g.ys[0] && y <= g.ys[len(g.ys)-1]
}

// shape returns (ny, nx), the grid dimensions along each axis.
func (g *referenceGrid) shape() (int, int) {
	return len(g.ys), len(g.xs)
}

func sortedUnique(vs []float64) []float64 {
	sort.Float64s(vs)
	out := vs[:0]
	for i, v := range vs {
		if i == 0 || v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
