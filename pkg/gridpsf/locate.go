package gridpsf

import "sort"

// lowerBoundIdx finds the index i0 into the sorted axis vs such that
// vs[i0] and vs[i0+1] bracket x, clamped so both indices stay valid:
// below the first value it returns 0, at or above the last value it
// returns len(vs)-2.
func lowerBoundIdx(vs []float64, x float64) int {
	idx := sort.SearchFloat64s(vs, x)
	switch {
	case idx == 0:
		return 0
	case idx == len(vs):
		return idx - 2
	default:
		return idx - 1
	}
}

func clampSpan(vs []float64, i0 int) []float64 {
	if i0 < 0 {
		i0 = 0
	}
	hi := i0 + 2
	if hi > len(vs) {
		hi = len(vs)
	}
	return vs[i0:hi]
}

// locate finds the reference samples bracketing (x, y). Outside the grid
// span it returns the single nearest sample; inside (bounds inclusive) it
// returns the 4 samples whose positions are closest to the corners of the
// bracketing axis cell. The 4-index order is not guaranteed rectangular;
// blendImages canonicalizes it.
func (g *referenceGrid) locate(x, y float64) []int {
	if !g.contains(x, y) {
		return []int{g.nearest(x, y)}
	}

	i0 := lowerBoundIdx(g.xs, x)
	j0 := lowerBoundIdx(g.ys, y)

	// Storage order need not follow axis order, so resolve each corner
	// coordinate to the closest actual sample. Slices are clamped so a
	// single-element axis cannot index out of range; the degenerate
	// corner set it produces is rejected by the blender.
	indices := make([]int, 0, 4)
	for _, cx := range clampSpan(g.xs, i0) {
		for _, cy := range clampSpan(g.ys, j0) {
			indices = append(indices, g.nearest(cx, cy))
		}
	}
	return indices
}
