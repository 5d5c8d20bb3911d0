package gridpsf

import "fmt"

// bicubicSurface is a bicubic (degree 3 in each axis) interpolating
// surface fitted over a PSF image's pixel-index coordinates: x spans
// columns 0..W-1 and y spans rows 0..H-1. Built as a tensor of natural
// cubic splines: one spline down each column, plus one row spline that is
// refitted whenever the queried y changes.
//
// The row-spline reuse makes evaluation stateful, so a surface must not
// be evaluated from multiple goroutines at once; the owning model
// serializes access.
type bicubicSurface struct {
	w, h int

	colSplines []*spline
	rowVals    []float64
	rowSpline  *spline
	lastY      float64
}

// fitSurface fits the surface to im. The image must be at least 2 pixels
// wide and tall for the splines to be defined.
func fitSurface(im Image) (*bicubicSurface, error) {
	if im.W < 2 || im.H < 2 {
		return nil, fmt.Errorf("%w: image %dx%d too small for a bicubic surface",
			ErrInvalidBundle, im.W, im.H)
	}

	xIdx := pixelIndices(im.W)
	yIdx := pixelIndices(im.H)

	s := &bicubicSurface{
		w:          im.W,
		h:          im.H,
		colSplines: make([]*spline, im.W),
		rowVals:    make([]float64, im.W),
	}

	col := make([]float64, im.H)
	for c := 0; c < im.W; c++ {
		for r := 0; r < im.H; r++ {
			col[r] = im.At(r, c)
		}
		vals := make([]float64, im.H)
		copy(vals, col)
		s.colSplines[c] = newSpline(yIdx, vals)
	}

	s.lastY = 0
	for c := range s.rowVals {
		s.rowVals[c] = s.colSplines[c].Eval(s.lastY)
	}
	s.rowSpline = newSpline(xIdx, s.rowVals)

	return s, nil
}

// Eval returns the interpolated intensity at pixel-index coordinates
// (xi, yi). Queries outside the image extend the boundary spline
// segments.
func (s *bicubicSurface) Eval(xi, yi float64) float64 {
	if yi != s.lastY {
		s.lastY = yi
		for c := range s.rowVals {
			s.rowVals[c] = s.colSplines[c].Eval(yi)
		}
		s.rowSpline.Refit(s.rowVals)
	}
	return s.rowSpline.Eval(xi)
}

// EvalAll evaluates the surface at each (xi[i], yi[i]) pair into out,
// allocating out when nil. xi and yi must have equal length.
func (s *bicubicSurface) EvalAll(xi, yi, out []float64) []float64 {
	if len(xi) != len(yi) {
		panic(fmt.Sprintf("surface: len(xi) = %d but len(yi) = %d", len(xi), len(yi)))
	}
	if out == nil {
		out = make([]float64, len(xi))
	}
	for i := range xi {
		out[i] = s.Eval(xi[i], yi[i])
	}
	return out
}

func pixelIndices(n int) []float64 {
	idx := make([]float64, n)
	for i := range idx {
		idx[i] = float64(i)
	}
	return idx
}
