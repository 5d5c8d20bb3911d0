package gridpsf

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

type splineCoeff struct {
	a, b, c, d float64
}

// spline is a 1D natural cubic interpolating spline: degree 3, passing
// exactly through every knot (no smoothing residual). Knots must be
// strictly increasing. Queries beyond the knot range evaluate the end
// segment's polynomial, so extrapolation is deterministic.
type spline struct {
	xs, ys []float64
	y2s    []float64
	coeffs []splineCoeff

	// Estimated spacing used to guess the segment before binary search.
	dx float64

	// Reusable tridiagonal system buffers for Refit.
	dl, d, du, rhs []float64
	sol            mat.VecDense
}

func newSpline(xs, ys []float64) *spline {
	if len(xs) != len(ys) {
		panic(fmt.Sprintf("spline: len(xs) = %d but len(ys) = %d", len(xs), len(ys)))
	}
	if len(xs) < 2 {
		panic(fmt.Sprintf("spline: need at least 2 knots, got %d", len(xs)))
	}
	for i := 0; i < len(xs)-1; i++ {
		if xs[i+1] <= xs[i] {
			panic("spline: knots not strictly increasing")
		}
	}

	sp := &spline{
		xs:     xs,
		ys:     ys,
		y2s:    make([]float64, len(xs)),
		coeffs: make([]splineCoeff, len(xs)-1),
		dx:     (xs[len(xs)-1] - xs[0]) / float64(len(xs)-1),
	}
	if m := len(xs) - 2; m > 0 {
		sp.dl = make([]float64, m-1)
		sp.d = make([]float64, m)
		sp.du = make([]float64, m-1)
		sp.rhs = make([]float64, m)
	}
	sp.fit()
	return sp
}

// Refit recomputes the spline for a new value table over the same knots,
// reusing every internal buffer.
func (sp *spline) Refit(ys []float64) {
	if len(ys) != len(sp.xs) {
		panic(fmt.Sprintf("spline: Refit with %d values over %d knots", len(ys), len(sp.xs)))
	}
	sp.ys = ys
	sp.fit()
}

// fit solves the natural-boundary tridiagonal system for the second
// derivatives at the interior knots, then derives per-segment cubic
// coefficients.
func (sp *spline) fit() {
	n := len(sp.xs)
	xs, ys := sp.xs, sp.ys

	sp.y2s[0], sp.y2s[n-1] = 0, 0
	if m := n - 2; m > 0 {
		for i := 0; i < m; i++ {
			j := i + 1
			if i > 0 {
				sp.dl[i-1] = (xs[j] - xs[j-1]) / 6
			}
			sp.d[i] = (xs[j+1] - xs[j-1]) / 3
			if i < m-1 {
				sp.du[i] = (xs[j+1] - xs[j]) / 6
			}
			sp.rhs[i] = (ys[j+1]-ys[j])/(xs[j+1]-xs[j]) -
				(ys[j]-ys[j-1])/(xs[j]-xs[j-1])
		}

		tri := mat.NewTridiag(m, sp.dl, sp.d, sp.du)
		if err := tri.SolveVecTo(&sp.sol, false, mat.NewVecDense(m, sp.rhs)); err != nil {
			panic(fmt.Sprintf("spline: singular tridiagonal system: %v", err))
		}
		for i := 0; i < m; i++ {
			sp.y2s[i+1] = sp.sol.AtVec(i)
		}
	}

	for i := range sp.coeffs {
		h := xs[i+1] - xs[i]
		sp.coeffs[i].a = (sp.y2s[i+1] - sp.y2s[i]) / (6 * h)
		sp.coeffs[i].b = sp.y2s[i] / 2
		sp.coeffs[i].c = (ys[i+1]-ys[i])/h - h*(2*sp.y2s[i]+sp.y2s[i+1])/6
		sp.coeffs[i].d = ys[i]
	}
}

// Eval computes the spline value at x. Out-of-range x extends the first
// or last segment polynomial.
func (sp *spline) Eval(x float64) float64 {
	i := sp.segment(x)
	dx := x - sp.xs[i]
	c := &sp.coeffs[i]
	return ((c.a*dx+c.b)*dx+c.c)*dx + c.d
}

// segment returns the index of the polynomial segment covering x, clamped
// to the end segments beyond the knot range.
func (sp *spline) segment(x float64) int {
	if x <= sp.xs[0] {
		return 0
	}
	if x >= sp.xs[len(sp.xs)-1] {
		return len(sp.coeffs) - 1
	}

	// Guess under the assumption of uniform spacing.
	guess := int((x - sp.xs[0]) / sp.dx)
	if guess >= 0 && guess < len(sp.coeffs) &&
		sp.xs[guess] <= x && x <= sp.xs[guess+1] {
		return guess
	}

	lo, hi := 0, len(sp.xs)-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if x >= sp.xs[mid] {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}
