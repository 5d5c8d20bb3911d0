package gridpsf

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// blendImages bilinearly combines four reference images sampled at the
// corners of an axis-aligned rectangle into the local PSF image at
// (x, y). The (position, image) pairs may arrive in any order; they are
// canonicalized by sorting on x then y. The sorted positions must form
// exactly the corners (x0,y0), (x0,y1), (x1,y0), (x1,y1), and (x, y)
// must lie inside the rectangle, bounds inclusive. A zero-area rectangle
// is a geometry error.
func blendImages(positions []GridPoint, images []Image, x, y float64) (Image, error) {
	if len(positions) != 4 || len(images) != 4 {
		return Image{}, fmt.Errorf("%w: need 4 corner samples, got %d positions and %d images",
			ErrGeometry, len(positions), len(images))
	}

	order := []int{0, 1, 2, 3}
	sort.Slice(order, func(i, j int) bool {
		a, b := positions[order[i]], positions[order[j]]
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})

	p00 := positions[order[0]]
	p01 := positions[order[1]]
	p10 := positions[order[2]]
	p11 := positions[order[3]]

	x0, y0 := p00.X, p00.Y
	x1, y1 := p11.X, p11.Y
	if p01.X != x0 || p10.X != x1 || p10.Y != y0 || p01.Y != y1 {
		return Image{}, fmt.Errorf("%w: corner positions do not form a rectangle", ErrGeometry)
	}
	if x < x0 || x > x1 || y < y0 || y > y1 {
		return Image{}, fmt.Errorf("%w: point (%g, %g) outside blend rectangle [%g, %g]x[%g, %g]",
			ErrGeometry, x, y, x0, x1, y0, y1)
	}
	norm := (x1 - x0) * (y1 - y0)
	if norm == 0 {
		return Image{}, fmt.Errorf("%w: degenerate blend rectangle at (%g, %g)", ErrGeometry, x0, y0)
	}

	weights := [4]float64{
		(x1 - x) * (y1 - y), // at (x0, y0)
		(x1 - x) * (y - y0), // at (x0, y1)
		(x - x0) * (y1 - y), // at (x1, y0)
		(x - x0) * (y - y0), // at (x1, y1)
	}

	ref := images[order[0]]
	out := NewImage(ref.W, ref.H)
	for k, idx := range order {
		im := images[idx]
		if im.W != ref.W || im.H != ref.H {
			return Image{}, fmt.Errorf("%w: corner image %dx%d does not match %dx%d",
				ErrGeometry, im.W, im.H, ref.W, ref.H)
		}
		floats.AddScaled(out.Pix, weights[k], im.Pix)
	}
	floats.Scale(1/norm, out.Pix)

	return out, nil
}
