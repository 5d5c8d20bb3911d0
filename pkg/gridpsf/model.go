package gridpsf

import (
	"fmt"
	"strings"
	"sync"

	"gonum.org/v1/gonum/floats"
)

// GriddedPSFModel evaluates a spatially varying PSF from a rectangular
// grid of reference images. Construction validates the bundle and builds
// the grid index; evaluation blends the bracketing reference images at
// the query location, fits a bicubic surface over the local image, and
// caches the fitted surface per integer grid cell.
//
// The reference grid is immutable shared state. Flux and position are
// mutable per-instance parameters describing one PSF realization.
type GriddedPSFModel struct {
	bundle       Bundle
	images       []Image
	grid         *referenceGrid
	oversampling int
	fill         *float64

	flux   float64
	x0, y0 float64

	mu    sync.Mutex
	cache *surfaceCache
}

// ModelOption configures a GriddedPSFModel at construction.
type ModelOption func(*GriddedPSFModel)

// WithFillValue sets the value written to evaluation outputs whose
// transformed coordinates fall outside the PSF image. The default is 0.
func WithFillValue(v float64) ModelOption {
	return func(m *GriddedPSFModel) { m.fill = &v }
}

// WithNoFill disables out-of-image filling; queries beyond the image
// return the extrapolated surface value.
func WithNoFill() ModelOption {
	return func(m *GriddedPSFModel) { m.fill = nil }
}

// WithFlux sets the initial flux scale parameter (default 1).
func WithFlux(flux float64) ModelOption {
	return func(m *GriddedPSFModel) { m.flux = flux }
}

// WithPosition sets the initial (x0, y0) position parameters (default 0, 0).
func WithPosition(x0, y0 float64) ModelOption {
	return func(m *GriddedPSFModel) { m.x0, m.y0 = x0, y0 }
}

// NewGriddedPSFModel validates the bundle and builds the model. The
// bundle's images and positions are referenced, not copied; they must not
// be mutated afterwards.
func NewGriddedPSFModel(b Bundle, opts ...ModelOption) (*GriddedPSFModel, error) {
	if err := validateBundle(b); err != nil {
		return nil, err
	}
	grid, err := newReferenceGrid(b.Meta.GridPositions)
	if err != nil {
		return nil, err
	}

	fill := 0.0
	m := &GriddedPSFModel{
		bundle:       b,
		images:       b.Images,
		grid:         grid,
		oversampling: b.Meta.Oversampling,
		fill:         &fill,
		flux:         1,
		cache:        newSurfaceCache(defaultCacheCapacity),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func validateBundle(b Bundle) error {
	if len(b.Images) == 0 {
		return fmt.Errorf("%w: no reference images", ErrInvalidBundle)
	}
	ref := b.Images[0]
	if ref.empty() {
		return fmt.Errorf("%w: reference image 0 is empty", ErrInvalidBundle)
	}
	if ref.W < 2 || ref.H < 2 {
		return fmt.Errorf("%w: reference images %dx%d too small to interpolate",
			ErrInvalidBundle, ref.W, ref.H)
	}
	for i, im := range b.Images {
		if im.empty() || im.W != ref.W || im.H != ref.H {
			return fmt.Errorf("%w: image %d is %dx%d, want %dx%d",
				ErrInvalidBundle, i, im.W, im.H, ref.W, ref.H)
		}
	}
	if len(b.Meta.GridPositions) != len(b.Images) {
		return fmt.Errorf("%w: %d grid positions for %d images",
			ErrInvalidBundle, len(b.Meta.GridPositions), len(b.Images))
	}
	if b.Meta.Oversampling <= 0 {
		return fmt.Errorf("%w: oversampling must be positive, got %d",
			ErrInvalidBundle, b.Meta.Oversampling)
	}
	return nil
}

// Evaluate computes the PSF intensity at each output-space coordinate
// pair (x[i], y[i]) for a PSF of the given flux centered at (x0, y0).
// Coordinates are transformed into the oversampled PSF-image frame,
// sampled from the cached local surface for the cell containing (x0, y0),
// and scaled by flux. With a non-nil fill value, points landing outside
// the PSF image are overwritten with it elementwise.
func (m *GriddedPSFModel) Evaluate(x, y []float64, flux, x0, y0 float64) ([]float64, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("%w: len(x) = %d but len(y) = %d", ErrGeometry, len(x), len(y))
	}

	// The whole evaluation runs under the model lock: the cache
	// lookup-or-insert must not race, and fitted surfaces keep per-query
	// row state, so they are not safe to share between goroutines.
	m.mu.Lock()
	defer m.mu.Unlock()

	// Only the integer part of the position keys the cache, so nearby
	// sub-pixel positions reuse one fitted surface.
	surface, err := m.surfaceForLocked(cellKey{X: int(x0), Y: int(y0)})
	if err != nil {
		return nil, err
	}

	w, h := surface.w, surface.h
	ovs := float64(m.oversampling)
	halfX := float64(w-1) / 2
	halfY := float64(h-1) / 2

	xi := make([]float64, len(x))
	yi := make([]float64, len(y))
	for i := range x {
		xi[i] = ovs*(x[i]-x0) + halfX
		yi[i] = ovs*(y[i]-y0) + halfY
	}

	out := surface.EvalAll(xi, yi, nil)
	floats.Scale(flux, out)

	if m.fill != nil {
		for i := range out {
			if xi[i] < 0 || xi[i] > float64(w-1) || yi[i] < 0 || yi[i] > float64(h-1) {
				out[i] = *m.fill
			}
		}
	}
	return out, nil
}

// EvaluateAt evaluates the PSF at a single output coordinate using the
// instance's flux and position parameters.
func (m *GriddedPSFModel) EvaluateAt(x, y float64) (float64, error) {
	out, err := m.Evaluate([]float64{x}, []float64{y}, m.flux, m.x0, m.y0)
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

// surfaceForLocked resolves the fitted surface for a grid cell, fitting
// and caching it on first use. Callers must hold m.mu.
func (m *GriddedPSFModel) surfaceForLocked(key cellKey) (*bicubicSurface, error) {
	if s, ok := m.cache.get(key); ok {
		return s, nil
	}

	cx, cy := float64(key.X), float64(key.Y)
	indices := m.grid.locate(cx, cy)

	var local Image
	if len(indices) == 1 {
		// Outside the grid span: use the nearest reference image as is.
		local = m.images[indices[0]]
	} else {
		positions := make([]GridPoint, len(indices))
		images := make([]Image, len(indices))
		for i, idx := range indices {
			positions[i] = m.grid.points[idx]
			images[i] = m.images[idx]
		}
		var err error
		local, err = blendImages(positions, images, cx, cy)
		if err != nil {
			return nil, err
		}
	}

	s, err := fitSurface(local)
	if err != nil {
		return nil, err
	}
	m.cache.put(key, s)
	return s, nil
}

// Copy returns a model built from the same input bundle: the reference
// image data is shared, the cache is fresh, and the bundle is validated
// again (validation is cheap next to a single surface fit). Use DeepCopy
// to duplicate the pixel data as well.
func (m *GriddedPSFModel) Copy() (*GriddedPSFModel, error) {
	opts := []ModelOption{
		WithFlux(m.flux),
		WithPosition(m.x0, m.y0),
	}
	if m.fill != nil {
		opts = append(opts, WithFillValue(*m.fill))
	} else {
		opts = append(opts, WithNoFill())
	}
	return NewGriddedPSFModel(m.bundle, opts...)
}

// DeepCopy returns a model sharing no state with the original, including
// the reference images and metadata.
func (m *GriddedPSFModel) DeepCopy() *GriddedPSFModel {
	b := Bundle{
		Images: make([]Image, len(m.bundle.Images)),
		Meta:   m.bundle.Meta,
	}
	for i, im := range m.bundle.Images {
		b.Images[i] = im.Clone()
	}
	b.Meta.GridPositions = append([]GridPoint(nil), m.bundle.Meta.GridPositions...)
	if m.bundle.Meta.Extra != nil {
		b.Meta.Extra = make(map[string]string, len(m.bundle.Meta.Extra))
		for k, v := range m.bundle.Meta.Extra {
			b.Meta.Extra[k] = v
		}
	}

	dup := &GriddedPSFModel{
		bundle:       b,
		images:       b.Images,
		oversampling: m.oversampling,
		flux:         m.flux,
		x0:           m.x0,
		y0:           m.y0,
		cache:        newSurfaceCache(defaultCacheCapacity),
	}
	if m.fill != nil {
		f := *m.fill
		dup.fill = &f
	}
	// The positions were validated at construction, so this cannot fail.
	dup.grid, _ = newReferenceGrid(b.Meta.GridPositions)
	return dup
}

// ClearCache drops every cached surface; the next evaluation refits.
func (m *GriddedPSFModel) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.clear()
}

// CacheStats returns a snapshot of the interpolator cache counters.
func (m *GriddedPSFModel) CacheStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.stats()
}

// Flux returns the flux scale parameter.
func (m *GriddedPSFModel) Flux() float64 { return m.flux }

// SetFlux sets the flux scale parameter.
func (m *GriddedPSFModel) SetFlux(flux float64) { m.flux = flux }

// Position returns the (x0, y0) position parameters.
func (m *GriddedPSFModel) Position() (float64, float64) { return m.x0, m.y0 }

// SetPosition sets the (x0, y0) position parameters.
func (m *GriddedPSFModel) SetPosition(x0, y0 float64) { m.x0, m.y0 = x0, y0 }

// FillValue returns the out-of-image fill value and whether filling is
// enabled.
func (m *GriddedPSFModel) FillValue() (float64, bool) {
	if m.fill == nil {
		return 0, false
	}
	return *m.fill, true
}

// NumImages returns the number of reference PSF images.
func (m *GriddedPSFModel) NumImages() int { return len(m.images) }

// ImageShape returns the (height, width) of the reference images in
// oversampled pixels.
func (m *GriddedPSFModel) ImageShape() (int, int) {
	return m.images[0].H, m.images[0].W
}

// GridShape returns the (ny, nx) dimensions of the reference grid.
func (m *GriddedPSFModel) GridShape() (int, int) { return m.grid.shape() }

// Oversampling returns the PSF-image pixels per output pixel.
func (m *GriddedPSFModel) Oversampling() int { return m.oversampling }

// Bounds returns the grid's axis span (xmin, xmax, ymin, ymax).
func (m *GriddedPSFModel) Bounds() (float64, float64, float64, float64) {
	return m.grid.xs[0], m.grid.xs[len(m.grid.xs)-1],
		m.grid.ys[0], m.grid.ys[len(m.grid.ys)-1]
}

// Meta returns the bundle metadata.
func (m *GriddedPSFModel) Meta() Meta { return m.bundle.Meta }

// String reports the model's passthrough metadata, grid shape, image
// count and shape, and oversampling.
func (m *GriddedPSFModel) String() string {
	var sb strings.Builder
	sb.WriteString("GriddedPSFModel\n")

	meta := m.bundle.Meta
	writeIf := func(name, val string) {
		if val != "" {
			fmt.Fprintf(&sb, "%s: %s\n", name, val)
		}
	}
	writeIf("Source", meta.Source)
	writeIf("Instrument", meta.Instrument)
	writeIf("Detector", meta.Detector)
	writeIf("Filter", meta.Filter)

	ny, nx := m.grid.shape()
	h, w := m.ImageShape()
	fmt.Fprintf(&sb, "Grid shape: (%d, %d)\n", ny, nx)
	fmt.Fprintf(&sb, "Number of PSFs: %d\n", len(m.images))
	fmt.Fprintf(&sb, "PSF shape (oversampled pixels): (%d, %d)\n", h, w)
	fmt.Fprintf(&sb, "Oversampling: %d", m.oversampling)
	return sb.String()
}
