package gridpsf

import "fmt"

// GridPoint is an (x, y) position in instrument pixel space.
type GridPoint struct {
	X, Y float64
}

func (p GridPoint) String() string {
	return fmt.Sprintf("(%g, %g)", p.X, p.Y)
}

// Image is a single H x W PSF sample stored row-major: Pix[r*W+c] is the
// value at column c of row r.
type Image struct {
	Pix []float64
	W   int
	H   int
}

// NewImage allocates a zero-filled w x h image.
func NewImage(w, h int) Image {
	return Image{Pix: make([]float64, w*h), W: w, H: h}
}

func (im Image) At(r, c int) float64 { return im.Pix[r*im.W+c] }

func (im *Image) Set(r, c int, v float64) { im.Pix[r*im.W+c] = v }

// Clone returns a copy with its own backing pixel slice.
func (im Image) Clone() Image {
	pix := make([]float64, len(im.Pix))
	copy(pix, im.Pix)
	return Image{Pix: pix, W: im.W, H: im.H}
}

func (im Image) empty() bool {
	return im.W <= 0 || im.H <= 0 || len(im.Pix) != im.W*im.H
}

// Meta carries the required grid description plus optional passthrough
// identification of the PSF library. Unknown header values a reader wants
// to preserve go into Extra and are never interpreted by the model.
type Meta struct {
	GridPositions []GridPoint
	Oversampling  int

	Instrument string
	Detector   string
	Filter     string
	Source     string

	Extra map[string]string
}

// Bundle is the construction input for a GriddedPSFModel: a stack of N
// reference PSF images of identical dimensions, paired 1:1 with the grid
// positions in Meta.
type Bundle struct {
	Images []Image
	Meta   Meta
}

// Stats is a snapshot of the interpolator cache counters. Hits and Misses
// count lookups; Evictions counts entries dropped by the LRU bound.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Size      int
	Capacity  int
}

func (s Stats) String() string {
	return fmt.Sprintf("{Hits=%d, Misses=%d, Evictions=%d, Size=%d, Capacity=%d}",
		s.Hits, s.Misses, s.Evictions, s.Size, s.Capacity)
}
