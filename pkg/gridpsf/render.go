package gridpsf

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// annotationHeight reserves room under the preview for the summary text.
const annotationHeight = 34

// RenderPSF evaluates the PSF centered at (x0, y0) across its full
// footprint, stretches it for display, upscales it to size x size pixels,
// and annotates the result with the model metadata and the evaluation
// position.
func RenderPSF(m *GriddedPSFModel, x0, y0 float64, size int) (*image.RGBA, error) {
	if size < 32 {
		return nil, fmt.Errorf("preview size %d too small", size)
	}

	h, w := m.ImageShape()
	ovs := float64(m.Oversampling())

	// Sample one evaluation per oversampled pixel across the footprint.
	xs := make([]float64, w*h)
	ys := make([]float64, w*h)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			xs[r*w+c] = x0 + (float64(c)-float64(w-1)/2)/ovs
			ys[r*w+c] = y0 + (float64(r)-float64(h-1)/2)/ovs
		}
	}
	raster, err := m.Evaluate(xs, ys, 1, x0, y0)
	if err != nil {
		return nil, err
	}

	stretchAsinh(raster)
	scaled := resampleBilinear(raster, w, h, size, size)

	img := image.NewRGBA(image.Rect(0, 0, size, size+annotationHeight))
	for y := 0; y < size+annotationHeight; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.RGBA{0, 0, 0, 255})
		}
	}
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := scaled[y*size+x]
			if v < 0 {
				v = 0
			}
			if v > 1 {
				v = 1
			}
			g := uint8(v * 255)
			img.Set(x, y, color.RGBA{g, g, g, 255})
		}
	}

	face := basicfont.Face7x13
	textColor := color.RGBA{220, 220, 220, 255}
	meta := m.Meta()
	label := meta.Instrument
	if meta.Detector != "" {
		label += "/" + meta.Detector
	}
	if meta.Filter != "" {
		label += " " + meta.Filter
	}
	if label == "" {
		label = "PSF"
	}
	drawText(img, face, label, 6, size+13, textColor)
	drawText(img, face, fmt.Sprintf("x=%.1f y=%.1f ovs=%d", x0, y0, m.Oversampling()),
		6, size+27, textColor)

	return img, nil
}

// WritePreviewPNG renders the PSF at (x0, y0) and writes it as a PNG.
func WritePreviewPNG(path string, m *GriddedPSFModel, x0, y0 float64, size int) error {
	img, err := RenderPSF(m, x0, y0, size)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create preview file: %w", err)
	}
	defer f.Close()
	return png.Encode(f, img)
}

// RenderPSFBytes renders the PSF at (x0, y0) and returns PNG bytes.
func RenderPSFBytes(m *GriddedPSFModel, x0, y0 float64, size int) ([]byte, error) {
	img, err := RenderPSF(m, x0, y0, size)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// stretchAsinh normalizes the raster to [0, 1] with an asinh stretch so
// faint PSF wings stay visible next to the core.
func stretchAsinh(vs []float64) {
	peak := 0.0
	for _, v := range vs {
		if v > peak {
			peak = v
		}
	}
	if peak <= 0 {
		return
	}
	soft := peak / 1000
	norm := math.Asinh(peak / soft)
	for i, v := range vs {
		if v <= 0 {
			vs[i] = 0
			continue
		}
		vs[i] = math.Asinh(v/soft) / norm
	}
}

func drawText(img *image.RGBA, face font.Face, s string, x, y int, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}
