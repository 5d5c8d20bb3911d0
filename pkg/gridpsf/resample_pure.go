//go:build purego || js

package gridpsf

// resampleBilinear rescales a w x h row-major raster to dstW x dstH with
// bilinear sampling. Pure Go backend; the native build delegates to
// OpenCV.
func resampleBilinear(src []float64, w, h, dstW, dstH int) []float64 {
	out := make([]float64, dstW*dstH)
	if dstW == w && dstH == h {
		copy(out, src)
		return out
	}

	sx := float64(w-1) / float64(max(dstW-1, 1))
	sy := float64(h-1) / float64(max(dstH-1, 1))

	for r := 0; r < dstH; r++ {
		fy := float64(r) * sy
		y0 := int(fy)
		if y0 > h-2 {
			y0 = h - 2
		}
		dy := fy - float64(y0)
		for c := 0; c < dstW; c++ {
			fx := float64(c) * sx
			x0 := int(fx)
			if x0 > w-2 {
				x0 = w - 2
			}
			dx := fx - float64(x0)

			v00 := src[y0*w+x0]
			v01 := src[y0*w+x0+1]
			v10 := src[(y0+1)*w+x0]
			v11 := src[(y0+1)*w+x0+1]
			out[r*dstW+c] = v00*(1-dx)*(1-dy) + v01*dx*(1-dy) +
				v10*(1-dx)*dy + v11*dx*dy
		}
	}
	return out
}
