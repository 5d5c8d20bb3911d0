//go:build !purego && !js

package gridpsf

import (
	"image"

	"gocv.io/x/gocv"
)

// resampleBilinear rescales a w x h row-major raster to dstW x dstH with
// bilinear sampling via OpenCV. A pure Go fallback exists behind the
// purego tag.
func resampleBilinear(src []float64, w, h, dstW, dstH int) []float64 {
	out := make([]float64, dstW*dstH)
	if dstW == w && dstH == h {
		copy(out, src)
		return out
	}

	srcMat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV32F)
	defer srcMat.Close()
	srcData, _ := srcMat.DataPtrFloat32()
	for i, v := range src {
		srcData[i] = float32(v)
	}

	dstMat := gocv.NewMat()
	defer dstMat.Close()
	gocv.Resize(srcMat, &dstMat, image.Pt(dstW, dstH), 0, 0, gocv.InterpolationLinear)

	dstData, _ := dstMat.DataPtrFloat32()
	for i := range out {
		out[i] = float64(dstData[i])
	}
	return out
}
