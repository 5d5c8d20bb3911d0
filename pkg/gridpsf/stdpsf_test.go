package gridpsf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fitsCard(key, value string) string {
	rec := fmt.Sprintf("%-8s= %s", key, value)
	if len(rec) > fitsRecordLen {
		panic("fits card too long: " + rec)
	}
	return rec + strings.Repeat(" ", fitsRecordLen-len(rec))
}

// buildSTDPSF assembles a minimal standard-format PSF archive in memory:
// one header unit of 80-byte cards padded to 2880-byte blocks, followed
// by big-endian pixel data.
func buildSTDPSF(t *testing.T, cards [][2]string, bitpix int, pixels []float64) []byte {
	t.Helper()

	var buf bytes.Buffer
	for _, c := range cards {
		buf.WriteString(fitsCard(c[0], c[1]))
	}
	buf.WriteString("END" + strings.Repeat(" ", fitsRecordLen-3))
	for buf.Len()%2880 != 0 {
		buf.WriteByte(' ')
	}

	for _, v := range pixels {
		switch bitpix {
		case -32:
			if err := binary.Write(&buf, binary.BigEndian, float32(v)); err != nil {
				t.Fatal(err)
			}
		case -64:
			if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
				t.Fatal(err)
			}
		case 16:
			if err := binary.Write(&buf, binary.BigEndian, int16(v)); err != nil {
				t.Fatal(err)
			}
		default:
			t.Fatalf("unsupported test bitpix %d", bitpix)
		}
	}
	for buf.Len()%2880 != 0 {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// schemeACards describes a 2x2 grid of 5x5 PSFs at 1-indexed pixel
// positions (1, 11) on each axis.
func schemeACards(bitpix int) [][2]string {
	return [][2]string{
		{"SIMPLE", "T"},
		{"BITPIX", fmt.Sprint(bitpix)},
		{"NAXIS", "3"},
		{"NAXIS1", "5"},
		{"NAXIS2", "5"},
		{"NAXIS3", "4"},
		{"NXPSFS", "2"},
		{"NYPSFS", "2"},
		{"IPSFX01", "1"},
		{"IPSFX02", "11"},
		{"JPSFY01", "1"},
		{"JPSFY02", "11"},
	}
}

// constStack returns n images of w*h pixels, image i filled with i+1.
func constStack(n, w, h int) []float64 {
	out := make([]float64, n*w*h)
	for i := 0; i < n; i++ {
		for j := 0; j < w*h; j++ {
			out[i*w*h+j] = float64(i + 1)
		}
	}
	return out
}

func TestReadSTDPSFBytesSchemeA(t *testing.T) {
	data := buildSTDPSF(t, schemeACards(-32), -32, constStack(4, 5, 5))

	b, err := ReadSTDPSFBytes(data, "STDPSF_NRCA1_F150W.fits", WithOversampling(1))
	if err != nil {
		t.Fatalf("ReadSTDPSFBytes: %v", err)
	}

	if len(b.Images) != 4 {
		t.Fatalf("got %d images, want 4", len(b.Images))
	}
	wantPos := []GridPoint{{0, 0}, {10, 0}, {0, 10}, {10, 10}}
	for i, want := range wantPos {
		if got := b.Meta.GridPositions[i]; got != want {
			t.Errorf("position[%d] = %v, want %v", i, got, want)
		}
	}
	for i, im := range b.Images {
		if im.W != 5 || im.H != 5 {
			t.Errorf("image %d is %dx%d, want 5x5", i, im.W, im.H)
		}
		if im.Pix[0] != float64(i+1) {
			t.Errorf("image %d pixel value = %g, want %d", i, im.Pix[0], i+1)
		}
	}
	if b.Meta.Oversampling != 1 {
		t.Errorf("oversampling = %d, want 1", b.Meta.Oversampling)
	}
	if b.Meta.Instrument != "JWST/NIRCam" || b.Meta.Detector != "A1" || b.Meta.Filter != "F150W" {
		t.Errorf("metadata = %q/%q/%q, want JWST/NIRCam/A1/F150W",
			b.Meta.Instrument, b.Meta.Detector, b.Meta.Filter)
	}

	m, err := NewGriddedPSFModel(b)
	if err != nil {
		t.Fatalf("NewGriddedPSFModel: %v", err)
	}
	out, err := m.Evaluate([]float64{5}, []float64{5}, 1, 5, 5)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if math.Abs(out[0]-2.5) > 1e-6 {
		t.Errorf("center evaluation = %g, want 2.5", out[0])
	}
}

func TestReadSTDPSFDefaultOversampling(t *testing.T) {
	data := buildSTDPSF(t, schemeACards(-32), -32, constStack(4, 5, 5))
	b, err := ReadSTDPSFBytes(data, "")
	if err != nil {
		t.Fatalf("ReadSTDPSFBytes: %v", err)
	}
	if b.Meta.Oversampling != 4 {
		t.Errorf("default oversampling = %d, want 4", b.Meta.Oversampling)
	}
	if b.Meta.Instrument != "" {
		t.Errorf("unexpected instrument %q without a filename", b.Meta.Instrument)
	}
}

func TestReadSTDPSFFile(t *testing.T) {
	data := buildSTDPSF(t, schemeACards(-32), -32, constStack(4, 5, 5))
	path := filepath.Join(t.TempDir(), "STDPSF_NRCB4_F200W.fits")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := ReadSTDPSF(path)
	if err != nil {
		t.Fatalf("ReadSTDPSF: %v", err)
	}
	if meta := m.Meta(); meta.Detector != "B4" || meta.Filter != "F200W" {
		t.Errorf("metadata = %q/%q, want B4/F200W", meta.Detector, meta.Filter)
	}
	if meta := m.Meta(); meta.Source != "STDPSF_NRCB4_F200W.fits" {
		t.Errorf("source = %q", meta.Source)
	}
}

func TestReadSTDPSFPixelTypes(t *testing.T) {
	// The same stack encoded three ways must decode to the same values.
	tests := []struct {
		name   string
		bitpix int
		extra  [][2]string
	}{
		{"float32", -32, nil},
		{"float64", -64, nil},
		{"int16 scaled", 16, [][2]string{{"BZERO", "0.5"}, {"BSCALE", "2.0"}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cards := append(schemeACards(tc.bitpix), tc.extra...)
			data := buildSTDPSF(t, cards, tc.bitpix, constStack(4, 5, 5))
			b, err := ReadSTDPSFBytes(data, "")
			if err != nil {
				t.Fatalf("ReadSTDPSFBytes: %v", err)
			}
			want := 1.0
			if tc.bitpix == 16 {
				want = 1*2.0 + 0.5
			}
			if got := b.Images[0].Pix[0]; got != want {
				t.Errorf("decoded pixel = %g, want %g", got, want)
			}
		})
	}
}

// twoChipArchive builds a stacked two-detector file: 56 4x4 PSFs on a
// 7x8 grid whose upper half sits 2048 y-pixels above the lower half.
func twoChipArchive(t *testing.T) []byte {
	cards := [][2]string{
		{"SIMPLE", "T"},
		{"BITPIX", "-32"},
		{"NAXIS", "3"},
		{"NAXIS1", "4"},
		{"NAXIS2", "4"},
		{"NAXIS3", "56"},
		{"NXPSFS", "7"},
		{"NYPSFS", "8"},
	}
	xs := []int{1, 171, 341, 512, 683, 853, 1024}
	ys := []int{1, 301, 601, 1024, 2049, 2349, 2649, 3072}
	for i, v := range xs {
		cards = append(cards, [2]string{fmt.Sprintf("IPSFX%02d", i+1), fmt.Sprint(v)})
	}
	for i, v := range ys {
		cards = append(cards, [2]string{fmt.Sprintf("JPSFY%02d", i+1), fmt.Sprint(v)})
	}
	return buildSTDPSF(t, cards, -32, constStack(56, 4, 4))
}

func TestReadSTDPSFTwoChip(t *testing.T) {
	data := twoChipArchive(t)

	t.Run("requires science extension", func(t *testing.T) {
		if _, err := ReadSTDPSFBytes(data, ""); !errors.Is(err, ErrUnknownDetector) {
			t.Errorf("got %v, want ErrUnknownDetector", err)
		}
	})

	t.Run("rejects invalid science extension", func(t *testing.T) {
		_, err := ReadSTDPSFBytes(data, "", WithScienceExtension(3))
		if !errors.Is(err, ErrUnknownDetector) {
			t.Errorf("got %v, want ErrUnknownDetector", err)
		}
	})

	wantY := []float64{0, 300, 600, 1023}

	t.Run("extension 1 takes the lower chip", func(t *testing.T) {
		b, err := ReadSTDPSFBytes(data, "", WithScienceExtension(1))
		if err != nil {
			t.Fatalf("ReadSTDPSFBytes: %v", err)
		}
		if len(b.Images) != 28 {
			t.Fatalf("got %d images, want 28", len(b.Images))
		}
		if b.Images[0].Pix[0] != 1 || b.Images[27].Pix[0] != 28 {
			t.Errorf("image values = %g..%g, want 1..28",
				b.Images[0].Pix[0], b.Images[27].Pix[0])
		}
		for i, want := range wantY {
			if got := b.Meta.GridPositions[i*7].Y; got != want {
				t.Errorf("row %d y = %g, want %g", i, got, want)
			}
		}
	})

	t.Run("extension 2 takes the upper chip rebased", func(t *testing.T) {
		b, err := ReadSTDPSFBytes(data, "", WithScienceExtension(2))
		if err != nil {
			t.Fatalf("ReadSTDPSFBytes: %v", err)
		}
		if len(b.Images) != 28 {
			t.Fatalf("got %d images, want 28", len(b.Images))
		}
		if b.Images[0].Pix[0] != 29 || b.Images[27].Pix[0] != 56 {
			t.Errorf("image values = %g..%g, want 29..56",
				b.Images[0].Pix[0], b.Images[27].Pix[0])
		}
		// The upper chip's y coordinates shift down by 2048 so both chips
		// address detector-local pixels.
		for i, want := range wantY {
			if got := b.Meta.GridPositions[i*7].Y; got != want {
				t.Errorf("row %d y = %g, want %g", i, got, want)
			}
		}
	})
}

func TestReadSTDPSFChipDetectorNaming(t *testing.T) {
	data := twoChipArchive(t)

	b, err := ReadSTDPSFBytes(data, "STDPSF_ACSWFC_F814W.fits", WithScienceExtension(1))
	if err != nil {
		t.Fatalf("ReadSTDPSFBytes: %v", err)
	}
	if b.Meta.Instrument != "HST/ACS" || b.Meta.Detector != "WFC2" {
		t.Errorf("metadata = %q/%q, want HST/ACS/WFC2", b.Meta.Instrument, b.Meta.Detector)
	}

	b, err = ReadSTDPSFBytes(data, "STDPSF_ACSWFC_F814W.fits", WithScienceExtension(2))
	if err != nil {
		t.Fatalf("ReadSTDPSFBytes: %v", err)
	}
	if b.Meta.Detector != "WFC1" {
		t.Errorf("detector = %q, want WFC1", b.Meta.Detector)
	}
}

func TestReadSTDPSFMetadataNames(t *testing.T) {
	data := buildSTDPSF(t, schemeACards(-32), -32, constStack(4, 5, 5))

	t.Run("unknown detector", func(t *testing.T) {
		_, err := ReadSTDPSFBytes(data, "STDPSF_BOGUS_F150W.fits")
		if !errors.Is(err, ErrUnknownDetector) {
			t.Errorf("got %v, want ErrUnknownDetector", err)
		}
	})

	t.Run("nonconforming name skipped", func(t *testing.T) {
		b, err := ReadSTDPSFBytes(data, "mypsf.fits")
		if err != nil {
			t.Fatalf("ReadSTDPSFBytes: %v", err)
		}
		if b.Meta.Instrument != "" || b.Meta.Detector != "" {
			t.Errorf("metadata derived from nonconforming name: %q/%q",
				b.Meta.Instrument, b.Meta.Detector)
		}
	})

	t.Run("gz suffix stripped", func(t *testing.T) {
		b, err := ReadSTDPSFBytes(data, "STDPSF_MIRI_F770W.fits.gz")
		if err != nil {
			t.Fatalf("ReadSTDPSFBytes: %v", err)
		}
		if b.Meta.Instrument != "JWST/MIRI" || b.Meta.Detector != "MIRIM" {
			t.Errorf("metadata = %q/%q, want JWST/MIRI/MIRIM",
				b.Meta.Instrument, b.Meta.Detector)
		}
	})
}

func TestReadSTDPSFFormatErrors(t *testing.T) {
	replace := func(cards [][2]string, key, value string) [][2]string {
		out := make([][2]string, 0, len(cards))
		for _, c := range cards {
			if c[0] == key {
				if value != "" {
					out = append(out, [2]string{key, value})
				}
				continue
			}
			out = append(out, c)
		}
		return out
	}

	tests := []struct {
		name  string
		cards [][2]string
		data  []float64
	}{
		{
			name:  "unsupported bitpix",
			cards: schemeACards(8),
			data:  nil,
		},
		{
			name:  "missing grid dimensions",
			cards: replace(schemeACards(-32), "NXPSFS", ""),
			data:  constStack(4, 5, 5),
		},
		{
			name: "missing grid scheme",
			cards: replace(replace(replace(replace(schemeACards(-32),
				"IPSFX01", ""), "IPSFX02", ""), "JPSFY01", ""), "JPSFY02", ""),
			data: constStack(4, 5, 5),
		},
		{
			name:  "grid product mismatch",
			cards: replace(schemeACards(-32), "NAXIS3", "5"),
			data:  constStack(5, 5, 5),
		},
		{
			name:  "missing image dimensions",
			cards: replace(schemeACards(-32), "NAXIS3", ""),
			data:  constStack(4, 5, 5),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data := buildSTDPSF(t, tc.cards, -32, tc.data)
			if _, err := ReadSTDPSFBytes(data, ""); !errors.Is(err, ErrUnsupportedFormat) {
				t.Errorf("got %v, want ErrUnsupportedFormat", err)
			}
		})
	}
}

func TestReadSTDPSFUnsupportedLayouts(t *testing.T) {
	// WFPC2 (36 PSFs) and the 8-detector NIRCam SW stack (200 PSFs) use
	// layouts the reader does not interpret.
	cards := [][2]string{
		{"SIMPLE", "T"},
		{"BITPIX", "-32"},
		{"NAXIS", "3"},
		{"NAXIS1", "4"},
		{"NAXIS2", "4"},
		{"NAXIS3", "36"},
		{"NXPSFS", "6"},
		{"NYPSFS", "6"},
	}
	for i := 0; i < 6; i++ {
		cards = append(cards,
			[2]string{fmt.Sprintf("IPSFX%02d", i+1), fmt.Sprint(1 + 100*i)},
			[2]string{fmt.Sprintf("JPSFY%02d", i+1), fmt.Sprint(1 + 100*i)})
	}
	data := buildSTDPSF(t, cards, -32, constStack(36, 4, 4))

	if _, err := ReadSTDPSFBytes(data, ""); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("got %v, want ErrUnsupportedFormat", err)
	}
}

func TestReadSTDPSFPackedAxisScheme(t *testing.T) {
	// The packed IPSFXA5/JPSFYA5 headers belong to the 8-detector NIRCam
	// SW stack, which parses but is then rejected as unsupported.
	cards := [][2]string{
		{"SIMPLE", "T"},
		{"BITPIX", "-32"},
		{"NAXIS", "3"},
		{"NAXIS1", "4"},
		{"NAXIS2", "4"},
		{"NAXIS3", "200"},
		{"NXPSFS", "20"},
		{"NYPSFS", "10"},
		{"IPSFXA5", "'1 512 1024 1536 2048'"},
		{"JPSFYA5", "'1 512 1024 1536 2048'"},
	}
	data := buildSTDPSF(t, cards, -32, constStack(200, 4, 4))
	if _, err := ReadSTDPSFBytes(data, ""); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("got %v, want ErrUnsupportedFormat", err)
	}

	t.Run("malformed packed list", func(t *testing.T) {
		bad := make([][2]string, len(cards))
		copy(bad, cards)
		bad[8] = [2]string{"IPSFXA5", "'1 512 oops'"}
		data := buildSTDPSF(t, bad, -32, nil)
		if _, err := ReadSTDPSFBytes(data, ""); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("got %v, want ErrUnsupportedFormat", err)
		}
	})
}

func TestReadSTDPSFPassthroughHeaders(t *testing.T) {
	cards := append(schemeACards(-32), [2]string{"TELESCOP", "'JWST    '"})
	data := buildSTDPSF(t, cards, -32, constStack(4, 5, 5))

	b, err := ReadSTDPSFBytes(data, "")
	if err != nil {
		t.Fatalf("ReadSTDPSFBytes: %v", err)
	}
	if got := b.Meta.Extra["TELESCOP"]; got != "JWST" {
		t.Errorf("Extra[TELESCOP] = %q, want JWST", got)
	}
	if _, ok := b.Meta.Extra["NAXIS1"]; ok {
		t.Error("consumed header NAXIS1 leaked into Extra")
	}
}

func TestParseHeaderValue(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"T", "True"},
		{"F", "False"},
		{"42", "42"},
		{"'NIRCam  '", "NIRCam"},
		{"''", ""},
		{"", ""},
	}
	for _, tc := range tests {
		if got := parseHeaderValue(tc.in); got != tc.want {
			t.Errorf("parseHeaderValue(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
