package gridpsf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	fitsRecordLen       = 80
	fitsRecordsPerBlock = 36
	defaultOversampling = 4
)

// ReadOption configures STDPSF reading.
type ReadOption func(*readConfig)

type readConfig struct {
	oversampling int
	sciExt       int // 0 = not specified
}

// WithOversampling overrides the oversampling factor recorded in the
// bundle (STDPSF files do not encode it; the default is 4).
func WithOversampling(n int) ReadOption {
	return func(c *readConfig) { c.oversampling = n }
}

// WithScienceExtension selects the detector chip (1 or 2) for
// two-detector instruments whose PSFs are stacked in one file.
func WithScienceExtension(n int) ReadOption {
	return func(c *readConfig) { c.sciExt = n }
}

// ReadSTDPSF reads a standard-format PSF archive and builds a model from
// it. Model options (fill value, initial parameters) can be applied with
// NewGriddedPSFModel by reading the bundle instead.
func ReadSTDPSF(path string, opts ...ReadOption) (*GriddedPSFModel, error) {
	b, err := ReadSTDPSFFile(path, opts...)
	if err != nil {
		return nil, err
	}
	return NewGriddedPSFModel(b)
}

// ReadSTDPSFFile reads a standard-format PSF archive into a construction
// bundle.
func ReadSTDPSFFile(path string, opts ...ReadOption) (Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return Bundle{}, fmt.Errorf("opening STDPSF file: %w", err)
	}
	defer f.Close()
	return ReadSTDPSFBundle(f, filepath.Base(path), opts...)
}

// ReadSTDPSFBundle parses a standard-format PSF stream. name is used for
// diagnostics and filename-derived metadata; pass "" to skip metadata
// derivation.
func ReadSTDPSFBundle(r io.Reader, name string, opts ...ReadOption) (Bundle, error) {
	cfg := readConfig{oversampling: defaultOversampling}
	for _, opt := range opts {
		opt(&cfg)
	}

	hdr, err := readHeaderBlocks(r)
	if err != nil {
		return Bundle{}, err
	}

	bitpix, ok := hdr.getInt("BITPIX")
	if !ok {
		return Bundle{}, fmt.Errorf("%w: missing BITPIX", ErrUnsupportedFormat)
	}
	width, okW := hdr.getInt("NAXIS1")
	height, okH := hdr.getInt("NAXIS2")
	npsfs, okN := hdr.getInt("NAXIS3")
	if !okW || !okH || !okN || width <= 0 || height <= 0 || npsfs <= 0 {
		return Bundle{}, fmt.Errorf("%w: need a 3D image stack (NAXIS1-3)", ErrUnsupportedFormat)
	}

	xgrid, ygrid, err := readGridAxes(hdr)
	if err != nil {
		return Bundle{}, err
	}

	pixels, err := readPixels(r, bitpix, npsfs*height*width, hdr)
	if err != nil {
		return Bundle{}, err
	}

	// ACS/WFC and WFC3/UVIS files stack both detector chips; the caller
	// must pick one. Chip 1 (sci, 2) sits above chip 2 (sci, 1) in
	// y-pixel coordinates.
	if npsfs == 90 || npsfs == 56 {
		if cfg.sciExt == 0 {
			return Bundle{}, fmt.Errorf("%w: science extension must be specified for two-chip PSF files",
				ErrUnknownDetector)
		}
		if cfg.sciExt != 1 && cfg.sciExt != 2 {
			return Bundle{}, fmt.Errorf("%w: science extension must be 1 or 2, got %d",
				ErrUnknownDetector, cfg.sciExt)
		}

		half := len(ygrid) / 2
		if cfg.sciExt == 1 {
			ygrid = ygrid[:half]
		} else {
			ygrid = ygrid[half:]
			for i := range ygrid {
				ygrid[i] -= 2048
			}
		}

		imgLen := height * width
		if cfg.sciExt == 1 {
			pixels = pixels[:npsfs/2*imgLen]
		} else {
			pixels = pixels[npsfs/2*imgLen:]
		}
		npsfs /= 2
	}

	if npsfs == 36 {
		return Bundle{}, fmt.Errorf("%w: WFPC2 PSF layouts are not supported", ErrUnsupportedFormat)
	}
	if npsfs == 200 {
		return Bundle{}, fmt.Errorf("%w: NIRCam SW 8-detector PSF layouts are not supported",
			ErrUnsupportedFormat)
	}
	if len(xgrid)*len(ygrid) != npsfs {
		return Bundle{}, fmt.Errorf("%w: %dx%d grid headers for %d PSFs",
			ErrUnsupportedFormat, len(xgrid), len(ygrid), npsfs)
	}

	images := make([]Image, npsfs)
	positions := make([]GridPoint, npsfs)
	imgLen := height * width
	for i := 0; i < npsfs; i++ {
		images[i] = Image{Pix: pixels[i*imgLen : (i+1)*imgLen], W: width, H: height}
		positions[i] = GridPoint{
			X: xgrid[i%len(xgrid)],
			Y: ygrid[i/len(xgrid)],
		}
	}

	meta := Meta{
		GridPositions: positions,
		Oversampling:  cfg.oversampling,
		Source:        name,
		Extra:         hdr.passthrough(),
	}
	if name != "" {
		if err := deriveSTDPSFMeta(&meta, name, cfg.sciExt); err != nil {
			return Bundle{}, err
		}
	}

	return Bundle{Images: images, Meta: meta}, nil
}

type stdpsfHeader struct {
	values map[string]string
}

func (h stdpsfHeader) getInt(key string) (int, bool) {
	v, ok := h.values[key]
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return i, true
}

func (h stdpsfHeader) getFloat(key string, def float64) float64 {
	v, ok := h.values[key]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

// passthrough returns the header values the reader does not interpret,
// preserved opaquely for diagnostics.
func (h stdpsfHeader) passthrough() map[string]string {
	consumed := map[string]bool{
		"SIMPLE": true, "BITPIX": true, "EXTEND": true,
		"NAXIS": true, "NAXIS1": true, "NAXIS2": true, "NAXIS3": true,
		"BZERO": true, "BSCALE": true,
		"NXPSFS": true, "NYPSFS": true,
	}
	out := make(map[string]string)
	for k, v := range h.values {
		if consumed[k] || strings.HasPrefix(k, "IPSFX") || strings.HasPrefix(k, "JPSFY") {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// readHeaderBlocks consumes 2880-byte header blocks of 80-byte records
// until the END record, keeping the stream positioned at the data
// section.
func readHeaderBlocks(r io.Reader) (stdpsfHeader, error) {
	hdr := stdpsfHeader{values: make(map[string]string)}
	recordBuf := make([]byte, fitsRecordLen)

	for {
		done := false
		for i := 0; i < fitsRecordsPerBlock; i++ {
			if _, err := io.ReadFull(r, recordBuf); err != nil {
				return stdpsfHeader{}, fmt.Errorf("reading STDPSF header record: %w", err)
			}
			record := string(recordBuf)
			keyword := strings.TrimSpace(record[:8])

			if keyword == "END" {
				done = true
				if remaining := fitsRecordsPerBlock - 1 - i; remaining > 0 {
					if _, err := io.CopyN(io.Discard, r, int64(remaining*fitsRecordLen)); err != nil {
						return stdpsfHeader{}, fmt.Errorf("skipping STDPSF header padding: %w", err)
					}
				}
				break
			}

			if len(record) > 10 && record[8] == '=' && record[9] == ' ' {
				rawValue := strings.TrimSpace(strings.SplitN(record[10:], "/", 2)[0])
				if parsed := parseHeaderValue(rawValue); keyword != "" && parsed != "" {
					hdr.values[keyword] = parsed
				}
			}
		}
		if done {
			return hdr, nil
		}
	}
}

func parseHeaderValue(rawValue string) string {
	if rawValue == "" {
		return ""
	}
	if rawValue == "T" {
		return "True"
	}
	if rawValue == "F" {
		return "False"
	}
	if strings.HasPrefix(rawValue, "'") {
		if endQuote := strings.LastIndex(rawValue, "'"); endQuote > 0 {
			return strings.TrimRight(rawValue[1:endQuote], " ")
		}
		return strings.TrimLeft(strings.TrimRight(rawValue, " "), "'")
	}
	return rawValue
}

// readGridAxes decodes the per-axis PSF pixel coordinates. Two header
// schemes exist: one integer key per grid column/row (IPSFX01...,
// JPSFY01...), or packed space-separated lists (IPSFXA5/JPSFYA5, the
// multi-detector NIRCam layout, replicated across detectors). Positions
// are 1-indexed in the file and shifted to 0-indexed here.
func readGridAxes(hdr stdpsfHeader) ([]float64, []float64, error) {
	nx, okX := hdr.getInt("NXPSFS")
	ny, okY := hdr.getInt("NYPSFS")
	if !okX || !okY || nx <= 0 || ny <= 0 {
		return nil, nil, fmt.Errorf("%w: missing NXPSFS/NYPSFS grid dimensions", ErrUnsupportedFormat)
	}

	var xgrid, ygrid []float64
	switch {
	case hdr.values["IPSFX01"] != "":
		xgrid = make([]float64, nx)
		for i := 0; i < nx; i++ {
			v, ok := hdr.getInt(fmt.Sprintf("IPSFX%02d", i+1))
			if !ok {
				return nil, nil, fmt.Errorf("%w: missing IPSFX%02d", ErrUnsupportedFormat, i+1)
			}
			xgrid[i] = float64(v)
		}
		ygrid = make([]float64, ny)
		for i := 0; i < ny; i++ {
			v, ok := hdr.getInt(fmt.Sprintf("JPSFY%02d", i+1))
			if !ok {
				return nil, nil, fmt.Errorf("%w: missing JPSFY%02d", ErrUnsupportedFormat, i+1)
			}
			ygrid[i] = float64(v)
		}

	case hdr.values["IPSFXA5"] != "":
		xs, err := splitInts(hdr.values["IPSFXA5"])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: bad IPSFXA5: %v", ErrUnsupportedFormat, err)
		}
		ys, err := splitInts(hdr.values["JPSFYA5"])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: bad JPSFYA5: %v", ErrUnsupportedFormat, err)
		}
		xgrid = repeatAxis(xs, 4)
		ygrid = repeatAxis(ys, 2)

	default:
		return nil, nil, fmt.Errorf("%w: unknown grid header scheme", ErrUnsupportedFormat)
	}

	for i := range xgrid {
		xgrid[i]--
	}
	for i := range ygrid {
		ygrid[i]--
	}
	return xgrid, ygrid, nil
}

func splitInts(s string) ([]float64, error) {
	fields := strings.Fields(s)
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out[i] = float64(v)
	}
	return out, nil
}

func repeatAxis(vs []float64, n int) []float64 {
	out := make([]float64, 0, len(vs)*n)
	for i := 0; i < n; i++ {
		out = append(out, vs...)
	}
	return out
}

// readPixels reads the big-endian data section, applying BZERO/BSCALE.
func readPixels(r io.Reader, bitpix, count int, hdr stdpsfHeader) ([]float64, error) {
	bzero := hdr.getFloat("BZERO", 0)
	bscale := hdr.getFloat("BSCALE", 1)

	out := make([]float64, count)
	switch bitpix {
	case -32:
		raw := make([]byte, count*4)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, fmt.Errorf("reading float32 pixel data: %w", err)
		}
		for i := 0; i < count; i++ {
			out[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(raw[i*4:])))*bscale + bzero
		}

	case -64:
		raw := make([]byte, count*8)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, fmt.Errorf("reading float64 pixel data: %w", err)
		}
		for i := 0; i < count; i++ {
			out[i] = math.Float64frombits(binary.BigEndian.Uint64(raw[i*8:]))*bscale + bzero
		}

	case 16:
		raw := make([]byte, count*2)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, fmt.Errorf("reading 16-bit pixel data: %w", err)
		}
		for i := 0; i < count; i++ {
			out[i] = float64(int16(binary.BigEndian.Uint16(raw[i*2:])))*bscale + bzero
		}

	default:
		return nil, fmt.Errorf("%w: BITPIX %d", ErrUnsupportedFormat, bitpix)
	}
	return out, nil
}

var detectorMap = map[string][2]string{
	"WFPC2":  {"HST/WFPC2", "WFPC2"},
	"ACSHRC": {"HST/ACS", "HRC"},
	"ACSWFC": {"HST/ACS", "WFC"},
	"WFC3UV": {"HST/WFC3", "UVIS"},
	"WFC3IR": {"HST/WFC3", "IR"},
	"NRCSW":  {"JWST/NIRCam", "NRCSW"},
	"NRCA1":  {"JWST/NIRCam", "A1"},
	"NRCA2":  {"JWST/NIRCam", "A2"},
	"NRCA3":  {"JWST/NIRCam", "A3"},
	"NRCA4":  {"JWST/NIRCam", "A4"},
	"NRCB1":  {"JWST/NIRCam", "B1"},
	"NRCB2":  {"JWST/NIRCam", "B2"},
	"NRCB3":  {"JWST/NIRCam", "B3"},
	"NRCB4":  {"JWST/NIRCam", "B4"},
	"NRCAL":  {"JWST/NIRCam", "A5"},
	"NRCBL":  {"JWST/NIRCam", "B5"},
	"NIRISS": {"JWST/NIRISS", "NIRISS"},
	"MIRI":   {"JWST/MIRI", "MIRIM"},
}

// deriveSTDPSFMeta fills instrument/detector/filter metadata from
// STDPSF_<DETECTOR>_<FILTER>[_<tag>].fits filenames. Names that do not
// follow the convention are skipped silently; a conforming name with an
// unknown detector is an error.
func deriveSTDPSFMeta(meta *Meta, name string, sciExt int) error {
	base := strings.TrimSuffix(strings.TrimSuffix(filepath.Base(name), ".gz"), ".fits")
	parts := strings.Split(base, "_")
	if len(parts) != 3 && len(parts) != 4 {
		return nil
	}

	detKey, filterName := parts[1], parts[2]
	instDet, ok := detectorMap[detKey]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDetector, detKey)
	}

	detector := instDet[1]
	if detector == "WFC" || detector == "UVIS" {
		// sci extension 1 is chip 2; sci extension 2 is chip 1
		chip := 2
		if sciExt == 2 {
			chip = 1
		}
		detector = fmt.Sprintf("%s%d", detector, chip)
	}

	meta.Instrument = instDet[0]
	meta.Detector = detector
	meta.Filter = filterName
	return nil
}

// ReadSTDPSFBytes parses an in-memory standard-format PSF archive.
func ReadSTDPSFBytes(data []byte, name string, opts ...ReadOption) (Bundle, error) {
	return ReadSTDPSFBundle(bytes.NewReader(data), name, opts...)
}
