package gridpsf

import "errors"

var (
	// ErrInvalidBundle reports a malformed construction bundle: empty or
	// ragged image stack, missing grid positions, a position count that
	// does not match the number of images, or a non-positive oversampling.
	ErrInvalidBundle = errors.New("invalid PSF bundle")

	// ErrIrregularGrid reports grid positions that do not form a complete
	// rectangular grid.
	ErrIrregularGrid = errors.New("grid positions must form a regular grid")

	// ErrGeometry reports an internal invariant violation while locating
	// or blending reference samples. It indicates corrupted grid data or
	// a locator bug, not bad user input.
	ErrGeometry = errors.New("grid geometry violation")

	// ErrUnknownDetector reports an unrecognized detector name or science
	// extension selector while deriving STDPSF metadata.
	ErrUnknownDetector = errors.New("unknown detector")

	// ErrUnsupportedFormat reports a STDPSF file whose header scheme,
	// pixel encoding, or PSF layout has no reshaping rule.
	ErrUnsupportedFormat = errors.New("unsupported STDPSF format")
)
