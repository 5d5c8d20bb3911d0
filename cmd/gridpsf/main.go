package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"gridpsf/pkg/gridpsf"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("gridpsf", flag.ContinueOnError)
	sciExt := fs.Int("e", 0, "science extension (1 or 2) for two-chip PSF files")
	oversampling := fs.Int("oversampling", 4, "oversampling factor of the PSF file")
	evalX := fs.Float64("x", math.NaN(), "x position to evaluate (default: grid center)")
	evalY := fs.Float64("y", math.NaN(), "y position to evaluate (default: grid center)")
	flux := fs.Float64("flux", 1.0, "flux scale for the evaluation")
	preview := fs.String("preview", "", "write an annotated PNG preview to this path")
	previewSize := fs.Int("size", 256, "preview image size in pixels")
	verbose := fs.Bool("v", false, "verbose logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: gridpsf [flags] <stdpsf-file>")
	}
	path := fs.Arg(0)

	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	var readOpts []gridpsf.ReadOption
	readOpts = append(readOpts, gridpsf.WithOversampling(*oversampling))
	if *sciExt != 0 {
		readOpts = append(readOpts, gridpsf.WithScienceExtension(*sciExt))
	}

	log.WithField("file", path).Info("loading STDPSF archive")
	start := time.Now()
	model, err := gridpsf.ReadSTDPSF(path, readOpts...)
	if err != nil {
		return fmt.Errorf("reading STDPSF: %w", err)
	}
	log.WithFields(logrus.Fields{
		"psfs":    model.NumImages(),
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Info("model built")

	fmt.Println()
	fmt.Println("=== Gridded PSF Model ===")
	fmt.Println(model)
	fmt.Println("=========================")

	xmin, xmax, ymin, ymax := model.Bounds()
	x0, y0 := *evalX, *evalY
	if math.IsNaN(x0) {
		x0 = (xmin + xmax) / 2
	}
	if math.IsNaN(y0) {
		y0 = (ymin + ymax) / 2
	}

	v, err := model.Evaluate([]float64{x0}, []float64{y0}, *flux, x0, y0)
	if err != nil {
		return fmt.Errorf("evaluating PSF: %w", err)
	}
	fmt.Println()
	fmt.Printf("Peak intensity at (%.1f, %.1f), flux=%g: %.6g\n", x0, y0, *flux, v[0])
	fmt.Printf("Cache: %v\n", model.CacheStats())

	if *preview != "" {
		log.WithField("path", *preview).Info("writing preview")
		if err := gridpsf.WritePreviewPNG(*preview, model, x0, y0, *previewSize); err != nil {
			return fmt.Errorf("writing preview: %w", err)
		}
	}
	return nil
}
