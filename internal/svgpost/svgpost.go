// Package svgpost repairs raw generated markup into a well-formed SVG
// document and rasterizes it.
package svgpost

import (
	"image"
	"image/color"
	"image/draw"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// DefaultSize is the raster edge length in pixels.
const DefaultSize = 256

type Options struct {
	// Size is the square raster edge. Zero selects DefaultSize.
	Size int
}

type Result struct {
	SVG    string
	Raster *image.RGBA
	// Placeholder is set when no <svg> element could be recovered.
	Placeholder bool
	// RenderFailed is set when the renderer rejected the document and the
	// raster is plain background.
	RenderFailed bool
}

// Finalizer is safe for concurrent use.
type Finalizer struct {
	opts Options
}

func NewFinalizer(opts Options) *Finalizer {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	return &Finalizer{opts: opts}
}

func (f *Finalizer) Size() int { return f.opts.Size }

var defaultFinalizer = NewFinalizer(Options{})

// Finalize repairs and rasterizes raw with the default options.
func Finalize(raw string) Result { return defaultFinalizer.Finalize(raw) }

// Finalize never fails: unusable input yields the placeholder document and
// renderer failures yield a white raster.
func (f *Finalizer) Finalize(raw string) Result {
	doc, ok := Repair(raw)
	img, rendered := f.Rasterize(doc)
	return Result{SVG: doc, Raster: img, Placeholder: !ok, RenderFailed: !rendered}
}

// Rasterize draws doc onto a white square. The second result is false when
// the document could not be rendered.
func (f *Finalizer) Rasterize(doc string) (img *image.RGBA, ok bool) {
	size := f.opts.Size
	img = image.NewRGBA(image.Rect(0, 0, size, size))
	fillWhite(img)

	defer func() {
		if rec := recover(); rec != nil {
			fillWhite(img)
			ok = false
		}
	}()

	icon, err := oksvg.ReadIconStream(strings.NewReader(doc), oksvg.IgnoreErrorMode)
	if err != nil || icon == nil {
		return img, false
	}
	if icon.ViewBox.W <= 0 || icon.ViewBox.H <= 0 {
		// No usable viewBox: user units map to pixels.
		icon.ViewBox.X, icon.ViewBox.Y = 0, 0
		icon.ViewBox.W, icon.ViewBox.H = float64(size), float64(size)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	icon.Draw(rasterx.NewDasher(size, size, scanner), 1)
	return img, true
}

func fillWhite(img *image.RGBA) {
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return imaging.Encode(w, img, imaging.PNG)
}
