package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // Register BMP decoder
	_ "golang.org/x/image/tiff" // Register TIFF decoder
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// Image is one normalized image in CHW layout.
type Image struct {
	C, H, W int
	Pixels  []float32
}

// At returns the value at channel c, row y, column x.
func (im *Image) At(c, y, x int) float32 {
	return im.Pixels[c*im.H*im.W+y*im.W+x]
}

// Batch is an ordered set of images sharing one shape.
type Batch []Image

// ProcessorConfig controls how raw images become encoder input.
type ProcessorConfig struct {
	Size          int
	Mean          [3]float32
	Std           [3]float32
	RescaleFactor float32
	Background    color.Color
}

// Processor pads raw images to a square on the background colour, resizes
// them to the encoder resolution and normalizes each channel.
type Processor struct {
	Config ProcessorConfig
}

func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.RescaleFactor == 0 {
		cfg.RescaleFactor = 1.0 / 255.0
	}
	if cfg.Background == nil {
		cfg.Background = color.White
	}
	for i := range cfg.Std {
		if cfg.Std[i] == 0 {
			cfg.Std[i] = 1
		}
	}
	return &Processor{Config: cfg}
}

func (p *Processor) ProcessBytes(data []byte) (Image, error) {
	return p.ProcessReader(bytes.NewReader(data))
}

func (p *Processor) ProcessReader(r io.Reader) (Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return Image{}, fmt.Errorf("decoding image: %w", err)
	}
	return p.Process(img)
}

func (p *Processor) Process(img image.Image) (Image, error) {
	if img == nil {
		return Image{}, fmt.Errorf("nil image")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return Image{}, fmt.Errorf("empty image %dx%d", b.Dx(), b.Dy())
	}
	size := p.Config.Size
	if size <= 0 {
		return Image{}, fmt.Errorf("invalid processor size %d", size)
	}

	side := max(b.Dx(), b.Dy())
	square := imaging.OverlayCenter(imaging.New(side, side, p.Config.Background), img, 1.0)
	if side != size {
		square = imaging.Resize(square, size, size, imaging.CatmullRom)
	}
	return p.toTensor(square), nil
}

// ProcessBatch processes images in order.
func (p *Processor) ProcessBatch(images []image.Image) (Batch, error) {
	out := make(Batch, 0, len(images))
	for i, img := range images {
		t, err := p.Process(img)
		if err != nil {
			return nil, fmt.Errorf("processing image %d: %w", i, err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (p *Processor) toTensor(img *image.NRGBA) Image {
	h, w := img.Bounds().Dy(), img.Bounds().Dx()
	plane := h * w
	pixels := make([]float32, 3*plane)
	cfg := p.Config
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := img.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				v := float32(img.Pix[off+c]) * cfg.RescaleFactor
				pixels[c*plane+y*w+x] = (v - cfg.Mean[c]) / cfg.Std[c]
			}
		}
	}
	return Image{C: 3, H: h, W: w, Pixels: pixels}
}
