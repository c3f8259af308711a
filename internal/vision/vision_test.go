package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/starvec/internal/precision"
	"github.com/samcharles93/starvec/internal/tensor"
)

func tinyConfig() Config {
	return Config{ImageSize: 8, PatchSize: 4, HiddenSize: 4, NumLayers: 1, NumHeads: 2, IntermediateSize: 8}
}

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	assert.Contains(t, Kinds(), "clip")
	assert.Contains(t, Kinds(), "siglip")

	_, err := New("vqgan", tinyConfig(), 1)
	require.ErrorIs(t, err, ErrUnknownEncoder)

	bad := tinyConfig()
	bad.PatchSize = 3
	_, err = New("clip", bad, 1)
	require.Error(t, err)
}

func TestEncoderSequenceLength(t *testing.T) {
	t.Parallel()

	cases := map[string]int{"clip": 5, "siglip": 4}
	for kind, want := range cases {
		enc, err := New(kind, tinyConfig(), 7)
		require.NoError(t, err)
		assert.Equal(t, kind, enc.Kind())
		assert.Equal(t, want, enc.SeqLen(), kind)
		assert.Equal(t, 4, enc.HiddenSize())

		img, err := enc.Processor().Process(solid(10, 6, color.RGBA{200, 10, 10, 255}))
		require.NoError(t, err)
		feats, err := enc.Encode(img)
		require.NoError(t, err)
		assert.Equal(t, want, feats.R)
		assert.Equal(t, 4, feats.C)
		assert.Equal(t, precision.FP32, feats.DType)
	}
}

func TestEncodeFollowsParameterPrecision(t *testing.T) {
	t.Parallel()

	enc, err := New("clip", tinyConfig(), 3)
	require.NoError(t, err)
	tensor.Materialize(enc.Params(), precision.BF16)
	for _, prm := range enc.Params() {
		assert.Equal(t, precision.BF16, prm.Mat.DType, prm.Name)
	}

	img, err := enc.Processor().Process(solid(8, 8, color.White))
	require.NoError(t, err)
	feats, err := enc.Encode(img)
	require.NoError(t, err)
	assert.Equal(t, precision.BF16, feats.DType)
}

func TestEncodeRejectsWrongImageSize(t *testing.T) {
	t.Parallel()

	enc, err := New("siglip", tinyConfig(), 3)
	require.NoError(t, err)

	cases := []struct {
		img       Image
		what      string
		want, got int
	}{
		{Image{C: 3, H: 4, W: 4, Pixels: make([]float32, 48)}, "image height", 8, 4},
		{Image{C: 1, H: 8, W: 8, Pixels: make([]float32, 64)}, "channels", 3, 1},
		{Image{C: 3, H: 8, W: 6, Pixels: make([]float32, 144)}, "image width", 8, 6},
		{Image{C: 3, H: 8, W: 8, Pixels: make([]float32, 10)}, "pixel count", 192, 10},
	}
	for _, tc := range cases {
		_, err := enc.Encode(tc.img)
		require.ErrorIs(t, err, tensor.ErrShapeMismatch)
		var sme *tensor.ShapeMismatchError
		require.ErrorAs(t, err, &sme)
		assert.Equal(t, tc.what, sme.What)
		assert.Equal(t, tc.want, sme.Want, tc.what)
		assert.Equal(t, tc.got, sme.Got, tc.what)
	}
}

func TestProcessorPadsAndNormalizes(t *testing.T) {
	t.Parallel()

	p := NewProcessor(ProcessorConfig{Size: 4, Mean: [3]float32{0.5, 0.5, 0.5}, Std: [3]float32{0.5, 0.5, 0.5}})
	// A transparent image composites onto the white background.
	img, err := p.Process(solid(2, 2, color.RGBA{}))
	require.NoError(t, err)
	assert.Equal(t, 3, img.C)
	assert.Equal(t, 4, img.H)
	assert.Equal(t, 4, img.W)
	for _, v := range img.Pixels {
		assert.InDelta(t, 1.0, v, 1e-5)
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(3, 3, color.Black)))
	dark, err := p.ProcessBytes(buf.Bytes())
	require.NoError(t, err)
	assert.InDelta(t, -1.0, dark.At(0, 2, 2), 1e-5)

	_, err = p.ProcessBytes([]byte("not an image"))
	require.Error(t, err)

	batch, err := p.ProcessBatch([]image.Image{solid(5, 5, color.White), solid(1, 9, color.Black)})
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}
