package model

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"

	"github.com/samcharles93/starvec/internal/adapter"
	"github.com/samcharles93/starvec/internal/inference"
	"github.com/samcharles93/starvec/internal/precision"
	"github.com/samcharles93/starvec/internal/tensor"
	"github.com/samcharles93/starvec/internal/vision"
)

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func paramPrecision(t *testing.T, m *Model, name string) precision.Precision {
	t.Helper()
	for _, p := range m.Parameters() {
		if p.Name == name {
			return p.Precision
		}
	}
	t.Fatalf("parameter %s not found", name)
	return precision.Invalid
}

func TestPrecisionAcceptsNameAndHandle(t *testing.T) {
	t.Parallel()

	for _, spec := range []any{"float32", reflect.TypeOf(float32(0))} {
		m := must.M1(New(TinyConfig(), TaskIm2SVG, spec))
		assert.Equal(t, precision.FP32, m.Precision())
		assert.Equal(t, precision.FP32, paramPrecision(t, m, "image_projection.c_fc.weight"))
		assert.Equal(t, precision.FP32, paramPrecision(t, m, "image_projection.c_proj.weight"))
	}
}

func TestEveryParameterAtModelPrecision(t *testing.T) {
	t.Parallel()

	for _, spec := range []any{"torch.float16", dtypes.Float16, float16.Float16(0), "bf16", precision.BF16} {
		m := must.M1(New(TinyConfig(), TaskIm2SVG, spec))
		want := precision.MustNormalize(spec)
		assert.Equal(t, want, m.Precision())
		for _, p := range m.Parameters() {
			assert.Equal(t, want, p.Precision, "%s with spec %v", p.Name, spec)
		}
	}
}

func TestEmptyPrecisionUsesConfig(t *testing.T) {
	t.Parallel()

	cfg := TinyConfig()
	cfg.TorchDType = "bfloat16"
	m := must.M1(New(cfg, TaskIm2SVG, nil))
	assert.Equal(t, precision.BF16, m.Precision())
	m = must.M1(New(cfg, TaskIm2SVG, ""))
	assert.Equal(t, precision.BF16, m.Precision())
}

func TestConstructionErrors(t *testing.T) {
	t.Parallel()

	_, err := New(TinyConfig(), TaskIm2SVG, "float8")
	require.ErrorIs(t, err, precision.ErrUnsupportedPrecision)
	var upe *precision.UnsupportedPrecisionError
	require.ErrorAs(t, err, &upe)
	assert.Equal(t, "float8", upe.Spec)

	_, err = New(TinyConfig(), TaskIm2SVG, reflect.TypeOf(float64(0)))
	require.ErrorIs(t, err, precision.ErrUnsupportedPrecision)

	_, err = New(TinyConfig(), "svg2img", "float32")
	require.ErrorIs(t, err, ErrUnknownTask)

	cfg := TinyConfig()
	cfg.ImageEncoderType = "vqgan"
	_, err = New(cfg, TaskIm2SVG, "float32")
	require.ErrorIs(t, err, vision.ErrUnknownEncoder)

	cfg = TinyConfig()
	cfg.AdapterNorm = "group_norm"
	_, err = New(cfg, TaskIm2SVG, "float32")
	require.ErrorIs(t, err, adapter.ErrUnknownNorm)
}

func TestAssembleOrder(t *testing.T) {
	t.Parallel()

	cfg := TinyConfig()
	cfg.ImageEncoderType = "siglip"
	m := must.M1(New(cfg, TaskIm2SVG, "float32"))
	require.Equal(t, 4, m.QueryLength())

	batch := must.M1(m.ProcessImages([]image.Image{solid(12, 8, color.RGBA{10, 200, 30, 255})}))
	feats := must.M1(m.encoder.Encode(batch[0]))
	embeds := must.M1(m.adapter.Project(feats))
	start := must.M1(m.StartEmbedding())

	seq, err := m.Assemble(embeds, start, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, seq.R)
	assert.Equal(t, start, seq.Row(4))
	assert.Equal(t, embeds.Row(0), seq.Row(0))

	targets := must.M1(m.EmbedTargets([]int{1, 2, 3}))
	seq, err = m.Assemble(embeds, start, &targets)
	require.NoError(t, err)
	assert.Equal(t, 8, seq.R)
	assert.Equal(t, targets.Row(2), seq.Row(7))

	_, err = m.Assemble(embeds, start[:3], nil)
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
	_, err = m.Assemble(tensor.NewMat(4, 5), start, nil)
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestAssembleKeepsImagePrecision(t *testing.T) {
	t.Parallel()

	m := must.M1(New(TinyConfig(), TaskIm2SVG, "float16"))
	batch := must.M1(m.ProcessImages([]image.Image{solid(8, 8, color.Black)}))
	embeds := must.M1(m.adapter.Project(must.M1(m.encoder.Encode(batch[0]))))
	seq := must.M1(m.Assemble(embeds, must.M1(m.StartEmbedding()), nil))
	assert.Equal(t, precision.FP16, seq.DType)
	assert.Equal(t, m.QueryLength()+1, seq.R)
}

func TestEmbedTargetsTruncates(t *testing.T) {
	t.Parallel()

	cfg := TinyConfig()
	cfg.MaxLengthTrain = 9
	m := must.M1(New(cfg, TaskIm2SVG, "float32"))
	// 5 image rows + start leave room for 3 targets.
	targets := must.M1(m.EmbedTargets([]int{1, 2, 3, 4, 5, 6}))
	assert.Equal(t, 3, targets.R)
}

func TestGenerateIm2SVG(t *testing.T) {
	t.Parallel()

	m := must.M1(New(TinyConfig(), TaskIm2SVG, "float32", WithSeed(3)))
	batch := must.M1(m.ProcessImages([]image.Image{
		solid(8, 8, color.White),
		solid(16, 4, color.RGBA{255, 0, 0, 255}),
	}))

	gens, err := m.Im2SVG(context.Background(), batch, 6)
	require.NoError(t, err)
	require.Len(t, gens, 2)
	for _, g := range gens {
		assert.LessOrEqual(t, len(g.Tokens), 6)
		assert.NotContains(t, g.Tokens, m.Config().EOSTokenID)
		if g.StopReason == inference.StopMaxLength {
			assert.Len(t, g.Tokens, 6)
		}
	}

	// Greedy decoding is deterministic.
	again := must.M1(m.GenerateIm2SVG(context.Background(), batch, 6))
	assert.Equal(t, []string{gens[0].Text, gens[1].Text}, again)

	for _, text := range again {
		svg, raster := m.ProcessAndRasterizeSVG(text)
		assert.Contains(t, svg, "<svg")
		require.NotNil(t, raster)
		assert.Equal(t, 256, raster.Bounds().Dx())
	}

	_, err = m.GenerateText2SVG(context.Background(), []string{"a red circle"}, 4)
	require.ErrorIs(t, err, ErrTaskMismatch)
}

func TestGenerateUsesConfigMaxLength(t *testing.T) {
	t.Parallel()

	cfg := TinyConfig()
	cfg.MaxLength = 3
	m := must.M1(New(cfg, TaskIm2SVG, "bf16"))
	batch := must.M1(m.ProcessImages([]image.Image{solid(8, 8, color.White)}))
	var seen int
	gens := must.M1(m.Im2SVG(context.Background(), batch, 0, WithTokenCallback(func(int) { seen++ })))
	assert.LessOrEqual(t, len(gens[0].Tokens), 3)
	assert.Equal(t, len(gens[0].Tokens), seen)
}

func TestGenerateText2SVG(t *testing.T) {
	t.Parallel()

	m := must.M1(New(TinyConfig(), TaskText2SVG, "float32"))
	assert.Zero(t, m.QueryLength())
	assert.Nil(t, m.Processor())
	for _, p := range m.Parameters() {
		assert.NotContains(t, p.Name, "image_projection")
	}

	out, err := m.GenerateText2SVG(context.Background(), []string{"a red circle", "x"}, 4)
	require.NoError(t, err)
	assert.Len(t, out, 2)

	_, err = m.ProcessImages([]image.Image{solid(2, 2, color.White)})
	require.ErrorIs(t, err, ErrTaskMismatch)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := must.M1(New(TinyConfig(), TaskIm2SVG, "float16", WithSeed(11)))
	require.NoError(t, src.Save(dir))

	loaded, err := Load(context.Background(), dir, TaskIm2SVG, nil, WithSeed(99))
	require.NoError(t, err)
	assert.Equal(t, precision.FP16, loaded.Precision())

	a, b := src.Tensors(), loaded.Tensors()
	require.Len(t, b, len(a))
	for i := range a {
		assert.Equal(t, a[i].Name, b[i].Name)
		assert.Equal(t, a[i].Data, b[i].Data, a[i].Name)
	}

	batch := must.M1(src.ProcessImages([]image.Image{solid(8, 8, color.Black)}))
	want := must.M1(src.GenerateIm2SVG(context.Background(), batch, 5))
	got := must.M1(loaded.GenerateIm2SVG(context.Background(), batch, 5))
	assert.Equal(t, want, got)

	// Loading at another precision casts the fp16 checkpoint.
	up, err := Load(context.Background(), dir, TaskIm2SVG, "float32")
	require.NoError(t, err)
	assert.Equal(t, precision.FP32, paramPrecision(t, up, "svg_transformer.transformer.wte.weight"))
}

func TestLoadMissingConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_, err := Load(context.Background(), dir, TaskIm2SVG, "float32")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ConfigFile)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFile), []byte("{"), 0o644))
	_, err = Load(context.Background(), dir, TaskIm2SVG, "float32")
	require.Error(t, err)
}

func TestParseConfigFlatKeys(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"image_encoder_type": "siglip",
		"max_length_train": 600,
		"starcoder_model_name": "bigcode/starcoderbase-1b",
		"n_embd": 16, "n_layer": 2, "n_head": 4, "n_positions": 700, "vocab_size": 500,
		"vision_config": {"image_size": 8, "patch_size": 4, "hidden_size": 4, "num_layers": 1, "num_heads": 2, "intermediate_size": 8},
		"svg_start_token_id": 400
	}`)
	cfg, err := ParseConfig(raw)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Decoder.HiddenSize)
	assert.Equal(t, 700, cfg.Decoder.NPositions)
	assert.Equal(t, 4, cfg.Vision.HiddenSize)
	assert.Equal(t, "layer_norm", cfg.AdapterNorm)
	assert.Equal(t, "float32", cfg.TorchDType)
	assert.Equal(t, 600, cfg.MaxLength)
	assert.Equal(t, 256, cfg.RasterSize)

	m, err := New(cfg, TaskIm2SVG, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, m.QueryLength())
}
