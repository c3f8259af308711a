package adapter

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/starvec/internal/precision"
	"github.com/samcharles93/starvec/internal/tensor"
)

func features(rows, cols int) tensor.Mat {
	m := tensor.NewMat(rows, cols)
	for i := range m.Data {
		m.Data[i] = float32(i%5) - 2
	}
	return m
}

func TestParseNorm(t *testing.T) {
	t.Parallel()

	k, err := ParseNorm("")
	require.NoError(t, err)
	assert.Equal(t, LayerNorm, k)

	for _, s := range []string{"layer_norm", "batch_norm", "rms_norm", "none"} {
		k, err := ParseNorm(s)
		require.NoError(t, err)
		assert.Equal(t, NormKind(s), k)
	}

	_, err = ParseNorm("group_norm")
	require.ErrorIs(t, err, ErrUnknownNorm)
	_, err = New(4, 8, 3, "group_norm", 1)
	require.ErrorIs(t, err, ErrUnknownNorm)
}

func TestProjectPreservesSequenceLength(t *testing.T) {
	t.Parallel()

	for _, norm := range []NormKind{LayerNorm, BatchNorm, RMSNorm, NoNorm} {
		a, err := New(4, 8, 5, norm, 1)
		require.NoError(t, err)
		out, err := a.Project(features(5, 4))
		require.NoError(t, err, norm)
		assert.Equal(t, 5, out.R, norm)
		assert.Equal(t, 8, out.C, norm)
		assert.Equal(t, precision.FP32, out.DType, norm)
	}
}

func TestProjectOutputAtAdapterPrecision(t *testing.T) {
	t.Parallel()

	for _, p := range []precision.Precision{precision.FP16, precision.BF16} {
		a, err := New(4, 8, 3, LayerNorm, 2)
		require.NoError(t, err)
		tensor.Materialize(a.Params(), p)
		assert.Equal(t, p, a.Precision())

		// fp32 input is cast down before the projections.
		out, err := a.Project(features(3, 4))
		require.NoError(t, err)
		assert.Equal(t, p, out.DType)
		for r := 0; r < out.R; r++ {
			for _, v := range out.Row(r) {
				assert.Equal(t, p.Round(v), v)
			}
		}

		// Input already at another half precision is still accepted.
		other := features(3, 4).Cast(precision.BF16)
		out, err = a.Project(other)
		require.NoError(t, err)
		assert.Equal(t, p, out.DType)
	}
}

func TestLayerNormIsJointOverBlock(t *testing.T) {
	t.Parallel()

	a, err := New(4, 6, 3, LayerNorm, 5)
	require.NoError(t, err)
	out, err := a.Project(features(3, 4))
	require.NoError(t, err)

	var mean, sq float64
	for _, v := range out.Data {
		mean += float64(v)
	}
	mean /= float64(len(out.Data))
	for _, v := range out.Data {
		sq += (float64(v) - mean) * (float64(v) - mean)
	}
	assert.InDelta(t, 0, mean, 1e-4)
	assert.InDelta(t, 1, sq/float64(len(out.Data)), 1e-2)
	assert.False(t, math.IsNaN(float64(out.Data[0])))
}

func TestProjectShapeErrors(t *testing.T) {
	t.Parallel()

	a, err := New(4, 8, 3, LayerNorm, 1)
	require.NoError(t, err)

	_, err = a.Project(features(3, 5))
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
	var sme *tensor.ShapeMismatchError
	require.ErrorAs(t, err, &sme)
	assert.Equal(t, 4, sme.Want)
	assert.Equal(t, 5, sme.Got)

	_, err = a.Project(features(2, 4))
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestParamNames(t *testing.T) {
	t.Parallel()

	a, err := New(4, 8, 3, BatchNorm, 1)
	require.NoError(t, err)
	var names []string
	for _, p := range a.Params() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{
		"image_projection.c_fc.weight",
		"image_projection.c_fc.bias",
		"image_projection.c_proj.weight",
		"image_projection.c_proj.bias",
		"image_projection.norm.weight",
		"image_projection.norm.bias",
		"image_projection.norm.running_mean",
		"image_projection.norm.running_var",
	}, names)
	assert.Equal(t, 8, a.CFc.Out())
}
