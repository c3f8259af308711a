package decoder

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/starvec/internal/precision"
	"github.com/samcharles93/starvec/internal/tensor"
)

func tinyConfig() Config {
	return Config{VocabSize: 11, HiddenSize: 8, NumLayers: 2, NumHeads: 2, NPositions: 6}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, tinyConfig().Validate())
	bad := tinyConfig()
	bad.NumHeads = 3
	require.Error(t, bad.Validate())
	_, err := New(bad, 1)
	require.Error(t, err)
}

func TestSessionsAreIndependent(t *testing.T) {
	t.Parallel()

	m, err := New(tinyConfig(), 1)
	require.NoError(t, err)

	emb := make([]float32, m.Width())
	require.NoError(t, m.Embed(3, emb))

	a, b := m.NewSession(), m.NewSession()
	la, err := a.Forward(emb)
	require.NoError(t, err)
	first := slices.Clone(la)

	// Advancing a must not disturb b.
	_, err = a.Forward(emb)
	require.NoError(t, err)
	lb, err := b.Forward(emb)
	require.NoError(t, err)
	assert.Equal(t, first, lb)
	assert.Equal(t, 2, a.Pos())
	assert.Equal(t, 1, b.Pos())
	assert.Len(t, lb, 11)

	a.Reset()
	again, err := a.Forward(emb)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestForwardErrors(t *testing.T) {
	t.Parallel()

	m, err := New(tinyConfig(), 2)
	require.NoError(t, err)
	s := m.NewSession()

	_, err = s.Forward(make([]float32, 7))
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
	assert.Equal(t, 0, s.Pos())

	emb := make([]float32, 8)
	for range s.Capacity() {
		_, err := s.Forward(emb)
		require.NoError(t, err)
	}
	_, err = s.Forward(emb)
	require.ErrorIs(t, err, ErrCapacity)

	require.Error(t, m.Embed(11, emb))
	require.Error(t, m.Embed(-1, emb))
}

func TestMaterializedPrecision(t *testing.T) {
	t.Parallel()

	m, err := New(tinyConfig(), 3)
	require.NoError(t, err)
	tensor.Materialize(m.Params(), precision.FP16)
	assert.Equal(t, precision.FP16, m.Precision())
	for _, prm := range m.Params() {
		assert.Equal(t, precision.FP16, prm.Mat.DType, prm.Name)
	}

	embs, err := m.EmbedTokens([]int{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 3, embs.R)
	assert.Equal(t, precision.FP16, embs.DType)

	logits, err := m.NewSession().Forward(embs.Row(0))
	require.NoError(t, err)
	assert.Len(t, logits, 11)
}
