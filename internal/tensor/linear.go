package tensor

import (
	"fmt"

	"github.com/samcharles93/starvec/internal/precision"
)

// Param names a parameter matrix owned by a module.
type Param struct {
	Name string
	Mat  *Mat
}

// Materialize casts every parameter in place to precision p. Callers must
// hold the only reference to the owning modules while it runs.
func Materialize(params []Param, p precision.Precision) {
	for _, prm := range params {
		*prm.Mat = prm.Mat.Cast(p)
	}
}

// Linear is y = W x + b with W shaped [out, in] and b shaped [1, out].
type Linear struct {
	W Mat
	B Mat
}

// NewLinear allocates a zeroed fp32 linear layer.
func NewLinear(in, out int) Linear {
	return Linear{W: NewMat(out, in), B: NewMat(1, out)}
}

func (l *Linear) In() int  { return l.W.C }
func (l *Linear) Out() int { return l.W.R }

// Params lists the layer weights under prefix.
func (l *Linear) Params(prefix string) []Param {
	return []Param{
		{Name: prefix + ".weight", Mat: &l.W},
		{Name: prefix + ".bias", Mat: &l.B},
	}
}

// Forward computes dst = W x + b.
func (l *Linear) Forward(dst, x []float32) {
	MatVec(dst, &l.W, x)
	AddRowTo(dst, &l.B, 0)
}

// AddRowTo adds row i of m into dst without allocating.
func AddRowTo(dst []float32, m *Mat, i int) {
	start := i * m.Stride
	switch m.DType {
	case precision.FP32:
		Add(dst[:m.C], m.Data[start:start+m.C])
	case precision.BF16:
		for j := 0; j < m.C; j++ {
			dst[j] += bf16Table[u16le(m.Raw, (start+j)*2)]
		}
	case precision.FP16:
		for j := 0; j < m.C; j++ {
			dst[j] += fp16Table[u16le(m.Raw, (start+j)*2)]
		}
	default:
		panic("unsupported dtype for row add")
	}
}

// CheckShape verifies m is r x c.
func CheckShape(name string, m *Mat, r, c int) error {
	if m.R != r || m.C != c {
		return fmt.Errorf("%s: expected shape [%d %d], got [%d %d]: %w", name, r, c, m.R, m.C, ErrShapeMismatch)
	}
	return nil
}

// Norm holds the affine parameters of a normalization layer, each shaped
// [1, n].
type Norm struct {
	W Mat
	B Mat
}

// NewNorm returns an identity normalization: weight one, bias zero.
func NewNorm(n int) Norm {
	nm := Norm{W: NewMat(1, n), B: NewMat(1, n)}
	Fill(&nm.W, 1)
	return nm
}

func (n *Norm) Params(prefix string) []Param {
	return []Param{
		{Name: prefix + ".weight", Mat: &n.W},
		{Name: prefix + ".bias", Mat: &n.B},
	}
}

// LayerNorm applies layer normalization with n's affine parameters.
func (n *Norm) LayerNorm(dst, src []float32, eps float32) {
	LayerNorm(dst, src, rowView(&n.W), rowView(&n.B), eps)
}

// RMSNorm applies RMS normalization followed by n's bias.
func (n *Norm) RMSNorm(dst, src []float32, eps float32) {
	RMSNorm(dst, src, rowView(&n.W), eps)
	AddRowTo(dst, &n.B, 0)
}

// rowView returns row 0 without copying when m is fp32.
func rowView(m *Mat) []float32 {
	return m.Row(0)
}
