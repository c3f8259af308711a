// Package adapter projects vision features into the decoder embedding space.
package adapter

import (
	"errors"
	"fmt"
	"math"

	"github.com/samcharles93/starvec/internal/precision"
	"github.com/samcharles93/starvec/internal/tensor"
)

// ErrUnknownNorm is returned for an unrecognised adapter_norm value.
var ErrUnknownNorm = errors.New("unknown adapter norm")

// NormKind selects the normalization applied after the output projection.
type NormKind string

const (
	LayerNorm NormKind = "layer_norm"
	BatchNorm NormKind = "batch_norm"
	RMSNorm   NormKind = "rms_norm"
	NoNorm    NormKind = "none"
)

// ParseNorm resolves an adapter_norm value. An empty value selects LayerNorm.
func ParseNorm(s string) (NormKind, error) {
	switch k := NormKind(s); k {
	case "":
		return LayerNorm, nil
	case LayerNorm, BatchNorm, RMSNorm, NoNorm:
		return k, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownNorm, s)
}

const normEps = 1e-5

// Adapter is c_fc -> swish -> c_proj -> norm. LayerNorm normalizes the whole
// [queryLength, out] block jointly; BatchNorm uses running statistics per
// query position; RMSNorm normalizes each row.
type Adapter struct {
	Norm        NormKind
	QueryLength int

	CFc   tensor.Linear
	CProj tensor.Linear

	// NormW and NormB hold the affine parameters. For LayerNorm they are
	// [queryLength, out]; for BatchNorm [1, queryLength]; for RMSNorm [1, out].
	NormW tensor.Mat
	NormB tensor.Mat
	// RunningMean and RunningVar are BatchNorm statistics, [1, queryLength].
	RunningMean tensor.Mat
	RunningVar  tensor.Mat
}

// New builds an adapter mapping in-wide features to out-wide embeddings with
// glorot-initialised projections and identity normalization.
func New(in, out, queryLength int, norm NormKind, seed int64) (*Adapter, error) {
	if in <= 0 || out <= 0 || queryLength <= 0 {
		return nil, fmt.Errorf("adapter: invalid geometry in=%d out=%d query_length=%d", in, out, queryLength)
	}
	if _, err := ParseNorm(string(norm)); err != nil {
		return nil, err
	}
	if norm == "" {
		norm = LayerNorm
	}
	a := &Adapter{
		Norm:        norm,
		QueryLength: queryLength,
		CFc:         tensor.NewLinear(in, 2*in),
		CProj:       tensor.NewLinear(2*in, out),
	}
	tensor.FillGlorot(&a.CFc.W, seed)
	tensor.FillGlorot(&a.CProj.W, seed+1)

	switch norm {
	case LayerNorm:
		a.NormW = tensor.NewMat(queryLength, out)
		a.NormB = tensor.NewMat(queryLength, out)
		tensor.Fill(&a.NormW, 1)
	case BatchNorm:
		a.NormW = tensor.NewMat(1, queryLength)
		a.NormB = tensor.NewMat(1, queryLength)
		a.RunningMean = tensor.NewMat(1, queryLength)
		a.RunningVar = tensor.NewMat(1, queryLength)
		tensor.Fill(&a.NormW, 1)
		tensor.Fill(&a.RunningVar, 1)
	case RMSNorm:
		a.NormW = tensor.NewMat(1, out)
		a.NormB = tensor.NewMat(1, out)
		tensor.Fill(&a.NormW, 1)
	}
	return a, nil
}

func (a *Adapter) In() int  { return a.CFc.In() }
func (a *Adapter) Out() int { return a.CProj.Out() }

// Precision is the working precision of the adapter weights.
func (a *Adapter) Precision() precision.Precision { return a.CFc.W.DType }

func (a *Adapter) Params() []tensor.Param {
	const prefix = "image_projection"
	ps := append(a.CFc.Params(prefix+".c_fc"), a.CProj.Params(prefix+".c_proj")...)
	switch a.Norm {
	case LayerNorm, RMSNorm:
		ps = append(ps,
			tensor.Param{Name: prefix + ".norm.weight", Mat: &a.NormW},
			tensor.Param{Name: prefix + ".norm.bias", Mat: &a.NormB})
	case BatchNorm:
		ps = append(ps,
			tensor.Param{Name: prefix + ".norm.weight", Mat: &a.NormW},
			tensor.Param{Name: prefix + ".norm.bias", Mat: &a.NormB},
			tensor.Param{Name: prefix + ".norm.running_mean", Mat: &a.RunningMean},
			tensor.Param{Name: prefix + ".norm.running_var", Mat: &a.RunningVar})
	}
	return ps
}

// Project maps features [queryLength, in] to embeddings [queryLength, out].
// The input is cast to the adapter precision first and the result is stored
// at that precision.
func (a *Adapter) Project(features tensor.Mat) (tensor.Mat, error) {
	if err := tensor.CheckWidth("adapter.Project", a.In(), features.C); err != nil {
		return tensor.Mat{}, err
	}
	if features.R != a.QueryLength {
		return tensor.Mat{}, &tensor.ShapeMismatchError{Op: "adapter.Project", What: "query length", Want: a.QueryLength, Got: features.R}
	}
	p := a.Precision()
	if features.DType != p {
		features = features.Cast(p)
	}

	rows, out := features.R, a.Out()
	y := make([]float32, rows*out)
	x := make([]float32, a.In())
	hidden := make([]float32, a.CFc.Out())
	for r := 0; r < rows; r++ {
		features.RowTo(x, r)
		a.CFc.Forward(hidden, x)
		tensor.Apply(hidden, tensor.Silu)
		p.RoundSlice(hidden)
		a.CProj.Forward(y[r*out:(r+1)*out], hidden)
	}
	p.RoundSlice(y)

	a.normalize(y, rows, out)

	res := tensor.NewMatAt(rows, out, p)
	for r := 0; r < rows; r++ {
		res.SetRow(r, y[r*out:(r+1)*out])
	}
	return res, nil
}

func (a *Adapter) normalize(y []float32, rows, out int) {
	switch a.Norm {
	case LayerNorm:
		var mean float64
		for _, v := range y {
			mean += float64(v)
		}
		mean /= float64(len(y))
		var variance float64
		for _, v := range y {
			d := float64(v) - mean
			variance += d * d
		}
		variance /= float64(len(y))
		inv := 1 / math.Sqrt(variance+normEps)
		w := make([]float32, out)
		b := make([]float32, out)
		for r := 0; r < rows; r++ {
			a.NormW.RowTo(w, r)
			a.NormB.RowTo(b, r)
			row := y[r*out : (r+1)*out]
			for c, v := range row {
				row[c] = float32((float64(v)-mean)*inv)*w[c] + b[c]
			}
		}
	case BatchNorm:
		w, b := a.NormW.Row(0), a.NormB.Row(0)
		mu, vr := a.RunningMean.Row(0), a.RunningVar.Row(0)
		for r := 0; r < rows; r++ {
			scale := w[r] / float32(math.Sqrt(float64(vr[r])+normEps))
			row := y[r*out : (r+1)*out]
			for c, v := range row {
				row[c] = (v-mu[r])*scale + b[r]
			}
		}
	case RMSNorm:
		norm := tensor.Norm{W: a.NormW, B: a.NormB}
		for r := 0; r < rows; r++ {
			row := y[r*out : (r+1)*out]
			norm.RMSNorm(row, row, normEps)
		}
	}
}
