package vision

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/samcharles93/starvec/internal/tensor"
)

// vitSpec captures the differences between ViT flavours.
type vitSpec struct {
	kind       string
	classToken bool
	preNorm    bool
	postNorm   bool
	act        func(float32) float32
	mean, std  [3]float32
}

var (
	clipSpec = vitSpec{
		kind:       "clip",
		classToken: true,
		preNorm:    true,
		act:        tensor.QuickGELU,
		mean:       [3]float32{0.48145466, 0.4578275, 0.40821073},
		std:        [3]float32{0.26862954, 0.26130258, 0.27577711},
	}
	siglipSpec = vitSpec{
		kind:     "siglip",
		postNorm: true,
		act:      tensor.GELUTanh,
		mean:     [3]float32{0.5, 0.5, 0.5},
		std:      [3]float32{0.5, 0.5, 0.5},
	}
)

func init() {
	Register(clipSpec.kind, vitFactory(clipSpec))
	Register(siglipSpec.kind, vitFactory(siglipSpec))
}

func vitFactory(spec vitSpec) Factory {
	return func(cfg Config, seed int64) (Encoder, error) {
		return newViT(spec, cfg, seed), nil
	}
}

type vitLayer struct {
	ln1, ln2   tensor.Norm
	q, k, v, o tensor.Linear
	fc1, fc2   tensor.Linear
}

// ViT is a patch-embedding transformer encoder. The clip flavour prepends a
// class token and normalizes before the blocks; siglip has no class token
// and normalizes after them.
type ViT struct {
	spec   vitSpec
	cfg    Config
	patch  tensor.Linear
	cls    tensor.Mat
	pos    tensor.Mat
	pre    tensor.Norm
	post   tensor.Norm
	layers []vitLayer
	proc   *Processor
}

func newViT(spec vitSpec, cfg Config, seed int64) *ViT {
	if cfg.LayerNormEps == 0 {
		cfg.LayerNormEps = 1e-5
	}
	d := cfg.HiddenSize
	e := &ViT{spec: spec, cfg: cfg}
	e.proc = NewProcessor(ProcessorConfig{Size: cfg.ImageSize, Mean: spec.mean, Std: spec.std})

	e.patch = tensor.NewLinear(3*cfg.PatchSize*cfg.PatchSize, d)
	e.pos = tensor.NewMat(e.SeqLen(), d)
	if spec.classToken {
		e.cls = tensor.NewMat(1, d)
	}
	if spec.preNorm {
		e.pre = tensor.NewNorm(d)
	}
	if spec.postNorm {
		e.post = tensor.NewNorm(d)
	}
	e.layers = make([]vitLayer, cfg.NumLayers)
	for i := range e.layers {
		e.layers[i] = vitLayer{
			ln1: tensor.NewNorm(d),
			ln2: tensor.NewNorm(d),
			q:   tensor.NewLinear(d, d),
			k:   tensor.NewLinear(d, d),
			v:   tensor.NewLinear(d, d),
			o:   tensor.NewLinear(d, d),
			fc1: tensor.NewLinear(d, cfg.IntermediateSize),
			fc2: tensor.NewLinear(cfg.IntermediateSize, d),
		}
	}

	s := seed
	for _, prm := range e.Params() {
		s++
		switch {
		case prm.Mat == &e.pos || prm.Mat == &e.cls:
			tensor.FillRand(prm.Mat, s)
		case strings.HasSuffix(prm.Name, ".weight") && prm.Mat.R > 1:
			tensor.FillGlorot(prm.Mat, s)
		}
	}
	return e
}

func (e *ViT) Kind() string          { return e.spec.kind }
func (e *ViT) HiddenSize() int       { return e.cfg.HiddenSize }
func (e *ViT) Processor() *Processor { return e.proc }

func (e *ViT) SeqLen() int {
	n := e.cfg.Patches()
	if e.spec.classToken {
		n++
	}
	return n
}

func (e *ViT) Params() []tensor.Param {
	const prefix = "image_encoder."
	var ps []tensor.Param
	ps = append(ps, e.patch.Params(prefix+"embeddings.patch_embedding")...)
	if e.spec.classToken {
		ps = append(ps, tensor.Param{Name: prefix + "embeddings.class_embedding", Mat: &e.cls})
	}
	ps = append(ps, tensor.Param{Name: prefix + "embeddings.position_embedding", Mat: &e.pos})
	if e.spec.preNorm {
		ps = append(ps, e.pre.Params(prefix+"pre_layernorm")...)
	}
	for i := range e.layers {
		l := &e.layers[i]
		lp := prefix + "layers." + strconv.Itoa(i) + "."
		ps = append(ps, l.ln1.Params(lp+"layer_norm1")...)
		ps = append(ps, l.q.Params(lp+"self_attn.q_proj")...)
		ps = append(ps, l.k.Params(lp+"self_attn.k_proj")...)
		ps = append(ps, l.v.Params(lp+"self_attn.v_proj")...)
		ps = append(ps, l.o.Params(lp+"self_attn.out_proj")...)
		ps = append(ps, l.ln2.Params(lp+"layer_norm2")...)
		ps = append(ps, l.fc1.Params(lp+"mlp.fc1")...)
		ps = append(ps, l.fc2.Params(lp+"mlp.fc2")...)
	}
	if e.spec.postNorm {
		ps = append(ps, e.post.Params(prefix+"post_layernorm")...)
	}
	return ps
}

// Encode runs the encoder on one image. Activations are rounded to the
// parameter precision at every block boundary.
func (e *ViT) Encode(img Image) (tensor.Mat, error) {
	if err := e.checkImage(img); err != nil {
		return tensor.Mat{}, err
	}
	size := e.cfg.ImageSize
	p := e.patch.W.DType
	d := e.cfg.HiddenSize
	ps := e.cfg.PatchSize
	grid := size / ps
	seq := e.SeqLen()
	off := 0
	if e.spec.classToken {
		off = 1
	}

	x := make([]float32, seq*d)
	patchVec := make([]float32, 3*ps*ps)
	for gy := 0; gy < grid; gy++ {
		for gx := 0; gx < grid; gx++ {
			i := 0
			for c := 0; c < 3; c++ {
				for ky := 0; ky < ps; ky++ {
					for kx := 0; kx < ps; kx++ {
						patchVec[i] = img.At(c, gy*ps+ky, gx*ps+kx)
						i++
					}
				}
			}
			r := off + gy*grid + gx
			e.patch.Forward(x[r*d:(r+1)*d], patchVec)
		}
	}
	if e.spec.classToken {
		e.cls.RowTo(x[:d], 0)
	}
	for r := 0; r < seq; r++ {
		tensor.AddRowTo(x[r*d:(r+1)*d], &e.pos, r)
	}
	if e.spec.preNorm {
		for r := 0; r < seq; r++ {
			row := x[r*d : (r+1)*d]
			e.pre.LayerNorm(row, row, e.cfg.LayerNormEps)
		}
	}
	p.RoundSlice(x)

	ws := newWorkspace(seq, d, e.cfg.IntermediateSize)
	for i := range e.layers {
		e.layers[i].forward(x, seq, e.cfg, e.spec.act, ws)
		p.RoundSlice(x)
	}
	if e.spec.postNorm {
		for r := 0; r < seq; r++ {
			row := x[r*d : (r+1)*d]
			e.post.LayerNorm(row, row, e.cfg.LayerNormEps)
		}
	}

	out := tensor.NewMatAt(seq, d, p)
	for r := 0; r < seq; r++ {
		out.SetRow(r, x[r*d:(r+1)*d])
	}
	return out, nil
}

type workspace struct {
	h, q, k, v, attn []float32
	tmp, mlp, scores []float32
}

func newWorkspace(seq, d, inter int) *workspace {
	return &workspace{
		h:      make([]float32, seq*d),
		q:      make([]float32, seq*d),
		k:      make([]float32, seq*d),
		v:      make([]float32, seq*d),
		attn:   make([]float32, seq*d),
		tmp:    make([]float32, d),
		mlp:    make([]float32, inter),
		scores: make([]float32, seq),
	}
}

func (l *vitLayer) forward(x []float32, seq int, cfg Config, act func(float32) float32, ws *workspace) {
	d := cfg.HiddenSize
	heads := cfg.NumHeads
	hd := d / heads
	scale := float32(1 / math.Sqrt(float64(hd)))

	for r := 0; r < seq; r++ {
		row := ws.h[r*d : (r+1)*d]
		l.ln1.LayerNorm(row, x[r*d:(r+1)*d], cfg.LayerNormEps)
		l.q.Forward(ws.q[r*d:(r+1)*d], row)
		l.k.Forward(ws.k[r*d:(r+1)*d], row)
		l.v.Forward(ws.v[r*d:(r+1)*d], row)
	}

	clear(ws.attn)
	for h := 0; h < heads; h++ {
		base := h * hd
		for i := 0; i < seq; i++ {
			qi := ws.q[i*d+base : i*d+base+hd]
			for j := 0; j < seq; j++ {
				ws.scores[j] = tensor.Dot(qi, ws.k[j*d+base:j*d+base+hd]) * scale
			}
			tensor.Softmax(ws.scores[:seq])
			out := ws.attn[i*d+base : i*d+base+hd]
			for j := 0; j < seq; j++ {
				w := ws.scores[j]
				vj := ws.v[j*d+base : j*d+base+hd]
				for t := range out {
					out[t] += w * vj[t]
				}
			}
		}
	}

	for r := 0; r < seq; r++ {
		xr := x[r*d : (r+1)*d]
		l.o.Forward(ws.tmp, ws.attn[r*d:(r+1)*d])
		tensor.Add(xr, ws.tmp)

		l.ln2.LayerNorm(ws.tmp, xr, cfg.LayerNormEps)
		l.fc1.Forward(ws.mlp, ws.tmp)
		tensor.Apply(ws.mlp, act)
		l.fc2.Forward(ws.tmp, ws.mlp)
		tensor.Add(xr, ws.tmp)
	}
}

func (e *ViT) String() string {
	return fmt.Sprintf("%s(image=%d patch=%d hidden=%d layers=%d seq=%d)",
		e.spec.kind, e.cfg.ImageSize, e.cfg.PatchSize, e.cfg.HiddenSize, e.cfg.NumLayers, e.SeqLen())
}

// checkImage reports the first image dimension that disagrees with the
// encoder geometry.
func (e *ViT) checkImage(img Image) error {
	size := e.cfg.ImageSize
	mismatch := func(what string, want, got int) error {
		return &tensor.ShapeMismatchError{Op: e.spec.kind + ".Encode", What: what, Want: want, Got: got}
	}
	switch {
	case img.C != 3:
		return mismatch("channels", 3, img.C)
	case img.H != size:
		return mismatch("image height", size, img.H)
	case img.W != size:
		return mismatch("image width", size, img.W)
	case len(img.Pixels) != 3*size*size:
		return mismatch("pixel count", 3*size*size, len(img.Pixels))
	}
	return nil
}
