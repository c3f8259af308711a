// Package decoder implements the SVG language model: a GPTBigCode-style
// causal transformer with multi-query attention, learned absolute positions
// and a language-model head tied to the token embeddings.
package decoder

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/samcharles93/starvec/internal/precision"
	"github.com/samcharles93/starvec/internal/tensor"
)

// ErrCapacity is returned when a session has no positions left.
var ErrCapacity = errors.New("decoder: position capacity exhausted")

// Config holds the decoder hyperparameters.
type Config struct {
	VocabSize    int     `json:"vocab_size" yaml:"vocab_size"`
	HiddenSize   int     `json:"hidden_size" yaml:"hidden_size"`
	NumLayers    int     `json:"num_layers" yaml:"num_layers"`
	NumHeads     int     `json:"num_heads" yaml:"num_heads"`
	NPositions   int     `json:"n_positions" yaml:"n_positions"`
	LayerNormEps float32 `json:"layer_norm_eps" yaml:"layer_norm_eps"`
}

func (c Config) Validate() error {
	switch {
	case c.VocabSize <= 0:
		return fmt.Errorf("decoder: vocab_size must be positive")
	case c.HiddenSize <= 0 || c.NumHeads <= 0 || c.HiddenSize%c.NumHeads != 0:
		return fmt.Errorf("decoder: hidden_size %d must be a positive multiple of num_heads %d", c.HiddenSize, c.NumHeads)
	case c.NPositions <= 0:
		return fmt.Errorf("decoder: n_positions must be positive")
	case c.NumLayers < 0:
		return fmt.Errorf("decoder: num_layers must not be negative")
	}
	return nil
}

func (c Config) headDim() int { return c.HiddenSize / c.NumHeads }

type block struct {
	ln1, ln2 tensor.Norm
	attn     tensor.Linear // hidden -> hidden + 2*headDim (q, shared k, shared v)
	proj     tensor.Linear
	fc       tensor.Linear
	out      tensor.Linear
}

// Decoder holds read-only parameters. Per-call state lives in a Session.
type Decoder struct {
	cfg    Config
	wte    tensor.Mat
	wpe    tensor.Mat
	blocks []block
	lnF    tensor.Norm
}

// New builds a decoder with freshly initialised fp32 parameters.
func New(cfg Config, seed int64) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.LayerNormEps == 0 {
		cfg.LayerNormEps = 1e-5
	}
	d, hd := cfg.HiddenSize, cfg.headDim()
	m := &Decoder{
		cfg:    cfg,
		wte:    tensor.NewMat(cfg.VocabSize, d),
		wpe:    tensor.NewMat(cfg.NPositions, d),
		blocks: make([]block, cfg.NumLayers),
		lnF:    tensor.NewNorm(d),
	}
	for i := range m.blocks {
		m.blocks[i] = block{
			ln1:  tensor.NewNorm(d),
			ln2:  tensor.NewNorm(d),
			attn: tensor.NewLinear(d, d+2*hd),
			proj: tensor.NewLinear(d, d),
			fc:   tensor.NewLinear(d, 4*d),
			out:  tensor.NewLinear(4*d, d),
		}
	}
	s := seed
	for _, prm := range m.Params() {
		s++
		switch {
		case prm.Mat == &m.wte || prm.Mat == &m.wpe:
			tensor.FillRand(prm.Mat, s)
		case strings.HasSuffix(prm.Name, ".weight") && prm.Mat.R > 1:
			tensor.FillGlorot(prm.Mat, s)
		}
	}
	return m, nil
}

func (m *Decoder) Config() Config { return m.cfg }

// Width is the embedding width every input row must have.
func (m *Decoder) Width() int { return m.cfg.HiddenSize }

func (m *Decoder) VocabSize() int { return m.cfg.VocabSize }

// Precision is the storage precision of the parameters.
func (m *Decoder) Precision() precision.Precision { return m.wte.DType }

func (m *Decoder) Params() []tensor.Param {
	const prefix = "svg_transformer.transformer."
	ps := []tensor.Param{
		{Name: prefix + "wte.weight", Mat: &m.wte},
		{Name: prefix + "wpe.weight", Mat: &m.wpe},
	}
	for i := range m.blocks {
		b := &m.blocks[i]
		bp := prefix + "h." + strconv.Itoa(i) + "."
		ps = append(ps, b.ln1.Params(bp+"ln_1")...)
		ps = append(ps, b.attn.Params(bp+"attn.c_attn")...)
		ps = append(ps, b.proj.Params(bp+"attn.c_proj")...)
		ps = append(ps, b.ln2.Params(bp+"ln_2")...)
		ps = append(ps, b.fc.Params(bp+"mlp.c_fc")...)
		ps = append(ps, b.out.Params(bp+"mlp.c_proj")...)
	}
	return append(ps, m.lnF.Params(prefix+"ln_f")...)
}

// Embed writes the token embedding of id into dst.
func (m *Decoder) Embed(id int, dst []float32) error {
	if id < 0 || id >= m.cfg.VocabSize {
		return fmt.Errorf("decoder: token id %d out of range [0,%d)", id, m.cfg.VocabSize)
	}
	m.wte.RowTo(dst, id)
	return nil
}

// EmbedTokens returns the embeddings of ids as a matrix at the decoder
// precision.
func (m *Decoder) EmbedTokens(ids []int) (tensor.Mat, error) {
	out := tensor.NewMatAt(len(ids), m.cfg.HiddenSize, m.Precision())
	row := make([]float32, m.cfg.HiddenSize)
	for i, id := range ids {
		if err := m.Embed(id, row); err != nil {
			return tensor.Mat{}, err
		}
		out.SetRow(i, row)
	}
	return out, nil
}

// Session is the per-call decoding state: the key/value cache and scratch
// buffers. A Session must not be shared between goroutines.
type Session struct {
	m   *Decoder
	pos int

	keys, values [][]float32 // per layer, [NPositions * headDim]

	x, h, qkv, attn, tmp, mlp, scores, logits []float32
}

// NewSession allocates an empty session.
func (m *Decoder) NewSession() *Session {
	cfg := m.cfg
	d, hd := cfg.HiddenSize, cfg.headDim()
	s := &Session{
		m:      m,
		keys:   make([][]float32, len(m.blocks)),
		values: make([][]float32, len(m.blocks)),
		x:      make([]float32, d),
		h:      make([]float32, d),
		qkv:    make([]float32, d+2*hd),
		attn:   make([]float32, d),
		tmp:    make([]float32, d),
		mlp:    make([]float32, 4*d),
		scores: make([]float32, cfg.NPositions),
		logits: make([]float32, cfg.VocabSize),
	}
	for i := range m.blocks {
		s.keys[i] = make([]float32, cfg.NPositions*hd)
		s.values[i] = make([]float32, cfg.NPositions*hd)
	}
	return s
}

func (s *Session) Width() int { return s.m.cfg.HiddenSize }

// Capacity is the total number of positions the session can hold.
func (s *Session) Capacity() int { return s.m.cfg.NPositions }

// Pos is the number of positions consumed so far.
func (s *Session) Pos() int { return s.pos }

// Reset clears the cache so the session can be reused.
func (s *Session) Reset() { s.pos = 0 }

// Embed writes the token embedding of id into dst.
func (s *Session) Embed(id int, dst []float32) error { return s.m.Embed(id, dst) }

// Forward appends one input embedding at the next position and returns the
// next-token logits. The returned slice is reused by the next call.
func (s *Session) Forward(emb []float32) ([]float32, error) {
	m := s.m
	cfg := m.cfg
	d := cfg.HiddenSize
	if len(emb) != d {
		return nil, &tensor.ShapeMismatchError{Op: "decoder.Forward", Want: d, Got: len(emb)}
	}
	if s.pos >= cfg.NPositions {
		return nil, ErrCapacity
	}
	p := m.Precision()

	copy(s.x, emb)
	tensor.AddRowTo(s.x, &m.wpe, s.pos)
	p.RoundSlice(s.x)

	for i := range m.blocks {
		s.block(i)
		p.RoundSlice(s.x)
	}

	m.lnF.LayerNorm(s.h, s.x, cfg.LayerNormEps)
	tensor.MatVec(s.logits, &m.wte, s.h)
	s.pos++
	return s.logits, nil
}

func (s *Session) block(i int) {
	m := s.m
	cfg := m.cfg
	b := &m.blocks[i]
	d, hd := cfg.HiddenSize, cfg.headDim()
	scale := float32(1 / math.Sqrt(float64(hd)))

	b.ln1.LayerNorm(s.h, s.x, cfg.LayerNormEps)
	b.attn.Forward(s.qkv, s.h)
	q := s.qkv[:d]
	copy(s.keys[i][s.pos*hd:(s.pos+1)*hd], s.qkv[d:d+hd])
	copy(s.values[i][s.pos*hd:(s.pos+1)*hd], s.qkv[d+hd:d+2*hd])

	n := s.pos + 1
	keys, values := s.keys[i], s.values[i]
	clear(s.attn)
	for h := 0; h < cfg.NumHeads; h++ {
		qh := q[h*hd : (h+1)*hd]
		scores := s.scores[:n]
		for t := 0; t < n; t++ {
			scores[t] = tensor.Dot(qh, keys[t*hd:(t+1)*hd]) * scale
		}
		tensor.Softmax(scores)
		out := s.attn[h*hd : (h+1)*hd]
		for t := 0; t < n; t++ {
			w := scores[t]
			vt := values[t*hd : (t+1)*hd]
			for j := range out {
				out[j] += w * vt[j]
			}
		}
	}
	b.proj.Forward(s.tmp, s.attn)
	tensor.Add(s.x, s.tmp)

	b.ln2.LayerNorm(s.h, s.x, cfg.LayerNormEps)
	b.fc.Forward(s.mlp, s.h)
	tensor.Apply(s.mlp, tensor.GELUTanh)
	b.out.Forward(s.tmp, s.mlp)
	tensor.Add(s.x, s.tmp)
}
