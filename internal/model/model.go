// Package model assembles the vision encoder, adapter and SVG decoder into
// an image-to-SVG (or text-to-SVG) generator.
package model

import (
	"fmt"
	"image"
	"log/slog"

	"github.com/samcharles93/starvec/internal/adapter"
	"github.com/samcharles93/starvec/internal/decoder"
	"github.com/samcharles93/starvec/internal/logger"
	"github.com/samcharles93/starvec/internal/precision"
	"github.com/samcharles93/starvec/internal/safetensors"
	"github.com/samcharles93/starvec/internal/svgpost"
	"github.com/samcharles93/starvec/internal/tensor"
	"github.com/samcharles93/starvec/internal/tokenizer"
	"github.com/samcharles93/starvec/internal/vision"
)

// Model is immutable after New returns and safe for concurrent generation.
type Model struct {
	cfg       Config
	task      Task
	precision precision.Precision

	encoder vision.Encoder   // nil for text2svg
	adapter *adapter.Adapter // nil for text2svg
	decoder *decoder.Decoder

	tok       tokenizer.Tokenizer
	finalizer *svgpost.Finalizer
	log       logger.Logger
}

type options struct {
	weights *safetensors.File
	tok     tokenizer.Tokenizer
	seed    int64
	log     logger.Logger
}

type Option func(*options)

// WithWeights loads every parameter from st. Without it parameters are
// randomly initialised from the seed.
func WithWeights(st *safetensors.File) Option { return func(o *options) { o.weights = st } }

func WithTokenizer(tok tokenizer.Tokenizer) Option { return func(o *options) { o.tok = tok } }

func WithSeed(seed int64) Option { return func(o *options) { o.seed = seed } }

func WithLogger(l logger.Logger) Option { return func(o *options) { o.log = l } }

// New builds a model at the precision named by precisionSpec, which may be
// any form precision.Normalize accepts. A nil or empty spec uses
// cfg.TorchDType. Every parameter is cast before the model is returned.
func New(cfg Config, task Task, precisionSpec any, opts ...Option) (*Model, error) {
	o := options{seed: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Default()
	}

	task, err := ParseTask(string(task))
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if precisionSpec == nil || precisionSpec == "" {
		precisionSpec = cfg.TorchDType
	}
	p, err := precision.Normalize(precisionSpec)
	if err != nil {
		return nil, err
	}

	// Everything below works on a private value; m escapes only on success.
	m := &Model{cfg: cfg, task: task, precision: p, log: o.log}
	if m.decoder, err = decoder.New(cfg.Decoder, o.seed); err != nil {
		return nil, err
	}
	if task == TaskIm2SVG {
		if m.encoder, err = vision.New(cfg.ImageEncoderType, cfg.Vision, o.seed+1); err != nil {
			return nil, err
		}
		norm, err := adapter.ParseNorm(cfg.AdapterNorm)
		if err != nil {
			return nil, err
		}
		if m.adapter, err = adapter.New(m.encoder.HiddenSize(), m.decoder.Width(), m.encoder.SeqLen(), norm, o.seed+2); err != nil {
			return nil, err
		}
		if need := m.encoder.SeqLen() + 1; need > cfg.Decoder.NPositions {
			return nil, fmt.Errorf("model: %d image rows and start token exceed n_positions %d", m.encoder.SeqLen(), cfg.Decoder.NPositions)
		}
	}

	params := m.params()
	if o.weights != nil {
		if err := tensor.LoadParams(o.weights, params); err != nil {
			return nil, fmt.Errorf("model: load weights: %w", err)
		}
	}
	tensor.Materialize(params, p)

	m.tok = o.tok
	if m.tok == nil {
		m.tok = tokenizer.Bytes{Vocab: cfg.Decoder.VocabSize}
	}
	m.finalizer = svgpost.NewFinalizer(svgpost.Options{Size: cfg.RasterSize})

	m.log.Info("model ready",
		"task", string(task),
		"encoder", cfg.ImageEncoderType,
		"adapter_norm", cfg.AdapterNorm,
		"precision", p.String(),
		"params", len(params),
		"pretrained", o.weights != nil,
	)
	return m, nil
}

func (m *Model) params() []tensor.Param {
	var ps []tensor.Param
	if m.encoder != nil {
		ps = append(ps, m.encoder.Params()...)
	}
	if m.adapter != nil {
		ps = append(ps, m.adapter.Params()...)
	}
	return append(ps, m.decoder.Params()...)
}

// ParamInfo describes one parameter tensor.
type ParamInfo struct {
	Name      string              `json:"name"`
	Precision precision.Precision `json:"precision"`
	Shape     [2]int              `json:"shape"`
	Bytes     int                 `json:"bytes"`
}

// Parameters reports every parameter with its storage precision.
func (m *Model) Parameters() []ParamInfo {
	ps := m.params()
	out := make([]ParamInfo, len(ps))
	for i, prm := range ps {
		out[i] = ParamInfo{
			Name:      prm.Name,
			Precision: prm.Mat.DType,
			Shape:     [2]int{prm.Mat.R, prm.Mat.C},
			Bytes:     prm.Mat.Bytes(),
		}
	}
	return out
}

// Config returns a copy of the configuration.
func (m *Model) Config() Config { return m.cfg }

func (m *Model) Task() Task { return m.task }

func (m *Model) Precision() precision.Precision { return m.precision }

func (m *Model) Tokenizer() tokenizer.Tokenizer { return m.tok }

// QueryLength is the number of image rows in a prefix, zero for text2svg.
func (m *Model) QueryLength() int {
	if m.encoder == nil {
		return 0
	}
	return m.encoder.SeqLen()
}

// ProcessImages prepares images for the vision encoder.
func (m *Model) ProcessImages(images []image.Image) (vision.Batch, error) {
	if m.encoder == nil {
		return nil, fmt.Errorf("%w: ProcessImages needs %s, model is %s", ErrTaskMismatch, TaskIm2SVG, m.task)
	}
	return m.encoder.Processor().ProcessBatch(images)
}

// Processor returns the image processor of the vision encoder, nil for
// text2svg.
func (m *Model) Processor() *vision.Processor {
	if m.encoder == nil {
		return nil
	}
	return m.encoder.Processor()
}

// ProcessAndRasterizeSVG repairs raw generated text and renders it.
func (m *Model) ProcessAndRasterizeSVG(raw string) (string, *image.RGBA) {
	res := m.finalizer.Finalize(raw)
	if res.Placeholder || res.RenderFailed {
		m.log.Debug("svg postprocess fallback", "placeholder", res.Placeholder, "render_failed", res.RenderFailed)
	}
	return res.SVG, res.Raster
}

func (m *Model) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("task", string(m.task)),
		slog.String("precision", m.precision.String()),
		slog.String("backbone", m.cfg.StarcoderModelName),
	)
}
