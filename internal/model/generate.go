package model

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/starvec/internal/inference"
	"github.com/samcharles93/starvec/internal/logger"
	"github.com/samcharles93/starvec/internal/logits"
	"github.com/samcharles93/starvec/internal/tensor"
	"github.com/samcharles93/starvec/internal/vision"
)

type generateOptions struct {
	sampler logits.SamplerConfig
	onToken func(id int)
}

type GenerateOption func(*generateOptions)

// WithSampler enables stochastic decoding. The zero config is greedy.
func WithSampler(cfg logits.SamplerConfig) GenerateOption {
	return func(o *generateOptions) { o.sampler = cfg }
}

// WithTokenCallback observes every generated id. With more than one batch
// item fn is called from several goroutines.
func WithTokenCallback(fn func(id int)) GenerateOption {
	return func(o *generateOptions) { o.onToken = fn }
}

// Generation is the outcome for one batch item.
type Generation struct {
	Text       string
	Tokens     []int
	StopReason inference.StopReason
	Stats      inference.Stats
}

// GenerateIm2SVG returns the raw generated text for every image.
func (m *Model) GenerateIm2SVG(ctx context.Context, batch vision.Batch, maxLength int, opts ...GenerateOption) ([]string, error) {
	gens, err := m.Im2SVG(ctx, batch, maxLength, opts...)
	if err != nil {
		return nil, err
	}
	return texts(gens), nil
}

// Im2SVG is GenerateIm2SVG with per-item token and stop details.
func (m *Model) Im2SVG(ctx context.Context, batch vision.Batch, maxLength int, opts ...GenerateOption) ([]Generation, error) {
	if m.task != TaskIm2SVG {
		return nil, fmt.Errorf("%w: im2svg on a %s model", ErrTaskMismatch, m.task)
	}
	start, err := m.StartEmbedding()
	if err != nil {
		return nil, err
	}
	return m.generate(ctx, len(batch), maxLength, opts, func(i int) (tensor.Mat, error) {
		feats, err := m.encoder.Encode(batch[i])
		if err != nil {
			return tensor.Mat{}, err
		}
		embeds, err := m.adapter.Project(feats)
		if err != nil {
			return tensor.Mat{}, err
		}
		return m.Assemble(embeds, start, nil)
	})
}

// GenerateText2SVG conditions on prompt tokens followed by the start token.
func (m *Model) GenerateText2SVG(ctx context.Context, prompts []string, maxLength int, opts ...GenerateOption) ([]string, error) {
	gens, err := m.Text2SVG(ctx, prompts, maxLength, opts...)
	if err != nil {
		return nil, err
	}
	return texts(gens), nil
}

// Text2SVG is GenerateText2SVG with per-item token and stop details.
func (m *Model) Text2SVG(ctx context.Context, prompts []string, maxLength int, opts ...GenerateOption) ([]Generation, error) {
	if m.task != TaskText2SVG {
		return nil, fmt.Errorf("%w: text2svg on a %s model", ErrTaskMismatch, m.task)
	}
	start, err := m.StartEmbedding()
	if err != nil {
		return nil, err
	}
	return m.generate(ctx, len(prompts), maxLength, opts, func(i int) (tensor.Mat, error) {
		ids, err := m.tok.Encode(prompts[i])
		if err != nil {
			return tensor.Mat{}, err
		}
		embeds, err := m.decoder.EmbedTokens(ids)
		if err != nil {
			return tensor.Mat{}, err
		}
		return m.Assemble(embeds, start, nil)
	})
}

func (m *Model) generate(ctx context.Context, n, maxLength int, opts []GenerateOption, prefix func(i int) (tensor.Mat, error)) ([]Generation, error) {
	var o generateOptions
	for _, opt := range opts {
		opt(&o)
	}
	if maxLength <= 0 {
		maxLength = m.cfg.MaxLength
	}
	log := logger.FromContext(ctx)

	out := make([]Generation, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := 0; i < n; i++ {
		g.Go(func() error {
			p, err := prefix(i)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			sc := o.sampler
			sc.Seed += int64(i)
			gen := &inference.Generator{
				Session:   m.decoder.NewSession(),
				Selector:  logits.NewSelector(sc),
				EOS:       m.cfg.EOSTokenID,
				MaxLength: maxLength,
				OnToken:   o.onToken,
			}
			res, err := gen.Run(logger.WithContext(gctx, log.With("item", i)), p)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			text, err := m.tok.DecodeSkipSpecial(res.Tokens)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			out[i] = Generation{Text: text, Tokens: res.Tokens, StopReason: res.StopReason, Stats: res.Stats}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func texts(gens []Generation) []string {
	out := make([]string, len(gens))
	for i, g := range gens {
		out[i] = g.Text
	}
	return out
}
