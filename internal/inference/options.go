package inference

import "github.com/samcharles93/starvec/internal/logits"

// Options are per-request overrides. Nil fields fall back to Defaults.
type Options struct {
	MaxLength *int
	Seed      *int64

	Temperature   *float64
	TopK          *int
	TopP          *float64
	MinP          *float64
	RepeatPenalty *float64
	RepeatLastN   *int
}

// Defaults come from the model config and the user config file.
type Defaults struct {
	MaxLength   int
	Temperature *float64
	TopK        *int
	TopP        *float64
}

// Request is a fully resolved generation request.
type Request struct {
	MaxLength int
	Sampler   logits.SamplerConfig
}

// ResolveOptions merges opts over defaults. Decoding is greedy unless a
// positive temperature is set somewhere.
func ResolveOptions(opts Options, defaults Defaults) Request {
	req := Request{
		MaxLength: defaults.MaxLength,
		Sampler: logits.SamplerConfig{
			Seed:          -1,
			Temperature:   0,
			TopK:          40,
			TopP:          1,
			RepeatPenalty: 1,
			RepeatLastN:   64,
		},
	}

	if defaults.Temperature != nil && *defaults.Temperature > 0 {
		req.Sampler.Temperature = float32(*defaults.Temperature)
	}
	if defaults.TopK != nil && *defaults.TopK > 0 {
		req.Sampler.TopK = *defaults.TopK
	}
	if defaults.TopP != nil && *defaults.TopP > 0 && *defaults.TopP <= 1 {
		req.Sampler.TopP = float32(*defaults.TopP)
	}

	if opts.MaxLength != nil && *opts.MaxLength > 0 {
		req.MaxLength = *opts.MaxLength
	}
	if opts.Seed != nil {
		req.Sampler.Seed = *opts.Seed
	}
	if opts.Temperature != nil {
		req.Sampler.Temperature = float32(*opts.Temperature)
	}
	if opts.TopK != nil {
		req.Sampler.TopK = *opts.TopK
	}
	if opts.TopP != nil {
		req.Sampler.TopP = float32(*opts.TopP)
	}
	if opts.MinP != nil {
		req.Sampler.MinP = float32(*opts.MinP)
	}
	if opts.RepeatPenalty != nil {
		req.Sampler.RepeatPenalty = float32(*opts.RepeatPenalty)
	}
	if opts.RepeatLastN != nil {
		req.Sampler.RepeatLastN = *opts.RepeatLastN
	}
	return req
}
