// Package logits selects the next token from a logits vector.
package logits

import (
	"math"
	"math/rand"
	"slices"
)

// SamplerConfig configures the behaviour of a Sampler.
type SamplerConfig struct {
	Seed          int64
	Temperature   float32
	TopK          int
	TopP          float32
	MinP          float32
	RepeatPenalty float32
	RepeatLastN   int
}

// Selector picks the next token id. history holds the ids generated so far.
type Selector interface {
	Select(logits []float32, history []int) int
}

// Greedy always selects the highest logit; ties go to the lowest id.
type Greedy struct{}

func (Greedy) Select(logits []float32, _ []int) int { return argmax(logits) }

// NewSelector returns Greedy for a zero temperature without repetition
// penalty, and a stochastic Sampler otherwise.
func NewSelector(cfg SamplerConfig) Selector {
	if cfg.Temperature <= 0 && cfg.RepeatPenalty <= 1 {
		return Greedy{}
	}
	return NewSampler(cfg)
}

type candidate struct {
	id    int
	logit float32
	p     float64
}

// Sampler draws tokens in stages: repetition penalty, top-k shortlist,
// temperature softmax, min-p and top-p truncation, then one draw from the
// seeded RNG. A zero temperature keeps the penalty but picks the arg-max.
// It is not safe for concurrent use.
type Sampler struct {
	cfg    SamplerConfig
	greedy bool
	rng    *rand.Rand

	scratch    []float32
	shortlist  []candidate
	penalised  []bool
	penaltyIDs []int
}

func NewSampler(cfg SamplerConfig) *Sampler {
	s := &Sampler{greedy: cfg.Temperature <= 0}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 40
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		cfg.TopP = 1
	}
	if cfg.RepeatPenalty <= 0 {
		cfg.RepeatPenalty = 1
	}
	if cfg.RepeatLastN <= 0 {
		cfg.RepeatLastN = 64
	}
	s.cfg = cfg
	s.rng = rand.New(rand.NewSource(cfg.Seed))
	return s
}

// Select leaves logits untouched; penalties apply to a private copy.
func (s *Sampler) Select(logits []float32, history []int) int {
	if len(logits) == 0 {
		return 0
	}
	x := logits
	if s.cfg.RepeatPenalty > 1 && len(history) > 0 {
		s.scratch = append(s.scratch[:0], logits...)
		x = s.scratch
		s.penalise(x, history)
	}
	if s.greedy || s.cfg.TopK == 1 {
		return argmax(x)
	}

	c := s.shortlistTopK(x, min(s.cfg.TopK, len(x)))
	if len(c) == 0 {
		return argmax(x)
	}
	if !softmax(c, 1/s.cfg.Temperature) {
		return c[0].id
	}
	c = truncateMinP(c, s.cfg.MinP)
	c = truncateTopP(c, s.cfg.TopP)
	return draw(c, s.rng.Float64())
}

// penalise scales each distinct id of the trailing RepeatLastN history
// entries away from selection: positive logits shrink, negative ones grow.
func (s *Sampler) penalise(x []float32, history []int) {
	if len(s.penalised) < len(x) {
		s.penalised = make([]bool, len(x))
	}
	s.penaltyIDs = s.penaltyIDs[:0]
	for _, id := range history[max(len(history)-s.cfg.RepeatLastN, 0):] {
		if id < 0 || id >= len(x) || s.penalised[id] {
			continue
		}
		s.penalised[id] = true
		s.penaltyIDs = append(s.penaltyIDs, id)
		if x[id] > 0 {
			x[id] /= s.cfg.RepeatPenalty
		} else {
			x[id] *= s.cfg.RepeatPenalty
		}
	}
	for _, id := range s.penaltyIDs {
		s.penalised[id] = false
	}
}

// shortlistTopK keeps the k highest finite logits, best first. Equal logits
// keep ascending id order.
func (s *Sampler) shortlistTopK(x []float32, k int) []candidate {
	c := s.shortlist[:0]
	for id, v := range x {
		if math.IsNaN(float64(v)) {
			continue
		}
		if len(c) == k && v <= c[k-1].logit {
			continue
		}
		pos, _ := slices.BinarySearchFunc(c, v, func(e candidate, v float32) int {
			if e.logit >= v {
				return -1
			}
			return 1
		})
		if len(c) < k {
			c = append(c, candidate{})
		}
		copy(c[pos+1:], c[pos:len(c)-1])
		c[pos] = candidate{id: id, logit: v}
	}
	s.shortlist = c
	return c
}

// softmax fills c[i].p from the scaled logits. It reports false when the
// distribution degenerates.
func softmax(c []candidate, invTemp float32) bool {
	top := c[0].logit * invTemp
	var sum float64
	for i := range c {
		c[i].p = math.Exp(float64(c[i].logit*invTemp - top))
		sum += c[i].p
	}
	if sum == 0 || math.IsInf(sum, 0) || math.IsNaN(sum) {
		return false
	}
	for i := range c {
		c[i].p /= sum
	}
	return true
}

// truncateMinP drops candidates below minP times the best probability.
func truncateMinP(c []candidate, minP float32) []candidate {
	if minP <= 0 {
		return c
	}
	threshold := c[0].p * float64(minP)
	n := 1
	for n < len(c) && c[n].p >= threshold {
		n++
	}
	return renormalise(c[:n])
}

// truncateTopP keeps the smallest prefix whose mass reaches topP.
func truncateTopP(c []candidate, topP float32) []candidate {
	if topP >= 1 {
		return c
	}
	var mass float64
	for i := range c {
		mass += c[i].p
		if float32(mass) >= topP {
			return renormalise(c[:i+1])
		}
	}
	return c
}

func renormalise(c []candidate) []candidate {
	var sum float64
	for _, e := range c {
		sum += e.p
	}
	if sum > 0 {
		for i := range c {
			c[i].p /= sum
		}
	}
	return c
}

func draw(c []candidate, r float64) int {
	var acc float64
	for _, e := range c {
		acc += e.p
		if r < acc {
			return e.id
		}
	}
	return c[len(c)-1].id
}

// argmax returns the index of the largest value. NaN is skipped; an all-NaN
// vector yields 0.
func argmax(x []float32) int {
	best := -1
	for i, v := range x {
		if math.IsNaN(float64(v)) {
			continue
		}
		if best < 0 || v > x[best] {
			best = i
		}
	}
	return max(best, 0)
}
