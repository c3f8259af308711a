package logits

import (
	"math"
	"slices"
	"testing"
)

// TestSamplerDeterminism ensures that two samplers configured identically
// produce identical results when sampling the same logits vector.
func TestSamplerDeterminism(t *testing.T) {
	t.Parallel()

	logs := []float32{0, 1, 2, 3, 4, 5}
	s1 := NewSampler(SamplerConfig{Seed: 42, Temperature: 0.9, TopK: 4, TopP: 0.95})
	s2 := NewSampler(SamplerConfig{Seed: 42, Temperature: 0.9, TopK: 4, TopP: 0.95})
	for i := 0; i < 8; i++ {
		a := s1.Select(logs, nil)
		b := s2.Select(logs, nil)
		if a != b {
			t.Fatalf("step %d: expected deterministic sample, got %d vs %d", i, a, b)
		}
	}
}

// TestSamplerTopKOne checks that TopK=1 collapses to the maximum logit.
func TestSamplerTopKOne(t *testing.T) {
	t.Parallel()

	logs := []float32{-1, 5, 3, 7, 2}
	s := NewSampler(SamplerConfig{Seed: 99, Temperature: 1.0, TopK: 1, TopP: 1.0})
	if idx := s.Select(logs, nil); idx != 3 {
		t.Fatalf("expected index 3, got %d", idx)
	}
}

// TestSamplerTopP: the highest logit alone exceeds TopP, so only index 0
// can ever be returned.
func TestSamplerTopP(t *testing.T) {
	t.Parallel()

	logs := []float32{10, 0, 0, 0, 0}
	s := NewSampler(SamplerConfig{Seed: 7, Temperature: 1.0, TopK: 5, TopP: 0.5})
	for i := 0; i < 10; i++ {
		if idx := s.Select(logs, nil); idx != 0 {
			t.Fatalf("top-p sampling returned unexpected index %d", idx)
		}
	}
}

func TestGreedySelector(t *testing.T) {
	t.Parallel()

	sel := NewSelector(SamplerConfig{})
	if _, ok := sel.(Greedy); !ok {
		t.Fatalf("zero config should select Greedy, got %T", sel)
	}
	if _, ok := NewSelector(SamplerConfig{Temperature: 0.7}).(*Sampler); !ok {
		t.Fatalf("non-zero temperature should select a Sampler")
	}

	// Ties resolve to the lowest id.
	if got := sel.Select([]float32{1, 4, 4, 2}, nil); got != 1 {
		t.Fatalf("tie: got %d, want 1", got)
	}
	nan := float32(math.NaN())
	if got := sel.Select([]float32{nan, 0.5, nan, 0.25}, nil); got != 1 {
		t.Fatalf("NaN: got %d, want 1", got)
	}
	if got := sel.Select([]float32{nan, nan}, nil); got != 0 {
		t.Fatalf("all NaN: got %d, want 0", got)
	}
}

func TestSamplerRepeatPenalty(t *testing.T) {
	t.Parallel()

	s := NewSampler(SamplerConfig{Temperature: 0, RepeatPenalty: 100, RepeatLastN: 4})
	logs := []float32{1, 0.9, 0}
	if got := s.Select(logs, []int{0}); got != 1 {
		t.Fatalf("penalised token should lose: got %d", got)
	}
}

func TestSamplerLeavesLogitsUntouched(t *testing.T) {
	t.Parallel()

	logs := []float32{3, -2, 1, 0.5}
	orig := slices.Clone(logs)
	s := NewSampler(SamplerConfig{Seed: 1, Temperature: 0.8, RepeatPenalty: 1.5})
	for range 4 {
		s.Select(logs, []int{0, 1, 0, 2})
	}
	if !slices.Equal(logs, orig) {
		t.Fatalf("logits modified: got %v, want %v", logs, orig)
	}
}

func TestSamplerMinP(t *testing.T) {
	t.Parallel()

	// p(1)/p(0) = e^-4, well below min-p 0.1, so only index 0 survives.
	logs := []float32{4, 0, -1, -2}
	s := NewSampler(SamplerConfig{Seed: 3, Temperature: 1, TopK: 4, MinP: 0.1})
	for i := 0; i < 20; i++ {
		if idx := s.Select(logs, nil); idx != 0 {
			t.Fatalf("min-p sampling returned %d", idx)
		}
	}
}

func TestSamplerShortlistOrder(t *testing.T) {
	t.Parallel()

	nan := float32(math.NaN())
	s := NewSampler(SamplerConfig{TopK: 3})
	c := s.shortlistTopK([]float32{1, nan, 5, 3, 5, -1}, 3)
	var ids []int
	for _, e := range c {
		ids = append(ids, e.id)
	}
	if !slices.Equal(ids, []int{2, 4, 3}) {
		t.Fatalf("shortlist ids = %v, want [2 4 3]", ids)
	}
}

func TestSamplerStaysInShortlist(t *testing.T) {
	t.Parallel()

	logs := []float32{0, 9, 0, 8, 0, 7}
	s := NewSampler(SamplerConfig{Seed: 11, Temperature: 2, TopK: 2})
	for i := 0; i < 50; i++ {
		if idx := s.Select(logs, nil); idx != 1 && idx != 3 {
			t.Fatalf("step %d: index %d outside top-2", i, idx)
		}
	}
}
