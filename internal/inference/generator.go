// Package inference runs the autoregressive decoding loop over a primed
// decoder session.
package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/samcharles93/starvec/internal/logger"
	"github.com/samcharles93/starvec/internal/logits"
	"github.com/samcharles93/starvec/internal/tensor"
)

// Session is the per-call decoder state the loop drives.
type Session interface {
	Width() int
	Capacity() int
	Pos() int
	Embed(id int, dst []float32) error
	Forward(emb []float32) ([]float32, error)
}

// Generator decodes from a prefix until EOS or MaxLength tokens.
type Generator struct {
	Session  Session
	Selector logits.Selector
	// EOS is the end-of-sequence id. A negative value disables EOS stopping.
	EOS       int
	MaxLength int
	// OnToken, when set, is called synchronously with every generated id.
	OnToken func(id int)
}

// Run prefills prefix and decodes. The context only carries the logger; the
// loop itself is not cancellable.
func (g *Generator) Run(ctx context.Context, prefix tensor.Mat) (*Result, error) {
	if g.MaxLength < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidMaxLength, g.MaxLength)
	}
	s := g.Session
	if err := tensor.CheckWidth("inference.Run", s.Width(), prefix.C); err != nil {
		return nil, err
	}
	if prefix.R == 0 {
		return nil, fmt.Errorf("inference: empty prefix")
	}
	if prefix.R > s.Capacity()-s.Pos() {
		return nil, fmt.Errorf("%w: %d rows, %d positions left", ErrPrefixTooLong, prefix.R, s.Capacity()-s.Pos())
	}
	sel := g.Selector
	if sel == nil {
		sel = logits.Greedy{}
	}

	start := time.Now()
	row := make([]float32, prefix.C)
	var vec []float32
	for i := 0; i < prefix.R; i++ {
		prefix.RowTo(row, i)
		var err error
		if vec, err = safeForward(s, row); err != nil {
			return nil, fmt.Errorf("prefill row %d: %w", i, err)
		}
	}

	res := &Result{State: StatePrimed, Tokens: make([]int, 0, min(g.MaxLength, 1024))}
	genStart := time.Now()
	res.State = StateDecoding
	for res.StopReason == StopNone {
		id := sel.Select(vec, res.Tokens)
		if g.EOS >= 0 && id == g.EOS {
			res.StopReason = StopEOS
			break
		}
		res.Tokens = append(res.Tokens, id)
		res.Stats.Steps++
		if g.OnToken != nil {
			g.OnToken(id)
		}

		switch {
		case res.Stats.Steps >= g.MaxLength:
			res.StopReason = StopMaxLength
		case s.Pos() >= s.Capacity():
			res.StopReason = StopCapacity
		default:
			if err := s.Embed(id, row); err != nil {
				return nil, fmt.Errorf("step %d: %w", res.Stats.Steps, err)
			}
			var err error
			if vec, err = safeForward(s, row); err != nil {
				return nil, fmt.Errorf("step %d: %w", res.Stats.Steps, err)
			}
		}
	}
	res.State = StateDone

	res.Stats.Duration = time.Since(genStart)
	if sec := res.Stats.Duration.Seconds(); sec > 0 {
		res.Stats.TPS = float64(res.Stats.Steps) / sec
	}
	logger.FromContext(ctx).Debug("generation finished",
		"stop", res.StopReason.String(),
		"prefix", prefix.R,
		"steps", res.Stats.Steps,
		"tps", fmt.Sprintf("%.2f", res.Stats.TPS),
		"elapsed", time.Since(start).String(),
	)
	return res, nil
}

func safeForward(s Session, emb []float32) (vec []float32, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Forward: %v", rec)
		}
	}()
	return s.Forward(emb)
}
