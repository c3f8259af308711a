package model

import (
	"github.com/samcharles93/starvec/internal/tensor"
)

// Assemble concatenates the image rows, the start row and optional target
// rows into one decoder prefix stored at the precision of imageEmbeds.
func (m *Model) Assemble(imageEmbeds tensor.Mat, start []float32, targets *tensor.Mat) (tensor.Mat, error) {
	width := m.decoder.Width()
	if err := tensor.CheckWidth("model.Assemble", width, imageEmbeds.C); err != nil {
		return tensor.Mat{}, err
	}
	if err := tensor.CheckWidth("model.Assemble", width, len(start)); err != nil {
		return tensor.Mat{}, err
	}
	rows := imageEmbeds.R + 1
	if targets != nil {
		if err := tensor.CheckWidth("model.Assemble", width, targets.C); err != nil {
			return tensor.Mat{}, err
		}
		rows += targets.R
	}

	out := tensor.NewMatAt(rows, width, imageEmbeds.DType)
	row := make([]float32, width)
	r := 0
	for i := 0; i < imageEmbeds.R; i++ {
		imageEmbeds.RowTo(row, i)
		out.SetRow(r, row)
		r++
	}
	out.SetRow(r, start)
	r++
	if targets != nil {
		for i := 0; i < targets.R; i++ {
			targets.RowTo(row, i)
			out.SetRow(r, row)
			r++
		}
	}
	return out, nil
}

// StartEmbedding returns the embedding of the SVG start token.
func (m *Model) StartEmbedding() ([]float32, error) {
	row := make([]float32, m.decoder.Width())
	if err := m.decoder.Embed(m.cfg.SVGStartTokenID, row); err != nil {
		return nil, err
	}
	return row, nil
}

// EmbedTargets embeds target token ids for a teacher-forced prefix. Ids are
// truncated so image rows, start row and targets fit max_length_train.
func (m *Model) EmbedTargets(ids []int) (tensor.Mat, error) {
	room := max(m.cfg.MaxLengthTrain-m.QueryLength()-1, 0)
	if len(ids) > room {
		ids = ids[:room]
	}
	return m.decoder.EmbedTokens(ids)
}
