package model

import (
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/samcharles93/starvec/internal/safetensors"
)

// Tensors exports every parameter at the model precision.
func (m *Model) Tensors() []safetensors.Tensor {
	ps := m.params()
	out := make([]safetensors.Tensor, 0, len(ps))
	for _, prm := range ps {
		mat := prm.Mat
		p := mat.DType
		data := make([]byte, mat.R*mat.C*p.Size())
		row := make([]float32, mat.C)
		stride := mat.C * p.Size()
		for r := 0; r < mat.R; r++ {
			mat.RowTo(row, r)
			p.Encode(data[r*stride:(r+1)*stride], row)
		}
		out = append(out, safetensors.Tensor{Name: prm.Name, DType: p, Shape: []int{mat.R, mat.C}, Data: data})
	}
	return out
}

// Save writes config.json and model.safetensors into dir, creating it when
// needed. The result loads back with Load.
func (m *Model) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	cfg := m.cfg
	cfg.TorchDType = m.precision.String()
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), raw, 0o644); err != nil {
		return err
	}
	meta := map[string]string{"format": "pt", "task": string(m.task)}
	return safetensors.WriteFile(filepath.Join(dir, WeightsFile), m.Tensors(), meta)
}
