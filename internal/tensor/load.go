package tensor

import (
	"fmt"

	"github.com/samcharles93/starvec/internal/safetensors"
)

// LoadSafetensorsMat loads a tensor as an r x c matrix at its stored
// precision. Tensors of any rank are accepted as long as the element count
// matches, so conv kernels [out, ch, kh, kw] load as [out, ch*kh*kw] and
// vectors load as [1, n].
func LoadSafetensorsMat(st *safetensors.File, name string, r, c int) (Mat, error) {
	raw, info, err := st.ReadTensor(name)
	if err != nil {
		return Mat{}, err
	}
	p, err := info.Precision()
	if err != nil {
		return Mat{}, fmt.Errorf("%s: %w", name, err)
	}
	n := 1
	for _, d := range info.Shape {
		n *= d
	}
	if n != r*c {
		return Mat{}, fmt.Errorf("%s: shape %v does not fit [%d %d]: %w", name, info.Shape, r, c, ErrShapeMismatch)
	}
	m, err := NewMatFromRaw(r, c, p, raw)
	if err != nil {
		return Mat{}, fmt.Errorf("%s: %w", name, err)
	}
	return m, nil
}

// LoadParams fills every parameter from st using its name, keeping each
// parameter's shape. Missing tensors are reported together.
func LoadParams(st *safetensors.File, params []Param) error {
	var missing []string
	for _, prm := range params {
		if _, ok := st.Tensor(prm.Name); !ok {
			missing = append(missing, prm.Name)
			continue
		}
		m, err := LoadSafetensorsMat(st, prm.Name, prm.Mat.R, prm.Mat.C)
		if err != nil {
			return err
		}
		*prm.Mat = m
	}
	if len(missing) > 0 {
		return fmt.Errorf("checkpoint is missing %d tensors (first: %s)", len(missing), missing[0])
	}
	return nil
}
