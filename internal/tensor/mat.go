package tensor

import (
	"math"
	"math/rand"

	"github.com/samcharles93/starvec/internal/precision"
)

// Mat represents a dense row‑major matrix.
//
// R and C represent the number of rows and columns respectively.  Stride is the
// number of elements between the starts of two consecutive rows (for row‑major
// matrices this is equal to C).
//
// Mat does not perform any memory safety beyond the checks performed by Go's
// slice types; out‑of‑range indices will panic.
type Mat struct {
	R, C   int
	Stride int

	// DType is the storage precision. fp32 matrices keep Data populated for
	// fast access. fp16/bf16 matrices keep Raw and decode inline in MatVec and
	// RowTo, so every stored value is exactly representable in DType.
	DType precision.Precision
	Data  []float32
	Raw   []byte
}

// NewMat allocates a new fp32 matrix with the given number of rows and
// columns. The underlying slice is zero initialised.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		DType:  precision.FP32,
		Data:   make([]float32, r*c),
	}
}

// NewMatAt allocates a zeroed matrix stored at precision p.
func NewMatAt(r, c int, p precision.Precision) Mat {
	if p == precision.FP32 {
		return NewMat(r, c)
	}
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		DType:  p,
		Raw:    make([]byte, r*c*p.Size()),
	}
}

// NewMatFromData creates an fp32 matrix from existing data.
// It checks that the data length matches r*c.
func NewMatFromData(r, c int, data []float32) Mat {
	if r*c != len(data) {
		panic("data length mismatch")
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		DType:  precision.FP32,
		Data:   data,
	}
}

// NewMatFromRaw creates a matrix backed by raw little-endian bytes in the
// provided precision. The raw slice must contain exactly r*c elements in
// row-major layout. fp32 input is decoded into Data.
func NewMatFromRaw(r, c int, p precision.Precision, raw []byte) (Mat, error) {
	if r < 0 || c < 0 {
		return Mat{}, errNegativeDim
	}
	elemSize := p.Size()
	if elemSize == 0 {
		return Mat{}, errUnsupportedDType
	}
	want := r * c
	if r != 0 && want/r != c {
		return Mat{}, errMatTooLarge
	}
	wantBytes := want * elemSize
	if want != 0 && wantBytes/want != elemSize {
		return Mat{}, errMatTooLarge
	}
	if len(raw) != wantBytes {
		return Mat{}, errRawSizeMismatch
	}
	if p == precision.FP32 {
		data := make([]float32, want)
		p.Decode(data, raw)
		return NewMatFromData(r, c, data), nil
	}
	return Mat{
		R:      r,
		C:      c,
		Stride: c,
		DType:  p,
		Raw:    raw,
	}, nil
}

// Precision reports the storage precision.
func (m *Mat) Precision() precision.Precision { return m.DType }

// Row returns the i‑th row of the matrix. For fp32 matrices the slice is a
// view and modifications update the matrix; for 16-bit matrices it is a
// decoded copy.
func (m *Mat) Row(i int) []float32 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	if m.DType == precision.FP32 {
		start := i * m.Stride
		return m.Data[start : start+m.C]
	}
	row := make([]float32, m.C)
	m.RowTo(row, i)
	return row
}

// RowTo decodes the i-th row into dst. dst must have length >= C.
func (m *Mat) RowTo(dst []float32, i int) {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	if len(dst) < m.C {
		panic("row buffer too small")
	}
	start := i * m.Stride
	switch m.DType {
	case precision.FP32:
		copy(dst[:m.C], m.Data[start:start+m.C])
	case precision.BF16:
		off := start * 2
		for j := 0; j < m.C; j++ {
			dst[j] = bf16Table[u16le(m.Raw, off+j*2)]
		}
	case precision.FP16:
		off := start * 2
		for j := 0; j < m.C; j++ {
			dst[j] = fp16Table[u16le(m.Raw, off+j*2)]
		}
	default:
		panic("unsupported dtype for row decode")
	}
}

// SetRow stores src as row i, rounding through the matrix precision.
func (m *Mat) SetRow(i int, src []float32) {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	if len(src) < m.C {
		panic("row source too small")
	}
	start := i * m.Stride
	if m.DType == precision.FP32 {
		copy(m.Data[start:start+m.C], src[:m.C])
		return
	}
	sz := m.DType.Size()
	m.DType.Encode(m.Raw[start*sz:(start+m.C)*sz], src[:m.C])
}

// Cast returns a copy of m stored at precision p. Casting to the current
// precision still copies, so the result never aliases m.
func (m *Mat) Cast(p precision.Precision) Mat {
	out := NewMatAt(m.R, m.C, p)
	if m.DType == precision.FP32 && p == precision.FP32 {
		for i := 0; i < m.R; i++ {
			copy(out.Data[i*out.Stride:i*out.Stride+m.C], m.Data[i*m.Stride:i*m.Stride+m.C])
		}
		return out
	}
	row := make([]float32, m.C)
	for i := 0; i < m.R; i++ {
		m.RowTo(row, i)
		out.SetRow(i, row)
	}
	return out
}

// Bytes returns the storage size of m.
func (m *Mat) Bytes() int {
	return m.R * m.C * m.DType.Size()
}

// FillRand fills the matrix with reproducible pseudo‑random values.  A small
// range around zero is used to avoid overflow in accumulations.  The seed
// controls the random sequence; multiple calls with the same seed produce
// identical matrices.
func FillRand(m *Mat, seed int64) {
	if m.DType != precision.FP32 {
		panic("FillRand only supports f32 mats")
	}
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		m.Data[i] = (rng.Float32() - 0.5) * 0.02 // roughly in (-0.01,0.01)
	}
}

// FillGlorot fills an fp32 weight of shape [out, in] with Xavier-uniform
// values in (-a, a), a = sqrt(6/(in+out)).
func FillGlorot(m *Mat, seed int64) {
	if m.DType != precision.FP32 {
		panic("FillGlorot only supports f32 mats")
	}
	if m.R+m.C == 0 {
		return
	}
	a := float32(math.Sqrt(6 / float64(m.R+m.C)))
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		m.Data[i] = (rng.Float32()*2 - 1) * a
	}
}

// Fill sets every element of an fp32 matrix to v.
func Fill(m *Mat, v float32) {
	if m.DType != precision.FP32 {
		panic("Fill only supports f32 mats")
	}
	for i := range m.Data {
		m.Data[i] = v
	}
}

var (
	errNegativeDim      = fmtError("negative dimension for matrix")
	errUnsupportedDType = fmtError("unsupported dtype for raw matrix")
	errMatTooLarge      = fmtError("matrix too large")
	errRawSizeMismatch  = fmtError("raw data length mismatch")
)

type fmtError string

func (e fmtError) Error() string { return string(e) }
