// Package precision resolves floating-point precision specs into a single
// canonical value and converts values between the supported encodings.
package precision

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/x448/float16"
)

// Precision is the storage representation of a tensor's values.
type Precision uint8

const (
	Invalid Precision = iota
	FP32
	FP16
	BF16
)

// ErrUnsupportedPrecision is matched by every *UnsupportedPrecisionError.
var ErrUnsupportedPrecision = errors.New("unsupported precision")

// UnsupportedPrecisionError reports a spec that names no supported representation.
type UnsupportedPrecisionError struct {
	Spec any
}

func (e *UnsupportedPrecisionError) Error() string {
	return fmt.Sprintf("unsupported precision %v (%T): want one of float32, float16, bfloat16", e.Spec, e.Spec)
}

func (e *UnsupportedPrecisionError) Is(target error) bool {
	return target == ErrUnsupportedPrecision
}

var names = map[string]Precision{
	"float32":  FP32,
	"fp32":     FP32,
	"f32":      FP32,
	"float":    FP32,
	"float16":  FP16,
	"fp16":     FP16,
	"f16":      FP16,
	"half":     FP16,
	"bfloat16": BF16,
	"bf16":     BF16,
}

var (
	typeFloat32  = reflect.TypeOf(float32(0))
	typeFloat16  = reflect.TypeOf(float16.Float16(0))
	typeBFloat16 = reflect.TypeOf(bfloat16.BFloat16(0))
)

// Normalize resolves spec to a Precision. spec may be a name ("float16",
// "torch.bfloat16", "fp32"), a dtypes.DType, a reflect.Type, a zero value of
// float32/float16.Float16/bfloat16.BFloat16, or a Precision.
func Normalize(spec any) (Precision, error) {
	switch v := spec.(type) {
	case Precision:
		if v.Valid() {
			return v, nil
		}
	case string:
		name := strings.ToLower(strings.TrimSpace(v))
		name = strings.TrimPrefix(name, "torch.")
		if p, ok := names[name]; ok {
			return p, nil
		}
	case dtypes.DType:
		if p, ok := fromDType(v); ok {
			return p, nil
		}
	case reflect.Type:
		if v != nil {
			if p, ok := fromType(v); ok {
				return p, nil
			}
		}
	case float32, float16.Float16, bfloat16.BFloat16:
		p, _ := fromType(reflect.TypeOf(v))
		return p, nil
	}
	return Invalid, &UnsupportedPrecisionError{Spec: spec}
}

// MustNormalize is like Normalize but panics on error. Intended for constants.
func MustNormalize(spec any) Precision {
	p, err := Normalize(spec)
	if err != nil {
		panic(err)
	}
	return p
}

func fromType(t reflect.Type) (Precision, bool) {
	switch t {
	case typeFloat32:
		return FP32, true
	case typeFloat16:
		return FP16, true
	case typeBFloat16:
		return BF16, true
	}
	return fromDType(dtypes.FromGoType(t))
}

func fromDType(dt dtypes.DType) (Precision, bool) {
	switch dt {
	case dtypes.Float32:
		return FP32, true
	case dtypes.Float16:
		return FP16, true
	case dtypes.BFloat16:
		return BF16, true
	}
	return Invalid, false
}

// Valid reports whether p is one of the supported representations.
func (p Precision) Valid() bool {
	return p == FP32 || p == FP16 || p == BF16
}

// DType returns the equivalent dtypes.DType.
func (p Precision) DType() dtypes.DType {
	switch p {
	case FP32:
		return dtypes.Float32
	case FP16:
		return dtypes.Float16
	case BF16:
		return dtypes.BFloat16
	}
	return dtypes.InvalidDType
}

// Size is the number of bytes per element.
func (p Precision) Size() int {
	switch p {
	case FP32:
		return 4
	case FP16, BF16:
		return 2
	}
	return 0
}

func (p Precision) String() string {
	switch p {
	case FP32:
		return "float32"
	case FP16:
		return "float16"
	case BF16:
		return "bfloat16"
	}
	return "invalid"
}

// MarshalText lets Precision appear in JSON and YAML as its name.
func (p Precision) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, &UnsupportedPrecisionError{Spec: p}
	}
	return []byte(p.String()), nil
}

func (p *Precision) UnmarshalText(b []byte) error {
	v, err := Normalize(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Round returns x quantized through p's representation.
func (p Precision) Round(x float32) float32 {
	switch p {
	case FP16:
		return float16.Fromfloat32(x).Float32()
	case BF16:
		return bfloat16.FromFloat32(x).Float32()
	}
	return x
}

// RoundSlice quantizes xs in place.
func (p Precision) RoundSlice(xs []float32) {
	if p == FP32 {
		return
	}
	for i, x := range xs {
		xs[i] = p.Round(x)
	}
}

// Encode writes src to dst as little-endian elements of p.
// dst must hold len(src)*p.Size() bytes.
func (p Precision) Encode(dst []byte, src []float32) {
	switch p {
	case FP32:
		for i, x := range src {
			binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(x))
		}
	case FP16:
		for i, x := range src {
			binary.LittleEndian.PutUint16(dst[i*2:], float16.Fromfloat32(x).Bits())
		}
	case BF16:
		for i, x := range src {
			binary.LittleEndian.PutUint16(dst[i*2:], uint16(bfloat16.FromFloat32(x)))
		}
	default:
		panic("precision: encode with invalid precision")
	}
}

// Decode reads len(dst) little-endian elements of p from src.
func (p Precision) Decode(dst []float32, src []byte) {
	switch p {
	case FP32:
		for i := range dst {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
		}
	case FP16:
		for i := range dst {
			dst[i] = float16.Frombits(binary.LittleEndian.Uint16(src[i*2:])).Float32()
		}
	case BF16:
		for i := range dst {
			dst[i] = bfloat16.BFloat16(binary.LittleEndian.Uint16(src[i*2:])).Float32()
		}
	default:
		panic("precision: decode with invalid precision")
	}
}

// FromSafetensors maps a safetensors dtype tag ("F32", "F16", "BF16").
func FromSafetensors(tag string) (Precision, error) {
	switch tag {
	case "F32":
		return FP32, nil
	case "F16":
		return FP16, nil
	case "BF16":
		return BF16, nil
	}
	return Invalid, &UnsupportedPrecisionError{Spec: tag}
}

// Safetensors returns the safetensors dtype tag for p.
func (p Precision) Safetensors() string {
	switch p {
	case FP32:
		return "F32"
	case FP16:
		return "F16"
	case BF16:
		return "BF16"
	}
	return ""
}
