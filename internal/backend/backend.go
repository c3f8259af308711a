// Package backend resolves the compute device a model runs on.
package backend

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samcharles93/starvec/internal/precision"
)

const (
	CPU  = "cpu"
	CUDA = "cuda"
	Auto = "auto"
)

// ErrUnavailable is returned when a known device is not compiled in.
var ErrUnavailable = errors.New("backend not available in this build")

func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case CPU, CUDA, Auto:
		return backend, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected auto, cpu, or cuda)", backend)
	}
}

// Resolve turns a requested device into one this build can run. Auto
// prefers an accelerator when one is available.
func Resolve(name string) (string, error) {
	b, err := Normalize(name)
	if err != nil {
		return "", err
	}
	switch b {
	case Auto:
		if Has(CUDA) {
			return CUDA, nil
		}
		return CPU, nil
	case CUDA:
		if !Has(CUDA) {
			return "", fmt.Errorf("%s: %w", CUDA, ErrUnavailable)
		}
	}
	return b, nil
}

// DefaultPrecision is half precision on an accelerator and fp32 on CPU.
func DefaultPrecision(device string) precision.Precision {
	if device == CUDA {
		return precision.FP16
	}
	return precision.FP32
}
