package backend

import (
	"errors"
	"testing"

	"github.com/samcharles93/starvec/internal/precision"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{"": Auto, " CPU ": CPU, "cuda": CUDA, "auto": Auto} {
		got, err := Normalize(in)
		if err != nil || got != want {
			t.Fatalf("Normalize(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := Normalize("tpu"); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	got, err := Resolve("auto")
	if err != nil || got != CPU {
		t.Fatalf("Resolve(auto) = %q, %v", got, err)
	}
	if _, err := Resolve("cuda"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Resolve(cuda) err = %v", err)
	}
	if Available() != CPU {
		t.Fatalf("Available() = %q", Available())
	}
}

func TestDefaultPrecision(t *testing.T) {
	t.Parallel()

	if DefaultPrecision(CPU) != precision.FP32 {
		t.Fatalf("cpu default should be fp32")
	}
	if DefaultPrecision(CUDA) != precision.FP16 {
		t.Fatalf("cuda default should be fp16")
	}
}
