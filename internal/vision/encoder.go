// Package vision turns images into per-patch feature sequences.
package vision

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/samcharles93/starvec/internal/tensor"
)

// ErrUnknownEncoder is returned by New for an unregistered encoder type.
var ErrUnknownEncoder = errors.New("unknown image encoder type")

// Config describes a vision backbone.
type Config struct {
	ImageSize        int     `json:"image_size" yaml:"image_size"`
	PatchSize        int     `json:"patch_size" yaml:"patch_size"`
	HiddenSize       int     `json:"hidden_size" yaml:"hidden_size"`
	NumLayers        int     `json:"num_layers" yaml:"num_layers"`
	NumHeads         int     `json:"num_heads" yaml:"num_heads"`
	IntermediateSize int     `json:"intermediate_size" yaml:"intermediate_size"`
	LayerNormEps     float32 `json:"layer_norm_eps" yaml:"layer_norm_eps"`
}

// Validate checks the geometry is usable.
func (c Config) Validate() error {
	switch {
	case c.ImageSize <= 0 || c.PatchSize <= 0:
		return fmt.Errorf("vision: image_size and patch_size must be positive")
	case c.ImageSize%c.PatchSize != 0:
		return fmt.Errorf("vision: image_size %d not divisible by patch_size %d", c.ImageSize, c.PatchSize)
	case c.HiddenSize <= 0 || c.NumHeads <= 0 || c.HiddenSize%c.NumHeads != 0:
		return fmt.Errorf("vision: hidden_size %d must be a positive multiple of num_heads %d", c.HiddenSize, c.NumHeads)
	case c.NumLayers < 0 || c.IntermediateSize <= 0:
		return fmt.Errorf("vision: invalid layer geometry")
	}
	return nil
}

// Patches is the number of patches per image.
func (c Config) Patches() int {
	g := c.ImageSize / c.PatchSize
	return g * g
}

// Encoder produces one feature row per output position of an image.
type Encoder interface {
	// Kind is the registered image_encoder_type.
	Kind() string
	// HiddenSize is the width of each feature row.
	HiddenSize() int
	// SeqLen is the number of feature rows per image.
	SeqLen() int
	// Processor returns the preprocessing this backbone expects.
	Processor() *Processor
	// Encode runs the backbone. The result is stored at the parameter
	// precision.
	Encode(img Image) (tensor.Mat, error)
	// Params lists every parameter matrix under its checkpoint name.
	Params() []tensor.Param
}

// Factory builds an encoder with freshly initialised fp32 parameters.
type Factory func(cfg Config, seed int64) (Encoder, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes an encoder type available to New. It panics on duplicates.
func Register(kind string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[kind]; dup {
		panic("vision: duplicate encoder " + kind)
	}
	registry[kind] = f
}

// New builds the encoder registered under kind.
func New(kind string, cfg Config, seed int64) (Encoder, error) {
	registryMu.RLock()
	f, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q (known: %v)", ErrUnknownEncoder, kind, Kinds())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return f(cfg, seed)
}

// Kinds lists registered encoder types.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}
