package model

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/samcharles93/starvec/internal/adapter"
	"github.com/samcharles93/starvec/internal/decoder"
	"github.com/samcharles93/starvec/internal/vision"
)

// Config is the checkpoint configuration read from config.json.
type Config struct {
	ImageEncoderType   string `json:"image_encoder_type"`
	AdapterNorm        string `json:"adapter_norm"`
	MaxLengthTrain     int    `json:"max_length_train"`
	MaxLength          int    `json:"max_length"`
	StarcoderModelName string `json:"starcoder_model_name"`
	TorchDType         string `json:"torch_dtype"`

	Vision  vision.Config  `json:"vision"`
	Decoder decoder.Config `json:"decoder"`

	SVGStartTokenID int `json:"svg_start_token_id"`
	EOSTokenID      int `json:"eos_token_id"`
	PadTokenID      int `json:"pad_token_id"`
	RasterSize      int `json:"raster_size"`
}

// flatDecoderConfig holds the GPTBigCode keys checkpoints often keep at the
// top level instead of under "decoder".
type flatDecoderConfig struct {
	VocabSize        int            `json:"vocab_size"`
	NEmbd            int            `json:"n_embd"`
	NLayer           int            `json:"n_layer"`
	NHead            int            `json:"n_head"`
	NPositions       int            `json:"n_positions"`
	LayerNormEpsilon float32        `json:"layer_norm_epsilon"`
	VisionConfig     *vision.Config `json:"vision_config"`
}

// ParseConfig decodes config.json and fills defaults.
func ParseConfig(raw []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("model: parse config: %w", err)
	}
	var flat flatDecoderConfig
	if err := json.Unmarshal(raw, &flat); err != nil {
		return Config{}, fmt.Errorf("model: parse config: %w", err)
	}
	mergeFlatConfig(&cfg, flat)
	cfg.applyDefaults()
	return cfg, nil
}

// LoadConfig reads and parses a config.json file.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(raw)
}

// mergeFlatConfig only fills fields the nested objects left unset.
func mergeFlatConfig(dst *Config, flat flatDecoderConfig) {
	d := &dst.Decoder
	if d.VocabSize == 0 && flat.VocabSize > 0 {
		d.VocabSize = flat.VocabSize
	}
	if d.HiddenSize == 0 && flat.NEmbd > 0 {
		d.HiddenSize = flat.NEmbd
	}
	if d.NumLayers == 0 && flat.NLayer > 0 {
		d.NumLayers = flat.NLayer
	}
	if d.NumHeads == 0 && flat.NHead > 0 {
		d.NumHeads = flat.NHead
	}
	if d.NPositions == 0 && flat.NPositions > 0 {
		d.NPositions = flat.NPositions
	}
	if d.LayerNormEps == 0 && flat.LayerNormEpsilon > 0 {
		d.LayerNormEps = flat.LayerNormEpsilon
	}
	if dst.Vision.HiddenSize == 0 && flat.VisionConfig != nil {
		dst.Vision = *flat.VisionConfig
	}
}

func (c *Config) applyDefaults() {
	if c.ImageEncoderType == "" {
		c.ImageEncoderType = "clip"
	}
	if c.AdapterNorm == "" {
		c.AdapterNorm = string(adapter.LayerNorm)
	}
	if c.TorchDType == "" {
		c.TorchDType = "float32"
	}
	if c.MaxLengthTrain <= 0 {
		c.MaxLengthTrain = c.Decoder.NPositions
	}
	if c.MaxLength <= 0 {
		c.MaxLength = c.MaxLengthTrain
	}
	if c.RasterSize <= 0 {
		c.RasterSize = 256
	}
}

// Validate checks the fields construction depends on. Sub-configs validate
// themselves when their modules are built.
func (c Config) Validate() error {
	if _, err := adapter.ParseNorm(c.AdapterNorm); err != nil {
		return err
	}
	v := c.Decoder.VocabSize
	if id := c.SVGStartTokenID; id < 0 || (v > 0 && id >= v) {
		return fmt.Errorf("model: svg_start_token_id %d out of range [0,%d)", id, v)
	}
	if id := c.EOSTokenID; id >= v && v > 0 {
		return fmt.Errorf("model: eos_token_id %d out of range [0,%d)", id, v)
	}
	return nil
}

// TinyConfig is a small randomly initialised configuration for tests and
// smoke runs without a checkpoint.
func TinyConfig() Config {
	cfg := Config{
		ImageEncoderType:   "clip",
		AdapterNorm:        string(adapter.LayerNorm),
		MaxLengthTrain:     48,
		MaxLength:          24,
		StarcoderModelName: "tiny",
		TorchDType:         "float32",
		Vision: vision.Config{
			ImageSize: 8, PatchSize: 4, HiddenSize: 4, NumLayers: 1, NumHeads: 2, IntermediateSize: 8,
		},
		Decoder: decoder.Config{
			VocabSize: 300, HiddenSize: 8, NumLayers: 1, NumHeads: 2, NPositions: 64,
		},
		SVGStartTokenID: 256,
		EOSTokenID:      257,
		PadTokenID:      258,
	}
	cfg.applyDefaults()
	return cfg
}

// SmallConfig is a byte-vocabulary geometry large enough to produce
// plausible-length output from random weights, for benchmarking the CPU
// path.
func SmallConfig() Config {
	cfg := Config{
		ImageEncoderType:   "clip",
		AdapterNorm:        string(adapter.LayerNorm),
		MaxLengthTrain:     1024,
		MaxLength:          512,
		StarcoderModelName: "small",
		TorchDType:         "float32",
		Vision: vision.Config{
			ImageSize: 64, PatchSize: 8, HiddenSize: 64, NumLayers: 2, NumHeads: 4, IntermediateSize: 256,
		},
		Decoder: decoder.Config{
			VocabSize: 300, HiddenSize: 128, NumLayers: 4, NumHeads: 4, NPositions: 1024,
		},
		SVGStartTokenID: 256,
		EOSTokenID:      257,
		PadTokenID:      258,
	}
	cfg.applyDefaults()
	return cfg
}
