package model

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/samcharles93/starvec/internal/logger"
	"github.com/samcharles93/starvec/internal/safetensors"
	"github.com/samcharles93/starvec/internal/tokenizer"
)

// Checkpoint file names inside a model directory.
const (
	ConfigFile          = "config.json"
	WeightsFile         = "model.safetensors"
	TokenizerFile       = "tokenizer.json"
	TokenizerConfigFile = "tokenizer_config.json"
)

// Load builds a model from a checkpoint directory. Only config.json is
// required: without weights the parameters are randomly initialised and
// without tokenizer.json a byte-level tokenizer is used.
func Load(ctx context.Context, dir string, task Task, precisionSpec any, opts ...Option) (*Model, error) {
	log := logger.FromContext(ctx).With("model_dir", dir)

	cfg, err := LoadConfig(filepath.Join(dir, ConfigFile))
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", ConfigFile)
	}

	all := []Option{WithLogger(log)}
	if tok, err := loadTokenizer(dir); err != nil {
		return nil, err
	} else if tok != nil {
		all = append(all, WithTokenizer(tok))
	} else {
		log.Warn("no tokenizer.json, decoding bytes")
	}

	wpath := filepath.Join(dir, WeightsFile)
	if _, err := os.Stat(wpath); err == nil {
		st, err := safetensors.Open(wpath)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s", WeightsFile)
		}
		// Parameters are copied out of the mapping during New.
		defer st.Close()
		all = append(all, WithWeights(st))
		log.Debug("loading weights", "tensors", len(st.Tensors))
	} else if os.IsNotExist(err) {
		log.Warn("no model.safetensors, using random weights")
	} else {
		return nil, errors.Wrapf(err, "stat %s", WeightsFile)
	}

	return New(cfg, task, precisionSpec, append(all, opts...)...)
}

func loadTokenizer(dir string) (tokenizer.Tokenizer, error) {
	path := filepath.Join(dir, TokenizerFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	tok, err := tokenizer.LoadHFTokenizer(path, filepath.Join(dir, TokenizerConfigFile))
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", TokenizerFile)
	}
	return tok, nil
}
