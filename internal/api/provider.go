package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/samcharles93/starvec/internal/logger"
	"github.com/samcharles93/starvec/internal/model"
)

// ModelProvider hands out loaded models by id. An empty id selects the
// default model.
type ModelProvider interface {
	WithModel(ctx context.Context, modelID string, fn func(id string, m *model.Model) error) error
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// Loader builds a model from a checkpoint directory.
type Loader func(ctx context.Context, dir string) (*model.Model, error)

type ProviderConfig struct {
	DefaultModelPath string
	ModelsPath       string
	Task             model.Task
	Precision        string
	// Loader overrides model.Load.
	Loader Loader
}

// CachedModelProvider loads each checkpoint directory once and keeps it for
// the life of the process. Models are safe for concurrent generation, so
// callers are not serialized.
type CachedModelProvider struct {
	cfg   ProviderConfig
	mu    sync.Mutex
	cache map[string]*model.Model
	loads singleflight.Group
}

const envModelsDir = "STARVEC_MODELS_DIR"

func NewCachedModelProvider(cfg ProviderConfig) *CachedModelProvider {
	if cfg.Loader == nil {
		task, spec := cfg.Task, cfg.Precision
		cfg.Loader = func(ctx context.Context, dir string) (*model.Model, error) {
			return model.Load(ctx, dir, task, spec)
		}
	}
	return &CachedModelProvider{
		cfg:   cfg,
		cache: make(map[string]*model.Model),
	}
}

func (p *CachedModelProvider) WithModel(ctx context.Context, modelID string, fn func(id string, m *model.Model) error) error {
	path, err := p.resolveModelPath(modelID)
	if err != nil {
		return err
	}
	m, err := p.getOrLoad(ctx, path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(filepath.Base(path), m)
}

func (p *CachedModelProvider) getOrLoad(ctx context.Context, path string) (*model.Model, error) {
	p.mu.Lock()
	m, ok := p.cache[path]
	p.mu.Unlock()
	if ok {
		return m, nil
	}

	// The load outlives any single caller that joins it.
	v, err, _ := p.loads.Do(path, func() (any, error) {
		p.mu.Lock()
		existing, ok := p.cache[path]
		p.mu.Unlock()
		if ok {
			return existing, nil
		}
		logger.FromContext(ctx).Info("loading model", "path", path)
		loaded, err := p.cfg.Loader(context.WithoutCancel(ctx), path)
		if err != nil {
			return nil, fmt.Errorf("load model %s: %w", filepath.Base(path), err)
		}
		p.mu.Lock()
		p.cache[path] = loaded
		p.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Model), nil
}

func (p *CachedModelProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	paths := map[string]struct{}{}
	if p.cfg.DefaultModelPath != "" {
		paths[filepath.Clean(p.cfg.DefaultModelPath)] = struct{}{}
	}
	if dir := p.modelsDir(); dir != "" {
		found, err := discoverModels(dir)
		if err != nil {
			return nil, err
		}
		for _, path := range found {
			paths[path] = struct{}{}
		}
	}
	p.mu.Lock()
	for path := range p.cache {
		paths[path] = struct{}{}
	}
	p.mu.Unlock()

	sorted := make([]string, 0, len(paths))
	for path := range paths {
		sorted = append(sorted, path)
	}
	slices.Sort(sorted)

	out := make([]ModelInfo, 0, len(sorted))
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, path := range sorted {
		info := ModelInfo{ID: filepath.Base(path), Object: "model", Path: path}
		if m, ok := p.cache[path]; ok {
			cfg := m.Config()
			info.Loaded = true
			info.Task = string(m.Task())
			info.Precision = m.Precision().String()
			info.Config = &cfg
		}
		out = append(out, info)
	}
	return out, nil
}

func (p *CachedModelProvider) resolveModelPath(modelID string) (string, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID != "" {
		if strings.ContainsRune(modelID, filepath.Separator) {
			path := filepath.Clean(modelID)
			if !isModelDir(path) {
				return "", fmt.Errorf("model %q: %w", modelID, ErrModelNotFound)
			}
			return path, nil
		}
		if p.cfg.DefaultModelPath != "" && filepath.Base(filepath.Clean(p.cfg.DefaultModelPath)) == modelID {
			return filepath.Clean(p.cfg.DefaultModelPath), nil
		}
		modelsDir := p.modelsDir()
		if modelsDir == "" {
			return "", fmt.Errorf("model %q: models path is not configured: %w", modelID, ErrModelNotFound)
		}
		if cand := filepath.Join(modelsDir, modelID); isModelDir(cand) {
			return cand, nil
		}
		return "", fmt.Errorf("model %q not found in %s: %w", modelID, modelsDir, ErrModelNotFound)
	}

	if p.cfg.DefaultModelPath != "" {
		return filepath.Clean(p.cfg.DefaultModelPath), nil
	}
	modelsDir := p.modelsDir()
	if modelsDir == "" {
		return "", newInvalidParam("model", "model is required")
	}
	models, err := discoverModels(modelsDir)
	if err != nil {
		return "", err
	}
	switch len(models) {
	case 0:
		return "", fmt.Errorf("no models found in %s: %w", modelsDir, ErrModelNotFound)
	case 1:
		return models[0], nil
	}
	return "", newInvalidParam("model", fmt.Sprintf("multiple models found in %s; specify model", modelsDir))
}

func (p *CachedModelProvider) modelsDir() string {
	if strings.TrimSpace(p.cfg.ModelsPath) != "" {
		return strings.TrimSpace(p.cfg.ModelsPath)
	}
	return strings.TrimSpace(os.Getenv(envModelsDir))
}

// discoverModels returns the subdirectories of dir holding a config.json.
func discoverModels(dir string) ([]string, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("models path is not a directory: %s", dir)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	models := make([]string, 0, len(ents))
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if isModelDir(path) {
			models = append(models, path)
		}
	}
	return models, nil
}

func isModelDir(path string) bool {
	st, err := os.Stat(filepath.Join(path, model.ConfigFile))
	return err == nil && !st.IsDir()
}
