package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/samcharles93/lorallama/internal/logger"
	"github.com/samcharles93/lorallama/internal/model"
)

// LoadedModel is a model ready to serve, with the name it is addressed by.
type LoadedModel struct {
	Name    string
	Path    string
	Model   *model.Model
	Tensors int
}

type ModelProvider interface {
	Model(ctx context.Context, id string) (*LoadedModel, error)
	List() ([]string, error)
}

type ProviderConfig struct {
	// DefaultModelPath is served when a request names no model.
	DefaultModelPath string
	// ModelsPath holds one model directory per entry.
	ModelsPath string
	// Load builds a model from a directory. Defaults to model.LoadDir.
	Load   func(dir string) (*model.Model, error)
	Logger logger.Logger
}

// CachedModelProvider loads each model directory once. Models are
// read-only, so one instance serves concurrent requests.
type CachedModelProvider struct {
	cfg   ProviderConfig
	mu    sync.Mutex
	cache map[string]*LoadedModel
}

const envModelsDir = "LORALLAMA_MODELS_DIR"

func NewCachedModelProvider(cfg ProviderConfig) *CachedModelProvider {
	if cfg.Load == nil {
		cfg.Load = model.LoadDir
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Discard()
	}
	return &CachedModelProvider{
		cfg:   cfg,
		cache: make(map[string]*LoadedModel),
	}
}

func (p *CachedModelProvider) Model(ctx context.Context, id string) (*LoadedModel, error) {
	path, err := p.resolveModelPath(id)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.getOrLoad(path)
}

// List returns the model names found under the models directory.
func (p *CachedModelProvider) List() ([]string, error) {
	dir := p.modelsDir()
	if dir == "" {
		if p.cfg.DefaultModelPath != "" {
			return []string{filepath.Base(filepath.Clean(p.cfg.DefaultModelPath))}, nil
		}
		return nil, nil
	}
	paths, err := discoverModels(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(paths))
	for i, path := range paths {
		names[i] = filepath.Base(path)
	}
	return names, nil
}

func (p *CachedModelProvider) getOrLoad(path string) (*LoadedModel, error) {
	p.mu.Lock()
	entry, ok := p.cache[path]
	p.mu.Unlock()
	if ok {
		return entry, nil
	}

	m, err := p.cfg.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrModelLoad, path, err)
	}
	newEntry := &LoadedModel{
		Name:    filepath.Base(path),
		Path:    path,
		Model:   m,
		Tensors: len(model.Layout(m.Config)),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.cache[path]; ok {
		return existing, nil
	}
	p.cache[path] = newEntry
	p.cfg.Logger.Info("model loaded", "name", newEntry.Name, "layers", m.Config.NumLayers, "lora_rank", m.Config.LoRARank)
	return newEntry, nil
}

func (p *CachedModelProvider) resolveModelPath(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id != "" {
		if strings.ContainsRune(id, filepath.Separator) {
			path := filepath.Clean(id)
			if !isModelDir(path) {
				return "", fmt.Errorf("%w: %s", ErrModelNotFound, id)
			}
			return path, nil
		}
		if id == "." || id == ".." || !filepath.IsLocal(id) {
			return "", newInvalidRequest(fmt.Sprintf("invalid model id %q", id))
		}
		dir := p.modelsDir()
		if dir == "" {
			if p.cfg.DefaultModelPath != "" && filepath.Base(filepath.Clean(p.cfg.DefaultModelPath)) == id {
				return filepath.Clean(p.cfg.DefaultModelPath), nil
			}
			return "", fmt.Errorf("%w: %q (no models path configured)", ErrModelNotFound, id)
		}
		path := filepath.Join(dir, id)
		if !isModelDir(path) {
			return "", fmt.Errorf("%w: %q in %s", ErrModelNotFound, id, dir)
		}
		return path, nil
	}

	if p.cfg.DefaultModelPath != "" {
		return filepath.Clean(p.cfg.DefaultModelPath), nil
	}
	dir := p.modelsDir()
	if dir == "" {
		return "", newInvalidRequest("model is required")
	}
	models, err := discoverModels(dir)
	if err != nil {
		return "", err
	}
	switch len(models) {
	case 1:
		return models[0], nil
	case 0:
		return "", fmt.Errorf("%w: no models in %s", ErrModelNotFound, dir)
	}
	return "", newInvalidRequest(fmt.Sprintf("multiple models found in %s; specify model", dir))
}

func (p *CachedModelProvider) modelsDir() string {
	if dir := strings.TrimSpace(p.cfg.ModelsPath); dir != "" {
		return dir
	}
	return strings.TrimSpace(os.Getenv(envModelsDir))
}

// isModelDir reports whether dir holds a checkpoint.
func isModelDir(dir string) bool {
	st, err := os.Stat(filepath.Join(dir, model.WeightsFileName))
	return err == nil && !st.IsDir()
}

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
	slices.Sort(models)
	return models, nil
}
