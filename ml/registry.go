package ml

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
)

// ArtifactSpec names the artifacts of one condition.
type ArtifactSpec struct {
	Key           string
	Name          string
	ModelType     string
	ModelPath     string
	FeaturesPath  string
	NumericFields []string
	Ranges        map[string]Range
}

// Bundle is a loaded classifier with the schema of its inputs.
type Bundle struct {
	Key        string
	Name       string
	Classifier Classifier
	Schema     *Schema
}

// Registry holds the bundles of every condition. Loads replace the whole set
// so readers never see a mix of old and new artifacts.
type Registry struct {
	mu         sync.RWMutex
	bundles    []*Bundle
	specs      []ArtifactSpec
	generation uint64
}

func NewRegistry() *Registry {
	return &Registry{}
}

func LoadBundle(spec ArtifactSpec) (*Bundle, error) {
	names, err := LoadFeatureNames(spec.FeaturesPath)
	if err != nil {
		return nil, err
	}
	schema, err := NewSchema(spec.Key, names, spec.NumericFields, spec.Ranges)
	if err != nil {
		return nil, fmt.Errorf("%s schema: %w", spec.Key, err)
	}
	model, err := LoadModel(spec.ModelType, spec.ModelPath)
	if err != nil {
		return nil, err
	}
	if err := model.CheckFeatures(len(names)); err != nil {
		return nil, fmt.Errorf("%s model does not match feature list: %w", spec.Key, err)
	}
	name := spec.Name
	if name == "" {
		name = spec.Key
	}
	return &Bundle{Key: spec.Key, Name: name, Classifier: model, Schema: schema}, nil
}

// Load loads every spec; on any failure the current bundles stay in place.
func (r *Registry) Load(specs []ArtifactSpec) error {
	if len(specs) == 0 {
		return errors.New("no artifacts configured")
	}
	bundles := make([]*Bundle, 0, len(specs))
	for _, spec := range specs {
		bundle, err := LoadBundle(spec)
		if err != nil {
			return err
		}
		bundles = append(bundles, bundle)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bundles = bundles
	r.specs = append([]ArtifactSpec(nil), specs...)
	r.generation++
	return nil
}

func (r *Registry) Reload() error {
	r.mu.RLock()
	specs := r.specs
	r.mu.RUnlock()
	return r.Load(specs)
}

// Set installs already built bundles. They have no artifact files behind
// them, so the specs of any earlier Load are dropped: Paths is empty and
// Reload fails until the next Load.
func (r *Registry) Set(bundles ...*Bundle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bundles = append([]*Bundle(nil), bundles...)
	r.specs = nil
	r.generation++
}

// Snapshot returns the current bundles in configuration order together with
// the generation they belong to.
func (r *Registry) Snapshot() ([]*Bundle, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Bundle(nil), r.bundles...), r.generation
}

func (r *Registry) Get(key string) (*Bundle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.bundles {
		if b.Key == key {
			return b, true
		}
	}
	return nil, false
}

func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Paths lists the artifact files behind the loaded specs.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := make([]string, 0, len(r.specs)*2)
	for _, spec := range r.specs {
		paths = append(paths, filepath.Clean(spec.ModelPath), filepath.Clean(spec.FeaturesPath))
	}
	return paths
}
