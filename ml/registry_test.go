package ml

import (
	"os"
	"path/filepath"
	"testing"
)

func copyFixture(t *testing.T, dir, name, target string) string {
	t.Helper()
	payload, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, target)
	if err := os.WriteFile(path, payload, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func fixtureSpecs(t *testing.T, dir string) []ArtifactSpec {
	t.Helper()
	return []ArtifactSpec{
		{
			Key:           "pcod",
			Name:          "PCOD",
			ModelType:     ModelDecisionTree,
			ModelPath:     copyFixture(t, dir, "tree.json", "pcod_model.json"),
			FeaturesPath:  copyFixture(t, dir, "features.json", "pcod_features.json"),
			NumericFields: []string{"Age"},
		},
		{
			Key:           "pcos",
			Name:          "PCOS",
			ModelType:     ModelLogisticRegression,
			ModelPath:     copyFixture(t, dir, "logistic.json", "pcos_model.json"),
			FeaturesPath:  copyFixture(t, dir, "features.json", "pcos_features.json"),
			NumericFields: []string{"Age"},
		},
	}
}

func TestRegistryLoad(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Load(fixtureSpecs(t, t.TempDir())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bundles, gen := registry.Snapshot()
	if len(bundles) != 2 || gen != 1 {
		t.Fatalf("expected 2 bundles at generation 1, got %d at %d", len(bundles), gen)
	}
	if bundles[0].Key != "pcod" || bundles[1].Name != "PCOS" {
		t.Fatalf("unexpected bundle order: %s, %s", bundles[0].Key, bundles[1].Key)
	}
	pcos, ok := registry.Get("pcos")
	if !ok {
		t.Fatal("expected pcos bundle")
	}
	vec, err := pcos.Schema.Build(map[string]float64{"Age": 30, "Irregular Periods": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := Score(pcos.Classifier, vec.Values)
	if err != nil || res.Label != 1 {
		t.Fatalf("unexpected score %+v, %v", res, err)
	}
	if len(registry.Paths()) != 4 {
		t.Fatalf("expected 4 watched paths, got %v", registry.Paths())
	}
}

func TestRegistryLoadKeepsPreviousOnFailure(t *testing.T) {
	dir := t.TempDir()
	registry := NewRegistry()
	specs := fixtureSpecs(t, dir)
	if err := registry.Load(specs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := os.WriteFile(specs[1].ModelPath, []byte(`{"coef": [1]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := registry.Reload(); err == nil {
		t.Fatal("expected coefficient/feature mismatch")
	}
	if registry.Generation() != 1 {
		t.Fatalf("expected generation to stay at 1, got %d", registry.Generation())
	}
	if _, ok := registry.Get("pcos"); !ok {
		t.Fatal("expected previous bundle to survive")
	}
}

func TestRegistryLoadRequiresSpecs(t *testing.T) {
	if err := NewRegistry().Load(nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestRegistrySet(t *testing.T) {
	registry := NewRegistry()
	registry.Set(&Bundle{Key: "a"}, &Bundle{Key: "b"})
	if _, ok := registry.Get("b"); !ok {
		t.Fatal("expected bundle b")
	}
	if registry.Generation() != 1 {
		t.Fatalf("expected generation 1, got %d", registry.Generation())
	}
}

func TestRegistrySetDropsLoadedSpecs(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Load(fixtureSpecs(t, t.TempDir())); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	registry.Set(&Bundle{Key: "a"})
	if paths := registry.Paths(); len(paths) != 0 {
		t.Fatalf("expected no watched paths after Set, got %v", paths)
	}
	if err := registry.Reload(); err == nil {
		t.Fatal("expected reload without specs to fail")
	}
	if _, ok := registry.Get("a"); !ok {
		t.Fatal("expected bundle a to stay installed")
	}
	if registry.Generation() != 2 {
		t.Fatalf("expected generation 2, got %d", registry.Generation())
	}
}
