// Package config loads the service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"cyclescreen/logger"
	"cyclescreen/ml"
	"cyclescreen/policy"
)

type Config struct {
	HTTP       HTTPConfig        `yaml:"http"`
	Log        logger.Config     `yaml:"log"`
	Database   DatabaseConfig    `yaml:"database"`
	Policy     PolicyConfig      `yaml:"policy"`
	Conditions []ConditionConfig `yaml:"conditions" validate:"len=2,dive"`
	Cache      CacheConfig       `yaml:"cache"`
	Watch      WatchConfig       `yaml:"watch"`
}

type HTTPConfig struct {
	Port           int           `yaml:"port" validate:"gte=1,lte=65535"`
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes" validate:"gt=0"`
}

// DatabaseConfig: an empty path disables the assessment history.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type PolicyConfig struct {
	Variant           string  `yaml:"variant" validate:"oneof=comparative severity"`
	PossibleThreshold float64 `yaml:"possible_threshold" validate:"gt=0,lte=1"`
	UrgentThreshold   float64 `yaml:"urgent_threshold" validate:"gtefield=PossibleThreshold,lte=1"`
}

// ConditionConfig describes one classifier. The first condition is A, the
// second is B.
type ConditionConfig struct {
	Key           string              `yaml:"key" validate:"required,alphanum,lowercase"`
	Name          string              `yaml:"name" validate:"required"`
	ModelType     string              `yaml:"model_type" validate:"oneof=decision_tree random_forest logistic_regression"`
	ModelPath     string              `yaml:"model_path" validate:"required"`
	FeaturesPath  string              `yaml:"features_path" validate:"required"`
	NumericFields []string            `yaml:"numeric_fields"`
	Ranges        map[string]ml.Range `yaml:"ranges"`
}

type CacheConfig struct {
	Size int `yaml:"size" validate:"gte=0"`
}

type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

var validate = validator.New()

func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:           8080,
			Timeout:        30 * time.Second,
			AllowedOrigins: []string{"*"},
			MaxBodyBytes:   64 << 10,
		},
		Log:      logger.DefaultConfig(),
		Database: DatabaseConfig{Path: "data/cyclescreen.db"},
		Policy: PolicyConfig{
			Variant:           string(policy.Comparative),
			PossibleThreshold: policy.DefaultPossibleThreshold,
			UrgentThreshold:   policy.DefaultUrgentThreshold,
		},
		Conditions: []ConditionConfig{
			{
				Key:           "pcod",
				Name:          "PCOD",
				ModelType:     ml.ModelRandomForest,
				ModelPath:     "artifacts/pcod_model.json",
				FeaturesPath:  "artifacts/pcod_features.json",
				NumericFields: []string{"Period Length", "Cycle Length", "Age"},
				Ranges: map[string]ml.Range{
					"Age":           {Min: 10, Max: 60},
					"Period Length": {Min: 1, Max: 15},
					"Cycle Length":  {Min: 15, Max: 90},
				},
			},
			{
				Key:          "pcos",
				Name:         "PCOS",
				ModelType:    ml.ModelLogisticRegression,
				ModelPath:    "artifacts/pcos_model.json",
				FeaturesPath: "artifacts/pcos_features.json",
				NumericFields: []string{
					"Age (in Years)",
					"Weight (in Kg)",
					"Height (in Cm / Feet)",
					"After how many months do you get your periods?",
				},
				Ranges: map[string]ml.Range{
					"Age (in Years)":        {Min: 10, Max: 60},
					"Weight (in Kg)":        {Min: 25, Max: 200},
					"Height (in Cm / Feet)": {Min: 3, Max: 220},
					"After how many months do you get your periods?": {Min: 0, Max: 12},
				},
			},
		},
		Cache: CacheConfig{Size: 1024},
		Watch: WatchConfig{Enabled: true, Debounce: ml.DefaultReloadDebounce},
	}
}

// Load decodes path over the defaults. Relative artifact, log and database
// paths are resolved against the directory of the config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := make(map[string]bool, len(c.Conditions))
	for _, cond := range c.Conditions {
		if seen[cond.Key] {
			return fmt.Errorf("invalid config: duplicate condition key %q", cond.Key)
		}
		seen[cond.Key] = true
	}
	if _, err := c.PolicyConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) PolicyConfig() (policy.Policy, error) {
	variant, err := policy.ParseVariant(c.Policy.Variant)
	if err != nil {
		return policy.Policy{}, err
	}
	return policy.New(variant, c.Policy.PossibleThreshold, c.Policy.UrgentThreshold)
}

func (c *Config) ArtifactSpecs() []ml.ArtifactSpec {
	specs := make([]ml.ArtifactSpec, len(c.Conditions))
	for i, cond := range c.Conditions {
		specs[i] = ml.ArtifactSpec{
			Key:           cond.Key,
			Name:          cond.Name,
			ModelType:     cond.ModelType,
			ModelPath:     cond.ModelPath,
			FeaturesPath:  cond.FeaturesPath,
			NumericFields: cond.NumericFields,
			Ranges:        cond.Ranges,
		}
	}
	return specs
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTP.Port)
}

func (c *Config) resolvePaths(base string) {
	for i := range c.Conditions {
		c.Conditions[i].ModelPath = resolve(base, c.Conditions[i].ModelPath)
		c.Conditions[i].FeaturesPath = resolve(base, c.Conditions[i].FeaturesPath)
	}
	c.Log.File = resolve(base, c.Log.File)
	if c.Database.Path != ":memory:" {
		c.Database.Path = resolve(base, c.Database.Path)
	}
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// IsValidationError reports whether err came from struct tag validation.
func IsValidationError(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}
