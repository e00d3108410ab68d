package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cyclescreen/config"
	"cyclescreen/logger"
	"cyclescreen/ml"
)

const defaultConfigPath = "config.yaml"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cyclescreen",
		Short:         "PCOD / PCOS questionnaire screening",
		Long:          "cyclescreen scores questionnaire answers with the PCOD and PCOS classifiers and turns the two probabilities into a recommendation.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", defaultConfigPath, "Path to the YAML configuration file")

	root.AddCommand(newServeCmd())
	root.AddCommand(newScoreCmd())
	root.AddCommand(newCheckCmd())
	return root
}

func Execute() error {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		return err
	}
	return nil
}

// loadConfig reads --config. A missing default file falls back to the
// built-in defaults; a missing explicit file is an error.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		def := config.Default()
		return &def, nil
	}
	return nil, fmt.Errorf("load config: %w", err)
}

// loadRegistry loads every configured artifact.
func loadRegistry(cfg *config.Config, log *zap.Logger) (*ml.Registry, error) {
	registry := ml.NewRegistry()
	if err := registry.Load(cfg.ArtifactSpecs()); err != nil {
		return nil, fmt.Errorf("load artifacts: %w", err)
	}
	for _, spec := range cfg.ArtifactSpecs() {
		log.Debug("artifacts loaded",
			zap.String("condition", spec.Key),
			zap.String("model", spec.ModelPath),
			zap.String("features", spec.FeaturesPath))
	}
	return registry, nil
}

// quietLogger is used by one-shot commands so their output stays readable.
func quietLogger(cfg *config.Config) (*zap.Logger, error) {
	lc := cfg.Log
	lc.Level = "warn"
	lc.File = ""
	return logger.New(lc)
}

func ensureDir(path string) error {
	dir := dirOf(path)
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
