package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"cyclescreen/ml"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load every artifact and print the question schemas",
		RunE:  runCheck,
	}
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := quietLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	registry, err := loadRegistry(cfg, log)
	if err != nil {
		return err
	}
	pol, err := cfg.PolicyConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	bundles, _ := registry.Snapshot()
	specs := cfg.ArtifactSpecs()
	for i, b := range bundles {
		fmt.Fprintf(out, "%s (%s) %s, %d questions\n", b.Name, b.Key, specs[i].ModelType, len(b.Schema.Fields))
		fmt.Fprintln(out, strings.Repeat("─", 60))
		for _, f := range b.Schema.Fields {
			fmt.Fprintf(out, "  %-7s %-50s %s\n", f.Kind, f.Name, describeRange(f))
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "policy: %s (possible %.2f, urgent %.2f)\n", pol.Variant, pol.Possible, pol.Urgent)
	return nil
}

func describeRange(f ml.Field) string {
	switch {
	case f.Kind == ml.KindBinary:
		return "0/1"
	case f.Range != nil:
		return fmt.Sprintf("%g..%g", f.Range.Min, f.Range.Max)
	default:
		return ">= 0"
	}
}
