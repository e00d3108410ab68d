package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"cyclescreen/assessment"
	"cyclescreen/ml"
)

func newScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score one set of answers and print the result",
		Long: `Score reads answers in the same shape as POST /api/assess:

  {"answers": {"pcod": {"Age": 24, ...}, "pcos": {"Age (in Years)": 24, ...}}}

Use --answers - to read from stdin.`,
		RunE: runScore,
	}
	cmd.Flags().String("answers", "", "Path to the answers JSON file, or - for stdin")
	cmd.Flags().String("lang", "", "Language of the summary (en, hi)")
	cmd.Flags().Bool("json", false, "Print the full assessment as JSON")
	cmd.MarkFlagRequired("answers")
	return cmd
}

func runScore(cmd *cobra.Command, args []string) error {
	answersPath, _ := cmd.Flags().GetString("answers")
	lang, _ := cmd.Flags().GetString("lang")
	asJSON, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := quietLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	req, err := readRequest(cmd.InOrStdin(), answersPath)
	if err != nil {
		return err
	}
	if lang != "" {
		req.Language = lang
	}

	pol, err := cfg.PolicyConfig()
	if err != nil {
		return err
	}
	registry, err := loadRegistry(cfg, log)
	if err != nil {
		return err
	}
	svc, err := assessment.NewService(registry, assessment.Options{Policy: pol, Logger: log})
	if err != nil {
		return err
	}

	a, err := svc.Assess(cmd.Context(), req)
	if err != nil {
		var verr *ml.ValidationError
		if errors.As(err, &verr) {
			w := cmd.ErrOrStderr()
			fmt.Fprintf(w, "%d answer(s) need attention:\n", len(verr.Errors))
			for _, fe := range verr.Errors {
				fmt.Fprintf(w, "  - %s\n", fe.Error())
			}
			return errors.New("invalid answers")
		}
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(a)
	}
	for _, line := range a.Summary {
		fmt.Fprintln(out, line)
	}
	return nil
}

func readRequest(stdin io.Reader, path string) (assessment.Request, error) {
	var req assessment.Request
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return req, fmt.Errorf("open answers: %w", err)
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("decode answers: %w", err)
	}
	return req, nil
}
