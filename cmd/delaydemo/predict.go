package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"flight-delay-demo/internal/explain"
	"flight-delay-demo/internal/inference"
	"flight-delay-demo/internal/metrics"
	"flight-delay-demo/internal/storage"
	"flight-delay-demo/internal/table"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	predictSets   []string
	predictRow    int
	predictAll    bool
	predictTop    int
	predictNoSave bool
	predictJSON   bool
)

var predictCmd = &cobra.Command{
	Use:   "predict [file.csv|file.json]",
	Short: "Score a file or a single row and explain the result",
	Long: `predict scores every row of a CSV or JSON file, or one row given with
repeated --set name=value flags, writes the canonical results file and
prints the explanation report for the selected row.`,
	Example: `  delaydemo predict flights.csv --row 3
  delaydemo predict --set DISTANCE=1200 --set precip_in=0.4 --set carrier=AA`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPredict,
}

func init() {
	predictCmd.Flags().StringArrayVar(&predictSets, "set", nil, "feature value as name=value (repeatable)")
	predictCmd.Flags().IntVar(&predictRow, "row", 0, "row to explain")
	predictCmd.Flags().BoolVar(&predictAll, "all", false, "explain every row")
	predictCmd.Flags().IntVar(&predictTop, "top", 0, "features per model in the report (overrides config)")
	predictCmd.Flags().BoolVar(&predictNoSave, "no-save", false, "do not write the results file or the run snapshot")
	predictCmd.Flags().BoolVar(&predictJSON, "json", false, "print reports as JSON")
}

func runPredict(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	t, source, err := predictInput(args, predictSets)
	if err != nil {
		return err
	}

	wrapper := metrics.NewWrapper(metrics.NewWithRegistry(prometheus.NewRegistry()))
	predictor, err := loadPredictor(ctx, wrapper)
	if err != nil {
		return err
	}

	res, err := predictor.PredictBoth(ctx, t)
	if err != nil {
		return err
	}

	if !predictNoSave {
		store, err := storage.New(settings.DataPath)
		if err != nil {
			log.Warn().Err(err).Msg("Run snapshot store unavailable, saving results file only")
			store = nil
		} else {
			defer store.Close()
		}
		rec, err := storage.SaveRun(settings.ResultsPath(), store, res, source)
		if err != nil {
			return err
		}
		log.Info().Str("run_id", rec.ID).Str("path", settings.ResultsPath()).Msg("Results saved")
	}

	opts := settings.ExplainOptions()
	if predictTop > 0 {
		opts.LinearTopN = predictTop
		opts.TreeTopN = predictTop
	}
	explainer := explain.NewExplainer(opts, wrapper)

	rows := []int{predictRow}
	if predictAll {
		rows = make([]int, res.Len())
		for i := range rows {
			rows[i] = i
		}
	}
	return printReports(ctx, cmd.OutOrStdout(), explainer, predictor, res, rows)
}

func printReports(ctx context.Context, w io.Writer, e *explain.Explainer, p *inference.Predictor, res *inference.Result, rows []int) error {
	for i, row := range rows {
		report, err := e.BuildReport(ctx, p.Bundle(), res, row)
		if err != nil {
			return err
		}
		if predictJSON {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			continue
		}
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprint(w, report.Text())
	}
	return nil
}

// predictInput returns the table to score: the file named by args, or a
// single row built from name=value assignments.
func predictInput(args, sets []string) (*table.Table, string, error) {
	switch {
	case len(args) == 1 && len(sets) > 0:
		return nil, "", errors.New("give either a file or --set values, not both")
	case len(args) == 1:
		t, err := table.Load(args[0])
		if err != nil {
			return nil, "", err
		}
		return t, args[0], nil
	case len(sets) > 0:
		t, err := parseAssignments(sets)
		return t, "row", err
	default:
		return nil, "", errors.New("nothing to score: give a file or at least one --set name=value")
	}
}

// parseAssignments builds a one-row table from name=value pairs, keeping
// their order. Values that parse as numbers are stored as float64.
func parseAssignments(pairs []string) (*table.Table, error) {
	names := make([]string, 0, len(pairs))
	values := make([]any, 0, len(pairs))
	seen := make(map[string]bool, len(pairs))

	for _, p := range pairs {
		name, raw, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid assignment %q, want name=value", p)
		}
		if seen[name] {
			return nil, fmt.Errorf("feature %q set twice", name)
		}
		seen[name] = true

		raw = strings.TrimSpace(raw)
		names = append(names, name)
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			values = append(values, f)
		} else {
			values = append(values, raw)
		}
	}
	return table.FromPairs(names, values)
}
