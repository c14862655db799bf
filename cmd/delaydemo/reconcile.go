package main

import (
	"encoding/json"
	"fmt"

	"flight-delay-demo/internal/explain"
	"flight-delay-demo/internal/inference"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
)

// reconcileInput is the validated flag set of the reconcile command.
type reconcileInput struct {
	TreeProba       float64 `validate:"gte=0,lte=1"`
	TreeThreshold   float64 `validate:"gt=0,lte=1"`
	TreePred        int     `validate:"oneof=0 1"`
	LinearProba     float64 `validate:"gte=0,lte=1"`
	LinearThreshold float64 `validate:"gt=0,lte=1"`
	LinearPred      int     `validate:"oneof=0 1"`
	Tolerance       float64 `validate:"gt=0,lt=1"`
}

var (
	recIn   reconcileInput
	recJSON bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Recommend which model to follow for one flight",
	Long: `reconcile compares two model outcomes by probability relative to each
model's threshold. Predictions default to probability >= threshold.`,
	Example: `  delaydemo reconcile --tree-proba 0.5 --tree-threshold 0.3 --linear-proba 0.65 --linear-threshold 0.6`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		in := recIn
		if !cmd.Flags().Changed("tree-pred") {
			in.TreePred = inference.Label(in.TreeProba, in.TreeThreshold)
		}
		if !cmd.Flags().Changed("linear-pred") {
			in.LinearPred = inference.Label(in.LinearProba, in.LinearThreshold)
		}
		if !cmd.Flags().Changed("tolerance") {
			in.Tolerance = settings.TieTolerance
		}

		rec, err := reconcile(in)
		if err != nil {
			return err
		}
		if recJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}
		fmt.Fprintln(cmd.OutOrStdout(), rec.Text)
		return nil
	},
}

func init() {
	f := reconcileCmd.Flags()
	f.Float64Var(&recIn.TreeProba, "tree-proba", 0, "random forest delay probability")
	f.Float64Var(&recIn.TreeThreshold, "tree-threshold", 0, "random forest decision threshold")
	f.IntVar(&recIn.TreePred, "tree-pred", 0, "random forest prediction (0 or 1)")
	f.Float64Var(&recIn.LinearProba, "linear-proba", 0, "logistic regression delay probability")
	f.Float64Var(&recIn.LinearThreshold, "linear-threshold", 0, "logistic regression decision threshold")
	f.IntVar(&recIn.LinearPred, "linear-pred", 0, "logistic regression prediction (0 or 1)")
	f.Float64Var(&recIn.Tolerance, "tolerance", 0, "confidence gap treated as a tie (overrides config)")
	f.BoolVar(&recJSON, "json", false, "print the recommendation as JSON")

	for _, name := range []string{"tree-proba", "tree-threshold", "linear-proba", "linear-threshold"} {
		_ = reconcileCmd.MarkFlagRequired(name)
	}
}

var validate = validator.New()

func reconcile(in reconcileInput) (explain.Recommendation, error) {
	if err := validate.Struct(in); err != nil {
		return explain.Recommendation{}, fmt.Errorf("invalid input: %w", err)
	}
	tree := explain.Decision{Probability: in.TreeProba, Prediction: in.TreePred, Threshold: in.TreeThreshold}
	linear := explain.Decision{Probability: in.LinearProba, Prediction: in.LinearPred, Threshold: in.LinearThreshold}
	return explain.ReconcileWithTolerance(tree, linear, in.Tolerance), nil
}
