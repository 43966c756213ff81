package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/csa-normalizer/internal/accuracy"
)

var (
	accuracyRef     string
	accuracyFields  string
	accuracyStage   string
	accuracyFixture string
)

var accuracyCmd = &cobra.Command{
	Use:   "accuracy",
	Short: "Score a field set against ground truth",
	Long:  "Compares extracted or normalized fields to the curated reference set and reports precision, recall, F1, and accuracy.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("accuracy"); err != nil {
			return err
		}

		var fields map[string]any
		if err := readJSONFile(accuracyFields, &fields); err != nil {
			return err
		}

		source, cleanup, err := groundTruthSource(ctx, accuracyFixture)
		if err != nil {
			return err
		}
		defer cleanup()

		validator := accuracy.NewValidator(source)

		var report *accuracy.Report
		switch accuracyStage {
		case "extraction":
			report, err = validator.ValidateExtraction(ctx, accuracyRef, fields)
		case "normalization":
			report, err = validator.ValidateNormalization(ctx, accuracyRef, fields)
		default:
			return eris.Errorf("unknown stage %q, want extraction or normalization", accuracyStage)
		}
		if err != nil {
			return eris.Wrap(err, "validate accuracy")
		}

		return printJSON(report)
	},
}

// groundTruthSource resolves the reference source: a fixture file when given,
// otherwise the store. cleanup closes whatever was opened.
func groundTruthSource(ctx context.Context, fixture string) (accuracy.GroundTruthSource, func(), error) {
	if fixture != "" {
		src, err := accuracy.NewFileSource(fixture)
		if err != nil {
			return nil, nil, err
		}
		return src, func() {}, nil
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	return accuracy.SourceFunc(st.GetGroundTruth), func() { st.Close() }, nil //nolint:errcheck
}

func init() {
	accuracyCmd.Flags().StringVar(&accuracyRef, "ref", "", "ground-truth reference id (required)")
	accuracyCmd.Flags().StringVar(&accuracyFields, "fields", "", "field-set JSON file (required)")
	accuracyCmd.Flags().StringVar(&accuracyStage, "stage", "normalization", "pipeline stage: extraction or normalization")
	accuracyCmd.Flags().StringVar(&accuracyFixture, "ground-truth", "", "ground-truth fixture file (default: the store)")
	_ = accuracyCmd.MarkFlagRequired("ref")
	_ = accuracyCmd.MarkFlagRequired("fields")
	rootCmd.AddCommand(accuracyCmd)
}
