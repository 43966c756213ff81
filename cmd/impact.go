package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/csa-normalizer/internal/impact"
)

var (
	impactRef        string
	impactRaw        string
	impactNormalized string
	impactFixture    string
)

var impactCmd = &cobra.Command{
	Use:   "impact",
	Short: "Measure what normalization bought for one document",
	Long:  "Scores the raw and normalized field sets against the same ground truth and reports the accuracy delta with prioritized recommendations.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("impact"); err != nil {
			return err
		}

		var rawFields, normalizedFields map[string]any
		if err := readJSONFile(impactRaw, &rawFields); err != nil {
			return err
		}
		if err := readJSONFile(impactNormalized, &normalizedFields); err != nil {
			return err
		}

		source, cleanup, err := groundTruthSource(ctx, impactFixture)
		if err != nil {
			return err
		}
		defer cleanup()

		report, err := impact.New(source).Analyze(ctx, impactRef, rawFields, normalizedFields)
		if err != nil {
			return eris.Wrap(err, "analyze impact")
		}

		return printJSON(report)
	},
}

func init() {
	impactCmd.Flags().StringVar(&impactRef, "ref", "", "ground-truth reference id (required)")
	impactCmd.Flags().StringVar(&impactRaw, "raw", "", "raw field-set JSON file (required)")
	impactCmd.Flags().StringVar(&impactNormalized, "normalized", "", "normalized field-set JSON file (required)")
	impactCmd.Flags().StringVar(&impactFixture, "ground-truth", "", "ground-truth fixture file (default: the store)")
	_ = impactCmd.MarkFlagRequired("ref")
	_ = impactCmd.MarkFlagRequired("raw")
	_ = impactCmd.MarkFlagRequired("normalized")
	rootCmd.AddCommand(impactCmd)
}
