package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var groundtruthCmd = &cobra.Command{
	Use:   "groundtruth",
	Short: "Manage curated ground-truth reference sets",
}

var groundtruthImportFile string

var groundtruthImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Load a ground-truth fixture file into the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("accuracy"); err != nil {
			return err
		}

		var sets map[string]map[string]any
		if err := readJSONFile(groundtruthImportFile, &sets); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		for referenceID, fields := range sets {
			if err := st.SaveGroundTruth(ctx, referenceID, fields); err != nil {
				return eris.Wrapf(err, "import %s", referenceID)
			}
		}

		zap.L().Info("ground truth imported",
			zap.String("file", groundtruthImportFile),
			zap.Int("reference_sets", len(sets)),
		)
		return nil
	},
}

func init() {
	groundtruthImportCmd.Flags().StringVar(&groundtruthImportFile, "file", "", "fixture JSON file keyed by reference id (required)")
	_ = groundtruthImportCmd.MarkFlagRequired("file")
	groundtruthCmd.AddCommand(groundtruthImportCmd)
	rootCmd.AddCommand(groundtruthCmd)
}
