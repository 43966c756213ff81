package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/csa-normalizer/internal/model"
	"github.com/sells-group/csa-normalizer/internal/orchestrator"
)

var (
	normalizeInput string
	normalizeTerms string
	normalizeSave  bool
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Normalize one extracted CSA document",
	Long:  "Runs the currency, temporal, and collateral agents over an extraction file, validates the combined output, and prints the normalized result.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("normalize"); err != nil {
			return err
		}

		var extraction model.RawExtraction
		if err := readJSONFile(normalizeInput, &extraction); err != nil {
			return err
		}
		if extraction.DocumentID == "" {
			return eris.New("extraction file carries no document_id")
		}

		var terms *model.ContractTerms
		if normalizeTerms != "" {
			terms = &model.ContractTerms{}
			if err := readJSONFile(normalizeTerms, terms); err != nil {
				return err
			}
		}

		backend, err := initBackend()
		if err != nil {
			return err
		}

		orch := orchestrator.New(backend, orchestrator.Config{
			ConfidenceThreshold: cfg.Agents.ConfidenceThreshold,
			AgentTimeout:        time.Duration(cfg.Agents.AgentTimeoutSecs) * time.Second,
			AutoBatchThreshold:  cfg.Agents.AutoBatchThreshold,
			BatchSize:           cfg.Agents.BatchSize,
			CallsPerItem:        cfg.Agents.CallsPerItem,
			SustainedCap:        cfg.Concurrency.Sustained,
		})

		result, err := orch.Normalize(ctx, &extraction, terms)
		if err != nil {
			return eris.Wrap(err, "normalize")
		}

		zap.L().Info("normalization complete",
			zap.String("document_id", result.DocumentID),
			zap.Float64("confidence", result.OverallConfidence),
			zap.Bool("requires_review", result.RequiresHumanReview),
		)

		if normalizeSave {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.SaveResult(ctx, result); err != nil {
				return eris.Wrap(err, "save result")
			}
		}

		return printJSON(result)
	},
}

func init() {
	normalizeCmd.Flags().StringVar(&normalizeInput, "input", "", "extraction JSON file (required)")
	normalizeCmd.Flags().StringVar(&normalizeTerms, "terms", "", "mapped contract terms JSON file")
	normalizeCmd.Flags().BoolVar(&normalizeSave, "save", true, "persist the result to the store")
	_ = normalizeCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(normalizeCmd)
}
