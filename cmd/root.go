package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/csa-normalizer/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "csa-normalizer",
	Short: "Multi-agent CSA term normalization engine",
	Long:  "Normalizes extracted Credit Support Annex terms through specialized currency, temporal, and collateral agents backed by tiered Claude models, with cross-field validation and accuracy scoring.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
