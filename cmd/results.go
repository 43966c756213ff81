package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/csa-normalizer/internal/store"
)

var (
	resultsReviewOnly bool
	resultsLimit      int
	resultsOffset     int
)

var resultsCmd = &cobra.Command{
	Use:   "results [document-id]",
	Short: "List stored normalization results or fetch one by document id",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("results"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if len(args) == 1 {
			result, err := st.GetResult(ctx, args[0])
			if err != nil {
				return eris.Wrapf(err, "get result %s", args[0])
			}
			return printJSON(result)
		}

		filter := store.ResultFilter{Limit: resultsLimit, Offset: resultsOffset}
		if resultsReviewOnly {
			review := true
			filter.RequiresReview = &review
		}

		results, err := st.ListResults(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list results")
		}
		return printJSON(results)
	},
}

func init() {
	resultsCmd.Flags().BoolVar(&resultsReviewOnly, "review", false, "only results flagged for human review")
	resultsCmd.Flags().IntVar(&resultsLimit, "limit", 50, "maximum results to return")
	resultsCmd.Flags().IntVar(&resultsOffset, "offset", 0, "results to skip")
	rootCmd.AddCommand(resultsCmd)
}
