package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/manualrag-go/internal/logging"
	"github.com/54b3r/manualrag-go/internal/retrieval"
)

// queryResult is the JSON printed by `manualrag query`.
type queryResult struct {
	ManualID string             `json:"manual_id"`
	Query    string             `json:"query"`
	Results  []retrieval.Result `json:"results"`
}

// NewQueryCmd constructs the `manualrag query` command, which prints the
// passages of a manual most similar to the query.
func NewQueryCmd() *cobra.Command {
	var manualID string
	var topK int

	cmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Rank the passages of a manual against a question",
		Long: `Resolve the latest registration of a manual, fetch its bundles, and print
the top-k passages by cosine similarity to the question, best first.

Examples:
  manualrag query --manual-id router-x1 "how do I reset the router?"
  manualrag query -m router-x1 -k 5 "firmware update"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			question := strings.Join(args, " ")

			p, err := buildPipeline(ctx, logging.FromContext(ctx), pipelineOptions{})
			if err != nil {
				return err
			}
			defer p.Close()

			results, err := p.orch.Query(ctx, manualID, question, topK, credentialsFromEnv().Account)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), queryResult{ManualID: manualID, Query: question, Results: results})
		},
	}

	cmd.Flags().StringVarP(&manualID, "manual-id", "m", "", "Manual identifier")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of passages (default: MANUALRAG_TOP_K or 3)")
	_ = cmd.MarkFlagRequired("manual-id")

	return cmd
}
