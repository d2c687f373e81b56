package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/manualrag-go/internal/logging"
)

// NewAnswerCmd constructs the `manualrag answer` command: query a manual,
// then ask the chat model to answer from the ranked passages.
func NewAnswerCmd() *cobra.Command {
	var manualID string
	var topK int

	cmd := &cobra.Command{
		Use:   "answer [question]",
		Short: "Answer a question from a manual",
		Long: `Rank the passages of a manual against the question, then send the best
passages and the question to the chat model selected by MODEL_PROVIDER.
Prints the answer and the passages it was based on.

Examples:
  manualrag answer --manual-id router-x1 "the status light blinks red, what now?"
  MODEL_PROVIDER=openai manualrag answer -m printer-200 "how do I clear a jam?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			p, err := buildPipeline(ctx, logging.FromContext(ctx), pipelineOptions{completion: completionRequired})
			if err != nil {
				return err
			}
			defer p.Close()

			res, err := p.orch.Ask(ctx, manualID, strings.Join(args, " "), topK, credentialsFromEnv().Account)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVarP(&manualID, "manual-id", "m", "", "Manual identifier")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of passages (default: MANUALRAG_TOP_K or 3)")
	_ = cmd.MarkFlagRequired("manual-id")

	return cmd
}
