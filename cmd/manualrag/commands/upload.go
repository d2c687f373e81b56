package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/manualrag-go/internal/ingestion"
	"github.com/54b3r/manualrag-go/internal/logging"
)

// NewUploadCmd constructs the `manualrag upload` command, which chunks,
// embeds, stores, and registers one manual.
func NewUploadCmd() *cobra.Command {
	var manualID, file, url string
	var chunkSize int

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a manual and register it as the next version",
		Long: `Upload a manual: split it into passages, embed every passage, store the
content and vector bundles, and register both handles in the manual registry.

The manual is read from --file, --url, or stdin. When --manual-id is omitted
it is derived from the file or URL name. Registry writes are signed with
ACCOUNT_ADDRESS / PRIVATE_KEY.

Examples:
  manualrag upload --manual-id router-x1 --file ./router-x1.txt
  manualrag upload --url https://example.com/manuals/printer-200.txt
  cat dishwasher.txt | manualrag upload --manual-id dishwasher-d5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			src := ingestion.Source{Path: file, URL: url}
			if file == "" && url == "" {
				src.Reader = cmd.InOrStdin()
			}
			if manualID == "" {
				id, err := ingestion.InferManualID(src)
				if err != nil {
					return fmt.Errorf("upload: --manual-id is required: %w", err)
				}
				manualID = id
				log.Info("manual id inferred", slog.String("manual_id", manualID))
			}

			text, err := ingestion.NewLoader(nil).Load(ctx, src)
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}

			p, err := buildPipeline(ctx, log, pipelineOptions{chunkSize: chunkSize})
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			defer p.Close()

			res, err := p.orch.Upload(ctx, manualID, text, credentialsFromEnv())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVarP(&manualID, "manual-id", "m", "", "Manual identifier (default: derived from --file or --url)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the manual from this file")
	cmd.Flags().StringVarP(&url, "url", "u", "", "Fetch the manual from this URL")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Passage budget in characters (default: MANUALRAG_CHUNK_SIZE or 1000)")
	cmd.MarkFlagsMutuallyExclusive("file", "url")

	return cmd
}

