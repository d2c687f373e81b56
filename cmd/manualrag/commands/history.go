package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/54b3r/manualrag-go/internal/rag"
	"github.com/54b3r/manualrag-go/internal/registry"
)

// historian is implemented by registries that keep every version.
type historian interface {
	History(ctx context.Context, manualID string) ([]rag.Registration, error)
}

// historyEntry is one version in `manualrag history` output.
type historyEntry struct {
	Version       int        `json:"version"`
	ContentHandle rag.Handle `json:"content_handle"`
	VectorHandle  rag.Handle `json:"vector_handle"`
}

// NewHistoryCmd constructs the `manualrag history` command, which lists
// every registered version of a manual. Only SQL registries keep history.
func NewHistoryCmd() *cobra.Command {
	var manualID string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List every registered version of a manual",
		Long: `List every registered version of a manual, oldest first.

Only the sqlite and postgres registries keep per-version history; the chain
registry exposes the latest registration only.

Examples:
  manualrag history --manual-id router-x1
  REGISTRY_BACKEND=postgres REGISTRY_DSN=postgres://... manualrag history -m router-x1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg := registry.ConfigFromEnv()
			reg, err := registry.Open(ctx, cfg)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			defer reg.Close()

			h, ok := reg.(historian)
			if !ok {
				return fmt.Errorf("history: the %s registry does not keep version history", cfg.Backend)
			}
			regs, err := h.History(ctx, manualID)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if len(regs) == 0 {
				return fmt.Errorf("history: %w: %q", rag.ErrManualNotFound, manualID)
			}

			out := make([]historyEntry, len(regs))
			for i, r := range regs {
				out[i] = historyEntry{Version: r.Version, ContentHandle: r.ContentHandle, VectorHandle: r.VectorHandle}
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVarP(&manualID, "manual-id", "m", "", "Manual identifier")
	_ = cmd.MarkFlagRequired("manual-id")

	return cmd
}
