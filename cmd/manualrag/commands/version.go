package commands

import (
	"runtime"

	"github.com/spf13/cobra"

	"github.com/54b3r/manualrag-go/internal/version"
)

// versionInfo is the JSON printed by `manualrag version`.
type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	Go        string `json:"go"`
}

// NewVersionCmd constructs the `manualrag version` subcommand. Values are
// injected at build time via -ldflags and fall back to "dev"/"unknown".
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the manualrag version, git commit, and build date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printJSON(cmd.OutOrStdout(), versionInfo{
				Version:   version.Version,
				Commit:    version.Commit,
				BuildDate: version.BuildDate,
				Go:        runtime.Version(),
			})
		},
	}
}
