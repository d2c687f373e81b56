// Package commands defines all Cobra CLI commands for the manualrag binary.
package commands

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/54b3r/manualrag-go/internal/audit"
	"github.com/54b3r/manualrag-go/internal/config"
	"github.com/54b3r/manualrag-go/internal/logging"
	"github.com/54b3r/manualrag-go/internal/retrieval"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// envFile holds the --env-file flag value.
var envFile string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "manualrag",
		Short: "Semantic retrieval over product manuals",
		Long: `manualrag stores product manuals as content-addressed bundles, records
them in a manual registry (an Ethereum contract or a SQL ledger), and answers
questions by ranking manual passages against the query embedding.

Settings come from the environment, an optional .env file, and an optional
YAML config file (~/.manualrag/config.yaml). Environment variables always win.
Results are printed to stdout as JSON; logs go to stderr.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadDotEnv(envFile); err != nil {
				return err
			}

			log := logging.New()
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}

			audit.LogCommandStart(log, cmd.Name(), path)
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.manualrag/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file to load before reading the environment")

	root.AddCommand(
		NewUploadCmd(),
		NewQueryCmd(),
		NewAnswerCmd(),
		NewHistoryCmd(),
		NewServeCmd(),
		NewVersionCmd(),
	)

	return root
}

// loadDotEnv applies path without overriding variables already set. A
// missing default file is not an error.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) && path == ".env" {
		return nil
	}
	return err
}

// ExitCode maps an error to the process exit status: 2 for failures a retry
// will not fix, 75 (EX_TEMPFAIL) for retryable ones, 1 otherwise.
func ExitCode(err error) int {
	var rerr *retrieval.Error
	if !errors.As(err, &rerr) {
		return 1
	}
	if rerr.Retryable() {
		return 75
	}
	return 2
}
