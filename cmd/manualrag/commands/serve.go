package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/manualrag-go/internal/logging"
	"github.com/54b3r/manualrag-go/internal/server"
)

// NewServeCmd constructs the `manualrag serve` command, which exposes
// upload, query, and answer over HTTP.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the manualrag HTTP server",
		Long: `Start the manualrag HTTP API.

Routes:
  POST /api/manuals/{id}          upload {"text": "..."}
  POST /api/manuals/{id}/query    {"query": "...", "top_k": 3}
  POST /api/manuals/{id}/answer   {"query": "...", "top_k": 3}
  GET  /api/health                liveness
  GET  /api/ready                 dependency readiness
  GET  /metrics                   Prometheus metrics

Set MANUALRAG_API_KEY to require "Authorization: Bearer <key>" on the manual
routes. Answers are disabled (502 on /answer) when no chat model is configured.

Examples:
  manualrag serve
  manualrag serve --port 9090
  MODEL_PROVIDER=azure manualrag serve --host 0.0.0.0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)
			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			p, err := buildPipeline(ctx, log, pipelineOptions{
				completion: completionOptional,
				metrics:    prometheus.DefaultRegisterer,
			})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer p.Close()

			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("MANUALRAG_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("MANUALRAG_PORT", port)
			}

			srv, err := server.New(p.orch, &server.Config{
				Host:        host,
				Port:        port,
				Logger:      log,
				Pingers:     p.pingers,
				APIKey:      os.Getenv("MANUALRAG_API_KEY"),
				Credentials: credentialsFromEnv(),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			if err := server.NewMultiPinger(p.pingers...).Ping(ctx); err != nil {
				log.Warn("serve: dependency not ready at startup", slog.Any("error", err))
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
