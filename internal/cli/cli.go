// Package cli wires the service together behind a small cobra command tree:
// serve runs the API and the workers in one process, worker runs a
// drain-only instance for horizontal scaling.
package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"insightgraph/internal/server"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var configFile string

// BuildCLI assembles the root command.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "insightgraph",
		Short: "Text-to-knowledge-graph extraction service",
		Long: `InsightGraph turns free text into small knowledge graphs.
Extraction runs behind a shared rate limiter, a content-addressed result
cache and a durable job queue, so identical requests are served once and
the upstream quota is never exceeded.`,
		Version: Version,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (YAML)")

	rootCmd.AddCommand(buildServeCommand())
	rootCmd.AddCommand(buildWorkerCommand())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("insightgraph", Version)
		},
	})

	return rootCmd
}

func buildServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func buildWorkerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run a queue-draining worker instance without the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, configFile)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer a.close()

	srv := server.New(a.coord, a.graphs, a.kv, a.mx, a.cfg.Worker.Count, server.Options{
		Addr:     a.cfg.Server.Addr,
		APIKey:   a.cfg.Server.APIKey,
		BurstRPS: a.cfg.Server.BurstRPS,
		Burst:    a.cfg.Server.Burst,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, a.cfg.Worker.Grace.D()) })
	g.Go(func() error { return a.pool.Run(gctx) })
	return g.Wait()
}

func runWorker(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, configFile)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer a.close()

	return a.pool.Run(ctx)
}
