// vita-gateway is the tool invocation gateway daemon: it serves the /v1
// dispatch and discovery API for the diet-tracking backend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"vita/internal/config"
	"vita/internal/gateway"
	"vita/internal/logging"
	"vita/internal/observability"
	"vita/internal/ratelimit"
	"vita/internal/registry"
	"vita/internal/server"
	"vita/internal/session"
	"vita/internal/stats"
	"vita/internal/tool"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "vita-gateway",
		Short:         "Tool invocation gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	root.AddCommand(serveCmd)

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("vita-gateway %s (%s)\n", version, commit)
		},
	})

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Print the builtin tool catalog specification",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			return exportCatalog(format)
		},
	}
	exportCmd.Flags().String("format", "json", "Output format: json or yaml")
	root.AddCommand(exportCmd)

	return root
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	tracerProvider, err := observability.NewTracerProvider(cfg.Tracing, version)
	if err != nil {
		return err
	}

	catalog := tool.NewCatalog(logger)
	if err := tool.RegisterBuiltin(catalog); err != nil {
		return err
	}

	limiter := ratelimit.New(ratelimit.Config{
		MaxPerWindow: cfg.Gateway.MaxRequestsPerMinute,
	})
	sessions := session.NewTracker(session.TrackerConfig{
		IdleTimeout:   cfg.Sessions.IdleTimeout,
		SweepInterval: cfg.Sessions.SweepInterval,
		MaxPerCaller:  cfg.Sessions.MaxPerCaller,
	}, logger)
	sessions.Start()
	defer sessions.Stop()

	promReg := prometheus.NewRegistry()
	collector := stats.NewCollector(promReg)
	for _, spec := range tool.Builtin() {
		collector.Ensure(spec.Name)
	}
	dispatcher := gateway.New(catalog, limiter, sessions, collector, logger, gateway.Options{
		MaxConcurrent:    cfg.Gateway.MaxConcurrent,
		CallTimeout:      cfg.Gateway.CallTimeout,
		RateLimitEnabled: cfg.Gateway.RateLimitEnabled,
		AsyncRetention:   cfg.Gateway.AsyncRetention,
		Tracer:           tracerProvider.Tracer(),
	})
	defer dispatcher.Close()

	facade := registry.New(catalog, collector, sessions)
	srv := server.New(cfg.Server, server.Deps{
		Dispatcher: dispatcher,
		Facade:     facade,
		Catalog:    catalog,
		Stats:      collector,
		Gatherer:   promReg,
		Logger:     logger,
	})
	logger.Info("vita-gateway %s starting with %d builtin tools", version, catalog.Len())

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return tracerProvider.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func exportCatalog(format string) error {
	logger := logging.Nop()
	catalog := tool.NewCatalog(logger)
	if err := tool.RegisterBuiltin(catalog); err != nil {
		return err
	}
	facade := registry.New(catalog, stats.NewCollector(nil), nil)

	var (
		data []byte
		err  error
	)
	switch format {
	case "json":
		data, err = facade.ExportJSON()
	case "yaml":
		data, err = facade.ExportYAML()
	default:
		return fmt.Errorf("unsupported format %q (want json or yaml)", format)
	}
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(data, '\n'))
	return err
}
