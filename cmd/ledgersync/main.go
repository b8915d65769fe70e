package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/ledgersync/pkg/config"
	"github.com/ajitpratap0/ledgersync/pkg/connector/core"
	"github.com/ajitpratap0/ledgersync/pkg/connector/registry"
	"github.com/ajitpratap0/ledgersync/pkg/logger"
	"github.com/ajitpratap0/ledgersync/pkg/metrics"
	"github.com/ajitpratap0/ledgersync/pkg/observability"
	"github.com/ajitpratap0/ledgersync/pkg/watermark"

	// Register connectors
	_ "github.com/ajitpratap0/ledgersync/pkg/connector/destinations/webhook"
	_ "github.com/ajitpratap0/ledgersync/pkg/connector/sources/json"
	_ "github.com/ajitpratap0/ledgersync/pkg/connector/sources/qbxml"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cli carries state shared by every subcommand
type cli struct {
	v          *viper.Viper
	configFile string
	envFile    string
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "ledgersync",
		Short: "ledgersync - incremental QuickBooks invoice sync",
		Long: `ledgersync polls QuickBooks for invoices changed since the last run and
delivers each one as JSON to a webhook, retrying failed deliveries.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configFile, "config", "c", "", "Path to YAML configuration file")
	flags.StringVar(&c.envFile, "env-file", ".env", "Optional .env file loaded before configuration")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("endpoint", "", "Webhook endpoint URL")
	flags.String("watermark-store", "", "Watermark store (memory, file, mysql, postgres)")
	flags.String("watermark-path", "", "State file for the file watermark store")
	_ = c.v.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = c.v.BindPFlag("destination.endpoint_url", flags.Lookup("endpoint"))
	_ = c.v.BindPFlag("watermark.store", flags.Lookup("watermark-store"))
	_ = c.v.BindPFlag("watermark.path", flags.Lookup("watermark-path"))

	root.AddCommand(
		c.runCmd(),
		c.syncCmd(),
		c.probeCmd(),
		c.watermarkCmd(),
		listCmd(),
		versionCmd(),
	)
	return root
}

// read loads the .env file, the YAML file and the flag/env overrides, in
// that order
func (c *cli) read() (*config.Config, error) {
	if c.envFile != "" {
		if err := godotenv.Load(c.envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load %s: %w", c.envFile, err)
		}
	}

	cfg, err := config.LoadFile(c.configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	cfg.ApplyOverrides(c.v)
	cfg.HTTP.UserAgent = "ledgersync/" + version
	return cfg, nil
}

// load reads and validates the full configuration and installs the global
// logger
func (c *cli) load() (*config.Config, *zap.Logger, error) {
	cfg, err := c.read()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("configuration error: %w", err)
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, nil, fmt.Errorf("logger error: %w", err)
	}

	log := logger.Get().With(
		zap.String("component", "ledgersync-cli"),
		zap.String("pipeline", cfg.Service.Name),
	)
	return cfg, log, nil
}

func (c *cli) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync service until interrupted",
		Long: `Run connects to the source, delivers one cycle immediately and then one
cycle per polling interval. SIGINT or SIGTERM stops it gracefully.

Example:
  ledgersync run --config ledgersync.yaml --endpoint https://hooks.example.com/invoices`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}

	cmd.Flags().Duration("interval", 0, "Polling interval (e.g. 5m)")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	_ = c.v.BindPFlag("service.polling_interval", cmd.Flags().Lookup("interval"))
	_ = c.v.BindPFlag("observability.metrics_addr", cmd.Flags().Lookup("metrics-addr"))
	return cmd
}

func (c *cli) serve(ctx context.Context) error {
	cfg, log, err := c.load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := c.initTracing(cfg)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	var collector *metrics.Collector
	if cfg.Observability.IsMetricsEnabled() {
		collector = metrics.NewCollector(prometheus.DefaultRegisterer)
		stopMetrics := serveMetrics(cfg.Observability.MetricsAddr, collector, log)
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			stopMetrics(stopCtx)
		}()
	}

	log.Info("starting ledgersync",
		zap.String("version", version),
		zap.String("source", cfg.Source.Type),
		zap.String("endpoint", cfg.Destination.EndpointURL),
		zap.Duration("poll_interval", cfg.Service.PollingInterval),
		zap.String("watermark_store", cfg.Watermark.Store))

	return a.orchestrator(collector).Run(ctx)
}

func (c *cli) syncCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a single sync cycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if !once {
				return c.serve(ctx)
			}
			return c.syncOnce(ctx, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&once, "once", true, "Run one cycle and exit (false behaves like run)")
	return cmd
}

func (c *cli) syncOnce(ctx context.Context, out io.Writer) error {
	cfg, log, err := c.load()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	orch := a.orchestrator(nil)
	defer orch.Shutdown()

	res, err := orch.RunOnce(ctx)
	fmt.Fprintf(out, "fetched=%d delivered=%d failed=%d malformed=%d skipped=%d watermark=%s\n",
		res.Fetched, res.Delivered, res.Failed, res.Malformed, res.Skipped,
		res.Watermark.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	if res.Failed > 0 {
		return fmt.Errorf("%d invoice(s) could not be delivered", res.Failed)
	}
	return nil
}

func (c *cli) probeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check source connectivity and webhook reachability",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := c.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.close()
			defer func() { _ = a.sink.Close() }()
			defer a.source.Disconnect(context.Background())

			out := cmd.OutOrStdout()
			sourceOK := true
			if err := a.source.Connect(cmd.Context()); err != nil {
				sourceOK = false
				fmt.Fprintf(out, "source (%s):      FAILED %v\n", cfg.Source.Type, err)
			} else {
				fmt.Fprintf(out, "source (%s):      ok\n", cfg.Source.Type)
			}

			sinkOK := a.sink.Probe(cmd.Context())
			if sinkOK {
				fmt.Fprintf(out, "destination (%s): ok\n", cfg.Destination.Type)
			} else {
				fmt.Fprintf(out, "destination (%s): FAILED\n", cfg.Destination.Type)
			}

			if !sourceOK || !sinkOK {
				return fmt.Errorf("probe failed")
			}
			return nil
		},
	}
	return cmd
}

func (c *cli) watermarkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watermark",
		Short: "Inspect or override the persisted watermark",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the persisted watermark",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadForWatermark()
			if err != nil {
				return err
			}
			store, err := watermarkStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			wm, ok, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintf(out, "not set (next run starts at %s)\n",
					cfg.Service.StartingWatermark(time.Now()).Format(time.RFC3339))
				return nil
			}
			fmt.Fprintln(out, wm.UTC().Format(time.RFC3339Nano))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <RFC3339 timestamp>",
		Short: "Overwrite the persisted watermark, moving it backwards if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wm, err := time.Parse(time.RFC3339, args[0])
			if err != nil {
				return fmt.Errorf("invalid timestamp %q: %w", args[0], err)
			}
			cfg, err := c.loadForWatermark()
			if err != nil {
				return err
			}
			store, err := watermarkStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.Reset(cmd.Context(), wm); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "watermark set to %s\n", wm.UTC().Format(time.RFC3339))
			return nil
		},
	})
	return cmd
}

// loadForWatermark loads the configuration without requiring a webhook
// endpoint, which the watermark commands never use
func (c *cli) loadForWatermark() (*config.Config, error) {
	cfg, err := c.read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Service.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if err := cfg.Watermark.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, fmt.Errorf("logger error: %w", err)
	}
	return cfg, nil
}

func watermarkStore(ctx context.Context, cfg *config.Config) (watermark.Store, error) {
	if cfg.Watermark.Store == config.StoreMemory {
		return nil, fmt.Errorf("the memory watermark store is not persisted; configure file, mysql or postgres")
	}
	return watermark.NewStore(ctx, cfg.Watermark, watermark.WithLogger(logger.Get()))
}

func (c *cli) initTracing(cfg *config.Config) (observability.ShutdownFunc, error) {
	tc := observability.DefaultTracingConfig()
	tc.ServiceName = cfg.Service.Name
	tc.ServiceVersion = version
	tc.Enabled = cfg.Observability.EnableTracing
	tc.SamplingRate = cfg.Observability.TracingSampleRate
	shutdown, err := observability.InitTracing(tc)
	if err != nil {
		return nil, fmt.Errorf("tracing error: %w", err)
	}
	return shutdown, nil
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available connectors",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Available Source Connectors:")
			for _, name := range registry.GetRegistry().ListSources() {
				printConnector(out, core.ConnectorTypeSource, name)
			}
			fmt.Fprintln(out, "\nAvailable Destination Connectors:")
			for _, name := range registry.GetRegistry().ListDestinations() {
				printConnector(out, core.ConnectorTypeDestination, name)
			}
		},
	}
}

func printConnector(out io.Writer, kind core.ConnectorType, name string) {
	if info, ok := registry.GetRegistry().Info(kind, name); ok {
		fmt.Fprintf(out, "  - %-8s %s\n", name, info.Description)
		return
	}
	fmt.Fprintf(out, "  - %s\n", name)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ledgersync v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
