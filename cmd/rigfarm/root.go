package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/djkazic/rigfarm/internal/config"
	"github.com/djkazic/rigfarm/internal/device"
	"github.com/djkazic/rigfarm/internal/farm"
	"github.com/djkazic/rigfarm/internal/journal"
	"github.com/djkazic/rigfarm/internal/metrics"
	"github.com/djkazic/rigfarm/internal/rpc"
	"github.com/djkazic/rigfarm/internal/types"
	"github.com/djkazic/rigfarm/internal/work"
	"github.com/djkazic/rigfarm/internal/worker"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
}

func (o *rootOptions) load() (*config.Config, error) {
	var envFiles []string
	if o.envFile != "" {
		envFiles = append(envFiles, o.envFile)
	}
	cfg, err := config.Load(o.configPath, envFiles...)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "rigfarm",
		Short:         "Run a mining farm across the host's compute devices",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&opts.envFile, "env-file", "", "load environment variables from this file (default .env if present)")
	flags.StringVar(&opts.logLevel, "log-level", "", "override log_level")

	cmd.AddCommand(newDevicesCmd(opts), newJournalCmd(opts))
	return cmd
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = cfg.Level()
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

func openJournal(cfg *config.Config, logger *zap.Logger) (journal.Journal, error) {
	switch cfg.Journal.Backend {
	case config.JournalBolt:
		return journal.OpenBolt(cfg.Journal.Path, cfg.Journal.MaxRecords, logger)
	case config.JournalLevelDB:
		return journal.OpenLevelDB(cfg.Journal.Path, logger)
	default:
		return journal.Nop{}, nil
	}
}

// run wires the farm to the authority and drives it until ctx ends.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	jr, err := openJournal(cfg, logger.Named("journal"))
	if err != nil {
		return err
	}
	defer jr.Close()

	authority := rpc.NewClient(cfg.RPC.URL, cfg.RPC.User, cfg.RPC.Password)
	factory := worker.NewFactory(cfg.FactoryConfig(), logger.Named("worker"))
	logger.Info("kernel backends", zap.Strings("registered", factory.Backends()))

	var (
		submitter *work.Submitter
		poller    *work.Poller
	)
	f := farm.New(cfg.FarmConfig(), cfg.Enumerator(), factory, logger,
		farm.WithSubmitFunc(func(ctx context.Context, sol *types.Solution) error {
			return submitter.Submit(ctx, sol)
		}),
		farm.WithReconnectFunc(func(int) {
			authority.Reconnect()
			poller.Kick()
		}),
		farm.WithRequestWorkFunc(func(*types.WorkPackage, worker.Worker) { poller.Kick() }),
		farm.WithJournal(jr),
	)
	submitter = work.NewSubmitter(authority, f, logger.Named("submitter"))
	poller = work.NewPoller(authority, f, cfg.RPC.PollInterval, logger.Named("poller"))

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := f.Start(ctx); err != nil {
		return fmt.Errorf("start farm: %w", err)
	}
	defer f.Stop()
	poller.Start(ctx)

	telemetryLoop(ctx, f, cfg.TelemetryInterval, logger)
	logger.Info("shutting down")
	return nil
}

func serveMetrics(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("metrics listening", zap.String("addr", addr))
	return srv
}

// telemetryLoop logs progress every interval and restarts the farm after
// all of its workers died.
func telemetryLoop(ctx context.Context, f *farm.Farm, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if f.DetectDeadWorkers() {
			logger.Warn("all workers dead, restarting farm")
		}
		if !f.IsMining() {
			if err := f.Start(ctx); err != nil {
				logger.Error("farm restart failed", zap.Error(err))
			}
			continue
		}
		if f.IsOneWorkerInitializing() {
			logger.Info("waiting for devices to initialize")
			continue
		}

		p := f.MiningProgress()
		logger.Info("mining progress",
			zap.Stringer("summary", p),
			zap.Uint64("hashrate", p.Hashrate),
			zap.Int("dead", p.Dead),
			zap.Int("streak", f.Stats().Consecutive()))
	}
}

func newDevicesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List enumerated devices and the kernel backend each resolves to",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			devs, err := cfg.Enumerator().Devices(cmd.Context())
			if err != nil {
				return err
			}
			return printDevices(cmd, devs)
		},
	}
}

func printDevices(cmd *cobra.Command, devs []types.DeviceDescriptor) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tNAME\tPLATFORM\tVENDOR\tENABLED\tBACKEND")
	for _, d := range devs {
		backend, err := worker.BackendFor(d)
		if err != nil {
			backend = "unsupported"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\t%s\n", d.Index, d.Name, d.Platform, d.Vendor, d.Enabled, backend)
	}
	fmt.Fprintf(tw, "\n%d of %d devices enabled\n", len(device.Enabled(devs)), len(devs))
	return tw.Flush()
}

func newJournalCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show the most recent submissions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			jr, err := openJournal(cfg, zap.NewNop())
			if err != nil {
				return err
			}
			defer jr.Close()

			recs, err := jr.Recent(limit)
			if err != nil {
				return err
			}
			total, err := jr.Count()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tDEVICE\tJOB\tNONCE\tOUTCOME\tTOOK\tERROR")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%08x\t%s\t%dms\t%s\n",
					r.Time().UTC().Format(time.RFC3339), r.Device, r.JobID, r.Nonce,
					r.Outcome, r.DurationMS, r.Error)
			}
			fmt.Fprintf(tw, "\nshowing %d of %d submissions\n", len(recs), total)
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to show")
	return cmd
}
