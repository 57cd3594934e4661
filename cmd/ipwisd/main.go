// Command ipwisd runs the kernel daemon: it wires the Scheduler's
// collaborators (program fetch, admission, audit sink) into a Kernel
// facade and exposes it over the RPC shim until it receives a shutdown
// signal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/ipwis/kernel/internal/admission"
	"github.com/ipwis/kernel/internal/auditsink"
	"github.com/ipwis/kernel/internal/config"
	"github.com/ipwis/kernel/internal/kernel"
	"github.com/ipwis/kernel/internal/logging"
	"github.com/ipwis/kernel/internal/metrics"
	"github.com/ipwis/kernel/internal/observability"
	"github.com/ipwis/kernel/internal/programfetch"
	"github.com/ipwis/kernel/internal/rpc"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "ipwisd",
		Short: "ipwisd runs the sandboxed wasm task kernel daemon",
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a JSON config file (optional, defaults apply otherwise)")
	rootCmd.AddCommand(daemonCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func daemonCmd() *cobra.Command {
	var (
		rpcAddr     string
		logLevel    string
		tracingOn   bool
		tracingAddr string
		auditDSN    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "run the kernel daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			} else {
				cfg = config.DefaultConfig()
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("rpc-addr") {
				cfg.RPC.Addr = rpcAddr
				cfg.RPC.Enabled = true
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
			}
			if cmd.Flags().Changed("tracing-enabled") {
				cfg.Observability.Tracing.Enabled = tracingOn
			}
			if cmd.Flags().Changed("tracing-endpoint") {
				cfg.Observability.Tracing.Endpoint = tracingAddr
			}
			if cmd.Flags().Changed("audit-dsn") {
				cfg.Audit.DSN = auditDSN
			}

			logging.SetLevelFromString(cfg.Daemon.LogLevel)
			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			ctx := context.Background()

			if err := observability.Init(ctx, observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			if cfg.Observability.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
			}

			opts := []kernel.Option{}

			fetcher, err := programfetch.NewS3Fetcher(ctx, cfg.ProgramFetch.Bucket, cfg.ProgramFetch.Region, cfg.ProgramFetch.Endpoint,
				programfetch.WithRetry(cfg.ProgramFetch.MaxRetries, cfg.ProgramFetch.RetryMinBackoff, cfg.ProgramFetch.RetryMaxBackoff))
			if err != nil {
				return fmt.Errorf("init program fetcher: %w", err)
			}
			opts = append(opts, kernel.WithFetcher(fetcher))

			if cfg.Admission.Enabled {
				redisClient := redis.NewClient(&redis.Options{Addr: cfg.Admission.RedisAddr, DB: cfg.Admission.RedisDB})
				opts = append(opts, kernel.WithAdmission(admission.NewRedisHook(redisClient, cfg.Admission.Limit, cfg.Admission.Window)))
			}
			if cfg.Admission.UncheckedOK {
				opts = append(opts, kernel.WithUncheckedSpawn())
			}

			var auditStore *auditsink.Store
			if cfg.Audit.DSN != "" {
				auditStore, err = auditsink.New(ctx, cfg.Audit.DSN)
				if err != nil {
					return fmt.Errorf("init audit sink: %w", err)
				}
				defer auditStore.Close()
				opts = append(opts, kernel.WithAuditSink(auditStore, auditsink.BatcherConfig{
					BatchSize:     cfg.AuditSink.BatchSize,
					BufferSize:    cfg.AuditSink.BufferSize,
					FlushInterval: cfg.AuditSink.FlushInterval,
					Timeout:       cfg.AuditSink.Timeout,
				}))
			}

			k, err := kernel.New(opts...)
			if err != nil {
				return fmt.Errorf("init kernel: %w", err)
			}

			var rpcServer *rpc.Server
			if cfg.RPC.Enabled {
				rpcServer = rpc.NewServer(k)
				if err := rpcServer.Start(cfg.RPC.Addr); err != nil {
					return fmt.Errorf("start rpc server: %w", err)
				}
			}

			logging.Op().Info("ipwis kernel daemon started", "rpc_addr", cfg.RPC.Addr, "rpc_enabled", cfg.RPC.Enabled)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			logging.Op().Info("shutdown signal received")
			if rpcServer != nil {
				rpcServer.Stop()
			}
			k.Shutdown(5 * time.Second)
			return nil
		},
	}

	cmd.Flags().StringVar(&rpcAddr, "rpc-addr", ":9090", "RPC listen address")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&tracingOn, "tracing-enabled", false, "enable OpenTelemetry tracing")
	cmd.Flags().StringVar(&tracingAddr, "tracing-endpoint", "localhost:4318", "OTLP exporter endpoint")
	cmd.Flags().StringVar(&auditDSN, "audit-dsn", "", "Postgres DSN for the audit sink")

	return cmd
}
