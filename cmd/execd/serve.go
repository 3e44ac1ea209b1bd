package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"exec-pipeline/pkg/api"
	"exec-pipeline/pkg/cache"
	"exec-pipeline/pkg/cache/postgres"
	"exec-pipeline/pkg/cache/redis"
	"exec-pipeline/pkg/engine"
	"exec-pipeline/pkg/logging"
	"exec-pipeline/pkg/manager"
	promcollector "exec-pipeline/pkg/metrics/prometheus"
	"exec-pipeline/pkg/stream"
	"exec-pipeline/pkg/telemetry"
	"exec-pipeline/pkg/writer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type serveOptions struct {
	addr              string
	backend           string
	redisAddr         string
	postgresDSN       string
	strictPersistence bool
	bloomItems        uint
	writeBehind       bool
	otlpEndpoint      string
	shutdownTimeout   time.Duration
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadServeOptions(cmd)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.String("addr", ":8080", "listen address (EXEC_ADDR)")
	flags.String("backend", "memory", "cache backend: memory, redis or postgres (EXEC_BACKEND)")
	flags.String("redis-addr", "localhost:6379", "redis address (EXEC_REDIS_ADDR)")
	flags.String("postgres-dsn", "", "postgres connection string (EXEC_POSTGRES_DSN)")
	flags.Bool("strict-persistence", false, "disable caching unless a persistent backend is available (EXEC_STRICT_PERSISTENCE)")
	flags.Uint("bloom-items", 0, "expected entries for the bloom prefilter, 0 disables it (EXEC_BLOOM_ITEMS)")
	flags.Bool("write-behind", false, "write to the durable backend asynchronously (EXEC_WRITE_BEHIND)")
	flags.String("otlp-endpoint", "", "OTLP/HTTP collector URL, empty disables export (EXEC_OTLP_ENDPOINT)")
	flags.Duration("shutdown-timeout", 10*time.Second, "graceful shutdown timeout (EXEC_SHUTDOWN_TIMEOUT)")

	return cmd
}

func loadServeOptions(cmd *cobra.Command) (serveOptions, error) {
	opts := serveOptions{
		addr:         flagOrEnv(cmd, "addr", "EXEC_ADDR"),
		backend:      flagOrEnv(cmd, "backend", "EXEC_BACKEND"),
		redisAddr:    flagOrEnv(cmd, "redis-addr", "EXEC_REDIS_ADDR"),
		postgresDSN:  flagOrEnv(cmd, "postgres-dsn", "EXEC_POSTGRES_DSN"),
		otlpEndpoint: flagOrEnv(cmd, "otlp-endpoint", "EXEC_OTLP_ENDPOINT"),
	}

	var err error
	if opts.strictPersistence, err = strconv.ParseBool(flagOrEnv(cmd, "strict-persistence", "EXEC_STRICT_PERSISTENCE")); err != nil {
		return opts, fmt.Errorf("strict-persistence: %w", err)
	}
	if opts.writeBehind, err = strconv.ParseBool(flagOrEnv(cmd, "write-behind", "EXEC_WRITE_BEHIND")); err != nil {
		return opts, fmt.Errorf("write-behind: %w", err)
	}
	items, err := strconv.ParseUint(flagOrEnv(cmd, "bloom-items", "EXEC_BLOOM_ITEMS"), 10, 0)
	if err != nil {
		return opts, fmt.Errorf("bloom-items: %w", err)
	}
	opts.bloomItems = uint(items)
	if opts.shutdownTimeout, err = time.ParseDuration(flagOrEnv(cmd, "shutdown-timeout", "EXEC_SHUTDOWN_TIMEOUT")); err != nil {
		return opts, fmt.Errorf("shutdown-timeout: %w", err)
	}

	switch opts.backend {
	case "memory", "redis", "postgres":
	default:
		return opts, fmt.Errorf("unknown backend %q", opts.backend)
	}

	return opts, nil
}

// durable returns the opener for the configured durable backend, or nil
// for the in-memory backend.
func durable(opts serveOptions) manager.DurableFunc {
	switch opts.backend {
	case "redis":
		return func(ctx context.Context) (cache.Backend, error) {
			config := redis.DefaultConfig()
			config.Addr = opts.redisAddr
			b, err := redis.New(config)
			if err != nil {
				return nil, err
			}
			return b, nil
		}
	case "postgres":
		return func(ctx context.Context) (cache.Backend, error) {
			config := postgres.DefaultConfig()
			config.DSN = opts.postgresDSN
			b, err := postgres.New(config)
			if err != nil {
				return nil, err
			}
			return b, nil
		}
	}
	return nil
}

func serve(ctx context.Context, opts serveOptions) error {
	logger, err := logging.NewLoggerFromEnv()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	logging.SetGlobal(logger)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tcfg := telemetry.DefaultConfig()
	tcfg.Endpoint = opts.otlpEndpoint
	provider, shutdownTracing, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := promcollector.NewCollector("exec")
	if err := collector.Register(registry); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	mcfg := manager.DefaultConfig()
	mcfg.StrictPersistence = opts.strictPersistence

	mopts := []manager.Option{manager.WithMetrics(collector)}
	if open := durable(opts); open != nil {
		mopts = append(mopts, manager.WithDurable(open))
	}
	if opts.bloomItems > 0 {
		mopts = append(mopts, manager.WithBloomFilter(opts.bloomItems, 0.01))
	}
	if opts.writeBehind {
		mopts = append(mopts, manager.WithWriteBehind(writer.AsyncWriterConfig{}))
	}

	m, err := manager.New(ctx, mcfg, mopts...)
	if err != nil {
		return err
	}
	logger.Info("cache manager ready", zap.String("mode", string(m.Mode())))

	streams := stream.NewManager(stream.DefaultConfig(), stream.WithMetrics(collector))

	e := engine.New(
		engine.WithManager(m),
		engine.WithStreams(streams),
		engine.WithTracer(provider.Tracer("execd")),
		engine.WithMetrics(collector),
	)

	scfg := api.DefaultServerConfig()
	scfg.Address = opts.addr
	server := api.NewServer(e, m, streams, scfg, api.WithGatherer(registry))
	registerPlugins(server)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), opts.shutdownTimeout)
		defer cancel()

		err := server.Stop(sctx)
		streams.Shutdown()
		if cerr := m.Close(sctx); cerr != nil {
			logger.Warn("cache close failed", zap.Error(cerr))
		}
		if terr := shutdownTracing(sctx); terr != nil {
			logger.Warn("tracer shutdown failed", zap.Error(terr))
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}
