// Command dispatchd runs the delayed-call, worker-pool, and endpoint-dispatcher
// primitives behind a small admin HTTP surface and a periodic status reporter.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jzelinskie/cobrautil/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/netpool/dispatch/internal/config"
	"github.com/netpool/dispatch/internal/server"
	"github.com/netpool/dispatch/internal/services"
	"github.com/netpool/dispatch/internal/store"
	"github.com/netpool/dispatch/pkg/dispatcher"
	"github.com/netpool/dispatch/pkg/workerpool"
)

const shutdownGrace = 5 * time.Second

const envPrefix = "DISPATCHD"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "dispatchd",
		Short:         "Run the dispatchd endpoint-dispatch daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE:       cobrautil.SyncViperPreRunE(envPrefix),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "path to a dispatchd configuration file (optional)")

	return cmd
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := newLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	defer logger.Sync()

	overflow := parseOverflowPolicy(cfg.Dispatcher.OverflowPolicy)
	disp, err := dispatcher.InitShared(dispatcher.Options{
		MaxPerEndpoint:     cfg.Dispatcher.MaxPerEndpoint,
		MaxLongPerEndpoint: cfg.Dispatcher.MaxLongPerEndpoint,
		OverflowPolicy:     overflow,
		MaxLongWaiters:     cfg.Dispatcher.MaxLongWaiters,
	})
	if err != nil {
		return fmt.Errorf("initializing dispatcher: %w", err)
	}
	defer dispatcher.Dispose()

	dbPath := ":memory:"
	if cfg.Store.DataFolder != "" {
		dbPath = cfg.Store.DataFolder + "/dispatchd.duckdb"
	}
	db, err := store.NewDB(dbPath)
	if err != nil {
		return fmt.Errorf("opening audit store: %w", err)
	}
	st := store.NewStore(db)
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrating audit store: %w", err)
	}

	reporter, err := services.NewReporter(cfg.Reporter, cfg.Auth, cfg.Pool.Name, cfg.Pool.Size, disp)
	if err != nil {
		return fmt.Errorf("starting reporter: %w", err)
	}
	defer reporter.Close()

	lookup := func(name string) (*workerpool.Pool, bool) {
		if p := reporter.Pool(); p.Name() == name {
			return p, true
		}
		return nil, false
	}

	srv := server.NewServer(cfg.Server, disp, st, lookup)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("dispatchd started",
		zap.Int("http-port", cfg.Server.HTTPPort),
		zap.String("server-mode", cfg.Server.ServerMode),
		zap.String("overflow-policy", overflow.String()))

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	return srv.Stop(shutdownCtx)
}

func parseOverflowPolicy(name string) dispatcher.OverflowPolicy {
	switch name {
	case "fail":
		return dispatcher.Fail
	case "enqueue":
		return dispatcher.Enqueue
	default:
		return dispatcher.Throw
	}
}

func newLogger(format, level string) (*zap.Logger, error) {
	var zapCfg zap.Config
	if format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	zapCfg.Level = zap.NewAtomicLevelAt(lvl)

	return zapCfg.Build()
}
