// Command keymutexd runs the key-mutex coordination daemon: the process
// wiring that glues configuration, logging, metrics and the keylock
// core together. None of this file is part of the core itself — it is
// the surrounding process that constructs and runs it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xtaci/keymutexd/internal/config"
	"github.com/xtaci/keymutexd/internal/keylock"
	"github.com/xtaci/keymutexd/internal/logging"
	"github.com/xtaci/keymutexd/internal/metrics"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keymutexd",
		Short: "Single-process thundering-herd lock daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd)
		},
	}
	config.BindFlags(cmd.Flags())
	return cmd
}

func run(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	sink := logging.NewSink(log)

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		m = metrics.New()
		sink = m.WrapSink(sink)
	}

	core, err := keylock.New(cfg.Core(), sink)
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	defer core.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if m != nil {
		core.OnTick(m.Observe)
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, m); err != nil {
				log.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		core.Stop()
	}()

	log.Info("listening", "endpoint", cfg.Endpoint, "max_connections", cfg.MaxConnections)
	if err := core.Run(); err != nil {
		return fmt.Errorf("event loop: %w", err)
	}
	return nil
}
