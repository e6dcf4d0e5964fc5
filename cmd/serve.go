package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/contentpipe/config"
	"github.com/mohammad-safakhou/contentpipe/internal/runstore"
	"github.com/mohammad-safakhou/contentpipe/internal/scheduler"
	"github.com/mohammad-safakhou/contentpipe/internal/server"
)

func serveCMD(flags *rootFlags) *cobra.Command {
	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server and scheduled topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.cfg.Server.Address
			}

			deps := server.Deps{
				Runner:       a.runner,
				Bus:          a.bus,
				Metrics:      a.metrics.Handler(),
				Logger:       a.logger,
				DefaultGraph: a.cfg.Workflow.Mode,
			}
			if a.archive != nil {
				deps.Archive = a.archive
			}
			srv := server.New(a.cfg.Server, deps)

			sched, err := scheduler.New(a.cfg.Schedules, a.runner,
				scheduler.WithLogger(a.logger.Named("scheduler")),
				scheduler.WithDefaultGraph(a.cfg.Workflow.Mode),
				scheduler.WithLocker(schedulerLocker(ctx, a.cfg, a.logger)),
			)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.Start(addr) })
			g.Go(func() error { return sched.Run(gctx) })
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				a.logger.Info("shutting down")
				return srv.Shutdown(shutdownCtx)
			})
			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "listen address (default from server.address)")
	return serve
}

// schedulerLocker shares schedule slots through redis when the run store is
// redis-backed; otherwise slots are only deduplicated in process.
func schedulerLocker(ctx context.Context, cfg *config.Config, logger *zap.Logger) scheduler.Locker {
	if cfg.Storage.Driver != config.DriverRedis {
		return nil
	}
	client, err := runstore.Conn(ctx, cfg.Storage.Redis)
	if err != nil {
		logger.Warn("scheduler lock falls back to in-process", zap.Error(err))
		return nil
	}
	return scheduler.RedisLocker{Client: client, Prefix: cfg.Storage.Redis.Prefix}
}
