package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/fx"

	"edge-gateway/internal/config"
	"edge-gateway/internal/route"
)

// watchReload rebuilds the route table on SIGHUP. Only routes are reloaded;
// listener, mount path and timeout changes need a restart. A failed reload
// keeps the table in effect.
func watchReload(lc fx.Lifecycle, cli *config.CLI, routes *route.Store, logger *slog.Logger) {
	sig := make(chan os.Signal, 1)
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			signal.Notify(sig, syscall.SIGHUP)
			go func() {
				for {
					select {
					case <-sig:
						reloadRoutes(cli, routes, logger)
					case <-done:
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			signal.Stop(sig)
			close(done)
			return nil
		},
	})
}

func reloadRoutes(cli *config.CLI, routes *route.Store, logger *slog.Logger) {
	cfg, err := config.Load(cli)
	if err != nil {
		logger.Error("reload failed, keeping current routes", "err", err)
		return
	}
	table, err := route.Build(cfg)
	if err != nil {
		logger.Error("reload failed, keeping current routes", "err", err)
		return
	}
	routes.Swap(table)
	logger.Info("routes reloaded", "path", cfg.FilePath(), "services", table.Names())
}
