package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/tiered-storage/cmd/flags"
	"github.com/ruteri/tiered-storage/common"
	"github.com/ruteri/tiered-storage/config"
	"github.com/ruteri/tiered-storage/httpserver"
	"github.com/ruteri/tiered-storage/interfaces"
	"github.com/ruteri/tiered-storage/metrics"
	"github.com/ruteri/tiered-storage/storage"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "tiered-storage-server",
		Usage: "Serve a tiered key-value storage stack over HTTP",
		Flags: append([]cli.Flag{
			flags.ConfigFileFlag,
			flags.ListenAddrFlag,
		}, flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)
			cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flags.ListenAddrFlag.Name))

			stackCfg, err := config.Load(cCtx.String(flags.ConfigFileFlag.Name))
			if err != nil {
				logger.Error("Failed to load stack config", "err", err)
				return err
			}

			metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
			if err != nil {
				logger.Error("Failed to create metrics server", "err", err)
				return err
			}

			factory := storage.NewProviderFactory(logger)
			defer func() {
				if err := factory.Close(); err != nil {
					logger.Error("Failed to close provider clients", "err", err)
				}
			}()

			instrument := func(p interfaces.Provider) interfaces.Provider {
				return metrics.InstrumentProvider(p, metricsSrv.Providers())
			}
			s, err := config.Build(stackCfg, factory, logger, config.WithProviderWrapper(instrument))
			if err != nil {
				logger.Error("Failed to build storage", "err", err)
				return err
			}
			defer func() {
				if err := s.Close(); err != nil {
					logger.Error("Failed to release temp files", "err", err)
				}
			}()

			handler := httpserver.NewHandler(s, logger, cfg.MaxObjectSize)
			server, err := httpserver.New(cfg, handler, metricsSrv)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server",
				"providers", len(s.Providers()),
				"autoFillBack", s.AutoFillBack(),
				"autoFillForward", s.AutoFillForward())
			server.RunInBackground()

			// Wait for termination signal
			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
