package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Marketen/bunker-oracle/internal/adapters"
	"github.com/Marketen/bunker-oracle/internal/application/services"
	"github.com/Marketen/bunker-oracle/internal/config"
	"github.com/Marketen/bunker-oracle/internal/logger"
	"github.com/Marketen/bunker-oracle/internal/metrics"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:   "bunker-oracle",
		Usage:  "decides whether the staking protocol must enter bunker mode for each report frame",
		Flags:  config.Flags(),
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c)
	if err != nil {
		logger.Error("Failed to load config: %v", err)
		return err
	}

	logger.Info("Starting bunker-oracle")
	logger.Info("Beacon node URL: %s", cfg.BeaconNodeURL)
	logger.Info("Keys API URL: %s", cfg.KeysAPIURL)
	logger.Info("Poll interval: %s", cfg.PollInterval)

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	beaconAdapter, err := adapters.NewBeaconHTTPAdapter(ctx, cfg.BeaconNodeURL, cfg.RequestTimeout)
	if err != nil {
		logger.Error("Failed to create beacon HTTP adapter: %v", err)
		return err
	}
	executionAdapter, err := adapters.NewExecutionRPCAdapter(ctx, cfg.ExecutionNodeURL, cfg.LidoLocatorAddress, cfg.HashConsensusAddress)
	if err != nil {
		logger.Error("Failed to create execution RPC adapter: %v", err)
		return err
	}
	keysAdapter := adapters.NewKeysAPIAdapter(cfg.KeysAPIURL, cfg.RequestTimeout, cfg.KeysAPIRetries, cfg.KeysAPIRetryWait)

	var wg sync.WaitGroup
	recorder := metrics.NewRecorder()
	if cfg.MetricsAddress != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.Serve(ctx, cfg.MetricsAddress)
		}()
	}

	bunker := services.NewBunkerService(beaconAdapter, executionAdapter, keysAdapter, executionAdapter)
	monitor := services.NewBunkerMonitor(bunker, recorder, cfg.PollInterval)

	// Handle SIGINT / SIGTERM for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Warn("Received signal %s, shutting down...", sig)
	case <-ctx.Done():
	}
	cancel()
	wg.Wait()
	logger.Info("Shutdown complete")
	return nil
}
