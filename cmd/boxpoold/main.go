// Command boxpoold runs a worker pool as a foreground service: it loads a
// yaml config, starts the pool, and optionally serves the HTTP admin surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattjoyce/boxpool"
	"github.com/mattjoyce/boxpool/internal/api"
	"github.com/mattjoyce/boxpool/internal/log"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		os.Exit(runStart(args))
	case "check":
		os.Exit(runCheck(args))
	case "version":
		fmt.Printf("boxpoold version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`boxpoold - subprocess worker pool service

Usage:
  boxpoold <command> [flags]

Commands:
  start     Run the pool in foreground until SIGINT/SIGTERM
  check     Validate a configuration file and show the effective settings
  version   Show version information
  help      Show this help message

Flags:
  -config <path>   Path to the yaml configuration file (default boxpool.yaml)
  -listen <addr>   start only: admin API listen address, overrides api_listen
`)
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "boxpool.yaml", "Path to configuration file")
	listen := fs.String("listen", "", "Admin API listen address (overrides config)")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := boxpool.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.APIListen = *listen
	}

	log.Setup(cfg.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("boxpoold starting", "version", version, "config", *configPath)

	pool, err := boxpool.New(cfg)
	if err != nil {
		logger.Error("failed to build pool", "error", err)
		return 1
	}
	if err := pool.Start(); err != nil {
		logger.Error("failed to start pool", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	if cfg.APIListen != "" {
		apiServer := api.New(cfg.APIListen, pool)
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("admin API enabled", "listen", cfg.APIListen)
	}

	logger.Info("boxpoold running (press Ctrl+C to stop)")

	rc := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		rc = 1
	}
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace+10*time.Second)
	defer stopCancel()
	if err := pool.Stop(stopCtx); err != nil {
		logger.Error("pool did not stop cleanly", "error", err)
		return 1
	}

	logger.Info("boxpoold stopped")
	return rc
}

func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "boxpool.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, err := boxpool.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAIL: %v\n", err)
		return 1
	}

	fmt.Printf("OK: %s\n", *configPath)
	fmt.Printf("  worker command:  %s\n", cfg.Worker.Command)
	fmt.Printf("  pool size:       %d..%d\n", cfg.Min, cfg.Max)
	fmt.Printf("  recycle after:   %d calls\n", cfg.RecycleAfter)
	fmt.Printf("  max idle:        %s\n", cfg.MaxIdle)
	fmt.Printf("  timeout signal:  %s\n", cfg.TimeoutSignal)
	if cfg.APIListen != "" {
		fmt.Printf("  admin API:       %s\n", cfg.APIListen)
	}
	return 0
}
