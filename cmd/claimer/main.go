// Package main is the claimer command line.
//
// Commands:
//   - init:   build the wallet table from the input files
//   - run:    process every wallet, then export the report
//   - export: export the report only
//   - all:    init, run and export (default)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"stark-claimer/internal/app"
	"stark-claimer/internal/config"
	"stark-claimer/internal/logging"
	"stark-claimer/internal/observability"
	"stark-claimer/internal/orchestrator"
)

func main() {
	configPath := flag.String("config", os.Getenv("STARK_CONFIG"), "Path to the YAML config file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-config path] [init|run|export|all]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	command := "all"
	if flag.NArg() > 0 {
		command = flag.Arg(0)
	}
	switch command {
	case "init", "run", "export", "all":
	default:
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Warn("shutting down, progress is saved")
		cancel()

		sig = <-sigCh
		logger.WithField("signal", sig.String()).Error("forced exit")
		os.Exit(1)
	}()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(cfg.Metrics.Namespace, reg)

	a, err := app.New(ctx, cfg, logger, metrics)
	if err != nil {
		logger.WithError(err).Error("startup failed")
		os.Exit(1)
	}

	if cfg.Metrics.Addr != "" {
		go startHTTPServer(cfg.Metrics.Addr, reg, logger)
	}

	err = execute(ctx, command, cfg, a, logger)
	if cerr := a.Close(context.Background()); cerr != nil {
		logger.WithError(cerr).Error("close")
		err = errors.Join(err, cerr)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("interrupted")
		} else {
			logger.WithError(err).Error("command failed")
		}
		os.Exit(1)
	}
}

func execute(ctx context.Context, command string, cfg config.Config, a *app.App, log logrus.FieldLogger) error {
	if command == "init" || command == "all" {
		in, err := app.LoadInput(cfg.Inputs, cfg.Withdraw)
		if err != nil {
			return fmt.Errorf("load inputs: %w", err)
		}
		if _, err := a.InitializeAndBuildStore(ctx, in); err != nil {
			return err
		}
	}

	runID := ""
	if command == "run" || command == "all" {
		result, err := a.RunBatch(ctx)
		if result != nil {
			printResult(result)
			runID = result.RunID
		}
		if err != nil {
			return err
		}
	}

	if command == "init" {
		return nil
	}
	report, err := a.ExportReport(ctx, runID)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"total":  report.Summary.Total,
		"done":   report.Summary.Done,
		"failed": report.Summary.Failed,
	}).Info("report exported")
	return nil
}

func printResult(r *orchestrator.RunResult) {
	fmt.Println()
	fmt.Println("=== Batch Summary ===")
	fmt.Printf("Run:       %s\n", r.RunID)
	fmt.Printf("Wallets:   %d\n", r.Total)
	fmt.Printf("Done:      %d\n", r.Done)
	fmt.Printf("Failed:    %d\n", r.Failed)
	fmt.Printf("Skipped:   %d\n", r.Skipped)
	fmt.Printf("Attempts:  %d\n", r.Attempts)
	fmt.Printf("Duration:  %v\n", r.Duration.Round(time.Second))
	for _, e := range r.Errors {
		fmt.Printf("  - %s\n", e)
	}
}

// startHTTPServer serves health and metrics.
func startHTTPServer(addr string, reg *prometheus.Registry, log logrus.FieldLogger) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", observability.Handler(reg))

	log.WithField("addr", addr).Info("starting HTTP server")
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("HTTP server error")
	}
}
